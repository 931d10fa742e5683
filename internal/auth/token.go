package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const anonymousOperator = "anonymous"

// ExtractTokenFromRequest extracts a JWT token from an HTTP request's Authorization header
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header is missing")
	}

	if !hasBearerPrefix(authHeader) {
		return "", errors.New("authorization header format must be 'Bearer {token}'")
	}

	return strings.TrimSpace(strings.SplitN(authHeader, " ", 2)[1]), nil
}

// ExtractUserIDFromJWT reads the 'sub' claim without checking the signature.
// Only use it for audit labels, never for access decisions.
func ExtractUserIDFromJWT(tokenString string) (string, error) {
	if tokenString == "" {
		return "", errors.New("empty token")
	}

	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid token claims")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("subject claim not found in token")
	}

	return sub, nil
}

// Operator names the caller of an operator endpoint for the audit log. The
// verified subject wins; otherwise the bearer token's subject is used.
func Operator(r *http.Request) string {
	if uid := UserID(r.Context()); uid != "" {
		return uid
	}
	token, err := ExtractTokenFromRequest(r)
	if err != nil {
		return anonymousOperator
	}
	sub, err := ExtractUserIDFromJWT(token)
	if err != nil {
		return anonymousOperator
	}
	return sub
}
