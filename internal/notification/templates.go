package notification

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"regexp"
	"strings"
)

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// stripHTML derives the plain-text part when the caller supplied only HTML.
func stripHTML(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

type otpData struct {
	FirstName     string
	Code          string
	ExpiryMinutes int
	Brand         string
	SupportEmail  string
}

var otpTemplate = template.Must(template.New("otp").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
  <div style="text-align: center; margin-bottom: 30px;">
    <h1 style="color: #2563eb; margin: 0;">{{.Brand}}</h1>
    <p style="color: #666; margin: 5px 0 0 0;">Email Verification Required</p>
  </div>
  <div style="background: #f8fafc; padding: 30px; border-radius: 8px; margin-bottom: 30px;">
    <h2 style="color: #1e293b; margin: 0 0 20px 0;">Verify Your Email Address</h2>
    <p style="color: #475569; line-height: 1.6; margin: 0 0 25px 0;">Hello {{.FirstName}}, use the verification code below to complete your registration:</p>
    <div style="text-align: center; margin: 30px 0;">
      <div style="background: #2563eb; color: white; padding: 20px; border-radius: 8px; display: inline-block; font-family: 'Courier New', monospace;">
        <div style="font-size: 14px; opacity: 0.9; margin-bottom: 5px;">Your verification code:</div>
        <div style="font-size: 32px; font-weight: bold; letter-spacing: 8px;">{{.Code}}</div>
      </div>
    </div>
    <p style="color: #64748b; font-size: 14px; margin: 20px 0 0 0; text-align: center;"><strong>Important:</strong> This code expires in {{.ExpiryMinutes}} minutes. Don't share this code with anyone.</p>
  </div>
  <div style="text-align: center; color: #94a3b8; font-size: 12px;">
    <p>Having trouble? Contact {{.SupportEmail}}</p>
  </div>
</div>`))

func renderOTP(data otpData) (string, error) {
	var buf bytes.Buffer
	if err := otpTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render otp email: %w", err)
	}
	return buf.String(), nil
}
