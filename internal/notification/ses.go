package notification

import (
	"context"
	"fmt"
	"net/mail"

	"ms-payments/internal/config"
	"ms-payments/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

const charsetUTF8 = "UTF-8"

// sesClient is satisfied by *sesv2.Client.
type sesClient interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type SESChannel struct {
	client sesClient
	sender Sender
}

func NewSESChannel(ctx context.Context, cfg config.EmailConfig) (*SESChannel, error) {
	if cfg.AWSAccessKeyID == "" || cfg.AWSSecretAccessKey == "" {
		return nil, fmt.Errorf("AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY not set: %w", ErrChannelNotConfigured)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESChannel{
		client: sesv2.NewFromConfig(awsCfg),
		sender: Sender{Address: cfg.From, Name: cfg.FromName},
	}, nil
}

func (c *SESChannel) Name() string { return config.EmailProviderSES }

func (c *SESChannel) Send(ctx context.Context, msg models.EmailMessage) (models.EmailResult, error) {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fromHeader(c.sender)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		ReplyToAddresses: []string{c.sender.Address},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String(charsetUTF8)},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String(charsetUTF8)},
					Text: &types.Content{Data: aws.String(msg.Text), Charset: aws.String(charsetUTF8)},
				},
			},
		},
	}

	out, err := c.client.SendEmail(ctx, input)
	if err != nil {
		return models.EmailResult{}, fmt.Errorf("aws ses send failed: %w", err)
	}
	return models.EmailResult{Success: true, Provider: c.Name(), MessageID: aws.ToString(out.MessageId)}, nil
}

// fromHeader drops the display name when none is configured.
func fromHeader(sender Sender) string {
	return (&mail.Address{Name: sender.Name, Address: sender.Address}).String()
}

// Check only confirms credentials were supplied.
func (c *SESChannel) Check(ctx context.Context) error { return nil }
