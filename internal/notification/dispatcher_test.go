package notification

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"ms-payments/internal/config"
	"ms-payments/internal/logger"
	"ms-payments/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockChannel struct {
	mock.Mock
	name string
}

func newMockChannel(name string) *MockChannel { return &MockChannel{name: name} }

func (m *MockChannel) Name() string { return m.name }

func (m *MockChannel) Send(ctx context.Context, msg models.EmailMessage) (models.EmailResult, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(models.EmailResult), args.Error(1)
}

func (m *MockChannel) Check(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

var testSender = Sender{Address: "payments@example.com", Name: "Payments"}

func testMessage() models.EmailMessage {
	return models.EmailMessage{To: "buyer@example.com", Subject: "Receipt", HTML: "<p>Thanks</p>"}
}

func TestSendEmail_PrimarySucceeds(t *testing.T) {
	primary := newMockChannel(config.EmailProviderSendGrid)
	smtp := newMockChannel(config.EmailProviderSMTP)
	primary.On("Send", mock.Anything, mock.Anything).
		Return(models.EmailResult{Success: true, Provider: "sendgrid", MessageID: "sg-1"}, nil)

	d := NewDispatcherWithChannels(primary, smtp, testSender, logger.New(io.Discard))
	result, err := d.SendEmail(context.Background(), testMessage())

	require.NoError(t, err)
	assert.Equal(t, "sendgrid", result.Provider)
	smtp.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestSendEmail_FallsBackToSMTP(t *testing.T) {
	primary := newMockChannel(config.EmailProviderSES)
	smtp := newMockChannel(config.EmailProviderSMTP)
	primary.On("Send", mock.Anything, mock.Anything).Return(models.EmailResult{}, errors.New("ses throttled"))
	smtp.On("Send", mock.Anything, mock.Anything).
		Return(models.EmailResult{Success: true, Provider: "smtp", MessageID: "<id@example.com>"}, nil)

	d := NewDispatcherWithChannels(primary, smtp, testSender, logger.New(io.Discard))
	result, err := d.SendEmail(context.Background(), testMessage())

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "smtp", result.Provider)
	primary.AssertNumberOfCalls(t, "Send", 1)
	smtp.AssertNumberOfCalls(t, "Send", 1)
}

func TestSendEmail_BothFailReturnsPrimaryError(t *testing.T) {
	primaryErr := errors.New("sendgrid send failed: status 401")
	primary := newMockChannel(config.EmailProviderSendGrid)
	smtp := newMockChannel(config.EmailProviderSMTP)
	primary.On("Send", mock.Anything, mock.Anything).Return(models.EmailResult{}, primaryErr)
	smtp.On("Send", mock.Anything, mock.Anything).Return(models.EmailResult{}, errors.New("smtp connection refused"))

	d := NewDispatcherWithChannels(primary, smtp, testSender, logger.New(io.Discard))
	_, err := d.SendEmail(context.Background(), testMessage())

	require.Error(t, err)
	assert.Equal(t, primaryErr.Error(), err.Error())
	assert.ErrorIs(t, err, primaryErr)
	smtp.AssertNumberOfCalls(t, "Send", 1)
}

func TestSendEmail_SMTPPrimaryHasNoFallback(t *testing.T) {
	smtp := newMockChannel(config.EmailProviderSMTP)
	smtp.On("Send", mock.Anything, mock.Anything).Return(models.EmailResult{}, errors.New("smtp down"))

	d := NewDispatcherWithChannels(smtp, smtp, testSender, logger.New(io.Discard))
	_, err := d.SendEmail(context.Background(), testMessage())

	assert.EqualError(t, err, "smtp down")
	smtp.AssertNumberOfCalls(t, "Send", 1)
}

func TestSendEmail_DerivesTextAndValidatesRecipient(t *testing.T) {
	primary := newMockChannel(config.EmailProviderSMTP)
	primary.On("Send", mock.Anything, mock.MatchedBy(func(msg models.EmailMessage) bool {
		return msg.Text == "Hello & welcome"
	})).Return(models.EmailResult{Success: true, Provider: "smtp"}, nil)

	d := NewDispatcherWithChannels(primary, primary, testSender, logger.New(io.Discard))
	_, err := d.SendEmail(context.Background(), models.EmailMessage{
		To:   "a@example.com",
		HTML: "<h1>Hello</h1>\n<p>&amp; welcome</p>",
	})
	require.NoError(t, err)

	_, err = d.SendEmail(context.Background(), models.EmailMessage{To: "  "})
	assert.ErrorIs(t, err, ErrInvalidMessage)
	primary.AssertNumberOfCalls(t, "Send", 1)
}

func TestNewDispatcher_DowngradesUnconfiguredPrimary(t *testing.T) {
	base := config.EmailConfig{From: "payments@example.com", FromName: "Payments", SMTPHost: "localhost", SMTPPort: 2525}

	cases := map[string]string{
		config.EmailProviderSMTP:     config.EmailProviderSMTP,
		config.EmailProviderSendGrid: config.EmailProviderSMTP,
		config.EmailProviderSES:      config.EmailProviderSMTP,
		"carrier-pigeon":             config.EmailProviderSMTP,
	}
	for provider, want := range cases {
		cfg := base
		cfg.Provider = provider
		d := NewDispatcher(context.Background(), cfg, logger.New(io.Discard))
		assert.Equal(t, want, d.Provider(), provider)
	}

	cfg := base
	cfg.Provider = config.EmailProviderSendGrid
	cfg.SendGridAPIKey = "SG.test"
	d := NewDispatcher(context.Background(), cfg, logger.New(io.Discard))
	assert.Equal(t, config.EmailProviderSendGrid, d.Provider())
}

func TestTestConnection(t *testing.T) {
	apiChannel := newMockChannel(config.EmailProviderSendGrid)
	apiChannel.On("Check", mock.Anything).Return(nil)
	d := NewDispatcherWithChannels(apiChannel, nil, testSender, logger.New(io.Discard))

	status := d.TestConnection(context.Background())
	assert.True(t, status.Success)
	assert.Equal(t, "sendgrid", status.Provider)
	assert.Equal(t, "sendgrid configured", status.Message)

	smtp := newMockChannel(config.EmailProviderSMTP)
	smtp.On("Check", mock.Anything).Return(errors.New("dial tcp: connection refused"))
	d = NewDispatcherWithChannels(smtp, smtp, testSender, logger.New(io.Discard))

	status = d.TestConnection(context.Background())
	assert.False(t, status.Success)
	assert.Equal(t, "smtp", status.Provider)
	assert.Contains(t, status.Error, "connection refused")
}

func TestSendOTPEmail(t *testing.T) {
	primary := newMockChannel(config.EmailProviderSMTP)
	var sent models.EmailMessage
	primary.On("Send", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(models.EmailMessage) }).
		Return(models.EmailResult{Success: true, Provider: "smtp"}, nil)

	d := NewDispatcherWithChannels(primary, primary, testSender, logger.New(io.Discard))
	_, err := d.SendOTPEmail(context.Background(), "new@example.com", "<Asha>", "482913", 0)
	require.NoError(t, err)

	assert.Equal(t, "new@example.com", sent.To)
	assert.Equal(t, "Verify Your Email - OTP Code", sent.Subject)
	assert.Contains(t, sent.HTML, "482913")
	assert.Contains(t, sent.HTML, "expires in 10 minutes")
	assert.Contains(t, sent.HTML, "&lt;Asha&gt;")
	assert.NotContains(t, sent.Text, "<div")
	assert.True(t, strings.Contains(sent.Text, "482913"))
}
