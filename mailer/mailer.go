package mailer

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v3"
	"github.com/whisprlabs/whispr/server/config"
	"go.uber.org/zap"
)

// Mailer sends transactional mail.
type Mailer interface {
	SendPasswordReset(ctx context.Context, toEmail, username, token string) error
}

// New returns a Resend-backed mailer when an API key is configured,
// otherwise a no-op mailer that only logs.
func New(cfg config.MailConfig, logger *zap.Logger) Mailer {
	if cfg.ResendAPIKey == "" {
		logger.Warn("no mail API key configured, password reset mail disabled")
		return &noopMailer{logger: logger}
	}
	return &resendMailer{
		client: resend.NewClient(cfg.ResendAPIKey),
		cfg:    cfg,
		logger: logger,
	}
}

type resendMailer struct {
	client *resend.Client
	cfg    config.MailConfig
	logger *zap.Logger
}

func (m *resendMailer) SendPasswordReset(ctx context.Context, toEmail, username, token string) error {
	resetLink := fmt.Sprintf("%s?token=%s", m.cfg.ResetBaseURL, token)

	html := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; max-width: 480px; margin: 0 auto;">
	<h2>Reset your Whispr password</h2>
	<p>Hi %s,</p>
	<p>Someone requested a password reset for your account. Click the link
	below to choose a new password. The link expires in %d minutes.</p>
	<p><a href="%s">%s</a></p>
	<p>If you did not request this, you can ignore this email.</p>
</body>
</html>`, username, int(m.cfg.ResetTTL.Minutes()), resetLink, resetLink)

	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("Whispr <%s>", m.cfg.FromAddress),
		To:      []string{toEmail},
		Html:    html,
		Subject: "Reset your Whispr password",
	}

	sent, err := m.client.Emails.Send(params)
	if err != nil {
		return fmt.Errorf("send reset mail: %w", err)
	}
	m.logger.Info("password reset mail sent",
		zap.String("to", toEmail),
		zap.String("email_id", sent.Id))
	return nil
}

type noopMailer struct {
	logger *zap.Logger
}

func (m *noopMailer) SendPasswordReset(ctx context.Context, toEmail, username, token string) error {
	m.logger.Info("password reset requested (mail disabled)",
		zap.String("to", toEmail))
	return nil
}
