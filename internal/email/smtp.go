package email

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
)

// =============================================================================
// SMTP Email Service Implementation
// =============================================================================

// SMTPEmailService sends plain-text emails via SMTP.
//
// This implementation works with:
// - Mailhog (development): No authentication required
// - Any standard SMTP server with username/password authentication
type SMTPEmailService struct {
	config SMTPConfig
	logger *slog.Logger
}

// NewSMTPEmailService creates a new SMTP-based email service.
func NewSMTPEmailService(config SMTPConfig, logger *slog.Logger) *SMTPEmailService {
	if config.From == "" {
		config.From = DefaultFromEmail
	}
	if config.FromName == "" {
		config.FromName = DefaultFromName
	}

	return &SMTPEmailService{
		config: config,
		logger: logger,
	}
}

// =============================================================================
// EmailService Interface Implementation
// =============================================================================

// SendExportReadyEmail notifies an operator that an export archive is ready.
func (s *SMTPEmailService) SendExportReadyEmail(ctx context.Context, to, downloadURL string, accountCount int64) error {
	textBody := fmt.Sprintf(`Your LaunchPath account export is ready.

Accounts exported: %d

Download it here:

%s

The download link expires after 24 hours.
`, accountCount, downloadURL)

	return s.send(ctx, Email{
		To:       to,
		Subject:  "Your account export is ready",
		TextBody: textBody,
	})
}

// SendExportFailedEmail notifies an operator that an export job failed.
func (s *SMTPEmailService) SendExportFailedEmail(ctx context.Context, to, jobID, reason string) error {
	textBody := fmt.Sprintf(`An account export job failed.

Job ID: %s
Reason: %s

Check the server logs for details, then re-trigger the export from the admin API.
`, jobID, reason)

	return s.send(ctx, Email{
		To:       to,
		Subject:  "Account export failed",
		TextBody: textBody,
	})
}

// =============================================================================
// Internal Methods
// =============================================================================

// send sends an email via SMTP.
func (s *SMTPEmailService) send(ctx context.Context, email Email) error {
	msg := s.buildMessage(email)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	// Auth is only needed when credentials are provided (not for Mailhog).
	var auth smtp.Auth
	if s.config.Username != "" && s.config.Password != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	err := smtp.SendMail(addr, auth, s.config.From, []string{email.To}, msg)
	if err != nil {
		s.logger.Error("failed to send email",
			"to", email.To,
			"subject", email.Subject,
			"error", err,
		)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		"to", email.To,
		"subject", email.Subject,
	)

	return nil
}

// buildMessage constructs the raw email message with headers.
func (s *SMTPEmailService) buildMessage(email Email) []byte {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("From: %s <%s>\r\n", s.config.FromName, s.config.From))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", email.To))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", email.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(email.TextBody)
	buf.WriteString("\r\n")

	return buf.Bytes()
}

// =============================================================================
// Compile-time interface check
// =============================================================================

var _ EmailService = (*SMTPEmailService)(nil)
