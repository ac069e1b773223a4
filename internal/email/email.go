// Package email provides email sending for operational notifications.
//
// This package defines an EmailService interface with an SMTP
// implementation that works with Mailhog in development and any
// authenticated SMTP relay in production.
package email

import (
	"context"
)

// =============================================================================
// Interface Definition
// =============================================================================

// EmailService defines the interface for sending notification emails.
//
// All methods are context-aware for timeout and cancellation support.
type EmailService interface {
	// SendExportReadyEmail notifies an operator that an account export
	// archive is ready for download.
	SendExportReadyEmail(ctx context.Context, to, downloadURL string, accountCount int64) error

	// SendExportFailedEmail notifies an operator that an export job failed.
	SendExportFailedEmail(ctx context.Context, to, jobID, reason string) error
}

// =============================================================================
// Email Data Types
// =============================================================================

// Email represents a single plain-text email message.
type Email struct {
	To       string // Recipient email address
	Subject  string // Email subject line
	TextBody string // Plain text content
}

// =============================================================================
// Configuration Types
// =============================================================================

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string // SMTP server hostname (e.g., "localhost" for Mailhog)
	Port     int    // SMTP server port (e.g., 1025 for Mailhog)
	Username string // SMTP authentication username (empty for Mailhog)
	Password string // SMTP authentication password (empty for Mailhog)
	From     string // Default sender email address
	FromName string // Default sender display name
}

// =============================================================================
// Common Constants
// =============================================================================

const (
	// DefaultFromEmail is the default sender email for notifications.
	DefaultFromEmail = "noreply@launchpath.io"

	// DefaultFromName is the default sender display name.
	DefaultFromName = "LaunchPath"
)
