package notifications

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog/log"
)

// EmailConfig holds the relay's SMTP settings.
type EmailConfig struct {
	SMTPHost         string
	SMTPPort         int
	Username         string
	Password         string
	From             string
	DefaultRecipient string
}

// Mailer sends alert emails over SMTP.
type Mailer struct {
	config EmailConfig
}

// NewMailer returns a mailer for the given SMTP settings.
func NewMailer(config EmailConfig) *Mailer {
	return &Mailer{config: config}
}

// SendAlert formats and sends the critical-state email. An empty recipient
// falls back to the configured default; having neither is an error.
func (m *Mailer) SendAlert(msg AlertMessage) error {
	recipient := strings.TrimSpace(msg.RecipientEmail)
	if recipient == "" {
		recipient = m.config.DefaultRecipient
	}
	if recipient == "" {
		return fmt.Errorf("no recipient configured")
	}

	subject := fmt.Sprintf("Critical Alert for %s", msg.VMName)
	body := fmt.Sprintf(
		"Alert: %s is in a critical state.\nCPU: %.1f%%\nMemory: %.1f%%\nDisk: %.1f%%\n",
		msg.VMName, msg.CPU, msg.Memory, msg.Disk,
	)

	var mail strings.Builder
	fmt.Fprintf(&mail, "From: %s\r\n", m.config.From)
	fmt.Fprintf(&mail, "To: %s\r\n", recipient)
	fmt.Fprintf(&mail, "Subject: %s\r\n", subject)
	mail.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	mail.WriteString(body)

	addr := fmt.Sprintf("%s:%d", m.config.SMTPHost, m.config.SMTPPort)
	var auth smtp.Auth
	if m.config.Username != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.SMTPHost)
	}

	if err := smtp.SendMail(addr, auth, m.config.From, []string{recipient}, []byte(mail.String())); err != nil {
		log.Error().Err(err).Str("smtp", addr).Str("to", recipient).Msg("Failed to send alert email")
		return fmt.Errorf("failed to send alert email: %w", err)
	}

	log.Info().Str("to", recipient).Str("vm", msg.VMName).Msg("Alert email sent")
	return nil
}
