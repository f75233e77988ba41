package mailer

import (
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/nkozdemir/character-chat-app/internal/config"
)

// Mailer sends account mail over SMTP.
type Mailer struct {
	dialer *gomail.Dialer
	sender string
}

// New builds a mailer from config. Returns nil when SMTP is not configured;
// callers treat a nil mailer as "skip delivery".
func New(cfg config.SMTPConfig) *Mailer {
	if cfg.Host == "" {
		return nil
	}
	return &Mailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		sender: cfg.Sender,
	}
}

// SendPasswordReset mails a reset token to the user.
func (m *Mailer) SendPasswordReset(toEmail, token string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.sender)
	msg.SetHeader("To", toEmail)
	msg.SetHeader("Subject", "Reset your password")
	msg.SetBody("text/plain", fmt.Sprintf(
		"A password reset was requested for your account.\n\n"+
			"Reset token: %s\n\n"+
			"The token expires in one hour. If you didn't request this, ignore this email.\n", token))

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send reset mail: %w", err)
	}
	return nil
}
