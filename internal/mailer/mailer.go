// Package mailer dispatches the one-off message this system ever sends: a
// password-reset OTP. The mail transport is an opaque external collaborator,
// so the interface is deliberately small.
package mailer

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/rs/zerolog/log"
)

// Mailer sends a password-reset OTP to an address.
type Mailer interface {
	SendOTP(ctx context.Context, to string, otp int) error
}

// DevMailer logs the OTP instead of sending mail. Used when SMTP_HOST is
// unset, as a dev-mode fallback for the external mail dependency.
type DevMailer struct{}

func (DevMailer) SendOTP(_ context.Context, to string, otp int) error {
	log.Warn().Str("to", to).Int("otp", otp).Msg("dev mailer: would send password-reset OTP")
	return nil
}

// SMTPCfg configures SMTPMailer.
type SMTPCfg struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// SMTPMailer sends OTP mail over plain SMTP with PLAIN auth.
type SMTPMailer struct {
	cfg SMTPCfg
}

func NewSMTPMailer(cfg SMTPCfg) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) SendOTP(_ context.Context, to string, otp int) error {
	addr := m.cfg.Host + ":" + m.cfg.Port
	auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)

	subject := "Your password reset code"
	body := fmt.Sprintf("Your password reset code is %06d. It expires in 10 minutes.", otp)
	msg := []byte("To: " + to + "\r\n" +
		"From: " + m.cfg.From + "\r\n" +
		"Subject: " + subject + "\r\n\r\n" +
		body + "\r\n")

	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{to}, msg); err != nil {
		log.Error().Err(err).Str("to", to).Msg("failed to send OTP mail")
		return err
	}
	return nil
}
