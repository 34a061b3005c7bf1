package notification

import (
	"fmt"
	"net/smtp"
	"strings"

	"opsdesk/pkg/config"

	"go.uber.org/zap"
)

// Mailer delivers a rendered notification to a set of addresses.
type Mailer interface {
	Send(to []string, subject, body string) error
}

// NewMailer returns the SMTP mailer when SMTP is configured, otherwise a
// logging no-op so the worker keeps draining the queue in dev setups.
func NewMailer(cfg *config.Config) Mailer {
	if !cfg.SMTP.Enable || cfg.SMTP.Host == "" {
		return &logMailer{}
	}
	return &smtpMailer{cfg: cfg}
}

type smtpMailer struct {
	cfg *config.Config
}

func (m *smtpMailer) Send(to []string, subject, body string) error {
	if len(to) == 0 {
		return nil
	}

	s := m.cfg.SMTP
	msg := strings.Join([]string{
		"From: " + s.From,
		"To: " + strings.Join(to, ", "),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"utf-8\"",
		"",
		body,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	var auth smtp.Auth
	if s.User != "" {
		auth = smtp.PlainAuth("", s.User, s.Password, s.Host)
	}

	return smtp.SendMail(addr, auth, s.From, to, []byte(msg))
}

type logMailer struct{}

func (m *logMailer) Send(to []string, subject, _ string) error {
	zap.L().Info("smtp disabled, dropping notification",
		zap.Strings("to", to),
		zap.String("subject", subject),
	)
	return nil
}
