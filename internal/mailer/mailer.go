// Package mailer delivers billing notification emails over SMTP.
//
// Templates are rendered server-side into HTML bodies keyed by the billing
// template names. Delivery retries transient SMTP failures a few times before
// giving up; the billing engine treats all send errors as best-effort anyway.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"time"

	"github.com/convodock/convodock/internal/billing"
	"github.com/convodock/convodock/internal/metrics"
	"github.com/convodock/convodock/internal/retry"
)

const (
	sendAttempts  = 3
	sendBaseDelay = 500 * time.Millisecond
)

// SMTPMailer implements billing.Notifier over a plain SMTP relay.
type SMTPMailer struct {
	addr   string // host:port
	host   string
	user   string
	pass   string
	sender string
	logger *slog.Logger
	tmpl   *template.Template
}

// New creates an SMTP mailer. Auth is skipped when user/pass are empty, which
// matches local relays like mailhog.
func New(host, port, user, pass, sender string, logger *slog.Logger) *SMTPMailer {
	return &SMTPMailer{
		addr:   fmt.Sprintf("%s:%s", host, port),
		host:   host,
		user:   user,
		pass:   pass,
		sender: sender,
		logger: logger,
		tmpl:   template.Must(template.New("billing").Parse(billingTemplates)),
	}
}

// SendEmail renders the named template and delivers it to the recipient.
func (m *SMTPMailer) SendEmail(ctx context.Context, email billing.Email) error {
	body, err := m.render(email)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues(email.Template, "render_error").Inc()
		return err
	}

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", m.sender, email.To, email.Subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	var auth smtp.Auth
	if m.user != "" && m.pass != "" {
		auth = smtp.PlainAuth("", m.user, m.pass, m.host)
	}

	err = retry.Do(ctx, sendAttempts, sendBaseDelay, func() error {
		return smtp.SendMail(m.addr, auth, m.sender, []string{email.To}, msg)
	})
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues(email.Template, "error").Inc()
		return fmt.Errorf("send mail to %s: %w", email.To, err)
	}

	metrics.NotificationsTotal.WithLabelValues(email.Template, "sent").Inc()
	m.logger.Info("notification sent", "to", email.To, "template", email.Template)
	return nil
}

func (m *SMTPMailer) render(email billing.Email) (string, error) {
	var buf bytes.Buffer
	if err := m.tmpl.ExecuteTemplate(&buf, email.Template, email.Data); err != nil {
		return "", fmt.Errorf("render template %q: %w", email.Template, err)
	}
	return buf.String(), nil
}

var _ billing.Notifier = (*SMTPMailer)(nil)

// NopMailer logs emails instead of sending them. Used in development mode
// when no SMTP host is configured.
type NopMailer struct {
	Logger *slog.Logger
}

func (n *NopMailer) SendEmail(_ context.Context, email billing.Email) error {
	n.Logger.Info("email suppressed (no SMTP configured)",
		"to", email.To, "subject", email.Subject, "template", email.Template)
	return nil
}

var _ billing.Notifier = (*NopMailer)(nil)
