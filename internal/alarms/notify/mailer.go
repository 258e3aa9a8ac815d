package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"hisens-cloud/internal/settings"
)

// ErrSMTPDisabled is returned when no mail host is configured.
var ErrSMTPDisabled = errors.New("smtp: host not configured")

// Email is one outbound message.
type Email struct {
	To      []string
	Subject string
	HTML    string
	Text    string
}

// Mailer sends e-mail with the SMTP settings current at send time.
type Mailer interface {
	Send(ctx context.Context, cfg settings.SMTP, email Email) error
}

// SMTPMailer delivers through an SMTP relay.
type SMTPMailer struct {
	timeout time.Duration
}

// NewSMTPMailer constructs a mailer. timeout bounds dialing and each SMTP command.
func NewSMTPMailer(timeout time.Duration) *SMTPMailer {
	return &SMTPMailer{timeout: timeout}
}

// Send implements Mailer. smtp_tls requires STARTTLS; otherwise TLS is used when offered.
func (m *SMTPMailer) Send(ctx context.Context, cfg settings.SMTP, email Email) error {
	if !cfg.Enabled() {
		return ErrSMTPDisabled
	}
	if len(email.To) == 0 {
		return errors.New("smtp: no recipients")
	}
	msg, err := buildMessage(cfg, email)
	if err != nil {
		return err
	}
	client, err := mail.NewClient(cfg.Host, m.clientOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("smtp: client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp: send: %w", err)
	}
	return nil
}

func (m *SMTPMailer) clientOptions(cfg settings.SMTP) []mail.Option {
	port := cfg.Port
	if port <= 0 {
		port = settings.Defaults().SMTP.Port
	}
	opts := []mail.Option{mail.WithPort(port)}
	if m != nil && m.timeout > 0 {
		opts = append(opts, mail.WithTimeout(m.timeout))
	}
	if cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if cfg.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.User),
			mail.WithPassword(cfg.Password),
		)
	}
	return opts
}

func buildMessage(cfg settings.SMTP, email Email) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(cfg.Sender()); err != nil {
		return nil, fmt.Errorf("smtp: sender: %w", err)
	}
	if err := msg.To(email.To...); err != nil {
		return nil, fmt.Errorf("smtp: recipients: %w", err)
	}
	msg.Subject(email.Subject)
	msg.SetBodyString(mail.TypeTextHTML, email.HTML)
	if email.Text != "" {
		msg.AddAlternativeString(mail.TypeTextPlain, email.Text)
	}
	return msg, nil
}
