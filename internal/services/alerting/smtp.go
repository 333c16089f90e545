package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

// SMTPMailer invia email in testo semplice tramite go-mail.
type SMTPMailer struct {
	Host      string
	Port      int
	User      string
	Password  string
	From      string
	TLSPolicy mail.TLSPolicy
	Timeout   time.Duration

	send func(ctx context.Context, msg *mail.Msg) error
}

func NewSMTPMailer(host string, port int, user, password, from string) *SMTPMailer {
	m := &SMTPMailer{
		Host:      host,
		Port:      port,
		User:      user,
		Password:  password,
		From:      from,
		TLSPolicy: mail.TLSOpportunistic,
		Timeout:   10 * time.Second,
	}
	m.send = m.dialAndSend
	return m
}

// ParseTLSPolicy: opportunistic | mandatory | none.
func ParseTLSPolicy(s string) (mail.TLSPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "opportunistic":
		return mail.TLSOpportunistic, nil
	case "mandatory":
		return mail.TLSMandatory, nil
	case "none":
		return mail.NoTLS, nil
	}
	return mail.TLSOpportunistic, fmt.Errorf("unknown smtp tls policy %q", s)
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	msg, err := newMessage(m.From, to, subject, body)
	if err != nil {
		return err
	}
	if err := m.send(ctx, msg); err != nil {
		return fmt.Errorf("smtp %s:%d: %w", m.Host, m.Port, err)
	}
	return nil
}

func (m *SMTPMailer) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(m.Port),
		mail.WithTLSPolicy(m.TLSPolicy),
		mail.WithTimeout(m.Timeout),
	}
	if m.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.User),
			mail.WithPassword(m.Password))
	}
	c, err := mail.NewClient(m.Host, opts...)
	if err != nil {
		return err
	}
	return c.DialAndSendWithContext(ctx, msg)
}

// newMessage compone il messaggio; l'oggetto resta su una riga.
func newMessage(from, to, subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("mail from %q: %w", from, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("mail to %q: %w", to, err)
	}
	msg.Subject(strings.Join(strings.Fields(subject), " "))
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}
