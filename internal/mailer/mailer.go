package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SMTPMailer delivers batch job reports over plain SMTP. The relay is
// expected on the local network; no authentication is used.
type SMTPMailer struct {
	addr   string
	from   string
	logger *zap.Logger

	send func(addr, from string, to []string, msg []byte) error
	now  func() time.Time
}

func NewSMTPMailer(host string, port int, from string, logger *zap.Logger) (*SMTPMailer, error) {
	if strings.TrimSpace(host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if port <= 0 {
		return nil, fmt.Errorf("smtp port must be positive")
	}
	if strings.TrimSpace(from) == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SMTPMailer{
		addr:   fmt.Sprintf("%s:%d", host, port),
		from:   from,
		logger: logger,
		send: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
		now: time.Now,
	}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, recipients []string, subject, body string) error {
	if m == nil {
		return fmt.Errorf("mailer is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	to := make([]string, 0, len(recipients))
	for _, recipient := range recipients {
		if trimmed := strings.TrimSpace(recipient); trimmed != "" {
			to = append(to, trimmed)
		}
	}
	if len(to) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}

	msg := m.compose(to, subject, body)
	if err := m.send(m.addr, m.from, to, msg); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", strings.Join(to, ", "), err)
	}

	m.logger.Info("job report mailed",
		zap.Strings("recipients", to),
		zap.String("subject", subject),
	)
	return nil
}

func (m *SMTPMailer) compose(to []string, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", m.now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
