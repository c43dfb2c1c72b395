// Package email sends transactional mail over SMTP. When no SMTP host is
// configured the sender degrades to a logged no-op, so development setups
// work without a mail relay.
package email

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

var errMissingFrom = errors.New("from address is required")

// SenderConfig describes the SMTP relay. Username and password are optional
// for relays that accept unauthenticated local delivery.
type SenderConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Logger   *zap.Logger
}

// Sender delivers mail through one SMTP relay.
type Sender struct {
	addr     string
	host     string
	username string
	password string
	from     string
	logger   *zap.Logger

	// send is swappable for tests.
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewSender constructs the sender. An empty host yields a no-op sender.
func NewSender(cfg SenderConfig) (*Sender, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Host != "" && cfg.From == "" {
		return nil, errMissingFrom
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	return &Sender{
		addr:     fmt.Sprintf("%s:%d", cfg.Host, port),
		host:     cfg.Host,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		logger:   logger,
		send:     smtp.SendMail,
	}, nil
}

// Send delivers one message with plain-text and HTML alternatives.
func (s *Sender) Send(ctx context.Context, to, subject, textBody, htmlBody string) error {
	if s.host == "" {
		s.logger.Info("smtp not configured, mail dropped",
			zap.String("to", to), zap.String("subject", subject))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}
	message := buildMessage(s.from, to, subject, textBody, htmlBody)
	if err := s.send(s.addr, auth, s.from, []string{to}, message); err != nil {
		return fmt.Errorf("email: send to %s: %w", to, err)
	}
	return nil
}

const altBoundary = "coauthor-alt"

func buildMessage(from, to, subject, textBody, htmlBody string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n", altBoundary)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", altBoundary)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(textBody)
	b.WriteString("\r\n")

	if htmlBody != "" {
		fmt.Fprintf(&b, "--%s\r\n", altBoundary)
		b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
		b.WriteString(htmlBody)
		b.WriteString("\r\n")
	}
	fmt.Fprintf(&b, "--%s--\r\n", altBoundary)
	return []byte(b.String())
}
