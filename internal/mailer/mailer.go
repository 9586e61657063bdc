// Package mailer implements the message-delivery collaborator: deliver a
// subject, an HTML body and an optional attachment to an address. Failure
// reasons are opaque to callers; they are logged, not branched on.
package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/smtp"

	"go.uber.org/zap"
)

// Attachment is a named byte payload, e.g. a rendered invoice PDF.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Mailer delivers messages. Implementations must honor the context deadline.
type Mailer interface {
	Deliver(ctx context.Context, to, subject, htmlBody string, attachment *Attachment) error
}

// Config holds SMTP transport settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Configured reports whether the transport has enough settings to attempt
// delivery at all.
func (c Config) Configured() bool {
	return c.Host != "" && c.From != ""
}

// SMTPMailer sends MIME mail over plain SMTP with optional auth.
type SMTPMailer struct {
	cfg Config
	log *zap.Logger
}

func NewSMTP(cfg Config, log *zap.Logger) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, log: log}
}

// Deliver builds a multipart MIME message and hands it to the SMTP server.
// The context deadline is applied by running the blocking send in a
// goroutine; an expired deadline is reported as a delivery failure.
func (m *SMTPMailer) Deliver(ctx context.Context, to, subject, htmlBody string, attachment *Attachment) error {
	if !m.cfg.Configured() {
		return errors.New("smtp transport not configured")
	}

	msg := buildMessage(m.cfg.From, to, subject, htmlBody, attachment)
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, m.cfg.From, []string{to}, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			m.log.Warn("smtp delivery failed", zap.String("to", to), zap.Error(err))
			return err
		}
		m.log.Info("email delivered", zap.String("to", to), zap.String("subject", subject))
		return nil
	case <-ctx.Done():
		m.log.Warn("smtp delivery timed out", zap.String("to", to))
		return ctx.Err()
	}
}

const boundary = "invoiceflow-mime-boundary"

func buildMessage(from, to, subject, htmlBody string, attachment *Attachment) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", boundary)

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	buf.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	buf.WriteString(htmlBody)
	buf.WriteString("\r\n")

	if attachment != nil {
		contentType := attachment.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: %s\r\n", contentType)
		buf.WriteString("Content-Transfer-Encoding: base64\r\n")
		fmt.Fprintf(&buf, "Content-Disposition: attachment; filename=%q\r\n\r\n", attachment.Filename)

		encoded := base64.StdEncoding.EncodeToString(attachment.Data)
		// RFC 2045 line length limit.
		for len(encoded) > 76 {
			buf.WriteString(encoded[:76])
			buf.WriteString("\r\n")
			encoded = encoded[76:]
		}
		buf.WriteString(encoded)
		buf.WriteString("\r\n")
	}

	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes()
}
