package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"examshield/internal/config"
	"examshield/internal/license"
)

var (
	ErrNoFromAddress = errors.New("no 'from' address defined")
	ErrNoToAddress   = errors.New("no 'to' address defined")
	ErrNoSmarthost   = errors.New("smtp host is not defined")
)

// SMTPNotifier sends license emails through an SMTP smarthost
type SMTPNotifier struct {
	cfg           config.SMTPConfig
	publicBaseURL string
	logger        *slog.Logger
}

// NewSMTPNotifier creates a notifier. With SMTP disabled it only logs.
func NewSMTPNotifier(cfg config.SMTPConfig, publicBaseURL string, logger *slog.Logger) *SMTPNotifier {
	return &SMTPNotifier{
		cfg:           cfg,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logger.With(slog.String("component", "smtp_notifier")),
	}
}

var _ license.Notifier = (*SMTPNotifier)(nil)

// LicenseActivated implements license.Notifier
func (n *SMTPNotifier) LicenseActivated(ctx context.Context, rec *license.Record) error {
	msg, err := ActivatedMessage(rec)
	if err != nil {
		return err
	}
	return n.Send(ctx, msg)
}

// TrialStarted implements license.Notifier
func (n *SMTPNotifier) TrialStarted(ctx context.Context, rec *license.Record) error {
	paymentURL := n.publicBaseURL + "/payment?key=" + url.QueryEscape(rec.Key)
	msg, err := TrialMessage(rec, paymentURL)
	if err != nil {
		return err
	}
	return n.Send(ctx, msg)
}

// Send delivers msg, bounded by the configured timeout
func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	if !n.cfg.Enabled {
		n.logger.InfoContext(ctx, "smtp disabled, email not sent",
			slog.String("to", license.MaskEmail(msg.To)),
			slog.String("subject", msg.Subject),
		)
		return nil
	}

	if n.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	if err := n.dispatch(ctx, msg); err != nil {
		n.logger.ErrorContext(ctx, "email dispatch failed",
			slog.String("to", license.MaskEmail(msg.To)),
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()),
		)
		return err
	}
	n.logger.InfoContext(ctx, "email sent",
		slog.String("to", license.MaskEmail(msg.To)),
		slog.String("subject", msg.Subject),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (n *SMTPNotifier) dispatch(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.cfg.Host == "" || n.cfg.Port <= 0 {
		return ErrNoSmarthost
	}
	from, err := validateFrom(n.cfg.From)
	if err != nil {
		return err
	}
	to, err := validateTo(msg.To)
	if err != nil {
		return err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port)))
	if err != nil {
		return fmt.Errorf("establish connection to server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("create client: %w", err)
	}
	defer c.Close()

	hello := n.cfg.Hello
	if hello == "" {
		hello = "localhost"
	}
	if err := c.Hello(hello); err != nil {
		return fmt.Errorf("server handshake: %w", err)
	}
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: n.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if n.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
			if err := c.Auth(auth); err != nil {
				return fmt.Errorf("plain auth: %w", err)
			}
		}
	}

	if err := c.Mail(from.Address); err != nil {
		return fmt.Errorf("sender identification: %w", err)
	}
	if err := c.Rcpt(to.Address); err != nil {
		return fmt.Errorf("recipient designation: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("message transmission: %w", err)
	}
	body, err := encode(from, to, msg, n.cfg.Hello)
	if err != nil {
		_ = w.Close()
		return err
	}
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish message: %w", err)
	}
	return c.Quit()
}

// encode builds a multipart/alternative message with the HTML part last
func encode(from, to *mail.Address, msg Message, hostname string) ([]byte, error) {
	if hostname == "" {
		hostname = "localhost"
	}
	var parts bytes.Buffer
	mw := multipart.NewWriter(&parts)

	for _, part := range []struct {
		contentType string
		body        string
	}{
		{"text/plain; charset=UTF-8", msg.Plain},
		{"text/html; charset=UTF-8", msg.HTML},
	} {
		pw, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Transfer-Encoding": {"quoted-printable"},
			"Content-Type":              {part.contentType},
		})
		if err != nil {
			return nil, fmt.Errorf("create part: %w", err)
		}
		qw := quotedprintable.NewWriter(pw)
		if _, err := qw.Write([]byte(part.body)); err != nil {
			return nil, fmt.Errorf("write part: %w", err)
		}
		if err := qw.Close(); err != nil {
			return nil, fmt.Errorf("close part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	var out bytes.Buffer
	_, _ = fmt.Fprintf(&out, "From: %s\r\n", from.String())
	_, _ = fmt.Fprintf(&out, "To: %s\r\n", to.String())
	_, _ = fmt.Fprintf(&out, "Subject: %s\r\n", encodeSubject(msg.Subject))
	_, _ = fmt.Fprintf(&out, "Message-Id: <%s@%s>\r\n", uuid.New(), hostname)
	_, _ = fmt.Fprintf(&out, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	_, _ = fmt.Fprintf(&out, "MIME-Version: 1.0\r\n")
	_, _ = fmt.Fprintf(&out, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", mw.Boundary())
	out.Write(parts.Bytes())
	return out.Bytes(), nil
}

func encodeSubject(subject string) string {
	for _, r := range subject {
		if r > 127 {
			return mime.QEncoding.Encode("UTF-8", subject)
		}
	}
	return subject
}

func validateFrom(from string) (*mail.Address, error) {
	if strings.TrimSpace(from) == "" {
		return nil, ErrNoFromAddress
	}
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("parse 'from' address: %w", err)
	}
	return addr, nil
}

func validateTo(to string) (*mail.Address, error) {
	if strings.TrimSpace(to) == "" {
		return nil, ErrNoToAddress
	}
	addr, err := mail.ParseAddress(to)
	if err != nil {
		return nil, fmt.Errorf("parse 'to' address: %w", err)
	}
	return addr, nil
}
