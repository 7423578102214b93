package alert

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// SMTPConfig holds outgoing mail settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailSender delivers summaries over SMTP.
type EmailSender struct {
	cfg      SMTPConfig
	sendMail func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailSender returns a sender for cfg. Authentication is skipped when
// no username is configured.
func NewEmailSender(cfg SMTPConfig) *EmailSender {
	e := &EmailSender{cfg: cfg}
	e.sendMail = e.deliver
	return e
}

// Send mails s to the comma-separated addresses in target.
func (e *EmailSender) Send(ctx context.Context, target string, s Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var to []string
	for _, addr := range strings.Split(target, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	if len(to) == 0 {
		return fmt.Errorf("no recipient in %q", target)
	}

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	addr := net.JoinHostPort(e.cfg.Host, fmt.Sprint(e.cfg.Port))
	if err := e.sendMail(ctx, addr, auth, e.cfg.From, to, buildMessage(e.cfg.From, to, s)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// deliver runs one SMTP transaction. Every read and write on the connection
// honours ctx: its deadline becomes the connection deadline and cancelling
// it aborts any blocked I/O.
func (e *EmailSender) deliver(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(dl); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	c, err := smtp.NewClient(conn, e.cfg.Host)
	if err != nil {
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: e.cfg.Host}); err != nil {
			return err
		}
	}
	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return err
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func buildMessage(from string, to []string, s Summary) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", s.Subject())
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	fmt.Fprintf(&b, "Account:  %s (%s %s)\r\n", s.AccountName, s.Provider, s.AccountID)
	fmt.Fprintf(&b, "Audit:    %s\r\n", s.AuditID)
	fmt.Fprintf(&b, "Risk:     %.1f / 100\r\n\r\n", s.RiskScore)
	fmt.Fprintf(&b, "Critical: %d\r\nHigh:     %d\r\nMedium:   %d\r\nLow:      %d\r\nTotal:    %d\r\n",
		s.Critical, s.High, s.Medium, s.Low, s.TotalFindings)
	return []byte(b.String())
}
