package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"text/template"
	"time"

	"github.com/artpar/quotaguard/ports"
)

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string // sender email address
	FromName string // sender display name

	// TLS settings
	UseTLS      bool // Use STARTTLS when the server offers it
	SkipVerify  bool // Skip TLS certificate verification (for testing)
	UseImplicit bool // Use implicit TLS (port 465)

	Timeout time.Duration
}

// ErrNoContact is returned when a notification has no email address.
var ErrNoContact = errors.New("notification has no email contact")

// Email sends alerts to the user's contact address over SMTP.
type Email struct {
	config SMTPConfig
	body   *template.Template
}

// NewEmail creates an email notifier.
func NewEmail(cfg SMTPConfig) (*Email, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.FromName == "" {
		cfg.FromName = "quotaguard"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	body, err := template.New("alert").Parse(alertEmailTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse alert template: %w", err)
	}
	return &Email{config: cfg, body: body}, nil
}

// Notify implements ports.Notifier.
func (e *Email) Notify(ctx context.Context, n ports.Notification) error {
	if n.Email == "" {
		return ErrNoContact
	}
	msg, err := e.Message(n)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	if e.config.UseImplicit {
		return e.sendImplicitTLS(ctx, addr, n.Email, msg)
	}
	return e.sendSTARTTLS(ctx, addr, n.Email, msg)
}

// Message renders the RFC 5322 message for n.
func (e *Email) Message(n ports.Notification) ([]byte, error) {
	var body bytes.Buffer
	if err := e.body.Execute(&body, n); err != nil {
		return nil, fmt.Errorf("render alert: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s <%s>\r\n", e.config.FromName, e.config.From)
	fmt.Fprintf(&buf, "To: %s\r\n", n.Email)
	fmt.Fprintf(&buf, "Subject: Daily quota %d%% reached (%s plan)\r\n", n.Threshold, n.Plan)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.Write(body.Bytes())
	return buf.Bytes(), nil
}

// sendSTARTTLS sends email using STARTTLS (port 587/25).
func (e *Email) sendSTARTTLS(ctx context.Context, addr, to string, message []byte) error {
	dialer := &net.Dialer{Timeout: e.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, e.config.Host)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	if e.config.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			tlsConfig := &tls.Config{
				ServerName:         e.config.Host,
				InsecureSkipVerify: e.config.SkipVerify,
			}
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}

	return e.deliver(client, to, message)
}

// sendImplicitTLS sends email using implicit TLS (port 465).
func (e *Email) sendImplicitTLS(ctx context.Context, addr, to string, message []byte) error {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: e.config.Timeout},
		Config: &tls.Config{
			ServerName:         e.config.Host,
			InsecureSkipVerify: e.config.SkipVerify,
		},
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial tls: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, e.config.Host)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	return e.deliver(client, to, message)
}

func (e *Email) deliver(client *smtp.Client, to string, message []byte) error {
	if e.config.Username != "" {
		auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(e.config.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(message); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return client.Quit()
}

const alertEmailTemplate = `Hello{{if .Name}} {{.Name}}{{end}},

{{.Message}}

Plan:      {{.Plan}}
Used:      {{printf "%.1f" .UsagePercent}}%
Remaining: {{.Remaining}} requests
Day:       {{.Day}} (UTC)

The quota resets at midnight UTC.
`
