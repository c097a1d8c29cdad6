package notifications

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"text/template"
	"time"

	"github.com/platinummonkey/lightbox/pkg/auth"
)

// SMTPConfig configures outgoing mail
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	StartTLS bool
	SiteName string
	BaseURL  string
}

var templates = template.Must(template.New("mail").Parse(`
{{define "invitation"}}You have been invited to join {{.SiteName}} as {{.Role}}.

Accept the invitation and choose your password here:
{{.Link}}

This link expires on {{.Expires}}. If you did not expect this email you can ignore it.
{{end}}
{{define "reset"}}Hello {{.Name}},

Someone asked to reset the password of your {{.SiteName}} account.
Choose a new password here:
{{.Link}}

If this was not you, ignore this email; your password stays the same.
{{end}}
{{define "notification"}}{{.Body}}
{{if .Link}}
{{.Link}}
{{end}}
You receive this email because of your notification settings on {{.SiteName}}.
{{end}}`))

// SMTPMailer sends account and notification emails over SMTP
type SMTPMailer struct {
	cfg     SMTPConfig
	timeout time.Duration
	send    func(ctx context.Context, to, msg string) error
}

// NewSMTPMailer creates a mailer
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.SiteName == "" {
		cfg.SiteName = "Lightbox"
	}
	m := &SMTPMailer{cfg: cfg, timeout: 30 * time.Second}
	m.send = m.sendSMTP
	return m
}

func (m *SMTPMailer) link(path string) string {
	return strings.TrimSuffix(m.cfg.BaseURL, "/") + path
}

func render(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s email: %w", name, err)
	}
	return strings.TrimSpace(buf.String()) + "\n", nil
}

// SendInvitation emails the invitation link
func (m *SMTPMailer) SendInvitation(ctx context.Context, inv *auth.Invitation, token string) error {
	body, err := render("invitation", map[string]interface{}{
		"SiteName": m.cfg.SiteName,
		"Role":     inv.Role,
		"Link":     m.link("/invite/" + token),
		"Expires":  inv.ExpiresAt.UTC().Format("2 Jan 2006 15:04 MST"),
	})
	if err != nil {
		return err
	}
	return m.Send(ctx, inv.Email, "You're invited to "+m.cfg.SiteName, body)
}

// SendPasswordReset emails the reset link
func (m *SMTPMailer) SendPasswordReset(ctx context.Context, u *auth.User, token string) error {
	name := u.DisplayName
	if name == "" {
		name = u.Username
	}
	body, err := render("reset", map[string]interface{}{
		"SiteName": m.cfg.SiteName,
		"Name":     name,
		"Link":     m.link("/reset-password/" + token),
	})
	if err != nil {
		return err
	}
	return m.Send(ctx, u.Email, "Reset your "+m.cfg.SiteName+" password", body)
}

// SendNotification emails a notification
func (m *SMTPMailer) SendNotification(ctx context.Context, to, subject, body, link string) error {
	if link != "" && strings.HasPrefix(link, "/") {
		link = m.link(link)
	}
	text, err := render("notification", map[string]interface{}{
		"SiteName": m.cfg.SiteName,
		"Body":     body,
		"Link":     link,
	})
	if err != nil {
		return err
	}
	return m.Send(ctx, to, subject, text)
}

// Send delivers a plain text message
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return permanent(fmt.Errorf("header injection attempt in recipient or subject"))
	}
	return m.send(ctx, to, m.buildMessage(to, subject, body))
}

func (m *SMTPMailer) buildMessage(to, subject, body string) string {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s <%s>\r\n", mime.QEncoding.Encode("utf-8", m.cfg.SiteName), m.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return msg.String()
}

func (m *SMTPMailer) sendSMTP(ctx context.Context, to, msg string) error {
	addr := net.JoinHostPort(m.cfg.Host, fmt.Sprint(m.cfg.Port))

	dialer := &net.Dialer{Timeout: m.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return transient(fmt.Errorf("failed to connect to SMTP server: %w", err))
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return transient(fmt.Errorf("failed to create SMTP client: %w", err))
	}
	defer client.Close()

	if m.cfg.StartTLS {
		if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return transient(fmt.Errorf("failed to start TLS: %w", err))
		}
	}
	if m.cfg.Username != "" && m.cfg.Password != "" {
		if err := client.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
			return permanent(fmt.Errorf("SMTP authentication failed: %w", err))
		}
	}
	if err := client.Mail(m.cfg.From); err != nil {
		return permanent(fmt.Errorf("failed to set sender: %w", err))
	}
	if err := client.Rcpt(to); err != nil {
		return permanent(fmt.Errorf("failed to set recipient: %w", err))
	}

	w, err := client.Data()
	if err != nil {
		return transient(fmt.Errorf("failed to start message: %w", err))
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return transient(fmt.Errorf("failed to write message: %w", err))
	}
	if err := w.Close(); err != nil {
		return transient(fmt.Errorf("failed to close message: %w", err))
	}
	_ = client.Quit()
	return nil
}
