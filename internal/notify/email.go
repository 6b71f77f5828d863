package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/kumodash/kumodash/internal/alerts"
)

const smtpDialTimeout = 10 * time.Second

// EmailConfig is the SMTP configuration injected at construction.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// configured reports whether the minimum required settings are present.
func (c EmailConfig) configured() bool {
	return c.Host != "" && c.Port > 0 && c.From != ""
}

// EmailSender delivers alert notifications over SMTP as a dual-body
// (HTML + plain text) message.
type EmailSender struct {
	cfg        EmailConfig
	configured bool
}

// NewEmailSender builds an EmailSender. Missing SMTP settings leave the
// adapter permanently unconfigured: every Send and Verify fails immediately
// without network I/O. Configuration is not hot-reloadable.
func NewEmailSender(cfg EmailConfig) *EmailSender {
	ok := cfg.configured()
	if !ok {
		slog.Warn("notify: SMTP settings incomplete, email channel disabled")
	}
	return &EmailSender{cfg: cfg, configured: ok}
}

// Send delivers one alert to the given recipients. Zero recipients is a
// failure, not an error condition worth attempting.
func (s *EmailSender) Send(ctx context.Context, p alerts.NotificationPayload, recipients []string) error {
	if !s.configured {
		return ErrNotConfigured
	}
	if len(recipients) == 0 {
		return fmt.Errorf("email: no recipients")
	}

	msg := s.buildMessage(p, recipients)
	return s.deliver(ctx, recipients, msg)
}

// Verify performs an SMTP handshake (connect, EHLO, QUIT) without sending
// mail, so the check never surfaces as a delivered message.
func (s *EmailSender) Verify(ctx context.Context) error {
	if !s.configured {
		return ErrNotConfigured
	}

	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Quit()
}

// buildMessage renders the multipart/alternative MIME message.
func (s *EmailSender) buildMessage(p alerts.NotificationPayload, recipients []string) []byte {
	subject := fmt.Sprintf("[%s] %s", severityLabel(p.Alert.Severity), p.Rule.Name)
	boundary := "kumodash-" + p.Alert.ID

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n", boundary)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(s.textBody(p))
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	b.WriteString(s.htmlBody(p))
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return []byte(b.String())
}

func (s *EmailSender) textBody(p alerts.NotificationPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\r\n", p.Rule.Name)
	if p.Rule.Description != "" {
		fmt.Fprintf(&b, "%s\r\n", p.Rule.Description)
	}
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "Severity:      %s\r\n", severityLabel(p.Alert.Severity))
	fmt.Fprintf(&b, "Message:       %s\r\n", p.Alert.Message)
	fmt.Fprintf(&b, "Current value: %.2f\r\n", p.Alert.Value)
	fmt.Fprintf(&b, "Threshold:     %g\r\n", p.Alert.Threshold)
	fmt.Fprintf(&b, "Condition:     %s\r\n", conditionSummary(p.Rule))
	fmt.Fprintf(&b, "Time:          %s\r\n", formatTimestamp(p))
	return b.String()
}

func (s *EmailSender) htmlBody(p alerts.NotificationPayload) string {
	color := severityColor(p.Alert.Severity)
	var b strings.Builder
	b.WriteString("<html><body style=\"font-family:sans-serif\">")
	fmt.Fprintf(&b, "<h2 style=\"color:#%s\">%s %s</h2>",
		color, severityEmoji(p.Alert.Severity), html.EscapeString(p.Rule.Name))
	if p.Rule.Description != "" {
		fmt.Fprintf(&b, "<p>%s</p>", html.EscapeString(p.Rule.Description))
	}
	b.WriteString("<table cellpadding=\"4\">")
	row := func(k, v string) {
		fmt.Fprintf(&b, "<tr><td><b>%s</b></td><td>%s</td></tr>", k, html.EscapeString(v))
	}
	row("Severity", severityLabel(p.Alert.Severity))
	row("Message", p.Alert.Message)
	row("Current value", fmt.Sprintf("%.2f", p.Alert.Value))
	row("Threshold", fmt.Sprintf("%g", p.Alert.Threshold))
	row("Condition", conditionSummary(p.Rule))
	row("Time", formatTimestamp(p))
	b.WriteString("</table>")
	b.WriteString("<p style=\"color:#888;font-size:12px\">Sent by KumoMTA Dashboard</p>")
	b.WriteString("</body></html>")
	return b.String()
}

// deliver opens an SMTP session and sends msg to recipients. One attempt,
// no retry; retry policy belongs to the caller.
func (s *EmailSender) deliver(ctx context.Context, recipients []string, msg []byte) error {
	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %q: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close() //nolint:errcheck
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close body: %w", err)
	}
	return client.Quit()
}

// dial opens a connection to the SMTP server with a bounded timeout.
func (s *EmailSender) dial(ctx context.Context) (*smtp.Client, error) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	d := net.Dialer{Timeout: smtpDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}
	return client, nil
}
