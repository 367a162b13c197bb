package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/cohort-portal-api/pkg/config"
)

// Message is a single outbound email.
type Message struct {
	To       string
	Subject  string
	Text     string
	HTML     string
}

// Mailer delivers mail over SMTP with STARTTLS. Dial and I/O deadlines are
// derived from the caller context so a slow relay cannot hang a request.
type Mailer struct {
	cfg    config.SMTPConfig
	logger *zap.Logger
}

// New constructs a Mailer.
func New(cfg config.SMTPConfig, logger *zap.Logger) *Mailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailer{cfg: cfg, logger: logger}
}

// Send delivers the message, honouring the context deadline. When the context
// carries no deadline the configured send timeout applies.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(m.cfg.SendTimeout)
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)

	conn, err := net.DialTimeout("tcp", addr, time.Until(deadline))
	if err != nil {
		return fmt.Errorf("dial smtp %s: %w", addr, err)
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer func() { _ = client.Quit() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if m.cfg.Username != "" {
		auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(m.build(msg)); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close body: %w", err)
	}

	m.logger.Debug("mail delivered", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}

func (m *Mailer) build(msg Message) []byte {
	from := m.cfg.From
	if m.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.cfg.FromName, m.cfg.From)
	}

	body := msg.HTML
	contentType := `text/html; charset="UTF-8"`
	if body == "" {
		body = msg.Text
		contentType = `text/plain; charset="UTF-8"`
	}

	lines := []string{
		fmt.Sprintf("From: %s", from),
		fmt.Sprintf("To: %s", msg.To),
		fmt.Sprintf("Subject: %s", msg.Subject),
		"MIME-Version: 1.0",
		fmt.Sprintf("Content-Type: %s", contentType),
		"",
		body,
	}
	return []byte(strings.Join(lines, "\r\n"))
}

// OTPMessage renders the verification-code email sent during signup.
func OTPMessage(to, code string, ttl time.Duration) Message {
	minutes := int(ttl.Minutes())
	return Message{
		To:      to,
		Subject: fmt.Sprintf("Your verification code (valid for %d minutes)", minutes),
		Text:    fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, minutes),
		HTML: fmt.Sprintf(`<div style="font-family: Arial, sans-serif; line-height:1.6">
  <h2>Cohort Portal</h2>
  <p>Use the following code to verify your email:</p>
  <div style="font-size:24px;font-weight:700;letter-spacing:4px;margin:12px 0">%s</div>
  <p>This code expires in <b>%d minutes</b>.</p>
  <hr/>
  <p style="font-size:12px;color:#666">If you didn't request this, you can ignore this email.</p>
</div>`, code, minutes),
	}
}

// ApprovalRequestMessage notifies a task assigner that approval was requested.
func ApprovalRequestMessage(to, studentName, taskTitle string) Message {
	return Message{
		To:      to,
		Subject: fmt.Sprintf("Approval requested: %s", taskTitle),
		Text:    fmt.Sprintf("%s has requested approval for the task %q.", studentName, taskTitle),
	}
}
