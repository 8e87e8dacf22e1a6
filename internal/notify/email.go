package notify

import (
	"context"
	"fmt"
	"html"
	"net/smtp"
	"strings"

	"github.com/hazz-dev/pulsewatch/internal/config"
)

// EmailChannel sends messages as HTML mail through an SMTP relay.
type EmailChannel struct {
	cfg config.SMTP
	to  []string

	// sendMail is swappable for tests; defaults to smtp.SendMail.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailChannel creates an email channel for the given recipients.
func NewEmailChannel(cfg config.SMTP, to []string) *EmailChannel {
	return &EmailChannel{cfg: cfg, to: to, sendMail: smtp.SendMail}
}

func (e *EmailChannel) Name() string { return "email" }

// Send delivers the message to every recipient in one SMTP transaction.
func (e *EmailChannel) Send(ctx context.Context, m Message) error {
	if e.cfg.Host == "" {
		return fmt.Errorf("smtp host not configured")
	}
	if len(e.to) == 0 {
		return fmt.Errorf("no recipients configured")
	}

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}

	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	msg := e.build(m)

	// smtp.SendMail has no context hook; honor cancellation by bailing out
	// before dialing.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.sendMail(addr, auth, e.cfg.From, e.to, msg); err != nil {
		return fmt.Errorf("sending mail via %s: %w", addr, err)
	}
	return nil
}

func (e *EmailChannel) build(m Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Title)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "<h2>%s</h2>\n", html.EscapeString(m.Title))
	fmt.Fprintf(&b, "<p>%s</p>\n", html.EscapeString(m.Text))
	b.WriteString("<table>\n")
	for _, f := range m.Fields {
		fmt.Fprintf(&b, "<tr><td><b>%s</b></td><td>%s</td></tr>\n",
			html.EscapeString(f.Title), html.EscapeString(f.Value))
	}
	b.WriteString("</table>\n")
	return []byte(b.String())
}
