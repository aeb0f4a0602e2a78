package main

import (
	"context"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// MailMessage is a single HTML email.
type MailMessage struct {
	To      string
	Subject string
	HTML    string
}

// Mailer delivers notification emails.
type Mailer interface {
	Send(ctx context.Context, msg MailMessage) error
}

var mailer Mailer = logMailer{}

// newMailer picks SMTP delivery when a host is configured and logging otherwise.
func newMailer(cfg MailConfig) Mailer {
	if cfg.Host == "" {
		return logMailer{}
	}
	return &smtpMailer{cfg: cfg}
}

type logMailer struct{}

func (logMailer) Send(_ context.Context, msg MailMessage) error {
	logger.WithFields(logrus.Fields{"to": msg.To, "subject": msg.Subject}).Info("mail delivery disabled; message logged")
	return nil
}

type smtpMailer struct {
	cfg MailConfig
}

func (m *smtpMailer) Send(ctx context.Context, msg MailMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	return smtp.SendMail(addr, auth, m.cfg.From, []string{msg.To}, buildMIME(m.cfg.From, msg))
}

func buildMIME(from string, msg MailMessage) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.WriteString(msg.HTML)
	return []byte(b.String())
}

var passwordChangedTmpl = template.Must(template.New("pw").Parse(
	`<p>Hello {{.Username}},</p>
<p>The password for your InX Music account was changed on {{.When}}.</p>
<p>If you did not make this change, reset your password and contact support immediately.</p>`))

func passwordChangedMessage(email, username string) MailMessage {
	var b strings.Builder
	_ = passwordChangedTmpl.Execute(&b, map[string]string{
		"Username": username,
		"When":     time.Now().UTC().Format("2006-01-02 15:04 MST"),
	})
	return MailMessage{To: email, Subject: "Your password was changed", HTML: b.String()}
}

// DigestStats summarise a user's listening over a digest period.
type DigestStats struct {
	Period        string
	Plays         int
	ListeningMins int
	TopTracks     []string
	TopArtists    []string
}

var digestTmpl = template.Must(template.New("digest").Parse(
	`<p>Hello {{.Username}},</p>
<p>Your {{.Stats.Period}} listening summary: {{.Stats.Plays}} plays, {{.Stats.ListeningMins}} minutes.</p>
{{if .Stats.TopTracks}}<h3>Top tracks</h3><ol>{{range .Stats.TopTracks}}<li>{{.}}</li>{{end}}</ol>{{end}}
{{if .Stats.TopArtists}}<h3>Top artists</h3><ol>{{range .Stats.TopArtists}}<li>{{.}}</li>{{end}}</ol>{{end}}`))

func digestMessage(email, username string, stats DigestStats) MailMessage {
	var b strings.Builder
	_ = digestTmpl.Execute(&b, map[string]interface{}{"Username": username, "Stats": stats})
	return MailMessage{To: email, Subject: fmt.Sprintf("Your %s InX Music summary", stats.Period), HTML: b.String()}
}
