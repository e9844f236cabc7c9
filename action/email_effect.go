package action

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

type Mail struct {
	From    string
	To      []string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, mail Mail) error
}

type SMTPMailer struct {
	Addr     string
	Username string
	Password string
	From     string
}

func (m *SMTPMailer) Send(ctx context.Context, mail Mail) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from := mail.From
	if from == "" {
		from = m.From
	}
	var auth smtp.Auth
	if m.Username != "" {
		host := m.Addr
		if i := strings.LastIndex(host, ":"); i > 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", m.Username, m.Password, host)
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from, strings.Join(mail.To, ", "), mail.Subject, mail.Body)
	return smtp.SendMail(m.Addr, auth, from, mail.To, []byte(msg))
}

// EmailEffect sends the mail described by an email node: to, subject, body, from.
type EmailEffect struct {
	Mailer Mailer
}

func (e *EmailEffect) Execute(ctx context.Context, req EffectRequest) (map[string]any, error) {
	var to []string
	switch v := req.Params["to"].(type) {
	case string:
		for _, addr := range strings.Split(v, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				to = append(to, addr)
			}
		}
	case []any:
		for _, addr := range v {
			to = append(to, fmt.Sprintf("%v", addr))
		}
	}
	if len(to) == 0 {
		return nil, MissingParamError{Node: req.Node.ID, Param: "to"}
	}
	mail := Mail{
		From:    stringParam(req.Params, "from"),
		To:      to,
		Subject: stringParam(req.Params, "subject"),
		Body:    stringParam(req.Params, "body"),
	}
	if err := e.Mailer.Send(ctx, mail); err != nil {
		return nil, fmt.Errorf("sending mail: %w", err)
	}
	recipients := make([]any, 0, len(to))
	for _, addr := range to {
		recipients = append(recipients, addr)
	}
	return map[string]any{"sent": true, "to": recipients}, nil
}
