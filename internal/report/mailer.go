package report

import (
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/gomail.v2"

	"github.com/sells-group/funnel-cli/internal/config"
)

// Sender delivers a composed message. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer sends rendered reports over SMTP.
type Mailer struct {
	sender Sender
	from   string
}

// NewMailer creates a Mailer that dials cfg's SMTP server.
func NewMailer(cfg config.MailConfig) *Mailer {
	return NewMailerWithSender(gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), cfg.From)
}

// NewMailerWithSender creates a Mailer over an existing sender.
func NewMailerWithSender(s Sender, from string) *Mailer {
	return &Mailer{sender: s, from: from}
}

// Send mails r to every recipient as one multipart message, attachments
// included.
func (m *Mailer) Send(to []string, r *Rendered) error {
	if len(to) == 0 {
		return eris.New("report: no recipients")
	}
	if m.from == "" {
		return eris.New("report: mail.from is not set")
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to...)
	msg.SetHeader("Subject", r.Subject)
	msg.SetBody("text/plain", r.Text)
	msg.AddAlternative("text/html", r.HTML)
	for _, a := range r.Attachments {
		data := a.Data
		msg.Attach(a.Name, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}))
	}

	if err := m.sender.DialAndSend(msg); err != nil {
		return eris.Wrap(err, "report: send mail")
	}
	return nil
}
