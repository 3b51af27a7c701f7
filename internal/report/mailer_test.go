package report

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type fakeSender struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeSender) DialAndSend(m ...*gomail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m...)
	return nil
}

func rendered() *Rendered {
	return &Rendered{Subject: "PPCU Weekly", HTML: "<p>hi</p>", Text: "hi"}
}

func TestMailer_Send(t *testing.T) {
	s := &fakeSender{}
	m := NewMailerWithSender(s, "reports@example.com")

	require.NoError(t, m.Send([]string{"owner@example.com", "ops@example.com"}, rendered()))
	require.Len(t, s.sent, 1)

	msg := s.sent[0]
	assert.Equal(t, []string{"reports@example.com"}, msg.GetHeader("From"))
	assert.Equal(t, []string{"owner@example.com", "ops@example.com"}, msg.GetHeader("To"))
	assert.Equal(t, []string{"PPCU Weekly"}, msg.GetHeader("Subject"))

	var buf bytes.Buffer
	_, err := msg.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "text/plain")
	assert.Contains(t, buf.String(), "text/html")
}

func TestMailer_Validation(t *testing.T) {
	s := &fakeSender{}
	assert.Error(t, NewMailerWithSender(s, "reports@example.com").Send(nil, rendered()))
	assert.Error(t, NewMailerWithSender(s, "").Send([]string{"a@example.com"}, rendered()))
	assert.Empty(t, s.sent)
}

func TestMailer_SendError(t *testing.T) {
	m := NewMailerWithSender(&fakeSender{err: errors.New("535 auth failed")}, "reports@example.com")
	err := m.Send([]string{"a@example.com"}, rendered())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "report: send mail")
}

func TestMailer_SendAttachments(t *testing.T) {
	s := &fakeSender{}
	m := NewMailerWithSender(s, "reports@example.com")
	r := rendered()
	r.Attachments = []Attachment{{Name: "contacts.csv", Data: []byte("Name,Email\nAnn,ann@example.com\n")}}

	require.NoError(t, m.Send([]string{"owner@example.com"}, r))
	require.Len(t, s.sent, 1)

	var buf bytes.Buffer
	_, err := s.sent[0].WriteTo(&buf)
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "multipart/mixed")
	assert.Contains(t, out, `filename="contacts.csv"`)
}
