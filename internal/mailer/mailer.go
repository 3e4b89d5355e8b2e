// Package mailer renders campaign content and hands finished mail to a
// transport.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
)

// Email is one personalized message ready to send.
type Email struct {
	From    *mail.Address
	To      *mail.Address
	Subject string
	HTML    string
	Text    string
	// Headers are extra header fields, such as the ids bounce processing
	// looks for.
	Headers map[string]string
	Date    time.Time
}

// Sender is the mail transport.
type Sender interface {
	Send(ctx context.Context, e *Email) error
}

// Compose writes e as an RFC 5322 message. With both bodies set the result
// is multipart/alternative; otherwise a single text part.
func Compose(e *Email) ([]byte, error) {
	var h mail.Header
	date := e.Date
	if date.IsZero() {
		date = time.Now()
	}
	h.SetDate(date)
	if e.From != nil {
		h.SetAddressList("From", []*mail.Address{e.From})
	}
	if e.To != nil {
		h.SetAddressList("To", []*mail.Address{e.To})
	}
	h.SetSubject(e.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}
	for k, v := range e.Headers {
		h.Set(k, v)
	}

	var buf bytes.Buffer
	if e.HTML == "" {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(w, e.Text); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	tw, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}
	if err := writePart(tw, "text/plain", e.Text); err != nil {
		return nil, err
	}
	if err := writePart(tw, "text/html", e.HTML); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writePart(tw *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := tw.CreatePart(ph)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, body); err != nil {
		return err
	}
	return w.Close()
}
