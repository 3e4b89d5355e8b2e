// Package mailbox reads bounce notifications from a POP3 account, an IMAP
// folder or a local mbox file behind one Mailbox interface.
package mailbox

import (
	"bytes"
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Mailbox is an opened bounce mailbox. Message indices are 1-based.
// Nothing on the server changes until Delete and Close(true) are called;
// Close(false) drops pending deletions.
type Mailbox interface {
	NumMessages() int
	Header(i int) (string, error)
	Body(i int) (string, error)
	Date(i int) time.Time
	Raw(i int) ([]byte, error)
	Delete(i int) error
	Close(expunge bool) error
}

// Opener opens one mailbox by name. Transport failures come back as
// *appErrors.OpenMailboxError.
type Opener interface {
	Open(ctx context.Context, name string) (Mailbox, error)
}

type message struct {
	raw    []byte
	header string
	body   string
	date   time.Time
}

func parseMessage(raw []byte) *message {
	header, body := splitRawMessage(raw)
	m := &message{raw: raw, header: string(header), body: string(body)}
	if msg, err := mail.ReadMessage(bytes.NewReader(raw)); err == nil {
		if d, err := msg.Header.Date(); err == nil {
			m.date = d
		}
	}
	return m
}

// splitRawMessage separates the header block from the body at the first
// empty line.
func splitRawMessage(raw []byte) ([]byte, []byte) {
	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}
	return raw, nil
}

// envelopeSender picks the address used on an mbox "From " line.
func envelopeSender(header string) string {
	msg, err := mail.ReadMessage(strings.NewReader(header + "\r\n\r\n"))
	if err != nil {
		return "MAILER-DAEMON"
	}
	for _, key := range []string{"Return-Path", "From"} {
		if addr, err := mail.ParseAddress(msg.Header.Get(key)); err == nil {
			return addr.Address
		}
	}
	return "MAILER-DAEMON"
}

func checkIndex(i, n int) error {
	if i < 1 || i > n {
		return fmt.Errorf("message index %d out of range 1..%d", i, n)
	}
	return nil
}

// dateOrNow falls back to the current time when a message carries no
// parseable date.
func dateOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
