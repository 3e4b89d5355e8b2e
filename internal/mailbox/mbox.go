package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	mboxlib "github.com/emersion/go-mbox"

	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
)

// MboxOpener treats mailbox names as paths to mbox files.
type MboxOpener struct {
	Log *slog.Logger
}

func (o *MboxOpener) Open(ctx context.Context, path string) (Mailbox, error) {
	if err := ctx.Err(); err != nil {
		return nil, appErrors.NewOpenMailboxError(path, err)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, appErrors.NewOpenMailboxError(path, err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	messages := []*message{}
	for {
		mr, err := reader.NextMessage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, appErrors.NewOpenMailboxError(path, fmt.Errorf("read message %d: %w", len(messages)+1, err))
		}
		raw, err := io.ReadAll(mr)
		if err != nil {
			return nil, appErrors.NewOpenMailboxError(path, fmt.Errorf("read message %d: %w", len(messages)+1, err))
		}
		messages = append(messages, parseMessage(raw))
	}

	log := o.Log
	if log == nil {
		log = slog.Default()
	}
	log.Debug("mbox opened", "path", path, "messages", len(messages))

	return &mboxMailbox{path: path, messages: messages, deleted: map[int]bool{}}, nil
}

type mboxMailbox struct {
	path     string
	messages []*message
	deleted  map[int]bool
}

func (m *mboxMailbox) NumMessages() int { return len(m.messages) }

func (m *mboxMailbox) get(i int) (*message, error) {
	if err := checkIndex(i, len(m.messages)); err != nil {
		return nil, err
	}
	return m.messages[i-1], nil
}

func (m *mboxMailbox) Header(i int) (string, error) {
	msg, err := m.get(i)
	if err != nil {
		return "", err
	}
	return msg.header, nil
}

func (m *mboxMailbox) Body(i int) (string, error) {
	msg, err := m.get(i)
	if err != nil {
		return "", err
	}
	return msg.body, nil
}

func (m *mboxMailbox) Raw(i int) ([]byte, error) {
	msg, err := m.get(i)
	if err != nil {
		return nil, err
	}
	return msg.raw, nil
}

func (m *mboxMailbox) Date(i int) time.Time {
	msg, err := m.get(i)
	if err != nil {
		return time.Now()
	}
	return dateOrNow(msg.date)
}

func (m *mboxMailbox) Delete(i int) error {
	if err := checkIndex(i, len(m.messages)); err != nil {
		return err
	}
	m.deleted[i] = true
	return nil
}

// Close with expunge rewrites the file without the deleted messages, going
// through a temp file in the same directory so a failure leaves the original
// untouched.
func (m *mboxMailbox) Close(expunge bool) error {
	if !expunge || len(m.deleted) == 0 {
		return nil
	}

	fi, err := os.Stat(m.path)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".mbox-expunge-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(fi.Mode().Perm()); err != nil {
		tmp.Close()
		return err
	}

	w := mboxlib.NewWriter(tmp)
	for i, msg := range m.messages {
		if m.deleted[i+1] {
			continue
		}
		mw, err := w.CreateMessage(envelopeSender(msg.header), dateOrNow(msg.date))
		if err != nil {
			tmp.Close()
			return err
		}
		if _, err := mw.Write(msg.raw); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := w.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), m.path)
}
