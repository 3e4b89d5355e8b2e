package mailbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/knadh/go-pop3"

	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
)

type POP3Config struct {
	Host          string
	Port          int
	Password      string
	TLS           bool
	TLSSkipVerify bool
	DialTimeout   time.Duration
}

// POP3Opener treats every mailbox name as an account on one POP3 host.
type POP3Opener struct {
	Config POP3Config
	Log    *slog.Logger
}

func (o *POP3Opener) Open(ctx context.Context, user string) (Mailbox, error) {
	if err := ctx.Err(); err != nil {
		return nil, appErrors.NewOpenMailboxError(user, err)
	}

	client := pop3.New(pop3.Opt{
		Host:          o.Config.Host,
		Port:          o.Config.Port,
		TLSEnabled:    o.Config.TLS,
		TLSSkipVerify: o.Config.TLSSkipVerify,
		DialTimeout:   o.Config.DialTimeout,
	})
	conn, err := client.NewConn()
	if err != nil {
		return nil, appErrors.NewOpenMailboxError(user, err)
	}
	if err := conn.Auth(user, o.Config.Password); err != nil {
		_ = conn.Quit()
		return nil, appErrors.NewOpenMailboxError(user, err)
	}
	count, _, err := conn.Stat()
	if err != nil {
		_ = conn.Quit()
		return nil, appErrors.NewOpenMailboxError(user, err)
	}

	log := o.Log
	if log == nil {
		log = slog.Default()
	}
	log.Debug("POP3 mailbox opened", "host", o.Config.Host, "user", user, "messages", count)

	return &pop3Mailbox{
		conn:     conn,
		count:    count,
		messages: map[int]*message{},
		deleted:  map[int]bool{},
	}, nil
}

type pop3Mailbox struct {
	conn     *pop3.Conn
	count    int
	messages map[int]*message
	deleted  map[int]bool
}

func (m *pop3Mailbox) NumMessages() int { return m.count }

func (m *pop3Mailbox) fetch(i int) (*message, error) {
	if err := checkIndex(i, m.count); err != nil {
		return nil, err
	}
	if msg, ok := m.messages[i]; ok {
		return msg, nil
	}
	buf, err := m.conn.RetrRaw(i)
	if err != nil {
		return nil, err
	}
	msg := parseMessage(buf.Bytes())
	m.messages[i] = msg
	return msg, nil
}

func (m *pop3Mailbox) Header(i int) (string, error) {
	msg, err := m.fetch(i)
	if err != nil {
		return "", err
	}
	return msg.header, nil
}

func (m *pop3Mailbox) Body(i int) (string, error) {
	msg, err := m.fetch(i)
	if err != nil {
		return "", err
	}
	return msg.body, nil
}

func (m *pop3Mailbox) Raw(i int) ([]byte, error) {
	msg, err := m.fetch(i)
	if err != nil {
		return nil, err
	}
	return msg.raw, nil
}

func (m *pop3Mailbox) Date(i int) time.Time {
	msg, err := m.fetch(i)
	if err != nil {
		return time.Now()
	}
	return dateOrNow(msg.date)
}

func (m *pop3Mailbox) Delete(i int) error {
	if err := checkIndex(i, m.count); err != nil {
		return err
	}
	if err := m.conn.Dele(i); err != nil {
		return err
	}
	m.deleted[i] = true
	return nil
}

// Close commits DELE marks on QUIT. Without expunge they are reset first.
func (m *pop3Mailbox) Close(expunge bool) error {
	if !expunge && len(m.deleted) > 0 {
		if err := m.conn.Rset(); err != nil {
			_ = m.conn.Quit()
			return err
		}
	}
	return m.conn.Quit()
}
