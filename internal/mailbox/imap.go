package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	imap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
)

type IMAPConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	TLS           bool
	TLSSkipVerify bool
}

// IMAPOpener treats mailbox names as folders of one IMAP account.
type IMAPOpener struct {
	Config IMAPConfig
	Log    *slog.Logger
}

func (o *IMAPOpener) dial() (*imapclient.Client, error) {
	address := net.JoinHostPort(o.Config.Host, strconv.Itoa(o.Config.Port))
	if o.Config.TLS {
		return imapclient.DialTLS(address, &imapclient.Options{
			TLSConfig: &tls.Config{
				ServerName:         o.Config.Host,
				InsecureSkipVerify: o.Config.TLSSkipVerify,
			},
		})
	}
	return imapclient.DialInsecure(address, nil)
}

func (o *IMAPOpener) Open(ctx context.Context, folder string) (Mailbox, error) {
	client, err := o.dial()
	if err != nil {
		return nil, appErrors.NewOpenMailboxError(folder, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })

	fail := func(err error) (Mailbox, error) {
		stop()
		_ = client.Close()
		return nil, appErrors.NewOpenMailboxError(folder, err)
	}

	if err := client.Login(o.Config.User, o.Config.Password).Wait(); err != nil {
		return fail(fmt.Errorf("login: %w", err))
	}
	selected, err := client.Select(folder, nil).Wait()
	if err != nil {
		return fail(fmt.Errorf("select: %w", err))
	}

	log := o.Log
	if log == nil {
		log = slog.Default()
	}
	log.Debug("IMAP folder selected", "host", o.Config.Host, "folder", folder,
		"messages", selected.NumMessages)

	return &imapMailbox{
		client:   client,
		stop:     stop,
		count:    int(selected.NumMessages),
		messages: map[int]*message{},
		deleted:  []uint32{},
	}, nil
}

type imapMailbox struct {
	client   *imapclient.Client
	stop     func() bool
	count    int
	messages map[int]*message
	deleted  []uint32
}

func (m *imapMailbox) NumMessages() int { return m.count }

func (m *imapMailbox) fetch(i int) (*message, error) {
	if err := checkIndex(i, m.count); err != nil {
		return nil, err
	}
	if msg, ok := m.messages[i]; ok {
		return msg, nil
	}

	section := &imap.FetchItemBodySection{Peek: true}
	bufs, err := m.client.Fetch(imap.SeqSetNum(uint32(i)), &imap.FetchOptions{
		BodySection:  []*imap.FetchItemBodySection{section},
		InternalDate: true,
	}).Collect()
	if err != nil {
		return nil, err
	}
	if len(bufs) == 0 {
		return nil, fmt.Errorf("message %d vanished from folder", i)
	}

	msg := parseMessage(bufs[0].FindBodySection(section))
	if msg.date.IsZero() {
		msg.date = bufs[0].InternalDate
	}
	m.messages[i] = msg
	return msg, nil
}

func (m *imapMailbox) Header(i int) (string, error) {
	msg, err := m.fetch(i)
	if err != nil {
		return "", err
	}
	return msg.header, nil
}

func (m *imapMailbox) Body(i int) (string, error) {
	msg, err := m.fetch(i)
	if err != nil {
		return "", err
	}
	return msg.body, nil
}

func (m *imapMailbox) Raw(i int) ([]byte, error) {
	msg, err := m.fetch(i)
	if err != nil {
		return nil, err
	}
	return msg.raw, nil
}

func (m *imapMailbox) Date(i int) time.Time {
	msg, err := m.fetch(i)
	if err != nil {
		return time.Now()
	}
	return dateOrNow(msg.date)
}

func (m *imapMailbox) Delete(i int) error {
	if err := checkIndex(i, m.count); err != nil {
		return err
	}
	err := m.client.Store(imap.SeqSetNum(uint32(i)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil).Close()
	if err != nil {
		return err
	}
	m.deleted = append(m.deleted, uint32(i))
	return nil
}

// Close expunges \Deleted messages, or clears the flags again when expunge
// is false so the folder is left as it was found.
func (m *imapMailbox) Close(expunge bool) error {
	defer m.stop()
	defer m.client.Close()

	if len(m.deleted) > 0 {
		var err error
		if expunge {
			err = m.client.Expunge().Close()
		} else {
			err = m.client.Store(imap.SeqSetNum(m.deleted...), &imap.StoreFlags{
				Op:     imap.StoreFlagsDel,
				Silent: true,
				Flags:  []imap.Flag{imap.FlagDeleted},
			}, nil).Close()
		}
		if err != nil {
			return err
		}
	}
	return m.client.Logout().Wait()
}
