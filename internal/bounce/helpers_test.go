package bounce

import (
	"context"
	"fmt"
	"time"

	"github.com/unclebandit/newsletter-backend/internal/mailbox"
	"github.com/unclebandit/newsletter-backend/internal/mailparse"
	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/repository/repotest"

	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
)

type testEnv struct {
	store     *repotest.Store
	members   *SubscriberActions
	processor *DataProcessor
	resolver  *ActionResolver
}

func newTestEnv() *testEnv {
	store := repotest.NewStore()
	members := &SubscriberActions{
		Subscribers: store.Subscribers(),
		History:     store.History(),
		Blacklist:   store.Blacklist(),
	}
	return &testEnv{
		store:   store,
		members: members,
		processor: &DataProcessor{
			Bounces:     store.Bounces(),
			Campaigns:   store.Campaigns(),
			Subscribers: store.Subscribers(),
			Members:     members,
		},
		resolver: NewDefaultResolver(members, store.Bounces(), nil),
	}
}

func (e *testEnv) newBounce() *model.Bounce {
	b := e.store.AddBounce(model.Bounce{Date: time.Now(), Header: "Subject: failure"})
	return &b
}

// fakeMessage is one message of a fakeMailbox.
type fakeMessage struct {
	header string
	body   string
}

type fakeMailbox struct {
	messages []fakeMessage
	deleted  map[int]bool
	closed   bool
	expunged bool
}

func (m *fakeMailbox) NumMessages() int { return len(m.messages) }

func (m *fakeMailbox) Header(i int) (string, error) { return m.messages[i-1].header, nil }

func (m *fakeMailbox) Body(i int) (string, error) { return m.messages[i-1].body, nil }

func (m *fakeMailbox) Date(int) time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

func (m *fakeMailbox) Raw(i int) ([]byte, error) {
	return []byte(m.messages[i-1].header + "\r\n\r\n" + m.messages[i-1].body), nil
}

func (m *fakeMailbox) Delete(i int) error {
	m.deleted[i] = true
	return nil
}

func (m *fakeMailbox) Close(expunge bool) error {
	m.closed = true
	m.expunged = expunge
	return nil
}

type fakeOpener struct {
	boxes map[string]*fakeMailbox
}

func (o *fakeOpener) Open(_ context.Context, name string) (mailbox.Mailbox, error) {
	mb, ok := o.boxes[name]
	if !ok {
		return nil, appErrors.NewOpenMailboxError(name, fmt.Errorf("connection refused"))
	}
	return mb, nil
}

func newFakeMailbox(messages ...fakeMessage) *fakeMailbox {
	return &fakeMailbox{messages: messages, deleted: map[int]bool{}}
}

func (e *testEnv) ingester(opener mailbox.Opener) *Ingester {
	return &Ingester{
		Protocol:  "pop",
		Opener:    opener,
		Parser:    &mailparse.Parser{Subscribers: e.store.Subscribers()},
		Bounces:   e.store.Bounces(),
		Processor: e.processor,
	}
}
