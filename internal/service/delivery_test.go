package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/unclebandit/newsletter-backend/internal/bounce"
	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/lock"
	"github.com/unclebandit/newsletter-backend/internal/mailer"
	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/repository/repotest"
)

// fakeSender records every message and fails for addresses in fail.
type fakeSender struct {
	mu   sync.Mutex
	sent []*mailer.Email
	fail map[string]bool
	// onSend runs before each send.
	onSend func()
}

func (s *fakeSender) Send(_ context.Context, e *mailer.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onSend != nil {
		s.onSend()
	}
	if s.fail[e.To.Address] {
		return errors.New("550 mailbox unavailable")
	}
	s.sent = append(s.sent, e)
	return nil
}

// steppingClock advances by step on every call.
type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func newDeliveryWorker(store *repotest.Store, sender *fakeSender, locker lock.Locker) *DeliveryWorker {
	return &DeliveryWorker{
		Campaigns:    store.Campaigns(),
		Subscribers:  store.Subscribers(),
		UserMessages: store.UserMessages(),
		EventLog:     store.EventLog(),
		Members: &bounce.SubscriberActions{
			Subscribers: store.Subscribers(),
			History:     store.History(),
			Blacklist:   store.Blacklist(),
		},
		Renderer: mailer.NewRenderer(),
		Sender:   sender,
		Sizes:    mailer.NewMemorySizeCache(),
		Locker:   locker,
		Requeue:  &RequeueHandler{Now: fixedClock},
		Now:      fixedClock,
	}
}

func seedCampaign(store *repotest.Store, c model.Campaign, emails ...string) (model.Campaign, []model.Subscriber) {
	subs := make([]model.Subscriber, 0, len(emails))
	ids := make([]int, 0, len(emails))
	for _, email := range emails {
		sub := store.AddSubscriber(model.Subscriber{Email: email, Confirmed: true, HTMLEmail: true})
		subs = append(subs, sub)
		ids = append(ids, sub.ID)
	}
	if c.Status == "" {
		c.Status = model.CampaignSubmitted
	}
	if c.Subject == "" {
		c.Subject = "Monthly news"
	}
	if c.Content == "" {
		c.Content = "# News\n\nHello there."
	}
	return store.AddCampaign(c, ids...), subs
}

func statusOf(store *repotest.Store, campaignID, subscriberID int) string {
	for _, um := range store.UserMessagesFor(campaignID) {
		if um.SubscriberID == subscriberID {
			return um.Status
		}
	}
	return ""
}

func TestDeliverWithInvalidAddress(t *testing.T) {
	store := repotest.NewStore()
	sender := &fakeSender{}
	c, subs := seedCampaign(store, model.Campaign{}, "a@example.com", "not-an-address", "c@example.com")

	report, err := newDeliveryWorker(store, sender, lock.NewMemoryLocker()).Deliver(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, 2, report.Sent)
	require.Equal(t, 1, report.Invalid)
	require.Equal(t, model.CampaignSent, report.Status)

	require.Equal(t, model.UserMessageSent, statusOf(store, c.ID, subs[0].ID))
	require.Equal(t, model.UserMessageInvalidEmail, statusOf(store, c.ID, subs[1].ID))
	require.Equal(t, model.UserMessageSent, statusOf(store, c.ID, subs[2].ID))

	invalid, _ := store.Subscriber(subs[1].ID)
	require.False(t, invalid.Confirmed)
	require.Len(t, store.HistoryFor(subs[1].ID), 1)

	final := store.Campaign(c.ID)
	require.Equal(t, model.CampaignSent, final.Status)
	require.NotNil(t, final.SentAt)
	require.NotNil(t, final.SendStart)

	require.Len(t, sender.sent, 2)
	require.Equal(t, "Monthly news", sender.sent[0].Subject)
	require.Contains(t, sender.sent[0].HTML, "<h1>News</h1>")
}

func TestDeliverSendFailureMarksNotSent(t *testing.T) {
	store := repotest.NewStore()
	sender := &fakeSender{fail: map[string]bool{"b@example.com": true}}
	c, subs := seedCampaign(store, model.Campaign{}, "a@example.com", "b@example.com")

	report, err := newDeliveryWorker(store, sender, lock.NewMemoryLocker()).Deliver(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, 1, report.Sent)
	require.Equal(t, 1, report.NotSent)
	require.Equal(t, model.UserMessageNotSent, statusOf(store, c.ID, subs[1].ID))
	require.Equal(t, model.CampaignSent, store.Campaign(c.ID).Status)
}

func TestDeliverSkipsHandledMessages(t *testing.T) {
	store := repotest.NewStore()
	sender := &fakeSender{}
	c, subs := seedCampaign(store, model.Campaign{}, "a@example.com", "b@example.com")
	store.AddUserMessage(model.UserMessage{CampaignID: c.ID, SubscriberID: subs[0].ID, Status: model.UserMessageSent})
	store.AddUserMessage(model.UserMessage{CampaignID: c.ID, SubscriberID: subs[1].ID, Status: model.UserMessageTodo})

	report, err := newDeliveryWorker(store, sender, lock.NewMemoryLocker()).Deliver(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, 1, report.Skipped)
	require.Equal(t, 1, report.Sent)
	require.Len(t, sender.sent, 1)
	require.Equal(t, "b@example.com", sender.sent[0].To.Address)
	require.Len(t, store.UserMessagesFor(c.ID), 2)
}

func TestDeliverRejectsUnsubmitted(t *testing.T) {
	store := repotest.NewStore()
	sender := &fakeSender{}
	c, _ := seedCampaign(store, model.Campaign{Status: model.CampaignDraft}, "a@example.com")

	report, err := newDeliveryWorker(store, sender, lock.NewMemoryLocker()).Deliver(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, model.CampaignDraft, report.Status)
	require.Empty(t, sender.sent)
	require.Empty(t, store.UserMessagesFor(c.ID))
}

func TestDeliverResumesInterruptedRun(t *testing.T) {
	store := repotest.NewStore()
	c, subs := seedCampaign(store, model.Campaign{}, "a@example.com", "b@example.com", "c@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	sender := &fakeSender{onSend: cancel}
	w := newDeliveryWorker(store, sender, lock.NewMemoryLocker())

	report, err := w.Deliver(ctx, c.ID)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, report.Sent)
	require.Equal(t, model.CampaignInProcess, store.Campaign(c.ID).Status)

	due, err := store.Campaigns().ListDue(context.Background(), fixedNow)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, c.ID, due[0].ID)

	sender.onSend = nil
	report, err = w.Deliver(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, 1, report.Skipped)
	require.Equal(t, 2, report.Sent)
	require.Equal(t, model.CampaignSent, report.Status)

	require.Len(t, sender.sent, 3)
	for _, sub := range subs {
		require.Equal(t, model.UserMessageSent, statusOf(store, c.ID, sub.ID))
	}
	require.Equal(t, model.CampaignSent, store.Campaign(c.ID).Status)
}

func TestDeliverThrottleFailureKeepsRecipientTodo(t *testing.T) {
	store := repotest.NewStore()
	sender := &fakeSender{}
	c, subs := seedCampaign(store, model.Campaign{}, "a@example.com", "b@example.com")

	w := newDeliveryWorker(store, sender, lock.NewMemoryLocker())
	// One token, and the next one is further away than the deadline.
	w.Limiter = rate.NewLimiter(rate.Every(time.Hour), 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	report, err := w.Deliver(ctx, c.ID)
	require.Error(t, err)
	require.Equal(t, 1, report.Sent)
	require.Equal(t, model.UserMessageSent, statusOf(store, c.ID, subs[0].ID))
	require.Equal(t, model.UserMessageTodo, statusOf(store, c.ID, subs[1].ID))

	w.Limiter = nil
	report, err = w.Deliver(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, 1, report.Sent)
	require.Equal(t, model.UserMessageSent, statusOf(store, c.ID, subs[1].ID))
	require.Len(t, sender.sent, 2)
}

func TestDeliverLockedElsewhere(t *testing.T) {
	ctx := context.Background()
	store := repotest.NewStore()
	sender := &fakeSender{}
	c, _ := seedCampaign(store, model.Campaign{}, "a@example.com")

	locker := lock.NewMemoryLocker()
	_, ok, err := locker.TryAcquire(ctx, lock.CampaignLockName(c.ID), false)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = newDeliveryWorker(store, sender, locker).Deliver(ctx, c.ID)
	require.NoError(t, err)
	require.Empty(t, sender.sent)
	require.Equal(t, model.CampaignSubmitted, store.Campaign(c.ID).Status)
}

func TestDeliverReleasesLock(t *testing.T) {
	store := repotest.NewStore()
	c, _ := seedCampaign(store, model.Campaign{}, "a@example.com")
	locker := lock.NewMemoryLocker()

	_, err := newDeliveryWorker(store, &fakeSender{}, locker).Deliver(context.Background(), c.ID)
	require.NoError(t, err)
	require.False(t, locker.Held(lock.CampaignLockName(c.ID)))
}

func TestDeliverUnknownCampaign(t *testing.T) {
	store := repotest.NewStore()
	_, err := newDeliveryWorker(store, &fakeSender{}, lock.NewMemoryLocker()).Deliver(context.Background(), 404)

	var notFound *appErrors.ErrCampaignNotFound
	require.True(t, errors.As(err, &notFound))
}

func TestDeliverSuspendsOversizedCampaign(t *testing.T) {
	store := repotest.NewStore()
	sender := &fakeSender{}
	c, subs := seedCampaign(store, model.Campaign{Content: strings.Repeat("word ", 200)},
		"a@example.com", "b@example.com")

	w := newDeliveryWorker(store, sender, lock.NewMemoryLocker())
	w.MaxMailSize = 100
	report, err := w.Deliver(context.Background(), c.ID)

	var sizeErr *appErrors.SizeLimitExceededError
	require.True(t, errors.As(err, &sizeErr))
	require.Equal(t, c.ID, sizeErr.CampaignID)
	require.Equal(t, 100, sizeErr.Limit)
	require.Equal(t, model.CampaignSuspended, report.Status)

	require.Equal(t, model.CampaignSuspended, store.Campaign(c.ID).Status)
	require.Equal(t, model.UserMessageSent, statusOf(store, c.ID, subs[0].ID))
	require.Equal(t, "", statusOf(store, c.ID, subs[1].ID), "run stops at the first oversized message")
	require.Len(t, sender.sent, 1)

	events := store.Events()
	require.Len(t, events, 1)
	require.Contains(t, events[0].Entry, "suspended")
}

func TestDeliverBudgetStopRequeues(t *testing.T) {
	store := repotest.NewStore()
	sender := &fakeSender{}
	c, subs := seedCampaign(store, model.Campaign{RequeueInterval: 30}, "a@example.com", "b@example.com", "c@example.com")

	clock := &steppingClock{now: fixedNow, step: time.Minute}
	w := newDeliveryWorker(store, sender, lock.NewMemoryLocker())
	w.Now = clock.Now
	w.Requeue = &RequeueHandler{Now: clock.Now}
	// start at t0, deadline t0+90s; checks at t0+1m pass, t0+2m fails.
	w.MaxProcessTime = 90 * time.Second

	report, err := w.Deliver(context.Background(), c.ID)
	require.NoError(t, err)
	require.True(t, report.Stopped)
	require.True(t, report.Requeued)
	require.Equal(t, 1, report.Sent)

	final := store.Campaign(c.ID)
	require.Equal(t, model.CampaignSubmitted, final.Status)
	require.NotNil(t, final.Embargo)
	require.Nil(t, final.SentAt)
	require.Equal(t, "", statusOf(store, c.ID, subs[1].ID))
	require.Equal(t, "", statusOf(store, c.ID, subs[2].ID))

	// The next run picks up where this one stopped.
	w.MaxProcessTime = 0
	report, err = w.Deliver(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, 1, report.Skipped)
	require.Equal(t, 2, report.Sent)
	require.Equal(t, model.CampaignSent, store.Campaign(c.ID).Status)
}

func TestDeliverBudgetStopWithoutRequeueMarksSent(t *testing.T) {
	store := repotest.NewStore()
	c, _ := seedCampaign(store, model.Campaign{}, "a@example.com", "b@example.com")

	clock := &steppingClock{now: fixedNow, step: time.Hour}
	w := newDeliveryWorker(store, &fakeSender{}, lock.NewMemoryLocker())
	w.Now = clock.Now
	w.MaxProcessTime = time.Minute

	report, err := w.Deliver(context.Background(), c.ID)
	require.NoError(t, err)
	require.True(t, report.Stopped)
	require.False(t, report.Requeued)
	require.Equal(t, model.CampaignSent, store.Campaign(c.ID).Status)
}
