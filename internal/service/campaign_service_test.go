package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/lock"
	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/queue"
	"github.com/unclebandit/newsletter-backend/internal/repository/repotest"
)

// recordingQueue keeps published delivery jobs instead of running them.
type recordingQueue struct {
	jobs []queue.DeliveryJob
}

func (q *recordingQueue) Publish(_ context.Context, topic string, payload []byte) error {
	if topic != queue.DeliveriesTopic {
		return errors.New("unexpected topic " + topic)
	}
	job, err := queue.DecodeDelivery(payload)
	if err != nil {
		return err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) Subscribe(string, queue.Handler) error { return nil }

func newCampaignService(store *repotest.Store, q queue.Queue, locker lock.Locker) *CampaignService {
	return &CampaignService{CampaignRepo: store.Campaigns(), Queue: q, Locker: locker, Now: fixedClock}
}

func TestEnqueueDue(t *testing.T) {
	store := repotest.NewStore()
	due := store.AddCampaign(model.Campaign{Status: model.CampaignSubmitted})
	past := store.AddCampaign(model.Campaign{Status: model.CampaignSubmitted, Embargo: ptr(fixedNow.Add(-time.Minute))})
	store.AddCampaign(model.Campaign{Status: model.CampaignSubmitted, Embargo: ptr(fixedNow.Add(time.Hour))})
	store.AddCampaign(model.Campaign{Status: model.CampaignDraft})
	store.AddCampaign(model.Campaign{Status: model.CampaignSent})
	interrupted := store.AddCampaign(model.Campaign{Status: model.CampaignInProcess})

	q := &recordingQueue{}
	n, err := newCampaignService(store, q, lock.NewMemoryLocker()).EnqueueDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []queue.DeliveryJob{{CampaignID: due.ID}, {CampaignID: past.ID}, {CampaignID: interrupted.ID}}, q.jobs)
}

func TestEnqueueDueLockHeld(t *testing.T) {
	ctx := context.Background()
	store := repotest.NewStore()
	store.AddCampaign(model.Campaign{Status: model.CampaignSubmitted})
	locker := lock.NewMemoryLocker()
	_, _, err := locker.TryAcquire(ctx, QueueLockName, false)
	require.NoError(t, err)

	q := &recordingQueue{}
	n, err := newCampaignService(store, q, locker).EnqueueDue(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, q.jobs)
}

func TestEnqueue(t *testing.T) {
	ctx := context.Background()
	store := repotest.NewStore()
	submitted := store.AddCampaign(model.Campaign{Status: model.CampaignSubmitted})
	draft := store.AddCampaign(model.Campaign{Status: model.CampaignDraft})
	q := &recordingQueue{}
	svc := newCampaignService(store, q, lock.NewMemoryLocker())

	interrupted := store.AddCampaign(model.Campaign{Status: model.CampaignInProcess})

	require.NoError(t, svc.Enqueue(ctx, submitted.ID))
	require.NoError(t, svc.Enqueue(ctx, interrupted.ID))
	require.Len(t, q.jobs, 2)

	var stateErr *appErrors.CampaignStateError
	require.True(t, errors.As(svc.Enqueue(ctx, draft.ID), &stateErr))
	require.Equal(t, model.CampaignDraft, stateErr.Status)

	var notFound *appErrors.ErrCampaignNotFound
	require.True(t, errors.As(svc.Enqueue(ctx, 999), &notFound))
}

func TestGetCampaignDetailsWithStats(t *testing.T) {
	store := repotest.NewStore()
	c := store.AddCampaign(model.Campaign{Subject: "News", Status: model.CampaignInProcess, BounceCount: 2})
	for _, status := range []string{model.UserMessageSent, model.UserMessageSent, model.UserMessageNotSent, model.UserMessageActive} {
		store.AddUserMessage(model.UserMessage{CampaignID: c.ID, SubscriberID: store.AddSubscriber(model.Subscriber{}).ID, Status: status})
	}

	details, err := newCampaignService(store, &recordingQueue{}, lock.NewMemoryLocker()).
		GetCampaignDetailsWithStats(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, "News", details.Subject)
	require.Equal(t, 2, details.BounceCount)
	require.Equal(t, map[string]int{
		"total":                       4,
		model.UserMessageTodo:         0,
		model.UserMessageActive:       1,
		model.UserMessageSent:         2,
		model.UserMessageNotSent:      1,
		model.UserMessageInvalidEmail: 0,
	}, details.Stats)
}
