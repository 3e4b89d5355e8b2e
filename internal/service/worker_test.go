package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/lock"
	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/queue"
	"github.com/unclebandit/newsletter-backend/internal/repository/repotest"
)

type stubDeliverer struct {
	mu    sync.Mutex
	calls []int
	err   error
}

func (d *stubDeliverer) Deliver(_ context.Context, campaignID int) (DeliveryReport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, campaignID)
	return DeliveryReport{CampaignID: campaignID}, d.err
}

func TestWorkerHandle(t *testing.T) {
	d := &stubDeliverer{}
	w := NewWorker(d, nil)

	require.NoError(t, w.Handle(context.Background(), []byte(`{"campaign_id":5}`)))
	require.Equal(t, []int{5}, d.calls)
}

func TestWorkerAcksExpectedFailures(t *testing.T) {
	for name, err := range map[string]error{
		"size limit": &appErrors.SizeLimitExceededError{CampaignID: 5, Size: 10, Limit: 1},
		"not found":  appErrors.NewCampaignNotFound(5),
	} {
		t.Run(name, func(t *testing.T) {
			w := NewWorker(&stubDeliverer{err: err}, nil)
			require.NoError(t, w.Handle(context.Background(), []byte(`{"campaign_id":5}`)))
		})
	}
}

func TestWorkerRetriesOtherFailures(t *testing.T) {
	w := NewWorker(&stubDeliverer{err: errors.New("database is down")}, nil)
	require.Error(t, w.Handle(context.Background(), []byte(`{"campaign_id":5}`)))
}

func TestWorkerDropsMalformedJobs(t *testing.T) {
	d := &stubDeliverer{}
	w := NewWorker(d, nil)
	require.NoError(t, w.Handle(context.Background(), []byte(`not json`)))
	require.Empty(t, d.calls)
}

func TestWorkerDeliversFromQueue(t *testing.T) {
	store := repotest.NewStore()
	sender := &fakeSender{}
	c, _ := seedCampaign(store, model.Campaign{}, "a@example.com", "b@example.com")

	q := queue.NewInMemoryQueue(nil)
	w := NewWorker(newDeliveryWorker(store, sender, lock.NewMemoryLocker()), nil)
	require.NoError(t, w.Start(q))

	svc := newCampaignService(store, q, lock.NewMemoryLocker())
	n, err := svc.EnqueueDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	q.Wait()

	require.Len(t, sender.sent, 2)
	require.Equal(t, model.CampaignSent, store.Campaign(c.ID).Status)
}
