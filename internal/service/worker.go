package service

import (
	"context"
	"errors"
	"log/slog"

	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/queue"
)

// Deliverer is what the queue worker needs from DeliveryWorker.
type Deliverer interface {
	Deliver(ctx context.Context, campaignID int) (DeliveryReport, error)
}

// Worker processes delivery jobs from the queue
type Worker struct {
	Deliverer Deliverer
	Log       *slog.Logger
}

// Constructor
func NewWorker(d Deliverer, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{Deliverer: d, Log: log}
}

// Start subscribes the worker to the delivery topic.
func (w *Worker) Start(q queue.Queue) error {
	return q.Subscribe(queue.DeliveriesTopic, w.Handle)
}

// Handle runs one job. Only errors worth retrying are returned: a malformed
// job, a missing campaign and a size-limit suspension are acknowledged.
func (w *Worker) Handle(ctx context.Context, payload []byte) error {
	job, err := queue.DecodeDelivery(payload)
	if err != nil {
		w.Log.Warn("⚠️ Invalid delivery job, dropping", "err", err)
		return nil
	}

	report, err := w.Deliverer.Deliver(ctx, job.CampaignID)
	var sizeErr *appErrors.SizeLimitExceededError
	var notFound *appErrors.ErrCampaignNotFound
	switch {
	case errors.As(err, &sizeErr):
		w.Log.Warn("Campaign suspended, message over size limit", "campaign_id", job.CampaignID,
			"size", sizeErr.Size, "limit", sizeErr.Limit)
		return nil
	case errors.As(err, &notFound):
		w.Log.Warn("⚠️ Campaign not found", "campaign_id", job.CampaignID)
		return nil
	case err != nil:
		return err
	}

	w.Log.Info("✅ Delivery job processed", "campaign_id", job.CampaignID, "report", report.String())
	return nil
}
