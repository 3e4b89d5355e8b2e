// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/lock"
	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/queue"
	"github.com/unclebandit/newsletter-backend/internal/repository"
)

// QueueLockName guards the scheduler that enqueues due campaigns.
const QueueLockName = "queue_processor"

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	Queue        queue.Queue
	Locker       lock.Locker
	Now          func() time.Time
	Log          *slog.Logger
}

type CampaignDetails struct {
	ID          int            `json:"id"`
	Subject     string         `json:"subject"`
	FromField   string         `json:"from"`
	Status      string         `json:"status"`
	Embargo     *time.Time     `json:"embargo,omitempty"`
	SendStart   *time.Time     `json:"send_start,omitempty"`
	SentAt      *time.Time     `json:"sent_at,omitempty"`
	BounceCount int            `json:"bounce_count"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   *time.Time     `json:"updated_at"`
	Stats       map[string]int `json:"stats"`
}

func (s *CampaignService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *CampaignService) log() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

// Enqueue publishes a delivery job for one deliverable campaign: submitted,
// or left prepared or inprocess by an interrupted run.
func (s *CampaignService) Enqueue(ctx context.Context, campaignID int) error {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if !campaign.Deliverable() {
		return &appErrors.CampaignStateError{CampaignID: campaign.ID, Status: campaign.Status}
	}
	if err := queue.PublishDelivery(ctx, s.Queue, queue.DeliveryJob{CampaignID: campaign.ID}); err != nil {
		return fmt.Errorf("enqueue campaign %d: %w", campaign.ID, err)
	}
	s.log().Info("📨 Campaign queued for delivery", "campaign_id", campaign.ID)
	return nil
}

// EnqueueDue publishes a delivery job for every deliverable campaign whose
// embargo has passed. It returns how many were queued; zero when another
// scheduler holds the lock.
func (s *CampaignService) EnqueueDue(ctx context.Context) (int, error) {
	lease, ok, err := s.Locker.TryAcquire(ctx, QueueLockName, false)
	if err != nil {
		return 0, err
	}
	if !ok {
		s.log().Debug("Scheduler already running elsewhere")
		return 0, nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.log().Warn("Releasing scheduler lock failed", "err", err)
		}
	}()

	due, err := s.CampaignRepo.ListDue(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("list due campaigns: %w", err)
	}

	queued := 0
	for _, c := range due {
		if err := queue.PublishDelivery(ctx, s.Queue, queue.DeliveryJob{CampaignID: c.ID}); err != nil {
			s.log().Warn("⚠️ Failed to enqueue campaign", "campaign_id", c.ID, "err", err)
			continue
		}
		queued++
	}
	if queued > 0 {
		s.log().Info("Due campaigns queued", "queued", queued, "due", len(due))
	}
	return queued, nil
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, campaignID int) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	counts, err := s.CampaignRepo.GetCampaignStats(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("stats of campaign %d: %w", campaignID, err)
	}

	// initialize stats map
	stats := map[string]int{
		"total":                       0,
		model.UserMessageTodo:         0,
		model.UserMessageActive:       0,
		model.UserMessageSent:         0,
		model.UserMessageNotSent:      0,
		model.UserMessageInvalidEmail: 0,
	}
	for status, count := range counts {
		if _, ok := stats[status]; ok {
			stats[status] = count
		}
		stats["total"] += count
	}

	return &CampaignDetails{
		ID:          campaign.ID,
		Subject:     campaign.Subject,
		FromField:   campaign.FromField,
		Status:      campaign.Status,
		Embargo:     campaign.Embargo,
		SendStart:   campaign.SendStart,
		SentAt:      campaign.SentAt,
		BounceCount: campaign.BounceCount,
		CreatedAt:   campaign.CreatedAt,
		UpdatedAt:   campaign.UpdatedAt,
		Stats:       stats,
	}, nil
}
