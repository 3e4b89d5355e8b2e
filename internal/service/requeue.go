package service

import (
	"log/slog"
	"time"

	"github.com/unclebandit/newsletter-backend/internal/model"
)

// RequeueHandler reschedules a campaign whose delivery run stopped early.
type RequeueHandler struct {
	Now func() time.Time
	Log *slog.Logger
}

func (h *RequeueHandler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

func (h *RequeueHandler) log() *slog.Logger {
	if h.Log == nil {
		return slog.Default()
	}
	return h.Log
}

// Handle moves the embargo one requeue interval past the later of now and
// the current embargo and resubmits the campaign. It returns false, leaving
// c untouched, when the campaign does not requeue or the new embargo would
// pass RequeueUntil.
func (h *RequeueHandler) Handle(c *model.Campaign) bool {
	if c.RequeueInterval <= 0 {
		return false
	}
	now := h.now()
	if c.RequeueUntil != nil && now.After(*c.RequeueUntil) {
		return false
	}

	base := now
	if c.Embargo != nil && c.Embargo.After(now) {
		base = *c.Embargo
	}
	next := base.Add(time.Duration(c.RequeueInterval) * time.Minute)
	if c.RequeueUntil != nil && next.After(*c.RequeueUntil) {
		return false
	}

	c.Embargo = &next
	c.Status = model.CampaignSubmitted
	h.log().Info("Campaign requeued", "campaign_id", c.ID, "embargo", next)
	return true
}
