// internal/model/campaign.go
package model

import "time"

// Campaign statuses. A campaign only moves forward through these, except
// that a requeue sends an in-process campaign back to submitted.
const (
	CampaignDraft     = "draft"
	CampaignSubmitted = "submitted"
	CampaignPrepared  = "prepared"
	CampaignInProcess = "inprocess"
	CampaignSent      = "sent"
	CampaignSuspended = "suspended"
)

type Campaign struct {
	ID              int        `db:"id" json:"id"`
	Subject         string     `db:"subject" json:"subject"`
	FromField       string     `db:"from_field" json:"from_field"`
	Status          string     `db:"status" json:"status"`
	Content         string     `db:"content" json:"content"`
	Embargo         *time.Time `db:"embargo" json:"embargo,omitempty"`
	RequeueInterval int        `db:"requeue_interval" json:"requeue_interval"` // minutes
	RequeueUntil    *time.Time `db:"requeue_until" json:"requeue_until,omitempty"`
	SendStart       *time.Time `db:"send_start" json:"send_start,omitempty"`
	SentAt          *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	BounceCount     int        `db:"bounce_count" json:"bounce_count"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// DeliverableStatuses are the statuses a delivery run picks up. Prepared and
// in-process campaigns belong to a run that was cut short; per-recipient
// status lets the next run carry on where it stopped.
var DeliverableStatuses = []string{CampaignSubmitted, CampaignPrepared, CampaignInProcess}

func (c *Campaign) Deliverable() bool {
	for _, s := range DeliverableStatuses {
		if c.Status == s {
			return true
		}
	}
	return false
}

// Resuming reports whether an earlier run already started on the campaign.
func (c *Campaign) Resuming() bool {
	return c.Status == CampaignPrepared || c.Status == CampaignInProcess
}
