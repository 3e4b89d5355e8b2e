// internal/model/bounce.go
package model

import "time"

type Bounce struct {
	ID      int       `db:"id" json:"id"`
	Date    time.Time `db:"bounce_date" json:"date"`
	Header  string    `db:"header" json:"header"`
	Data    string    `db:"data" json:"data"`
	Status  string    `db:"status" json:"status"`
	Comment string    `db:"comment" json:"comment"`
}

// UserMessageBounce links a bounce to the subscriber and, when known, the
// campaign it bounced from. CampaignID is nil for system messages.
type UserMessageBounce struct {
	ID           int       `db:"id" json:"id"`
	SubscriberID int       `db:"subscriber_id" json:"subscriber_id"`
	CampaignID   *int      `db:"campaign_id" json:"campaign_id,omitempty"`
	BounceID     int       `db:"bounce_id" json:"bounce_id"`
	Time         time.Time `db:"time" json:"time"`
}

const (
	BounceRuleActive    = "active"
	BounceRuleCandidate = "candidate"
)

type BounceRegex struct {
	ID        int    `db:"id" json:"id"`
	Regex     string `db:"regex" json:"regex"`
	Action    string `db:"action" json:"action"`
	ListOrder int    `db:"list_order" json:"list_order"`
	Status    string `db:"status" json:"status"`
	Comment   string `db:"comment" json:"comment"`
	Count     int    `db:"count" json:"count"`
}

// UnresolvedBounce is one row of the rule engine's work list.
type UnresolvedBounce struct {
	Link   UserMessageBounce
	Bounce Bounce
}

// BounceHistoryRow pairs a sent user message with the bounce recorded
// against it, if any. BounceID is zero when the send did not bounce.
type BounceHistoryRow struct {
	CampaignID    int
	Entered       time.Time
	BounceID      int
	BounceStatus  string
	BounceComment string
}
