// internal/model/subscriber.go
package model

import "time"

type Subscriber struct {
	ID          int       `db:"id" json:"id"`
	Email       string    `db:"email" json:"email"`
	Confirmed   bool      `db:"confirmed" json:"confirmed"`
	Blacklisted bool      `db:"blacklisted" json:"blacklisted"`
	BounceCount int       `db:"bounce_count" json:"bounce_count"`
	HTMLEmail   bool      `db:"html_email" json:"html_email"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// SubscriberHistory is an append-only audit line for a subscriber.
type SubscriberHistory struct {
	ID           int       `db:"id" json:"id"`
	SubscriberID int       `db:"subscriber_id" json:"subscriber_id"`
	Message      string    `db:"message" json:"message"`
	Detail       string    `db:"detail" json:"detail"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

type BlacklistEntry struct {
	Email   string    `db:"email" json:"email"`
	Reason  string    `db:"reason" json:"reason"`
	AddedAt time.Time `db:"added_at" json:"added_at"`
}

type EventLogEntry struct {
	ID      int       `db:"id" json:"id"`
	Entered time.Time `db:"entered" json:"entered"`
	Page    string    `db:"page" json:"page"`
	Entry   string    `db:"entry" json:"entry"`
}
