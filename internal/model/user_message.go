// internal/model/user_message.go
package model

import "time"

const (
	UserMessageTodo         = "todo"
	UserMessageActive       = "active"
	UserMessageSent         = "sent"
	UserMessageNotSent      = "not_sent"
	UserMessageInvalidEmail = "invalid_email_address"
)

// UserMessage is the delivery record of one campaign for one subscriber.
type UserMessage struct {
	ID           int        `db:"id" json:"id"`
	SubscriberID int        `db:"subscriber_id" json:"subscriber_id"`
	CampaignID   int        `db:"campaign_id" json:"campaign_id"`
	Status       string     `db:"status" json:"status"`
	Entered      time.Time  `db:"entered" json:"entered"`
	UpdatedAt    *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}
