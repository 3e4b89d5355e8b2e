package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/unclebandit/newsletter-backend/internal/model"
)

type UserMessageRepositoryInterface interface {
	Get(ctx context.Context, campaignID, subscriberID int) (*model.UserMessage, error)
	Save(ctx context.Context, um *model.UserMessage) error
	BounceHistory(ctx context.Context, subscriberID int) ([]model.BounceHistoryRow, error)
}

type UserMessageRepository struct {
	DB *sql.DB
}

// Get returns nil, nil when no delivery record exists yet.
func (r *UserMessageRepository) Get(ctx context.Context, campaignID, subscriberID int) (*model.UserMessage, error) {
	query := `
		SELECT id, subscriber_id, campaign_id, status, entered, updated_at
		FROM user_messages
		WHERE campaign_id=$1 AND subscriber_id=$2
	`
	var um model.UserMessage
	err := r.DB.QueryRowContext(ctx, query, campaignID, subscriberID).Scan(
		&um.ID, &um.SubscriberID, &um.CampaignID, &um.Status, &um.Entered, &um.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &um, nil
}

// Save inserts the record or updates the status of the existing one, so a
// subscriber never gets two rows for the same campaign.
func (r *UserMessageRepository) Save(ctx context.Context, um *model.UserMessage) error {
	if um.Entered.IsZero() {
		um.Entered = time.Now()
	}
	query := `
		INSERT INTO user_messages (subscriber_id, campaign_id, status, entered)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subscriber_id, campaign_id)
		DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()
		RETURNING id, entered
	`
	return r.DB.QueryRowContext(ctx, query, um.SubscriberID, um.CampaignID,
		um.Status, um.Entered).Scan(&um.ID, &um.Entered)
}

// BounceHistory lists a subscriber's sent messages newest first, each joined
// with the bounces recorded against it.
func (r *UserMessageRepository) BounceHistory(ctx context.Context, subscriberID int) ([]model.BounceHistoryRow, error) {
	query := `
		SELECT um.campaign_id, um.entered,
		       COALESCE(b.id, 0), COALESCE(b.status, ''), COALESCE(b.comment, '')
		FROM user_messages um
		LEFT JOIN user_message_bounces umb
		       ON umb.subscriber_id = um.subscriber_id AND umb.campaign_id = um.campaign_id
		LEFT JOIN bounces b ON b.id = umb.bounce_id
		WHERE um.subscriber_id = $1 AND um.status = $2
		ORDER BY um.entered DESC, umb.id
	`
	rows, err := r.DB.QueryContext(ctx, query, subscriberID, model.UserMessageSent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := []model.BounceHistoryRow{}
	for rows.Next() {
		var h model.BounceHistoryRow
		if err := rows.Scan(&h.CampaignID, &h.Entered, &h.BounceID,
			&h.BounceStatus, &h.BounceComment); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

var _ UserMessageRepositoryInterface = (*UserMessageRepository)(nil)
