package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/unclebandit/newsletter-backend/internal/model"
)

type BounceRepositoryInterface interface {
	Create(ctx context.Context, b *model.Bounce) error
	UpdateStatus(ctx context.Context, b *model.Bounce) error
	Delete(ctx context.Context, id int) error
	LinkUserMessage(ctx context.Context, link *model.UserMessageBounce) error
	UserMessageBounceExists(ctx context.Context, subscriberID, campaignID int) (bool, error)
	ListUnresolved(ctx context.Context, afterLinkID, limit int) ([]model.UnresolvedBounce, error)
}

type BounceRepository struct {
	DB *sql.DB
}

func (r *BounceRepository) Create(ctx context.Context, b *model.Bounce) error {
	query := `
		INSERT INTO bounces (bounce_date, header, data, status, comment)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	return r.DB.QueryRowContext(ctx, query, b.Date, b.Header, b.Data,
		b.Status, b.Comment).Scan(&b.ID)
}

func (r *BounceRepository) UpdateStatus(ctx context.Context, b *model.Bounce) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE bounces SET status=$1, comment=$2 WHERE id=$3`, b.Status, b.Comment, b.ID)
	return err
}

func (r *BounceRepository) Delete(ctx context.Context, id int) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM bounces WHERE id=$1`, id)
	return err
}

func (r *BounceRepository) LinkUserMessage(ctx context.Context, link *model.UserMessageBounce) error {
	if link.Time.IsZero() {
		link.Time = time.Now()
	}
	var campaignID sql.NullInt64
	if link.CampaignID != nil {
		campaignID = sql.NullInt64{Int64: int64(*link.CampaignID), Valid: true}
	}
	query := `
		INSERT INTO user_message_bounces (subscriber_id, campaign_id, bounce_id, time)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	return r.DB.QueryRowContext(ctx, query, link.SubscriberID, campaignID,
		link.BounceID, link.Time).Scan(&link.ID)
}

func (r *BounceRepository) UserMessageBounceExists(ctx context.Context, subscriberID, campaignID int) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM user_message_bounces
			WHERE subscriber_id = $1 AND campaign_id = $2
		)`, subscriberID, campaignID).Scan(&exists)
	return exists, err
}

// ListUnresolved pages linked bounces that no rule has matched yet, ordered
// by link id so callers can resume from the last id they saw.
func (r *BounceRepository) ListUnresolved(ctx context.Context, afterLinkID, limit int) ([]model.UnresolvedBounce, error) {
	query := `
		SELECT umb.id, umb.subscriber_id, umb.campaign_id, umb.bounce_id, umb.time,
		       b.id, b.bounce_date, b.header, b.data, b.status, b.comment
		FROM user_message_bounces umb
		JOIN bounces b ON b.id = umb.bounce_id
		WHERE umb.id > $1
		  AND NOT EXISTS (SELECT 1 FROM bounce_regex_bounces rb WHERE rb.bounce_id = b.id)
		ORDER BY umb.id
		LIMIT $2
	`
	rows, err := r.DB.QueryContext(ctx, query, afterLinkID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.UnresolvedBounce{}
	for rows.Next() {
		var row model.UnresolvedBounce
		var campaignID sql.NullInt64
		if err := rows.Scan(&row.Link.ID, &row.Link.SubscriberID, &campaignID,
			&row.Link.BounceID, &row.Link.Time, &row.Bounce.ID, &row.Bounce.Date,
			&row.Bounce.Header, &row.Bounce.Data, &row.Bounce.Status,
			&row.Bounce.Comment); err != nil {
			return nil, err
		}
		if campaignID.Valid {
			id := int(campaignID.Int64)
			row.Link.CampaignID = &id
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

var _ BounceRepositoryInterface = (*BounceRepository)(nil)
