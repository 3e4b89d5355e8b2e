package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/unclebandit/newsletter-backend/internal/model"
)

// SubscriberRepositoryInterface defines the subscriber queries used by
// bounce processing and delivery.
type SubscriberRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Subscriber, error)
	FindByEmail(ctx context.Context, email string) (*model.Subscriber, error)
	SetConfirmed(ctx context.Context, id int, confirmed bool) error
	Blacklist(ctx context.Context, id int) error
	IncrementBounceCount(ctx context.Context, id int) error
	DecrementBounceCount(ctx context.Context, id int) error
	Delete(ctx context.Context, id int) error
	ListWithBounces(ctx context.Context) ([]*model.Subscriber, error)
	ListAudience(ctx context.Context, campaignID int) ([]*model.Subscriber, error)
}

type SubscriberRepository struct {
	DB *sql.DB
}

const subscriberColumns = `s.id, s.email, s.confirmed, s.blacklisted, s.bounce_count, s.html_email, s.created_at`

func scanSubscriber(row interface{ Scan(...any) error }) (*model.Subscriber, error) {
	var s model.Subscriber
	if err := row.Scan(&s.ID, &s.Email, &s.Confirmed, &s.Blacklisted,
		&s.BounceCount, &s.HTMLEmail, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetByID returns nil, nil when the subscriber does not exist.
func (r *SubscriberRepository) GetByID(ctx context.Context, id int) (*model.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers s WHERE s.id = $1`
	s, err := scanSubscriber(r.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// FindByEmail matches case-insensitively and returns nil, nil on a miss.
func (r *SubscriberRepository) FindByEmail(ctx context.Context, email string) (*model.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers s WHERE lower(s.email) = lower($1)`
	s, err := scanSubscriber(r.DB.QueryRowContext(ctx, query, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (r *SubscriberRepository) SetConfirmed(ctx context.Context, id int, confirmed bool) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE subscribers SET confirmed=$1, updated_at=NOW() WHERE id=$2`, confirmed, id)
	return err
}

func (r *SubscriberRepository) Blacklist(ctx context.Context, id int) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE subscribers SET blacklisted=TRUE, updated_at=NOW() WHERE id=$1`, id)
	return err
}

func (r *SubscriberRepository) IncrementBounceCount(ctx context.Context, id int) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE subscribers SET bounce_count = bounce_count + 1 WHERE id=$1`, id)
	return err
}

func (r *SubscriberRepository) DecrementBounceCount(ctx context.Context, id int) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE subscribers SET bounce_count = GREATEST(bounce_count - 1, 0) WHERE id=$1`, id)
	return err
}

func (r *SubscriberRepository) Delete(ctx context.Context, id int) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM subscribers WHERE id=$1`, id)
	return err
}

// ListWithBounces returns confirmed, non-blacklisted subscribers that have at
// least one linked bounce.
func (r *SubscriberRepository) ListWithBounces(ctx context.Context) ([]*model.Subscriber, error) {
	query := `
		SELECT DISTINCT ` + subscriberColumns + `
		FROM subscribers s
		JOIN user_message_bounces umb ON umb.subscriber_id = s.id
		WHERE s.confirmed AND NOT s.blacklisted
		ORDER BY s.id
	`
	return r.list(ctx, query)
}

// ListAudience returns the confirmed, non-blacklisted members of every list
// the campaign is sent to.
func (r *SubscriberRepository) ListAudience(ctx context.Context, campaignID int) ([]*model.Subscriber, error) {
	query := `
		SELECT DISTINCT ` + subscriberColumns + `
		FROM subscribers s
		JOIN list_subscribers ls ON ls.subscriber_id = s.id
		JOIN campaign_lists cl ON cl.list_id = ls.list_id
		WHERE cl.campaign_id = $1 AND s.confirmed AND NOT s.blacklisted
		ORDER BY s.id
	`
	return r.list(ctx, query, campaignID)
}

func (r *SubscriberRepository) list(ctx context.Context, query string, args ...any) ([]*model.Subscriber, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subscribers := []*model.Subscriber{}
	for rows.Next() {
		s, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		subscribers = append(subscribers, s)
	}
	return subscribers, rows.Err()
}

var _ SubscriberRepositoryInterface = (*SubscriberRepository)(nil)
