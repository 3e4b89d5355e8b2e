package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id int) (*model.Campaign, error)
	Update(ctx context.Context, c *model.Campaign) error
	ListDue(ctx context.Context, now time.Time) ([]*model.Campaign, error)
	IncrementBounceCount(ctx context.Context, id int) error
	GetCampaignStats(ctx context.Context, campaignID int) (map[string]int, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, subject, from_field, status, content, embargo,
	requeue_interval, requeue_until, send_start, sent_at, bounce_count,
	created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(&c.ID, &c.Subject, &c.FromField, &c.Status, &c.Content,
		&c.Embargo, &c.RequeueInterval, &c.RequeueUntil, &c.SendStart,
		&c.SentAt, &c.BounceCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	query := `
		INSERT INTO campaigns (subject, from_field, status, content, embargo,
			requeue_interval, requeue_until, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	return r.DB.QueryRowContext(ctx, query, c.Subject, c.FromField, c.Status,
		c.Content, c.Embargo, c.RequeueInterval, c.RequeueUntil,
		c.CreatedAt).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

// Update persists the mutable scheduling and state columns.
func (r *CampaignRepository) Update(ctx context.Context, c *model.Campaign) error {
	now := time.Now()
	c.UpdatedAt = &now
	query := `
		UPDATE campaigns
		SET status=$1, embargo=$2, send_start=$3, sent_at=$4, updated_at=$5
		WHERE id=$6
	`
	_, err := r.DB.ExecContext(ctx, query, c.Status, c.Embargo, c.SendStart,
		c.SentAt, now, c.ID)
	return err
}

// ListDue returns deliverable campaigns whose embargo has passed, including
// those an interrupted run left prepared or inprocess.
func (r *CampaignRepository) ListDue(ctx context.Context, now time.Time) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
		WHERE status = ANY($1) AND (embargo IS NULL OR embargo <= $2)
		ORDER BY embargo NULLS FIRST, id`
	rows, err := r.DB.QueryContext(ctx, query, pq.Array(model.DeliverableStatuses), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (r *CampaignRepository) IncrementBounceCount(ctx context.Context, id int) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE campaigns SET bounce_count = bounce_count + 1 WHERE id=$1`, id)
	return err
}

// GetCampaignStats counts user messages of a campaign by delivery status.
func (r *CampaignRepository) GetCampaignStats(ctx context.Context, campaignID int) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM user_messages WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{
		model.UserMessageTodo:         0,
		model.UserMessageActive:       0,
		model.UserMessageSent:         0,
		model.UserMessageNotSent:      0,
		model.UserMessageInvalidEmail: 0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
