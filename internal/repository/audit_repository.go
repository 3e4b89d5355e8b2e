package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/unclebandit/newsletter-backend/internal/model"
)

type HistoryRepositoryInterface interface {
	Add(ctx context.Context, h *model.SubscriberHistory) error
}

type BlacklistRepositoryInterface interface {
	Add(ctx context.Context, email, reason string) error
}

type EventLogRepositoryInterface interface {
	Log(ctx context.Context, page, entry string) error
}

type HistoryRepository struct {
	DB *sql.DB
}

func (r *HistoryRepository) Add(ctx context.Context, h *model.SubscriberHistory) error {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO subscriber_history (subscriber_id, message, detail, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	return r.DB.QueryRowContext(ctx, query, h.SubscriberID, h.Message,
		h.Detail, h.CreatedAt).Scan(&h.ID)
}

type BlacklistRepository struct {
	DB *sql.DB
}

// Add is idempotent; the first recorded reason wins.
func (r *BlacklistRepository) Add(ctx context.Context, email, reason string) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO email_blacklist (email, reason, added_at) VALUES ($1, $2, NOW())
		ON CONFLICT (email) DO NOTHING`, strings.ToLower(email), reason)
	return err
}

type EventLogRepository struct {
	DB *sql.DB
}

func (r *EventLogRepository) Log(ctx context.Context, page, entry string) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO event_log (entered, page, entry) VALUES (NOW(), $1, $2)`, page, entry)
	return err
}

var (
	_ HistoryRepositoryInterface   = (*HistoryRepository)(nil)
	_ BlacklistRepositoryInterface = (*BlacklistRepository)(nil)
	_ EventLogRepositoryInterface  = (*EventLogRepository)(nil)
)
