package repository

import (
	"context"
	"database/sql"

	"github.com/unclebandit/newsletter-backend/internal/model"
)

type BounceRegexRepositoryInterface interface {
	ListActive(ctx context.Context) ([]*model.BounceRegex, error)
	ListAll(ctx context.Context) ([]*model.BounceRegex, error)
	IncrementCount(ctx context.Context, id int) error
	LinkBounce(ctx context.Context, regexID, bounceID int) error
	Upsert(ctx context.Context, rule *model.BounceRegex) error
}

type BounceRegexRepository struct {
	DB *sql.DB
}

const regexColumns = `id, regex, action, list_order, status, comment, count`

func (r *BounceRegexRepository) ListActive(ctx context.Context) ([]*model.BounceRegex, error) {
	return r.list(ctx, `SELECT `+regexColumns+` FROM bounce_regexes
		WHERE status = $1 ORDER BY list_order, id`, model.BounceRuleActive)
}

func (r *BounceRegexRepository) ListAll(ctx context.Context) ([]*model.BounceRegex, error) {
	return r.list(ctx, `SELECT `+regexColumns+` FROM bounce_regexes ORDER BY list_order, id`)
}

func (r *BounceRegexRepository) list(ctx context.Context, query string, args ...any) ([]*model.BounceRegex, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := []*model.BounceRegex{}
	for rows.Next() {
		var rule model.BounceRegex
		if err := rows.Scan(&rule.ID, &rule.Regex, &rule.Action, &rule.ListOrder,
			&rule.Status, &rule.Comment, &rule.Count); err != nil {
			return nil, err
		}
		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

func (r *BounceRegexRepository) IncrementCount(ctx context.Context, id int) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE bounce_regexes SET count = count + 1 WHERE id=$1`, id)
	return err
}

func (r *BounceRegexRepository) LinkBounce(ctx context.Context, regexID, bounceID int) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO bounce_regex_bounces (regex_id, bounce_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, regexID, bounceID)
	return err
}

// Upsert keys rules by the md5 of their pattern; the hit count of an
// existing rule is preserved.
func (r *BounceRegexRepository) Upsert(ctx context.Context, rule *model.BounceRegex) error {
	if rule.Status == "" {
		rule.Status = model.BounceRuleActive
	}
	query := `
		INSERT INTO bounce_regexes (regex, regex_hash, action, list_order, status, comment)
		VALUES ($1, md5($1), $2, $3, $4, $5)
		ON CONFLICT (regex_hash) DO UPDATE
		SET action = EXCLUDED.action, list_order = EXCLUDED.list_order,
		    status = EXCLUDED.status, comment = EXCLUDED.comment
		RETURNING id, count
	`
	return r.DB.QueryRowContext(ctx, query, rule.Regex, rule.Action,
		rule.ListOrder, rule.Status, rule.Comment).Scan(&rule.ID, &rule.Count)
}

var _ BounceRegexRepositoryInterface = (*BounceRegexRepository)(nil)
