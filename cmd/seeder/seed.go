package main

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/unclebandit/newsletter-backend/internal/bounce"
	"github.com/unclebandit/newsletter-backend/internal/repository"
)

func seedRules(ctx context.Context, database *sql.DB, path string, log *slog.Logger) (int, error) {
	// Only action names are checked while loading, so the handlers need no
	// repositories.
	resolver := bounce.NewDefaultResolver(nil, nil, log)

	rules, err := bounce.LoadRuleFile(path, resolver)
	if err != nil {
		return 0, err
	}
	n, err := bounce.ImportRules(ctx, &repository.BounceRegexRepository{DB: database}, rules)
	if err != nil {
		return n, err
	}
	log.Info("Seeded", "file", path, "rules", n)
	return n, nil
}
