package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/unclebandit/newsletter-backend/internal/app"
	"github.com/unclebandit/newsletter-backend/internal/config"
	"github.com/unclebandit/newsletter-backend/internal/db"
)

func main() {
	rulesPath := flag.String("rules", "config/bounce_rules.yaml", "bounce rule file to import")
	flag.Parse()

	cfg, err := config.Load(slog.Default())
	if err != nil {
		slog.Error("❌ Loading config failed", "err", err)
		os.Exit(1)
	}
	log, _ := app.NewLogger(cfg.LogLevel)

	ctx := context.Background()
	database, err := db.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Error("❌ Opening database failed", "err", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.Migrate(database, log); err != nil {
		log.Error("❌ Migration failed", "err", err)
		os.Exit(1)
	}

	n, err := seedRules(ctx, database, *rulesPath, log)
	if err != nil {
		log.Error("❌ Seeding bounce rules failed", "file", *rulesPath, "err", err)
		os.Exit(1)
	}
	log.Info("✅ Seeding completed", "rules", n)
}
