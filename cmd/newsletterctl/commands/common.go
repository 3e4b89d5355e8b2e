package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/unclebandit/newsletter-backend/internal/app"
	"github.com/unclebandit/newsletter-backend/internal/config"
)

// loadConfig reads the environment and applies the global flags.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(nil)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		level, err := config.ParseLevel(logLevel)
		if err != nil {
			return nil, nil, err
		}
		cfg.LogLevel = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	log, _ := app.NewLogger(cfg.LogLevel)
	return cfg, log, nil
}

// getApp wires everything the subcommands need. Callers must Close it.
func getApp(ctx context.Context) (*app.App, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, log)
}

// output prints v as JSON, or its text form otherwise.
func output(v fmt.Stringer) error {
	if outputFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	fmt.Println(v.String())
	return nil
}
