package controller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/unclebandit/newsletter-backend/internal/bounce"
	"github.com/unclebandit/newsletter-backend/internal/repository"
	"github.com/unclebandit/newsletter-backend/internal/service"
)

// BounceProcessor runs one bounce processing pass.
type BounceProcessor interface {
	ProcessBounces(ctx context.Context, opts service.ProcessOptions) (service.BounceRunReport, error)
}

type BounceController struct {
	Processor BounceProcessor
	Rules     repository.BounceRegexRepositoryInterface
	// Defaults fill the fields a request leaves out.
	Defaults service.ProcessOptions
	Log      *slog.Logger
}

type processRequest struct {
	Protocol         *string `json:"protocol"`
	PurgeUnprocessed *bool   `json:"purge_unprocessed"`
	Test             *bool   `json:"test"`
	Force            *bool   `json:"force"`
	RulesBatchSize   *int    `json:"rules_batch_size"`
}

type mailboxResult struct {
	Mailbox      string `json:"mailbox"`
	Messages     int    `json:"messages"`
	Processed    int    `json:"processed"`
	Unidentified int    `json:"not_processed"`
	Delayed      int    `json:"delayed"`
	Deleted      int    `json:"deleted"`
	Error        string `json:"error,omitempty"`
}

type processResponse struct {
	Skipped    bool                    `json:"skipped"`
	Summary    string                  `json:"summary"`
	Mailboxes  []mailboxResult         `json:"mailboxes"`
	Rules      bounce.RuleReport       `json:"rules"`
	Escalation bounce.EscalationReport `json:"escalation"`
}

// ProcessBounces runs bounce processing synchronously. An empty body uses
// the configured defaults.
func (c *BounceController) ProcessBounces(w http.ResponseWriter, r *http.Request) {
	var body processRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	opts := c.Defaults
	if body.Protocol != nil {
		opts.Protocol = *body.Protocol
	}
	if body.PurgeUnprocessed != nil {
		opts.PurgeUnprocessed = *body.PurgeUnprocessed
	}
	if body.Test != nil {
		opts.Test = *body.Test
	}
	if body.Force != nil {
		opts.Force = *body.Force
	}
	if body.RulesBatchSize != nil {
		opts.RulesBatchSize = *body.RulesBatchSize
	}

	report, err := c.Processor.ProcessBounces(r.Context(), opts)
	if err != nil {
		logger(c.Log).Error("Bounce processing failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := processResponse{
		Skipped:    report.Skipped,
		Summary:    report.String(),
		Mailboxes:  []mailboxResult{},
		Rules:      report.Rules,
		Escalation: report.Escalation,
	}
	for _, m := range report.Ingest.Mailboxes {
		mr := mailboxResult{
			Mailbox: m.Mailbox, Messages: m.Messages, Processed: m.Processed,
			Unidentified: m.Unidentified, Delayed: m.Delayed, Deleted: m.Deleted,
		}
		if m.Err != nil {
			mr.Error = m.Err.Error()
		}
		resp.Mailboxes = append(resp.Mailboxes, mr)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListRules returns every bounce rule with its match count.
func (c *BounceController) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := c.Rules.ListAll(r.Context())
	if err != nil {
		http.Error(w, "failed to fetch bounce rules: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rules})
}
