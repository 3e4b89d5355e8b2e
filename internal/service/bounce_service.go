package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/unclebandit/newsletter-backend/internal/bounce"
	"github.com/unclebandit/newsletter-backend/internal/lock"
	"github.com/unclebandit/newsletter-backend/internal/mailbox"
	"github.com/unclebandit/newsletter-backend/internal/mailparse"
	"github.com/unclebandit/newsletter-backend/internal/repository"
)

// BounceLockName guards bounce processing across processes.
const BounceLockName = "bounce_processor"

type ProcessOptions struct {
	// Protocol is "pop", "mbox" or "imap".
	Protocol         string
	PurgeUnprocessed bool
	// Test reads and classifies but never deletes mail.
	Test bool
	// Force clears a lock left by a crashed run.
	Force          bool
	RulesBatchSize int
}

type BounceRunReport struct {
	// Skipped is set when another run held the lock.
	Skipped    bool
	Ingest     bounce.IngestReport
	Rules      bounce.RuleReport
	Escalation bounce.EscalationReport
}

func (r BounceRunReport) String() string {
	if r.Skipped {
		return "bounce processing already running, nothing done"
	}
	parts := []string{}
	if s := r.Ingest.String(); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(append(parts, r.Rules.String(), r.Escalation.String()), "\n")
}

// BounceService runs the whole bounce pipeline: ingest, rules, escalation.
type BounceService struct {
	Locker    lock.Locker
	Openers   map[string]mailbox.Opener
	Mailboxes []string
	Parser    *mailparse.Parser
	Bounces   repository.BounceRepositoryInterface
	Processor *bounce.DataProcessor
	// Archiver is optional.
	Archiver   bounce.Archiver
	Rules      *bounce.RuleEngine
	Escalation *bounce.ConsecutiveBounceHandler

	PurgeProcessed bool
	MaxMessages    int

	Log *slog.Logger
}

func (s *BounceService) log() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

func (s *BounceService) ProcessBounces(ctx context.Context, opts ProcessOptions) (BounceRunReport, error) {
	var report BounceRunReport

	opener, ok := s.Openers[opts.Protocol]
	if !ok {
		return report, fmt.Errorf("unsupported bounce protocol %q", opts.Protocol)
	}

	lease, ok, err := s.Locker.TryAcquire(ctx, BounceLockName, opts.Force)
	if err != nil {
		return report, err
	}
	if !ok {
		s.log().Info("Bounce processing already running, exiting")
		report.Skipped = true
		return report, nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.log().Warn("Releasing bounce lock failed", "err", err)
		}
	}()

	if opts.Test {
		s.log().Info("Running in test mode, no mail will be deleted")
	}

	ingester := &bounce.Ingester{
		Protocol:  opts.Protocol,
		Opener:    opener,
		Parser:    s.Parser,
		Bounces:   s.Bounces,
		Processor: s.Processor,
		Archiver:  s.Archiver,
		Log:       s.Log,
	}
	report.Ingest, err = ingester.Process(ctx, bounce.IngestOptions{
		Mailboxes:        s.Mailboxes,
		TestMode:         opts.Test,
		PurgeProcessed:   s.PurgeProcessed,
		PurgeUnprocessed: opts.PurgeUnprocessed,
		MaxMessages:      s.MaxMessages,
	})
	if err != nil {
		return report, fmt.Errorf("ingest bounces: %w", err)
	}

	report.Rules, err = s.Rules.Run(ctx, opts.RulesBatchSize)
	if err != nil {
		return report, fmt.Errorf("apply bounce rules: %w", err)
	}

	report.Escalation, err = s.Escalation.Run(ctx)
	if err != nil {
		return report, fmt.Errorf("consecutive bounces: %w", err)
	}

	s.log().Info("Bounce processing finished")
	return report, nil
}
