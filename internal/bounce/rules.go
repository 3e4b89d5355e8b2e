package bounce

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/repository"
)

const defaultProgressEvery = 100

// CompileRule compiles a stored rule pattern. Patterns match case
// insensitively and ^/$ anchor at line boundaries.
func CompileRule(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?im)" + pattern)
}

type RuleReport struct {
	Rules     int
	Examined  int
	Matched   int
	Unmatched int
}

func (r RuleReport) String() string {
	if r.Rules == 0 {
		return "no active bounce rules"
	}
	return fmt.Sprintf("%d bounces checked against %d rules: %d matched, %d not matched",
		r.Examined, r.Rules, r.Matched, r.Unmatched)
}

// RuleEngine applies the active bounce rules to bounces no rule has
// matched yet.
type RuleEngine struct {
	Rules         repository.BounceRegexRepositoryInterface
	Bounces       repository.BounceRepositoryInterface
	Subscribers   repository.SubscriberRepositoryInterface
	Resolver      *ActionResolver
	ProgressEvery int
	Log           *slog.Logger
}

type compiledRule struct {
	rule *model.BounceRegex
	re   *regexp.Regexp
}

func (e *RuleEngine) log() *slog.Logger {
	if e.Log == nil {
		return slog.Default()
	}
	return e.Log
}

func (e *RuleEngine) loadRules(ctx context.Context) ([]compiledRule, error) {
	rules, err := e.Rules.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load bounce rules: %w", err)
	}
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		re, err := CompileRule(rule.Regex)
		if err != nil {
			e.log().Warn("Skipping bounce rule with invalid pattern", "rule_id", rule.ID,
				"regex", rule.Regex, "err", err)
			continue
		}
		compiled = append(compiled, compiledRule{rule: rule, re: re})
	}
	return compiled, nil
}

// Run pages through unresolved bounces batchSize rows at a time. The first
// rule matching header and body decides the action. An action no handler
// supports stops the run.
func (e *RuleEngine) Run(ctx context.Context, batchSize int) (RuleReport, error) {
	var report RuleReport
	if batchSize <= 0 {
		batchSize = 1000
	}
	progressEvery := e.ProgressEvery
	if progressEvery <= 0 {
		progressEvery = defaultProgressEvery
	}

	rules, err := e.loadRules(ctx)
	if err != nil {
		return report, err
	}
	report.Rules = len(rules)
	if len(rules) == 0 {
		e.log().Info("No active bounce rules, skipping rule processing")
		return report, nil
	}

	cursor := 0
	for {
		rows, err := e.Bounces.ListUnresolved(ctx, cursor, batchSize)
		if err != nil {
			return report, fmt.Errorf("list unresolved bounces after %d: %w", cursor, err)
		}

		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			cursor = row.Link.ID
			report.Examined++

			matched, err := e.apply(ctx, rules, row)
			if err != nil {
				return report, err
			}
			if matched {
				report.Matched++
			} else {
				report.Unmatched++
			}

			if report.Examined%progressEvery == 0 {
				e.log().Info("Bounce rule progress", "examined", report.Examined,
					"matched", report.Matched)
			}
		}

		if len(rows) < batchSize {
			break
		}
	}

	e.log().Info("Bounce rules applied", "rules", report.Rules, "examined", report.Examined,
		"matched", report.Matched, "not_matched", report.Unmatched)
	return report, nil
}

func (e *RuleEngine) apply(ctx context.Context, rules []compiledRule, row model.UnresolvedBounce) (bool, error) {
	text := row.Bounce.Header + "\n\n" + row.Bounce.Data

	var hit *model.BounceRegex
	for _, r := range rules {
		if r.re.MatchString(text) {
			hit = r.rule
			break
		}
	}
	if hit == nil {
		return false, nil
	}

	handler, err := e.Resolver.Resolve(hit.Action)
	if err != nil {
		return false, fmt.Errorf("bounce rule %d: %w", hit.ID, err)
	}
	if err := e.Rules.IncrementCount(ctx, hit.ID); err != nil {
		return false, fmt.Errorf("count match of rule %d: %w", hit.ID, err)
	}
	if err := e.Rules.LinkBounce(ctx, hit.ID, row.Bounce.ID); err != nil {
		return false, fmt.Errorf("link rule %d to bounce %d: %w", hit.ID, row.Bounce.ID, err)
	}

	bounce := row.Bounce
	ac := ActionContext{
		RuleID: hit.ID,
		Bounce: &bounce,
		UserID: row.Link.SubscriberID,
	}
	if ac.UserID > 0 {
		sub, err := e.Subscribers.GetByID(ctx, ac.UserID)
		if err != nil {
			return false, fmt.Errorf("load subscriber %d: %w", ac.UserID, err)
		}
		if sub != nil {
			ac.Subscriber = sub
			ac.Confirmed = sub.Confirmed
			ac.Blacklisted = sub.Blacklisted
		}
	}

	if err := handler.Handle(ctx, ac); err != nil {
		return false, fmt.Errorf("bounce rule %d action %s on bounce %d: %w",
			hit.ID, hit.Action, bounce.ID, err)
	}
	return true, nil
}
