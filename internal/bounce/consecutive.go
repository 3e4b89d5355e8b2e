package bounce

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/repository"
)

const escalationProgressEvery = 5

type EscalationReport struct {
	Subscribers int
	Unconfirmed int
	Blacklisted int
}

func (r EscalationReport) String() string {
	return fmt.Sprintf("%d subscribers checked for consecutive bounces: %d unconfirmed, %d blacklisted",
		r.Subscribers, r.Unconfirmed, r.Blacklisted)
}

// ConsecutiveBounceHandler unconfirms, and later blacklists, subscribers
// whose most recent sends bounced in an unbroken run.
type ConsecutiveBounceHandler struct {
	Subscribers  repository.SubscriberRepositoryInterface
	UserMessages repository.UserMessageRepositoryInterface
	Members      *SubscriberActions

	UnsubscribeThreshold int
	// BlacklistThreshold of zero disables blacklisting.
	BlacklistThreshold int

	Log *slog.Logger
}

// isDuplicateNotice reports whether a history row is a repeat notice for a
// send that was already counted. These rows neither count nor break a run.
func isDuplicateNotice(row model.BounceHistoryRow) bool {
	return strings.Contains(strings.ToLower(row.BounceStatus+" "+row.BounceComment), "duplicate")
}

func (h *ConsecutiveBounceHandler) log() *slog.Logger {
	if h.Log == nil {
		return slog.Default()
	}
	return h.Log
}

func (h *ConsecutiveBounceHandler) Run(ctx context.Context) (EscalationReport, error) {
	var report EscalationReport

	subscribers, err := h.Subscribers.ListWithBounces(ctx)
	if err != nil {
		return report, fmt.Errorf("list subscribers with bounces: %w", err)
	}
	h.log().Info("Checking consecutive bounces", "subscribers", len(subscribers),
		"unsubscribe_threshold", h.UnsubscribeThreshold,
		"blacklist_threshold", h.BlacklistThreshold)

	for i, sub := range subscribers {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := h.escalate(ctx, sub, &report); err != nil {
			return report, err
		}
		report.Subscribers++

		if (i+1)%escalationProgressEvery == 0 {
			h.log().Info("Consecutive bounce progress", "done", i+1, "total", len(subscribers))
		}
	}

	h.log().Info("Consecutive bounces checked", "subscribers", report.Subscribers,
		"unconfirmed", report.Unconfirmed, "blacklisted", report.Blacklisted)
	return report, nil
}

func (h *ConsecutiveBounceHandler) escalate(ctx context.Context, sub *model.Subscriber, report *EscalationReport) error {
	history, err := h.UserMessages.BounceHistory(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("bounce history of subscriber %d: %w", sub.ID, err)
	}

	unsubscribeAt := max(h.UnsubscribeThreshold, 1)
	consecutive := 0
	unsubscribed := false
	for _, row := range history {
		if isDuplicateNotice(row) {
			continue
		}
		if row.BounceID <= 0 {
			return nil
		}
		consecutive++

		if consecutive >= unsubscribeAt && !unsubscribed {
			err := h.Members.Unconfirm(ctx, sub.ID, "Auto Unconfirmed",
				fmt.Sprintf("Subscriber auto unconfirmed for %d consecutive bounces", consecutive))
			if err != nil {
				return err
			}
			unsubscribed = true
			report.Unconfirmed++
		}

		if h.BlacklistThreshold > 0 && consecutive >= h.BlacklistThreshold {
			err := h.Members.BlacklistSubscriber(ctx, sub,
				fmt.Sprintf("%d consecutive bounces, threshold reached", consecutive),
				"Auto Blacklisted",
				fmt.Sprintf("Subscriber auto blacklisted for %d consecutive bounces", consecutive))
			if err != nil {
				return err
			}
			report.Blacklisted++
			return nil
		}
	}
	return nil
}
