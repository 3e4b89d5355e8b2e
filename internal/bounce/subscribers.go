package bounce

import (
	"context"
	"fmt"

	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/repository"
)

// SubscriberActions groups the subscriber state changes bounce handling
// makes. Every change is paired with a history line.
type SubscriberActions struct {
	Subscribers repository.SubscriberRepositoryInterface
	History     repository.HistoryRepositoryInterface
	Blacklist   repository.BlacklistRepositoryInterface
}

// AddHistory appends one line to the subscriber history.
func (a *SubscriberActions) AddHistory(ctx context.Context, subscriberID int, message, detail string) error {
	err := a.History.Add(ctx, &model.SubscriberHistory{
		SubscriberID: subscriberID,
		Message:      message,
		Detail:       detail,
	})
	if err != nil {
		return fmt.Errorf("add history for subscriber %d: %w", subscriberID, err)
	}
	return nil
}

func (a *SubscriberActions) Unconfirm(ctx context.Context, subscriberID int, message, detail string) error {
	if err := a.Subscribers.SetConfirmed(ctx, subscriberID, false); err != nil {
		return fmt.Errorf("unconfirm subscriber %d: %w", subscriberID, err)
	}
	return a.AddHistory(ctx, subscriberID, message, detail)
}

func (a *SubscriberActions) Confirm(ctx context.Context, subscriberID int, message, detail string) error {
	if err := a.Subscribers.SetConfirmed(ctx, subscriberID, true); err != nil {
		return fmt.Errorf("confirm subscriber %d: %w", subscriberID, err)
	}
	return a.AddHistory(ctx, subscriberID, message, detail)
}

// BlacklistSubscriber flags the subscriber and records the address on the
// email blacklist with reason.
func (a *SubscriberActions) BlacklistSubscriber(ctx context.Context, sub *model.Subscriber, reason, message, detail string) error {
	if err := a.Subscribers.Blacklist(ctx, sub.ID); err != nil {
		return fmt.Errorf("blacklist subscriber %d: %w", sub.ID, err)
	}
	if err := a.Blacklist.Add(ctx, sub.Email, reason); err != nil {
		return fmt.Errorf("blacklist email of subscriber %d: %w", sub.ID, err)
	}
	return a.AddHistory(ctx, sub.ID, message, detail)
}
