package bounce

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/repository"
)

// ActionContext is what a rule match hands to its action handler.
// Subscriber is nil when the bounce has no subscriber or the subscriber no
// longer exists.
type ActionContext struct {
	Subscriber  *model.Subscriber
	RuleID      int
	Bounce      *model.Bounce
	Confirmed   bool
	Blacklisted bool
	UserID      int
}

type ActionHandler interface {
	Supports(action string) bool
	Handle(ctx context.Context, ac ActionContext) error
}

// ActionResolver maps rule action names to handlers. Lookups are cached.
type ActionResolver struct {
	handlers []ActionHandler

	mu    sync.Mutex
	cache map[string]ActionHandler
}

func NewActionResolver(handlers ...ActionHandler) *ActionResolver {
	return &ActionResolver{handlers: handlers, cache: map[string]ActionHandler{}}
}

// Resolve returns the first handler supporting action, or an
// *appErrors.UnknownActionError.
func (r *ActionResolver) Resolve(action string) (ActionHandler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.cache[action]; ok {
		return h, nil
	}
	for _, h := range r.handlers {
		if h.Supports(action) {
			r.cache[action] = h
			return h, nil
		}
	}
	return nil, &appErrors.UnknownActionError{Action: action}
}

// NewDefaultResolver registers every built-in action.
func NewDefaultResolver(members *SubscriberActions, bounces repository.BounceRepositoryInterface, log *slog.Logger) *ActionResolver {
	if log == nil {
		log = slog.Default()
	}
	base := actionBase{Members: members, Bounces: bounces, Log: log}
	return NewActionResolver(
		&DeleteBounceHandler{base},
		&DeleteUserHandler{actionBase: base},
		&DeleteUserHandler{actionBase: base, AndDeleteBounce: true},
		&BlacklistEmailHandler{actionBase: base},
		&BlacklistEmailHandler{actionBase: base, AndDeleteBounce: true},
		&BlacklistUserHandler{actionBase: base},
		&BlacklistUserHandler{actionBase: base, AndDeleteBounce: true},
		&UnconfirmUserHandler{actionBase: base},
		&UnconfirmUserHandler{actionBase: base, AndDeleteBounce: true},
		&DecreaseCountConfirmUserHandler{base},
	)
}

type actionBase struct {
	Members *SubscriberActions
	Bounces repository.BounceRepositoryInterface
	Log     *slog.Logger
}

func (b actionBase) deleteBounce(ctx context.Context, bounce *model.Bounce) error {
	if err := b.Bounces.Delete(ctx, bounce.ID); err != nil {
		return fmt.Errorf("delete bounce %d: %w", bounce.ID, err)
	}
	return nil
}

func withBounce(name string, andDelete bool) string {
	if andDelete {
		return name + "anddeletebounce"
	}
	return name
}

type DeleteBounceHandler struct {
	actionBase
}

func (h *DeleteBounceHandler) Supports(action string) bool { return action == "deletebounce" }

func (h *DeleteBounceHandler) Handle(ctx context.Context, ac ActionContext) error {
	return h.deleteBounce(ctx, ac.Bounce)
}

type DeleteUserHandler struct {
	actionBase
	AndDeleteBounce bool
}

func (h *DeleteUserHandler) Supports(action string) bool {
	if h.AndDeleteBounce {
		return action == "deleteuserandbounce"
	}
	return action == "deleteuser"
}

func (h *DeleteUserHandler) Handle(ctx context.Context, ac ActionContext) error {
	if ac.Subscriber != nil {
		h.Log.Info("Deleting subscriber by bounce rule", "subscriber_id", ac.Subscriber.ID,
			"rule_id", ac.RuleID)
		if err := h.Members.Subscribers.Delete(ctx, ac.Subscriber.ID); err != nil {
			return fmt.Errorf("delete subscriber %d: %w", ac.Subscriber.ID, err)
		}
	}
	if h.AndDeleteBounce {
		return h.deleteBounce(ctx, ac.Bounce)
	}
	return nil
}

type BlacklistEmailHandler struct {
	actionBase
	AndDeleteBounce bool
}

func (h *BlacklistEmailHandler) Supports(action string) bool {
	return action == withBounce("blacklistemail", h.AndDeleteBounce)
}

func (h *BlacklistEmailHandler) Handle(ctx context.Context, ac ActionContext) error {
	if ac.Subscriber != nil {
		err := h.Members.BlacklistSubscriber(ctx, ac.Subscriber,
			fmt.Sprintf("Email address auto blacklisted by bounce rule %d", ac.RuleID),
			"Auto Unsubscribed",
			fmt.Sprintf("email auto unsubscribed for bounce rule %d", ac.RuleID))
		if err != nil {
			return err
		}
	}
	if h.AndDeleteBounce {
		return h.deleteBounce(ctx, ac.Bounce)
	}
	return nil
}

// BlacklistUserHandler skips subscribers that are blacklisted already.
type BlacklistUserHandler struct {
	actionBase
	AndDeleteBounce bool
}

func (h *BlacklistUserHandler) Supports(action string) bool {
	return action == withBounce("blacklistuser", h.AndDeleteBounce)
}

func (h *BlacklistUserHandler) Handle(ctx context.Context, ac ActionContext) error {
	if ac.Subscriber != nil && !ac.Blacklisted {
		err := h.Members.BlacklistSubscriber(ctx, ac.Subscriber,
			fmt.Sprintf("Subscriber auto blacklisted by bounce rule %d", ac.RuleID),
			"Auto Unsubscribed",
			fmt.Sprintf("User auto unsubscribed for bounce rule %d", ac.RuleID))
		if err != nil {
			return err
		}
	}
	if h.AndDeleteBounce {
		return h.deleteBounce(ctx, ac.Bounce)
	}
	return nil
}

type UnconfirmUserHandler struct {
	actionBase
	AndDeleteBounce bool
}

func (h *UnconfirmUserHandler) Supports(action string) bool {
	return action == withBounce("unconfirmuser", h.AndDeleteBounce)
}

func (h *UnconfirmUserHandler) Handle(ctx context.Context, ac ActionContext) error {
	if ac.Subscriber != nil && ac.Confirmed {
		err := h.Members.Unconfirm(ctx, ac.Subscriber.ID, "Auto Unconfirmed",
			fmt.Sprintf("Subscriber auto unconfirmed for bounce rule %d", ac.RuleID))
		if err != nil {
			return err
		}
	}
	if h.AndDeleteBounce {
		return h.deleteBounce(ctx, ac.Bounce)
	}
	return nil
}

// DecreaseCountConfirmUserHandler undoes a bounce that turned out to be
// harmless: the counter goes down and an unconfirmed subscriber is
// confirmed again.
type DecreaseCountConfirmUserHandler struct {
	actionBase
}

func (h *DecreaseCountConfirmUserHandler) Supports(action string) bool {
	return action == "decreasecountconfirmuseranddeletebounce"
}

func (h *DecreaseCountConfirmUserHandler) Handle(ctx context.Context, ac ActionContext) error {
	if ac.Subscriber != nil {
		if err := h.Members.Subscribers.DecrementBounceCount(ctx, ac.Subscriber.ID); err != nil {
			return fmt.Errorf("decrement bounce count of subscriber %d: %w", ac.Subscriber.ID, err)
		}
		if !ac.Confirmed {
			err := h.Members.Confirm(ctx, ac.Subscriber.ID, "Auto confirmed",
				fmt.Sprintf("Subscriber auto confirmed for bounce rule %d", ac.RuleID))
			if err != nil {
				return err
			}
		}
	}
	return h.deleteBounce(ctx, ac.Bounce)
}
