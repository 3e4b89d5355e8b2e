package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/unclebandit/newsletter-backend/internal/bounce"
	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/lock"
	"github.com/unclebandit/newsletter-backend/internal/mailer"
	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/repository"
)

// DeliveryReport summarises one delivery run.
type DeliveryReport struct {
	CampaignID int
	Audience   int
	Sent       int
	NotSent    int
	Invalid    int
	Skipped    int
	// Stopped is set when the time budget ran out before the audience did.
	Stopped  bool
	Requeued bool
	Status   string
}

func (r DeliveryReport) String() string {
	return fmt.Sprintf("campaign %d (%s): %d sent, %d not sent, %d invalid, %d skipped of %d",
		r.CampaignID, r.Status, r.Sent, r.NotSent, r.Invalid, r.Skipped, r.Audience)
}

// DeliveryWorker sends one campaign to its audience.
type DeliveryWorker struct {
	Campaigns    repository.CampaignRepositoryInterface
	Subscribers  repository.SubscriberRepositoryInterface
	UserMessages repository.UserMessageRepositoryInterface
	EventLog     repository.EventLogRepositoryInterface
	Members      *bounce.SubscriberActions

	Renderer *mailer.Renderer
	Sender   mailer.Sender
	Sizes    mailer.SizeCache
	Locker   lock.Locker
	// Limiter throttles sends; nil sends as fast as the transport allows.
	Limiter *rate.Limiter
	Requeue *RequeueHandler

	// MaxProcessTime bounds one run; zero means no budget.
	MaxProcessTime time.Duration
	// MaxMailSize in bytes; zero or less disables the check.
	MaxMailSize int

	Now func() time.Time
	Log *slog.Logger
}

func (w *DeliveryWorker) now() time.Time {
	if w.Now == nil {
		return time.Now()
	}
	return w.Now()
}

func (w *DeliveryWorker) log() *slog.Logger {
	if w.Log == nil {
		return slog.Default()
	}
	return w.Log
}

// Deliver walks the campaign through prepared and inprocess to sent, or to
// suspended when a rendered message is over the size limit. A campaign that
// is locked elsewhere or not deliverable is left alone. A campaign left
// prepared or inprocess by an interrupted run is resumed; recipients that
// are no longer todo are skipped. A run cut short by the time budget is
// requeued when the campaign allows it.
func (w *DeliveryWorker) Deliver(ctx context.Context, campaignID int) (DeliveryReport, error) {
	report := DeliveryReport{CampaignID: campaignID}

	lease, ok, err := w.Locker.TryAcquire(ctx, lock.CampaignLockName(campaignID), false)
	if err != nil {
		return report, err
	}
	if !ok {
		w.log().Info("Campaign is being delivered elsewhere", "campaign_id", campaignID)
		return report, nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			w.log().Warn("Releasing campaign lock failed", "campaign_id", campaignID, "err", err)
		}
	}()

	c, err := w.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return report, err
	}
	report.Status = c.Status
	if !c.Deliverable() {
		w.log().Warn("Campaign not deliverable", "campaign_id", c.ID, "status", c.Status)
		return report, nil
	}
	resuming := c.Resuming()

	content, err := w.Renderer.Render(c)
	if err != nil {
		return report, err
	}
	if !resuming {
		if err := w.setStatus(ctx, c, model.CampaignPrepared, &report); err != nil {
			return report, err
		}
	}

	audience, err := w.Subscribers.ListAudience(ctx, c.ID)
	if err != nil {
		return report, fmt.Errorf("audience of campaign %d: %w", c.ID, err)
	}
	report.Audience = len(audience)

	start := w.now()
	if !resuming || c.SendStart == nil {
		c.SendStart = &start
	}
	if err := w.setStatus(ctx, c, model.CampaignInProcess, &report); err != nil {
		return report, err
	}
	var deadline time.Time
	if w.MaxProcessTime > 0 {
		deadline = start.Add(w.MaxProcessTime)
	}
	w.log().Info("Delivering campaign", "campaign_id", c.ID, "audience", len(audience), "resumed", resuming)

	for _, sub := range audience {
		if !deadline.IsZero() && w.now().After(deadline) {
			report.Stopped = true
			break
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := w.deliverOne(ctx, c, content, sub, &report); err != nil {
			return report, err
		}
	}

	if report.Stopped {
		w.log().Info("Time budget used up", "campaign_id", c.ID,
			"remaining", report.Audience-report.Sent-report.NotSent-report.Invalid-report.Skipped)
		if w.Requeue != nil && w.Requeue.Handle(c) {
			if err := w.Campaigns.Update(ctx, c); err != nil {
				return report, fmt.Errorf("requeue campaign %d: %w", c.ID, err)
			}
			report.Requeued = true
			report.Status = c.Status
			w.summary(report)
			return report, nil
		}
	}

	sentAt := w.now()
	c.SentAt = &sentAt
	if err := w.setStatus(ctx, c, model.CampaignSent, &report); err != nil {
		return report, err
	}
	w.summary(report)
	return report, nil
}

func (w *DeliveryWorker) setStatus(ctx context.Context, c *model.Campaign, status string, report *DeliveryReport) error {
	c.Status = status
	if err := w.Campaigns.Update(ctx, c); err != nil {
		return fmt.Errorf("set campaign %d %s: %w", c.ID, status, err)
	}
	report.Status = status
	return nil
}

func (w *DeliveryWorker) deliverOne(ctx context.Context, c *model.Campaign, content mailer.Content,
	sub *model.Subscriber, report *DeliveryReport) error {

	um, err := w.UserMessages.Get(ctx, c.ID, sub.ID)
	if err != nil {
		return fmt.Errorf("user message %d/%d: %w", c.ID, sub.ID, err)
	}
	if um != nil && um.Status != model.UserMessageTodo {
		report.Skipped++
		return nil
	}
	if um == nil {
		um = &model.UserMessage{CampaignID: c.ID, SubscriberID: sub.ID}
	}
	// Persisted before sending so a crash never sends the same message twice.
	if err := w.saveMessage(ctx, um, model.UserMessageActive); err != nil {
		return err
	}

	if !mailer.ValidEmail(sub.Email) {
		report.Invalid++
		if err := w.saveMessage(ctx, um, model.UserMessageInvalidEmail); err != nil {
			return err
		}
		detail := fmt.Sprintf("Subscriber marked unconfirmed for invalid email address %q while sending campaign %d",
			sub.Email, c.ID)
		if sub.Confirmed {
			return w.Members.Unconfirm(ctx, sub.ID, "Invalid email address", detail)
		}
		return w.Members.AddHistory(ctx, sub.ID, "Invalid email address", detail)
	}

	email, err := w.Renderer.Personalize(content, c, sub)
	if err == nil && w.Limiter != nil {
		if werr := w.Limiter.Wait(ctx); werr != nil {
			// Nothing went out, so the next run must pick the recipient up.
			if err := w.saveMessage(context.WithoutCancel(ctx), um, model.UserMessageTodo); err != nil {
				return errors.Join(werr, err)
			}
			return werr
		}
	}
	if err == nil {
		err = w.Sender.Send(ctx, email)
	}
	if err != nil {
		report.NotSent++
		w.log().Warn("Sending failed", "campaign_id", c.ID, "subscriber_id", sub.ID, "err", err)
		return w.saveMessage(ctx, um, model.UserMessageNotSent)
	}

	report.Sent++
	if err := w.saveMessage(ctx, um, model.UserMessageSent); err != nil {
		return err
	}
	return w.checkSize(ctx, c, email, report)
}

func (w *DeliveryWorker) saveMessage(ctx context.Context, um *model.UserMessage, status string) error {
	um.Status = status
	if err := w.UserMessages.Save(ctx, um); err != nil {
		return fmt.Errorf("save user message %d/%d: %w", um.CampaignID, um.SubscriberID, err)
	}
	return nil
}

// checkSize suspends the campaign once a sent message turns out to be over
// MaxMailSize.
func (w *DeliveryWorker) checkSize(ctx context.Context, c *model.Campaign, email *mailer.Email, report *DeliveryReport) error {
	if w.MaxMailSize <= 0 {
		return nil
	}
	format := "text"
	if email.HTML != "" {
		format = "html"
	}
	size, err := w.Sizes.Size(ctx, c.ID, format, func() int {
		return len(email.HTML) + len(email.Text)
	})
	if err != nil {
		return fmt.Errorf("size of campaign %d: %w", c.ID, err)
	}
	if size <= w.MaxMailSize {
		return nil
	}

	w.log().Error("Message too large, suspending campaign", "campaign_id", c.ID,
		"format", format, "size", size, "limit", w.MaxMailSize)
	entry := fmt.Sprintf("Campaign %d suspended: %s message is %d bytes, limit is %d",
		c.ID, format, size, w.MaxMailSize)
	if err := w.EventLog.Log(ctx, "send", entry); err != nil {
		return fmt.Errorf("event log: %w", err)
	}
	if err := w.setStatus(ctx, c, model.CampaignSuspended, report); err != nil {
		return err
	}
	w.summary(*report)
	return &appErrors.SizeLimitExceededError{CampaignID: c.ID, Size: size, Limit: w.MaxMailSize}
}

func (w *DeliveryWorker) summary(r DeliveryReport) {
	w.log().Info("Campaign delivery finished", "campaign_id", r.CampaignID, "status", r.Status,
		"sent", r.Sent, "not_sent", r.NotSent, "invalid", r.Invalid, "skipped", r.Skipped,
		"stopped_early", r.Stopped, "requeued", r.Requeued)
}
