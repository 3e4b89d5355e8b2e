// Package bounce ingests bounce notifications, classifies them, applies the
// bounce rules and escalates subscribers that keep bouncing.
package bounce

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/repository"
)

// SystemMessageID is the X-MessageId value of mail that was not part of a
// campaign (confirmation requests and the like).
const SystemMessageID = "systemmessage"

// Kind is the disposition of one classified bounce.
type Kind int

const (
	KindUnidentified Kind = iota
	KindSystemMessage
	KindSystemMessageUnknownUser
	KindListMessage
	// KindDuplicateBounce: the subscriber already has a bounce recorded for
	// the same campaign.
	KindDuplicateBounce
	KindUnidentifiedMessage
	KindUnknownUser
)

func (k Kind) String() string {
	switch k {
	case KindSystemMessage:
		return "system_message"
	case KindSystemMessageUnknownUser:
		return "system_message_unknown_user"
	case KindListMessage:
		return "list_message"
	case KindDuplicateBounce:
		return "duplicate_bounce"
	case KindUnidentifiedMessage:
		return "unidentified_message"
	case KindUnknownUser:
		return "unknown_user"
	default:
		return "unidentified"
	}
}

type Classification struct {
	Kind Kind
}

// Actionable reports whether the bounce was attributed to something. It
// drives the purge policy.
func (c Classification) Actionable() bool {
	return c.Kind != KindUnidentified
}

// DataProcessor records the outcome of one bounce against subscribers and
// campaigns.
type DataProcessor struct {
	Bounces     repository.BounceRepositoryInterface
	Campaigns   repository.CampaignRepositoryInterface
	Subscribers repository.SubscriberRepositoryInterface
	Members     *SubscriberActions
	Log         *slog.Logger
}

func (p *DataProcessor) log() *slog.Logger {
	if p.Log == nil {
		return slog.Default()
	}
	return p.Log
}

// Process classifies b. Ids extracted from the message are optional; a
// message id that is neither numeric nor SystemMessageID counts as absent.
func (p *DataProcessor) Process(ctx context.Context, b *model.Bounce,
	messageID fn.Option[string], userID fn.Option[int], date time.Time) (Classification, error) {

	msgToken := strings.TrimSpace(messageID.UnwrapOr(""))
	isSystem := strings.EqualFold(msgToken, SystemMessageID)
	campaignID, err := strconv.Atoi(msgToken)
	hasCampaign := !isSystem && err == nil && campaignID > 0
	uid := userID.UnwrapOr(0)
	hasUser := userID.IsSome()

	switch {
	case isSystem && hasUser:
		return p.systemMessage(ctx, b, uid, date)

	case isSystem:
		if err := p.mark(ctx, b, "bounced system message", "unknown user"); err != nil {
			return Classification{}, err
		}
		p.log().Info("system message bounced for unknown subscriber", "bounce_id", b.ID)
		return Classification{Kind: KindSystemMessageUnknownUser}, nil

	case hasCampaign && hasUser:
		return p.listMessage(ctx, b, campaignID, uid, date)

	case hasUser:
		if err := p.mark(ctx, b, "bounced unidentified message",
			fmt.Sprintf("%d bouncecount increased", uid)); err != nil {
			return Classification{}, err
		}
		if err := p.Subscribers.IncrementBounceCount(ctx, uid); err != nil {
			return Classification{}, fmt.Errorf("increment bounce count of subscriber %d: %w", uid, err)
		}
		return Classification{Kind: KindUnidentifiedMessage}, nil

	case hasCampaign:
		if err := p.mark(ctx, b, fmt.Sprintf("bounced list message %d", campaignID), "unknown user"); err != nil {
			return Classification{}, err
		}
		if err := p.Campaigns.IncrementBounceCount(ctx, campaignID); err != nil {
			return Classification{}, fmt.Errorf("increment bounce count of campaign %d: %w", campaignID, err)
		}
		return Classification{Kind: KindUnknownUser}, nil

	default:
		if err := p.mark(ctx, b, "unidentified bounce", "not processed"); err != nil {
			return Classification{}, err
		}
		return Classification{Kind: KindUnidentified}, nil
	}
}

func (p *DataProcessor) systemMessage(ctx context.Context, b *model.Bounce, uid int, date time.Time) (Classification, error) {
	if err := p.mark(ctx, b, "bounced system message", fmt.Sprintf("%d marked unconfirmed", uid)); err != nil {
		return Classification{}, err
	}
	if err := p.link(ctx, b, uid, nil, date); err != nil {
		return Classification{}, err
	}

	sub, err := p.Subscribers.GetByID(ctx, uid)
	if err != nil {
		return Classification{}, fmt.Errorf("load subscriber %d: %w", uid, err)
	}
	if sub != nil {
		if err := p.Members.Unconfirm(ctx, uid, "Bounced system message",
			fmt.Sprintf("User marked unconfirmed. Bounce #%d", b.ID)); err != nil {
			return Classification{}, err
		}
	}

	p.log().Info("system message bounced, subscriber marked unconfirmed",
		"subscriber_id", uid, "bounce_id", b.ID)
	return Classification{Kind: KindSystemMessage}, nil
}

func (p *DataProcessor) listMessage(ctx context.Context, b *model.Bounce, campaignID, uid int, date time.Time) (Classification, error) {
	seen, err := p.Bounces.UserMessageBounceExists(ctx, uid, campaignID)
	if err != nil {
		return Classification{}, fmt.Errorf("check earlier bounce: %w", err)
	}
	if err := p.link(ctx, b, uid, &campaignID, date); err != nil {
		return Classification{}, err
	}

	if seen {
		err := p.mark(ctx, b, fmt.Sprintf("duplicate bounce for %d", uid),
			fmt.Sprintf("duplicate bounce for subscriber %d on message %d", uid, campaignID))
		if err != nil {
			return Classification{}, err
		}
		return Classification{Kind: KindDuplicateBounce}, nil
	}

	if err := p.mark(ctx, b, fmt.Sprintf("bounced list message %d", campaignID),
		fmt.Sprintf("%d bouncecount increased", uid)); err != nil {
		return Classification{}, err
	}
	if err := p.Campaigns.IncrementBounceCount(ctx, campaignID); err != nil {
		return Classification{}, fmt.Errorf("increment bounce count of campaign %d: %w", campaignID, err)
	}
	if err := p.Subscribers.IncrementBounceCount(ctx, uid); err != nil {
		return Classification{}, fmt.Errorf("increment bounce count of subscriber %d: %w", uid, err)
	}
	return Classification{Kind: KindListMessage}, nil
}

func (p *DataProcessor) mark(ctx context.Context, b *model.Bounce, status, comment string) error {
	b.Status = status
	b.Comment = comment
	if err := p.Bounces.UpdateStatus(ctx, b); err != nil {
		return fmt.Errorf("update bounce %d: %w", b.ID, err)
	}
	return nil
}

func (p *DataProcessor) link(ctx context.Context, b *model.Bounce, uid int, campaignID *int, date time.Time) error {
	err := p.Bounces.LinkUserMessage(ctx, &model.UserMessageBounce{
		SubscriberID: uid,
		CampaignID:   campaignID,
		BounceID:     b.ID,
		Time:         date,
	})
	if err != nil {
		return fmt.Errorf("link bounce %d to subscriber %d: %w", b.ID, uid, err)
	}
	return nil
}
