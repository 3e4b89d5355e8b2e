package mailparse

import (
	"context"
	"net/mail"
	"regexp"
	"strconv"
	"strings"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/unclebandit/newsletter-backend/internal/model"
)

var (
	messageIDRe = regexp.MustCompile(`(?im)^X-Message(?:Id)?:[ \t]*(\S+)`)
	userIDRe    = regexp.MustCompile(`(?im)^X-(?:ListMember|User):[ \t]*(\S+)`)
	emailScanRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
)

// SubscriberFinder is the lookup FindUserID needs.
type SubscriberFinder interface {
	FindByEmail(ctx context.Context, email string) (*model.Subscriber, error)
}

// FindMessageID returns the token of the X-MessageId header embedded in a
// bounce, usually a campaign id or "systemmessage".
func FindMessageID(text string) fn.Option[string] {
	m := messageIDRe.FindStringSubmatch(text)
	if m == nil {
		return fn.None[string]()
	}
	return fn.Some(strings.Trim(m[1], "<>\"'"))
}

type Parser struct {
	Subscribers SubscriberFinder
}

// FindUserID resolves the subscriber a bounce belongs to. A positive numeric
// X-ListMember/X-User token is taken as the id; an email token is looked
// up. Without a usable token the whole text is scanned for addresses of
// known subscribers and the first hit wins.
func (p *Parser) FindUserID(ctx context.Context, text string) (fn.Option[int], error) {
	if m := userIDRe.FindStringSubmatch(text); m != nil {
		token := strings.Trim(m[1], "<>\"'")
		if id, err := strconv.Atoi(token); err == nil {
			if id > 0 {
				return fn.Some(id), nil
			}
			return p.scan(ctx, text)
		}
		if addr, err := mail.ParseAddress(token); err == nil {
			return p.lookup(ctx, addr.Address)
		}
	}
	return p.scan(ctx, text)
}

func (p *Parser) lookup(ctx context.Context, email string) (fn.Option[int], error) {
	sub, err := p.Subscribers.FindByEmail(ctx, email)
	if err != nil {
		return fn.None[int](), err
	}
	if sub == nil {
		return fn.None[int](), nil
	}
	return fn.Some(sub.ID), nil
}

func (p *Parser) scan(ctx context.Context, text string) (fn.Option[int], error) {
	seen := map[string]bool{}
	for _, candidate := range emailScanRe.FindAllString(text, -1) {
		candidate = strings.ToLower(strings.Trim(candidate, "."))
		if seen[candidate] {
			continue
		}
		seen[candidate] = true

		id, err := p.lookup(ctx, candidate)
		if err != nil {
			return fn.None[int](), err
		}
		if id.IsSome() {
			return id, nil
		}
	}
	return fn.None[int](), nil
}
