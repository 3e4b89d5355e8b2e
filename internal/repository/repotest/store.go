// Package repotest holds an in-memory implementation of every repository
// interface, for tests that need realistic persistence without postgres.
package repotest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/repository"
)

// Store is the shared state behind the per-aggregate fakes. Reads return
// copies so callers see the same staleness they would against a database.
type Store struct {
	mu sync.Mutex

	nextID       int
	subscribers  map[int]*model.Subscriber
	campaigns    map[int]*model.Campaign
	audience     map[int][]int
	userMessages []*model.UserMessage
	bounces      map[int]*model.Bounce
	links        []*model.UserMessageBounce
	rules        map[int]*model.BounceRegex
	ruleBounces  map[[2]int]bool
	history      []model.SubscriberHistory
	blacklist    map[string]string
	events       []model.EventLogEntry
}

func NewStore() *Store {
	return &Store{
		subscribers: map[int]*model.Subscriber{},
		campaigns:   map[int]*model.Campaign{},
		audience:    map[int][]int{},
		bounces:     map[int]*model.Bounce{},
		rules:       map[int]*model.BounceRegex{},
		ruleBounces: map[[2]int]bool{},
		blacklist:   map[string]string{},
	}
}

func (s *Store) id() int {
	s.nextID++
	return s.nextID
}

func (s *Store) Subscribers() *Subscribers   { return &Subscribers{s} }
func (s *Store) Campaigns() *Campaigns       { return &Campaigns{s} }
func (s *Store) UserMessages() *UserMessages { return &UserMessages{s} }
func (s *Store) Bounces() *Bounces           { return &Bounces{s} }
func (s *Store) Rules() *Rules               { return &Rules{s} }
func (s *Store) History() *History           { return &History{s} }
func (s *Store) Blacklist() *Blacklist       { return &Blacklist{s} }
func (s *Store) EventLog() *EventLog         { return &EventLog{s} }

// ---- seeding and inspection helpers ----

func (s *Store) AddSubscriber(sub model.Subscriber) model.Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub.ID = s.id()
	s.subscribers[sub.ID] = &sub
	return sub
}

// Subscriber returns the current row, or the zero value if it was deleted.
func (s *Store) Subscriber(id int) (model.Subscriber, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscribers[id]
	if !ok {
		return model.Subscriber{}, false
	}
	return *sub, true
}

func (s *Store) AddCampaign(c model.Campaign, audience ...int) model.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.id()
	s.campaigns[c.ID] = &c
	s.audience[c.ID] = audience
	return c
}

func (s *Store) Campaign(id int) model.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.campaigns[id]
}

func (s *Store) AddUserMessage(um model.UserMessage) model.UserMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	um.ID = s.id()
	s.userMessages = append(s.userMessages, &um)
	return um
}

func (s *Store) UserMessagesFor(campaignID int) []model.UserMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.UserMessage{}
	for _, um := range s.userMessages {
		if um.CampaignID == campaignID {
			out = append(out, *um)
		}
	}
	return out
}

func (s *Store) AddBounce(b model.Bounce) model.Bounce {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.ID = s.id()
	s.bounces[b.ID] = &b
	return b
}

func (s *Store) Bounce(id int) (model.Bounce, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bounces[id]
	if !ok {
		return model.Bounce{}, false
	}
	return *b, true
}

func (s *Store) BounceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bounces)
}

func (s *Store) AddLink(link model.UserMessageBounce) model.UserMessageBounce {
	s.mu.Lock()
	defer s.mu.Unlock()
	link.ID = s.id()
	s.links = append(s.links, &link)
	return link
}

func (s *Store) Links() []model.UserMessageBounce {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.UserMessageBounce, 0, len(s.links))
	for _, l := range s.links {
		out = append(out, *l)
	}
	return out
}

func (s *Store) AddRule(rule model.BounceRegex) model.BounceRegex {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule.ID = s.id()
	if rule.Status == "" {
		rule.Status = model.BounceRuleActive
	}
	s.rules[rule.ID] = &rule
	return rule
}

func (s *Store) Rule(id int) model.BounceRegex {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.rules[id]
}

func (s *Store) RuleMatched(ruleID, bounceID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ruleBounces[[2]int{ruleID, bounceID}]
}

func (s *Store) HistoryFor(subscriberID int) []model.SubscriberHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.SubscriberHistory{}
	for _, h := range s.history {
		if h.SubscriberID == subscriberID {
			out = append(out, h)
		}
	}
	return out
}

func (s *Store) BlacklistReason(email string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reason, ok := s.blacklist[strings.ToLower(email)]
	return reason, ok
}

func (s *Store) Events() []model.EventLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.EventLogEntry(nil), s.events...)
}

// ---- Subscribers ----

type Subscribers struct{ s *Store }

func (r *Subscribers) GetByID(_ context.Context, id int) (*model.Subscriber, error) {
	sub, ok := r.s.Subscriber(id)
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (r *Subscribers) FindByEmail(_ context.Context, email string) (*model.Subscriber, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sub := range r.s.subscribers {
		if strings.EqualFold(sub.Email, email) {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *Subscribers) mutate(id int, f func(*model.Subscriber)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sub, ok := r.s.subscribers[id]; ok {
		f(sub)
	}
	return nil
}

func (r *Subscribers) SetConfirmed(_ context.Context, id int, confirmed bool) error {
	return r.mutate(id, func(s *model.Subscriber) { s.Confirmed = confirmed })
}

func (r *Subscribers) Blacklist(_ context.Context, id int) error {
	return r.mutate(id, func(s *model.Subscriber) { s.Blacklisted = true })
}

func (r *Subscribers) IncrementBounceCount(_ context.Context, id int) error {
	return r.mutate(id, func(s *model.Subscriber) { s.BounceCount++ })
}

func (r *Subscribers) DecrementBounceCount(_ context.Context, id int) error {
	return r.mutate(id, func(s *model.Subscriber) {
		if s.BounceCount > 0 {
			s.BounceCount--
		}
	})
}

func (r *Subscribers) Delete(_ context.Context, id int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.subscribers, id)
	kept := r.s.userMessages[:0]
	for _, um := range r.s.userMessages {
		if um.SubscriberID != id {
			kept = append(kept, um)
		}
	}
	r.s.userMessages = kept
	return nil
}

func (r *Subscribers) ListWithBounces(_ context.Context) ([]*model.Subscriber, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := map[int]bool{}
	out := []*model.Subscriber{}
	for _, l := range r.s.links {
		sub, ok := r.s.subscribers[l.SubscriberID]
		if !ok || seen[sub.ID] || !sub.Confirmed || sub.Blacklisted {
			continue
		}
		seen[sub.ID] = true
		cp := *sub
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Subscribers) ListAudience(_ context.Context, campaignID int) ([]*model.Subscriber, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*model.Subscriber{}
	for _, id := range r.s.audience[campaignID] {
		sub, ok := r.s.subscribers[id]
		if !ok || !sub.Confirmed || sub.Blacklisted {
			continue
		}
		cp := *sub
		out = append(out, &cp)
	}
	return out, nil
}

// ---- Campaigns ----

type Campaigns struct{ s *Store }

func (r *Campaigns) Create(_ context.Context, c *model.Campaign) error {
	created := r.s.AddCampaign(*c)
	c.ID = created.ID
	return nil
}

func (r *Campaigns) GetByID(_ context.Context, id int) (*model.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (r *Campaigns) Update(_ context.Context, c *model.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.campaigns[c.ID]
	if !ok {
		return appErrors.NewCampaignNotFound(c.ID)
	}
	stored.Status = c.Status
	stored.Embargo = c.Embargo
	stored.SendStart = c.SendStart
	stored.SentAt = c.SentAt
	return nil
}

func (r *Campaigns) ListDue(_ context.Context, now time.Time) ([]*model.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range r.s.campaigns {
		if !c.Deliverable() {
			continue
		}
		if c.Embargo != nil && c.Embargo.After(now) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Campaigns) IncrementBounceCount(_ context.Context, id int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c, ok := r.s.campaigns[id]; ok {
		c.BounceCount++
	}
	return nil
}

func (r *Campaigns) GetCampaignStats(_ context.Context, campaignID int) (map[string]int, error) {
	stats := map[string]int{}
	for _, um := range r.s.UserMessagesFor(campaignID) {
		stats[um.Status]++
	}
	return stats, nil
}

// ---- UserMessages ----

type UserMessages struct{ s *Store }

func (r *UserMessages) Get(_ context.Context, campaignID, subscriberID int) (*model.UserMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, um := range r.s.userMessages {
		if um.CampaignID == campaignID && um.SubscriberID == subscriberID {
			cp := *um
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *UserMessages) Save(_ context.Context, um *model.UserMessage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, stored := range r.s.userMessages {
		if stored.CampaignID == um.CampaignID && stored.SubscriberID == um.SubscriberID {
			stored.Status = um.Status
			um.ID = stored.ID
			um.Entered = stored.Entered
			return nil
		}
	}
	if um.Entered.IsZero() {
		um.Entered = time.Now()
	}
	um.ID = r.s.id()
	cp := *um
	r.s.userMessages = append(r.s.userMessages, &cp)
	return nil
}

func (r *UserMessages) BounceHistory(_ context.Context, subscriberID int) ([]model.BounceHistoryRow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sent := []*model.UserMessage{}
	for _, um := range r.s.userMessages {
		if um.SubscriberID == subscriberID && um.Status == model.UserMessageSent {
			sent = append(sent, um)
		}
	}
	sort.SliceStable(sent, func(i, j int) bool { return sent[i].Entered.After(sent[j].Entered) })

	rows := []model.BounceHistoryRow{}
	for _, um := range sent {
		matched := false
		for _, l := range r.s.links {
			if l.SubscriberID != subscriberID || l.CampaignID == nil || *l.CampaignID != um.CampaignID {
				continue
			}
			b, ok := r.s.bounces[l.BounceID]
			if !ok {
				continue
			}
			matched = true
			rows = append(rows, model.BounceHistoryRow{
				CampaignID: um.CampaignID, Entered: um.Entered,
				BounceID: b.ID, BounceStatus: b.Status, BounceComment: b.Comment,
			})
		}
		if !matched {
			rows = append(rows, model.BounceHistoryRow{CampaignID: um.CampaignID, Entered: um.Entered})
		}
	}
	return rows, nil
}

// ---- Bounces ----

type Bounces struct{ s *Store }

func (r *Bounces) Create(_ context.Context, b *model.Bounce) error {
	created := r.s.AddBounce(*b)
	b.ID = created.ID
	return nil
}

func (r *Bounces) UpdateStatus(_ context.Context, b *model.Bounce) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if stored, ok := r.s.bounces[b.ID]; ok {
		stored.Status = b.Status
		stored.Comment = b.Comment
	}
	return nil
}

func (r *Bounces) Delete(_ context.Context, id int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.bounces, id)
	kept := r.s.links[:0]
	for _, l := range r.s.links {
		if l.BounceID != id {
			kept = append(kept, l)
		}
	}
	r.s.links = kept
	return nil
}

func (r *Bounces) LinkUserMessage(_ context.Context, link *model.UserMessageBounce) error {
	if link.Time.IsZero() {
		link.Time = time.Now()
	}
	created := r.s.AddLink(*link)
	link.ID = created.ID
	return nil
}

func (r *Bounces) UserMessageBounceExists(_ context.Context, subscriberID, campaignID int) (bool, error) {
	for _, l := range r.s.Links() {
		if l.SubscriberID == subscriberID && l.CampaignID != nil && *l.CampaignID == campaignID {
			return true, nil
		}
	}
	return false, nil
}

func (r *Bounces) ListUnresolved(_ context.Context, afterLinkID, limit int) ([]model.UnresolvedBounce, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	links := append([]*model.UserMessageBounce(nil), r.s.links...)
	sort.Slice(links, func(i, j int) bool { return links[i].ID < links[j].ID })

	out := []model.UnresolvedBounce{}
	for _, l := range links {
		if l.ID <= afterLinkID {
			continue
		}
		b, ok := r.s.bounces[l.BounceID]
		if !ok || r.s.bounceMatched(b.ID) {
			continue
		}
		out = append(out, model.UnresolvedBounce{Link: *l, Bounce: *b})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) bounceMatched(bounceID int) bool {
	for key := range s.ruleBounces {
		if key[1] == bounceID {
			return true
		}
	}
	return false
}

// ---- Rules ----

type Rules struct{ s *Store }

func (r *Rules) list(activeOnly bool) []*model.BounceRegex {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*model.BounceRegex{}
	for _, rule := range r.s.rules {
		if activeOnly && rule.Status != model.BounceRuleActive {
			continue
		}
		cp := *rule
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ListOrder != out[j].ListOrder {
			return out[i].ListOrder < out[j].ListOrder
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Rules) ListActive(_ context.Context) ([]*model.BounceRegex, error) {
	return r.list(true), nil
}

func (r *Rules) ListAll(_ context.Context) ([]*model.BounceRegex, error) {
	return r.list(false), nil
}

func (r *Rules) IncrementCount(_ context.Context, id int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if rule, ok := r.s.rules[id]; ok {
		rule.Count++
	}
	return nil
}

func (r *Rules) LinkBounce(_ context.Context, regexID, bounceID int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.ruleBounces[[2]int{regexID, bounceID}] = true
	return nil
}

func (r *Rules) Upsert(_ context.Context, rule *model.BounceRegex) error {
	r.s.mu.Lock()
	for _, stored := range r.s.rules {
		if stored.Regex == rule.Regex {
			stored.Action = rule.Action
			stored.ListOrder = rule.ListOrder
			stored.Comment = rule.Comment
			if rule.Status != "" {
				stored.Status = rule.Status
			}
			rule.ID = stored.ID
			rule.Count = stored.Count
			r.s.mu.Unlock()
			return nil
		}
	}
	r.s.mu.Unlock()
	created := r.s.AddRule(*rule)
	rule.ID = created.ID
	rule.Status = created.Status
	return nil
}

// ---- audit ----

type History struct{ s *Store }

func (r *History) Add(_ context.Context, h *model.SubscriberHistory) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	h.ID = r.s.id()
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	r.s.history = append(r.s.history, *h)
	return nil
}

type Blacklist struct{ s *Store }

func (r *Blacklist) Add(_ context.Context, email, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := strings.ToLower(email)
	if _, ok := r.s.blacklist[key]; !ok {
		r.s.blacklist[key] = reason
	}
	return nil
}

type EventLog struct{ s *Store }

func (r *EventLog) Log(_ context.Context, page, entry string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.events = append(r.s.events, model.EventLogEntry{
		ID: r.s.id(), Entered: time.Now(), Page: page, Entry: entry,
	})
	return nil
}

var (
	_ repository.SubscriberRepositoryInterface  = (*Subscribers)(nil)
	_ repository.CampaignRepositoryInterface    = (*Campaigns)(nil)
	_ repository.UserMessageRepositoryInterface = (*UserMessages)(nil)
	_ repository.BounceRepositoryInterface      = (*Bounces)(nil)
	_ repository.BounceRegexRepositoryInterface = (*Rules)(nil)
	_ repository.HistoryRepositoryInterface     = (*History)(nil)
	_ repository.BlacklistRepositoryInterface   = (*Blacklist)(nil)
	_ repository.EventLogRepositoryInterface    = (*EventLog)(nil)
)
