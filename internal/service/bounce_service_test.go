package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unclebandit/newsletter-backend/internal/bounce"
	"github.com/unclebandit/newsletter-backend/internal/lock"
	"github.com/unclebandit/newsletter-backend/internal/mailbox"
	"github.com/unclebandit/newsletter-backend/internal/mailparse"
	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/repository/repotest"
)

const bounceMboxTemplate = `From MAILER-DAEMON Mon Jan  2 15:04:05 2006
From: Mail Delivery System <MAILER-DAEMON@mx.example.com>
Subject: Undelivered Mail Returned to Sender

550 5.1.1 user unknown
X-MessageId: %d
X-ListMember: %s

From MAILER-DAEMON Tue Jan  3 15:04:05 2006
From: postmaster@example.org
Subject: Delivery Status Notification (Delay)

Action: delayed
Status: 4.4.7

From MAILER-DAEMON Wed Jan  4 15:04:05 2006
From: postmaster@example.org
Subject: Out of office

I am on holiday.

`

func newBounceService(store *repotest.Store, locker lock.Locker, mboxPath string) *BounceService {
	members := &bounce.SubscriberActions{
		Subscribers: store.Subscribers(),
		History:     store.History(),
		Blacklist:   store.Blacklist(),
	}
	resolver := bounce.NewDefaultResolver(members, store.Bounces(), nil)
	return &BounceService{
		Locker:    locker,
		Openers:   map[string]mailbox.Opener{"mbox": &mailbox.MboxOpener{}},
		Mailboxes: []string{mboxPath},
		Parser:    &mailparse.Parser{Subscribers: store.Subscribers()},
		Bounces:   store.Bounces(),
		Processor: &bounce.DataProcessor{
			Bounces:     store.Bounces(),
			Campaigns:   store.Campaigns(),
			Subscribers: store.Subscribers(),
			Members:     members,
		},
		Rules: &bounce.RuleEngine{
			Rules:       store.Rules(),
			Bounces:     store.Bounces(),
			Subscribers: store.Subscribers(),
			Resolver:    resolver,
		},
		Escalation: &bounce.ConsecutiveBounceHandler{
			Subscribers:          store.Subscribers(),
			UserMessages:         store.UserMessages(),
			Members:              members,
			UnsubscribeThreshold: 3,
		},
		PurgeProcessed: true,
	}
}

func writeBounceMbox(t *testing.T, campaignID int, email string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bounces.mbox")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(bounceMboxTemplate, campaignID, email)), 0o600))
	return path
}

func TestProcessBouncesEndToEnd(t *testing.T) {
	store := repotest.NewStore()
	sub := store.AddSubscriber(model.Subscriber{Email: "gone@example.com", Confirmed: true})
	c := store.AddCampaign(model.Campaign{Subject: "News", Status: model.CampaignSent})
	rule := store.AddRule(model.BounceRegex{Regex: `user unknown`, Action: "blacklistuseranddeletebounce", ListOrder: 10})
	path := writeBounceMbox(t, c.ID, sub.Email)

	locker := lock.NewMemoryLocker()
	report, err := newBounceService(store, locker, path).ProcessBounces(context.Background(), ProcessOptions{
		Protocol: "mbox",
	})
	require.NoError(t, err)
	require.False(t, report.Skipped)

	mr := report.Ingest.Mailboxes[0]
	require.Equal(t, 3, mr.Messages)
	require.Equal(t, 1, mr.Processed)
	require.Equal(t, 1, mr.Delayed)
	require.Equal(t, 1, mr.Unidentified)
	require.Equal(t, 2, mr.Deleted)

	require.Equal(t, 1, report.Rules.Matched)
	require.Equal(t, 1, store.Rule(rule.ID).Count)

	after, _ := store.Subscriber(sub.ID)
	require.True(t, after.Blacklisted)
	require.Equal(t, 1, after.BounceCount)
	require.Equal(t, 1, store.Campaign(c.ID).BounceCount)
	// The matched bounce was deleted by the rule; the out of office reply
	// stays as an unidentified bounce.
	require.Equal(t, 1, store.BounceCount())
	require.False(t, locker.Held(BounceLockName))

	// Only the unprocessed message is left in the mailbox.
	mb, err := (&mailbox.MboxOpener{}).Open(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 1, mb.NumMessages())
	header, err := mb.Header(1)
	require.NoError(t, err)
	require.Contains(t, header, "Out of office")
	require.NoError(t, mb.Close(false))

	require.Contains(t, report.String(), "mbox "+path)
}

func TestProcessBouncesTestModeKeepsMail(t *testing.T) {
	store := repotest.NewStore()
	path := writeBounceMbox(t, 1, "nobody@example.com")

	report, err := newBounceService(store, lock.NewMemoryLocker(), path).ProcessBounces(context.Background(),
		ProcessOptions{Protocol: "mbox", Test: true, PurgeUnprocessed: true})
	require.NoError(t, err)
	require.Equal(t, 0, report.Ingest.Mailboxes[0].Deleted)

	mb, err := (&mailbox.MboxOpener{}).Open(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 3, mb.NumMessages())
	require.NoError(t, mb.Close(false))
}

func TestProcessBouncesLockHeld(t *testing.T) {
	ctx := context.Background()
	store := repotest.NewStore()
	path := writeBounceMbox(t, 1, "nobody@example.com")
	locker := lock.NewMemoryLocker()
	_, ok, err := locker.TryAcquire(ctx, BounceLockName, false)
	require.NoError(t, err)
	require.True(t, ok)

	svc := newBounceService(store, locker, path)
	report, err := svc.ProcessBounces(ctx, ProcessOptions{Protocol: "mbox"})
	require.NoError(t, err)
	require.True(t, report.Skipped)
	require.Equal(t, 0, store.BounceCount())

	// Force takes over a stale lock.
	report, err = svc.ProcessBounces(ctx, ProcessOptions{Protocol: "mbox", Force: true})
	require.NoError(t, err)
	require.False(t, report.Skipped)
	require.Equal(t, 2, store.BounceCount())
}

func TestProcessBouncesUnknownProtocol(t *testing.T) {
	store := repotest.NewStore()
	_, err := newBounceService(store, lock.NewMemoryLocker(), "unused").ProcessBounces(context.Background(),
		ProcessOptions{Protocol: "uucp"})
	require.ErrorContains(t, err, "uucp")
}
