package bounce

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/model"
)

func TestResolveUnknownAction(t *testing.T) {
	env := newTestEnv()
	_, err := env.resolver.Resolve("sendflowers")

	var unknown *appErrors.UnknownActionError
	require.True(t, errors.As(err, &unknown))
	require.Equal(t, "sendflowers", unknown.Action)
}

func TestResolveEveryBuiltInAction(t *testing.T) {
	env := newTestEnv()
	for _, action := range []string{
		"deletebounce",
		"deleteuser", "deleteuserandbounce",
		"blacklistemail", "blacklistemailanddeletebounce",
		"blacklistuser", "blacklistuseranddeletebounce",
		"unconfirmuser", "unconfirmuseranddeletebounce",
		"decreasecountconfirmuseranddeletebounce",
	} {
		h, err := env.resolver.Resolve(action)
		require.NoError(t, err, action)
		require.True(t, h.Supports(action), action)
	}
}

func handle(t *testing.T, env *testEnv, action string, sub *model.Subscriber, b *model.Bounce) {
	t.Helper()
	h, err := env.resolver.Resolve(action)
	require.NoError(t, err)

	ac := ActionContext{RuleID: 42, Bounce: b}
	if sub != nil {
		ac.Subscriber = sub
		ac.UserID = sub.ID
		ac.Confirmed = sub.Confirmed
		ac.Blacklisted = sub.Blacklisted
	}
	require.NoError(t, h.Handle(context.Background(), ac))
}

func TestDeleteBounceAction(t *testing.T) {
	env := newTestEnv()
	b := env.newBounce()
	handle(t, env, "deletebounce", nil, b)

	_, ok := env.store.Bounce(b.ID)
	require.False(t, ok)
}

func TestDeleteUserActions(t *testing.T) {
	env := newTestEnv()
	sub := env.store.AddSubscriber(model.Subscriber{Email: "a@example.com", Confirmed: true})
	b := env.newBounce()

	handle(t, env, "deleteuser", &sub, b)
	_, ok := env.store.Subscriber(sub.ID)
	require.False(t, ok)
	_, ok = env.store.Bounce(b.ID)
	require.True(t, ok, "deleteuser keeps the bounce")

	other := env.store.AddSubscriber(model.Subscriber{Email: "b@example.com"})
	handle(t, env, "deleteuserandbounce", &other, b)
	_, ok = env.store.Bounce(b.ID)
	require.False(t, ok)
}

func TestBlacklistActions(t *testing.T) {
	env := newTestEnv()
	sub := env.store.AddSubscriber(model.Subscriber{Email: "a@example.com", Confirmed: true})
	b := env.newBounce()

	handle(t, env, "blacklistemailanddeletebounce", &sub, b)

	after, _ := env.store.Subscriber(sub.ID)
	require.True(t, after.Blacklisted)
	reason, ok := env.store.BlacklistReason("A@example.com")
	require.True(t, ok)
	require.Equal(t, "Email address auto blacklisted by bounce rule 42", reason)
	_, ok = env.store.Bounce(b.ID)
	require.False(t, ok)
}

func TestBlacklistUserSkipsBlacklisted(t *testing.T) {
	env := newTestEnv()
	sub := env.store.AddSubscriber(model.Subscriber{Email: "a@example.com", Blacklisted: true})
	b := env.newBounce()

	handle(t, env, "blacklistuser", &sub, b)
	require.Empty(t, env.store.HistoryFor(sub.ID))
	_, ok := env.store.BlacklistReason(sub.Email)
	require.False(t, ok)
}

func TestUnconfirmUserOnlyWhenConfirmed(t *testing.T) {
	env := newTestEnv()
	confirmed := env.store.AddSubscriber(model.Subscriber{Email: "a@example.com", Confirmed: true})
	unconfirmed := env.store.AddSubscriber(model.Subscriber{Email: "b@example.com"})

	handle(t, env, "unconfirmuser", &confirmed, env.newBounce())
	handle(t, env, "unconfirmuser", &unconfirmed, env.newBounce())

	after, _ := env.store.Subscriber(confirmed.ID)
	require.False(t, after.Confirmed)
	require.Len(t, env.store.HistoryFor(confirmed.ID), 1)
	require.Empty(t, env.store.HistoryFor(unconfirmed.ID))
}

func TestDecreaseCountConfirmUser(t *testing.T) {
	env := newTestEnv()
	sub := env.store.AddSubscriber(model.Subscriber{Email: "a@example.com", BounceCount: 3})
	b := env.newBounce()

	handle(t, env, "decreasecountconfirmuseranddeletebounce", &sub, b)

	after, _ := env.store.Subscriber(sub.ID)
	require.Equal(t, 2, after.BounceCount)
	require.True(t, after.Confirmed)
	_, ok := env.store.Bounce(b.ID)
	require.False(t, ok)
}

func TestActionsWithoutSubscriberOnlyTouchBounce(t *testing.T) {
	env := newTestEnv()
	b := env.newBounce()

	handle(t, env, "blacklistuser", nil, b)
	_, ok := env.store.Bounce(b.ID)
	require.True(t, ok)

	handle(t, env, "unconfirmuseranddeletebounce", nil, b)
	_, ok = env.store.Bounce(b.ID)
	require.False(t, ok)
}
