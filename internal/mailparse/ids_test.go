package mailparse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/repository/repotest"
)

func TestFindMessageID(t *testing.T) {
	id := FindMessageID("Received: x\nX-MessageId: 42\nSubject: hi\n")
	require.Equal(t, "42", id.UnwrapOr(""))

	id = FindMessageID("x-messageid: systemmessage\n")
	require.Equal(t, "systemmessage", id.UnwrapOr(""))

	require.True(t, FindMessageID("Subject: no id here").IsNone())
}

func TestFindUserID(t *testing.T) {
	ctx := context.Background()
	store := repotest.NewStore()
	alice := store.AddSubscriber(model.Subscriber{Email: "alice@example.com", Confirmed: true})
	p := &Parser{Subscribers: store.Subscribers()}

	t.Run("numeric header token", func(t *testing.T) {
		id, err := p.FindUserID(ctx, "X-ListMember: 977\n")
		require.NoError(t, err)
		require.Equal(t, 977, id.UnwrapOr(0))
	})

	t.Run("zero id token is not a user", func(t *testing.T) {
		id, err := p.FindUserID(ctx, "X-User: 0\n")
		require.NoError(t, err)
		require.True(t, id.IsNone())

		id, err = p.FindUserID(ctx, "X-ListMember: 0\nFinal-Recipient: rfc822; alice@example.com\n")
		require.NoError(t, err)
		require.Equal(t, alice.ID, id.UnwrapOr(0))
	})

	t.Run("email header token", func(t *testing.T) {
		id, err := p.FindUserID(ctx, "X-User: Alice@Example.com\n")
		require.NoError(t, err)
		require.Equal(t, alice.ID, id.UnwrapOr(0))
	})

	t.Run("unknown email header token", func(t *testing.T) {
		id, err := p.FindUserID(ctx, "X-User: nobody@example.com\n")
		require.NoError(t, err)
		require.True(t, id.IsNone())
	})

	t.Run("scan finds known subscriber", func(t *testing.T) {
		text := "Delivery to the following recipients failed.\n\n" +
			"   stranger@example.org\n   alice@example.com\n"
		id, err := p.FindUserID(ctx, text)
		require.NoError(t, err)
		require.Equal(t, alice.ID, id.UnwrapOr(0))
	})

	t.Run("nothing resolvable", func(t *testing.T) {
		id, err := p.FindUserID(ctx, "Mail delivery failed: stranger@example.org")
		require.NoError(t, err)
		require.True(t, id.IsNone())
	})
}
