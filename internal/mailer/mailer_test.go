package mailer

import (
	"context"
	"strings"
	"testing"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/newsletter-backend/internal/model"
)

func TestValidEmail(t *testing.T) {
	cases := map[string]bool{
		"user@example.com":               true,
		"first.last+tag@sub.example.org": true,
		"user@localhost":                 false,
		"a@@example.com":                 false,
		"user..dots@example.com":         false,
		".user@example.com":              false,
		"user@example.c":                 false,
		"user@-example.com":              false,
		"user name@example.com":          false,
		"":                               false,
	}
	for email, want := range cases {
		require.Equal(t, want, ValidEmail(email), email)
	}
}

func TestRenderAndPersonalize(t *testing.T) {
	r := NewRenderer()
	c := &model.Campaign{ID: 7, Subject: "Hello", FromField: "News <news@example.com>",
		Content: "# Welcome\n\nSome *news*."}

	content, err := r.Render(c)
	require.NoError(t, err)
	require.Contains(t, content.HTML, "<h1>Welcome</h1>")
	require.Contains(t, content.HTML, "<em>news</em>")
	require.Equal(t, c.Content, content.Text)

	e, err := r.Personalize(content, c, &model.Subscriber{ID: 3, Email: "a@example.com", HTMLEmail: true})
	require.NoError(t, err)
	require.Equal(t, "a@example.com", e.To.Address)
	require.Equal(t, "news@example.com", e.From.Address)
	require.Equal(t, "7", e.Headers[HeaderMessageID])
	require.Equal(t, "a@example.com", e.Headers[HeaderListMember])
	require.NotEmpty(t, e.HTML)

	textOnly, err := r.Personalize(content, c, &model.Subscriber{ID: 4, Email: "b@example.com"})
	require.NoError(t, err)
	require.Empty(t, textOnly.HTML)
}

func TestPersonalizeRejectsBadFrom(t *testing.T) {
	r := NewRenderer()
	c := &model.Campaign{ID: 1, FromField: "not an address"}
	_, err := r.Personalize(Content{}, c, &model.Subscriber{Email: "a@example.com"})
	require.Error(t, err)
}

func TestComposeMultipart(t *testing.T) {
	raw, err := Compose(&Email{
		From:    &mail.Address{Address: "news@example.com"},
		To:      &mail.Address{Address: "a@example.com"},
		Subject: "Hi",
		Text:    "plain body",
		HTML:    "<p>html body</p>",
		Headers: map[string]string{HeaderMessageID: "7"},
	})
	require.NoError(t, err)

	msg := string(raw)
	require.Contains(t, strings.ToLower(msg), "x-messageid: 7")
	require.Contains(t, msg, "multipart/alternative")
	require.Contains(t, msg, "plain body")
	require.Contains(t, msg, "<p>html body</p>")

	r, err := mail.CreateReader(strings.NewReader(msg))
	require.NoError(t, err)
	subject, err := r.Header.Subject()
	require.NoError(t, err)
	require.Equal(t, "Hi", subject)
}

func TestComposeTextOnly(t *testing.T) {
	raw, err := Compose(&Email{To: &mail.Address{Address: "a@example.com"}, Text: "only text"})
	require.NoError(t, err)
	require.Contains(t, string(raw), "text/plain")
	require.NotContains(t, string(raw), "multipart")
}

func TestMemorySizeCacheComputesOnce(t *testing.T) {
	ctx := context.Background()
	c := NewMemorySizeCache()
	calls := 0
	compute := func() int { calls++; return 512 }

	for i := 0; i < 3; i++ {
		n, err := c.Size(ctx, 1, "html", compute)
		require.NoError(t, err)
		require.Equal(t, 512, n)
	}
	_, err := c.Size(ctx, 1, "text", compute)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}
