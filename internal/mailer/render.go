package mailer

import (
	"bytes"
	"fmt"
	"net/mail"
	"strconv"

	gomail "github.com/emersion/go-message/mail"
	"github.com/yuin/goldmark"

	"github.com/unclebandit/newsletter-backend/internal/model"
)

// Header fields tying a sent message back to its campaign and subscriber
// when it bounces.
const (
	HeaderMessageID  = "X-MessageId"
	HeaderListMember = "X-ListMember"
)

// Content is a campaign rendered once, before personalization.
type Content struct {
	HTML string
	Text string
}

// Renderer turns campaign Markdown into HTML, keeping the source as the
// text alternative.
type Renderer struct {
	md goldmark.Markdown
}

func NewRenderer() *Renderer {
	return &Renderer{md: goldmark.New()}
}

func (r *Renderer) Render(c *model.Campaign) (Content, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(c.Content), &buf); err != nil {
		return Content{}, fmt.Errorf("render campaign %d: %w", c.ID, err)
	}
	return Content{HTML: buf.String(), Text: c.Content}, nil
}

// Personalize addresses content to sub. Subscribers that did not opt into
// HTML get the text part only.
func (r *Renderer) Personalize(content Content, c *model.Campaign, sub *model.Subscriber) (*Email, error) {
	e := &Email{
		To:      &gomail.Address{Address: sub.Email},
		Subject: c.Subject,
		Text:    content.Text,
		Headers: map[string]string{
			HeaderMessageID:  strconv.Itoa(c.ID),
			HeaderListMember: sub.Email,
		},
	}
	if sub.HTMLEmail {
		e.HTML = content.HTML
	}
	if c.FromField != "" {
		from, err := mail.ParseAddress(c.FromField)
		if err != nil {
			return nil, fmt.Errorf("campaign %d from address %q: %w", c.ID, c.FromField, err)
		}
		e.From = &gomail.Address{Name: from.Name, Address: from.Address}
	}
	return e, nil
}
