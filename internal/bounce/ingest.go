package bounce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/mailbox"
	"github.com/unclebandit/newsletter-backend/internal/mailparse"
	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/repository"
)

// delayedNoticeRe matches delivery status notifications that only report a
// delay. They are not bounces and are never recorded.
var delayedNoticeRe = regexp.MustCompile(`(?is)Action:\s*delayed.*?Status:\s*4\.4\.7`)

// Archiver keeps a copy of a raw message before it is purged.
type Archiver interface {
	Archive(ctx context.Context, raw []byte) (string, error)
}

type IngestOptions struct {
	Mailboxes        []string
	TestMode         bool
	PurgeProcessed   bool
	PurgeUnprocessed bool
	MaxMessages      int
}

// SplitMailboxes turns a comma separated mailbox list into names, dropping
// blanks.
func SplitMailboxes(list string) []string {
	names := []string{}
	for _, name := range strings.Split(list, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

type MailboxReport struct {
	Mailbox      string
	Messages     int
	Processed    int
	Unidentified int
	Delayed      int
	Deleted      int
	Err          error
}

func (r MailboxReport) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %v", r.Mailbox, r.Err)
	}
	return fmt.Sprintf("%s: %d messages, %d processed, %d not processed, %d delay notices, %d deleted",
		r.Mailbox, r.Messages, r.Processed, r.Unidentified, r.Delayed, r.Deleted)
}

type IngestReport struct {
	Protocol  string
	Mailboxes []MailboxReport
}

func (r IngestReport) String() string {
	lines := make([]string, 0, len(r.Mailboxes))
	for _, m := range r.Mailboxes {
		lines = append(lines, r.Protocol+" "+m.String())
	}
	return strings.Join(lines, "\n")
}

// Ingester pulls bounces out of the mailboxes of one protocol, stores and
// classifies them, and purges what the policy allows.
type Ingester struct {
	Protocol  string
	Opener    mailbox.Opener
	Parser    *mailparse.Parser
	Bounces   repository.BounceRepositoryInterface
	Processor *DataProcessor
	Archiver  Archiver
	Log       *slog.Logger
}

func (in *Ingester) log() *slog.Logger {
	if in.Log == nil {
		return slog.Default()
	}
	return in.Log
}

// Process walks every mailbox in opts. A mailbox that cannot be opened is
// reported and skipped; any other failure aborts the run.
func (in *Ingester) Process(ctx context.Context, opts IngestOptions) (IngestReport, error) {
	report := IngestReport{Protocol: in.Protocol}
	for _, name := range opts.Mailboxes {
		mr, err := in.processMailbox(ctx, name, opts)
		var openErr *appErrors.OpenMailboxError
		if errors.As(err, &openErr) {
			in.log().Error("Cannot open bounce mailbox", "protocol", in.Protocol,
				"mailbox", name, "err", err)
			mr.Err = err
			report.Mailboxes = append(report.Mailboxes, mr)
			continue
		}
		report.Mailboxes = append(report.Mailboxes, mr)
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

func (in *Ingester) processMailbox(ctx context.Context, name string, opts IngestOptions) (report MailboxReport, err error) {
	report.Mailbox = name

	mb, err := in.Opener.Open(ctx, name)
	if err != nil {
		return report, err
	}
	defer func() {
		if cerr := mb.Close(!opts.TestMode); cerr != nil && err == nil {
			err = fmt.Errorf("close mailbox %s: %w", name, cerr)
		}
	}()

	total := mb.NumMessages()
	n := total
	if opts.MaxMessages > 0 && n > opts.MaxMessages {
		n = opts.MaxMessages
		in.log().Info("Processing first messages only", "mailbox", name,
			"processing", n, "total", total)
	}
	report.Messages = n
	if n == 0 {
		in.log().Info("Bounce mailbox is empty", "mailbox", name)
		return report, nil
	}

	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		actionable, delayed, err := in.processMessage(ctx, mb, i)
		if err != nil {
			return report, fmt.Errorf("mailbox %s message %d: %w", name, i, err)
		}
		switch {
		case delayed:
			report.Delayed++
		case actionable:
			report.Processed++
		default:
			report.Unidentified++
		}

		if opts.TestMode {
			continue
		}
		if (actionable && opts.PurgeProcessed) || (!actionable && opts.PurgeUnprocessed) {
			deleted, err := in.purge(ctx, mb, i)
			if err != nil {
				return report, fmt.Errorf("mailbox %s message %d: %w", name, i, err)
			}
			if deleted {
				report.Deleted++
			}
		}
	}

	in.log().Info("Bounce mailbox processed", "protocol", in.Protocol, "mailbox", name,
		"processed", report.Processed, "not_processed", report.Unidentified,
		"delayed", report.Delayed, "deleted", report.Deleted)
	return report, nil
}

// processMessage returns whether message i counts as processed, and whether
// it was only a delay notice.
func (in *Ingester) processMessage(ctx context.Context, mb mailbox.Mailbox, i int) (bool, bool, error) {
	header, err := mb.Header(i)
	if err != nil {
		return false, false, fmt.Errorf("fetch header: %w", err)
	}
	raw, err := mb.Body(i)
	if err != nil {
		return false, false, fmt.Errorf("fetch body: %w", err)
	}
	body := mailparse.DecodeBody(header, raw)

	if delayedNoticeRe.MatchString(body) {
		return true, true, nil
	}

	messageID := mailparse.FindMessageID(body)
	userID, err := in.Parser.FindUserID(ctx, body)
	if err != nil {
		return false, false, fmt.Errorf("resolve subscriber: %w", err)
	}

	date := mb.Date(i)
	b := &model.Bounce{Date: date, Header: header, Data: body}
	if err := in.Bounces.Create(ctx, b); err != nil {
		return false, false, fmt.Errorf("store bounce: %w", err)
	}

	c, err := in.Processor.Process(ctx, b, messageID, userID, date)
	if err != nil {
		return false, false, err
	}
	in.log().Debug("Bounce classified", "bounce_id", b.ID, "kind", c.Kind.String())
	return c.Actionable(), false, nil
}

// purge archives message i when an archiver is configured and then deletes
// it. A failed archive keeps the message in the mailbox.
func (in *Ingester) purge(ctx context.Context, mb mailbox.Mailbox, i int) (bool, error) {
	if in.Archiver != nil {
		raw, err := mb.Raw(i)
		if err != nil {
			return false, fmt.Errorf("fetch raw message: %w", err)
		}
		key, err := in.Archiver.Archive(ctx, raw)
		if err != nil {
			in.log().Warn("Archiving bounce failed, keeping it in the mailbox",
				"message", i, "err", err)
			return false, nil
		}
		in.log().Debug("Bounce archived", "message", i, "key", key)
	}
	if err := mb.Delete(i); err != nil {
		return false, fmt.Errorf("delete: %w", err)
	}
	return true, nil
}
