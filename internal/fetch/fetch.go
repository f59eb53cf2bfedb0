// Package fetch resolves the source side of a workflow into a concrete
// message. Gmail is fetched through the mail client; Maps and Photos sources
// carry no inbox, so their content is synthesized from the trigger itself.
package fetch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"relay/internal/logging"
	"relay/internal/workflow"
)

// Message is the normalized source content fed into the transform step.
type Message struct {
	ID        string
	From      string
	To        string
	Subject   string
	Body      string
	Timestamp int64 // unix ms
}

// MailClient is the mail provider surface the fetcher and dispatcher consume.
type MailClient interface {
	// Initialize authenticates the client. Safe to call repeatedly.
	Initialize(ctx context.Context) error
	// FetchLatest returns recent inbox messages, newest first.
	FetchLatest(ctx context.Context) ([]Message, error)
	// Send delivers a plain message.
	Send(ctx context.Context, to, subject, body string) error
	// SendWithAttachment delivers a message with one file attached.
	SendWithAttachment(ctx context.Context, to, subject, body, filename string, data []byte) error
	// MarkRead marks a fetched message as read.
	MarkRead(ctx context.Context, id string) error
}

// Fetcher turns a workflow's source into a Message.
type Fetcher struct {
	mail   MailClient
	logger logging.Logger
	now    func() time.Time
}

// NewFetcher builds a fetcher. mail may be nil when no Gmail workflows exist.
func NewFetcher(mail MailClient, logger logging.Logger) *Fetcher {
	return &Fetcher{
		mail:   mail,
		logger: logging.OrNop(logger),
		now:    time.Now,
	}
}

// Fetch resolves source content for wf. hint is the trigger's title or
// transition label. A nil Message with a nil error means there was nothing
// to process; the caller aborts the run without treating it as a failure of
// the fetch machinery itself.
func (f *Fetcher) Fetch(ctx context.Context, wf *workflow.Workflow, hint string) (*Message, error) {
	switch wf.Source {
	case workflow.SourceGmail:
		return f.fetchGmail(ctx, wf.SourceAccount, hint)
	case workflow.SourceTelegram:
		// Inbound Telegram fetching is not wired up; the source only exists
		// as a destination today.
		f.logger.Warn("telegram source fetching not implemented")
		return nil, nil
	case workflow.SourceMaps:
		return f.geofenceMessage(hint), nil
	case workflow.SourcePhotos:
		return f.photosMessage(), nil
	default:
		return nil, fmt.Errorf("unknown source %q", wf.Source)
	}
}

// fetchGmail picks the newest message that matches the account filter and,
// when a subject hint is available, prefers the first subject match.
func (f *Fetcher) fetchGmail(ctx context.Context, account, subjectHint string) (*Message, error) {
	if f.mail == nil {
		return nil, fmt.Errorf("mail client not configured")
	}
	if err := f.mail.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize mail client: %w", err)
	}

	messages, err := f.mail.FetchLatest(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch latest mail: %w", err)
	}
	f.logger.Debug("fetched %d messages", len(messages))

	filtered := messages
	if account != "" && account != workflow.AccountAny {
		filtered = nil
		for _, m := range messages {
			if strings.Contains(m.To, account) || strings.Contains(m.From, account) {
				filtered = append(filtered, m)
			}
		}
	}
	if len(filtered) == 0 {
		f.logger.Debug("no messages matched account filter %q", account)
		return nil, nil
	}

	target := filtered[0]
	if subjectHint != "" {
		for _, m := range filtered {
			if strings.Contains(strings.ToLower(m.Subject), strings.ToLower(subjectHint)) {
				target = m
				break
			}
		}
	}
	f.logger.Debug("selected message subject=%q", target.Subject)
	return &target, nil
}

// geofenceMessage fabricates content for a location trigger so the transform
// step has something to work from. An empty hint yields nothing.
func (f *Fetcher) geofenceMessage(hint string) *Message {
	if strings.TrimSpace(hint) == "" {
		return nil
	}
	ms := f.now().UnixMilli()
	return &Message{
		ID:        fmt.Sprintf("geofence-%d", ms),
		From:      "Geofence",
		Subject:   hint,
		Body:      hint,
		Timestamp: ms,
	}
}

func (f *Fetcher) photosMessage() *Message {
	ms := f.now().UnixMilli()
	return &Message{
		ID:        fmt.Sprintf("photos-%d", ms),
		From:      "Photos",
		Subject:   "Photos Trigger",
		Body:      "New photos detected",
		Timestamp: ms,
	}
}
