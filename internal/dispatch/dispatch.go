// Package dispatch delivers processed content to a workflow's destination.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"relay/internal/fetch"
	"relay/internal/logging"
	"relay/internal/observability"
	"relay/internal/transform"
	"relay/internal/workflow"
)

// Result is the outcome of one delivery attempt.
type Result struct {
	Success bool
	Message string
	Err     string
}

func failure(format string, args ...any) Result {
	return Result{Err: fmt.Sprintf(format, args...)}
}

// TelegramClient is the outbound Telegram surface.
type TelegramClient interface {
	// Initialize verifies the bot credentials. Safe to call repeatedly.
	Initialize(ctx context.Context) error
	// SendMessage delivers text to the chat identified by chatID.
	SendMessage(ctx context.Context, chatID, text string) error
}

// Dispatcher routes processed messages to their destination channel.
type Dispatcher struct {
	mail     fetch.MailClient
	telegram TelegramClient
	metrics  *observability.Metrics
	logger   logging.Logger
	now      func() time.Time
}

// NewDispatcher builds a dispatcher. Either client may be nil when no
// workflow targets that destination; attempts then fail with a clear error.
func NewDispatcher(mail fetch.MailClient, telegram TelegramClient, metrics *observability.Metrics, logger logging.Logger) *Dispatcher {
	return &Dispatcher{
		mail:     mail,
		telegram: telegram,
		metrics:  metrics,
		logger:   logging.OrNop(logger),
		now:      time.Now,
	}
}

// Dispatch sends content to dest/account and reports the outcome. Unknown
// destinations are never attempted.
func (d *Dispatcher) Dispatch(ctx context.Context, dest workflow.DestinationKind, account string, content transform.Processed) Result {
	var result Result
	switch dest {
	case workflow.DestinationGmail:
		result = d.sendMail(ctx, account, content)
	case workflow.DestinationTelegram:
		result = d.sendTelegram(ctx, account, content)
	default:
		result = failure("unknown destination: %s", dest)
	}
	d.metrics.RecordDispatch(string(dest), result.Success)
	return result
}

// DispatchPhoto sends a photo attachment to a Gmail destination. Telegram
// photo delivery is not wired up.
func (d *Dispatcher) DispatchPhoto(ctx context.Context, dest workflow.DestinationKind, account, subject, body string, image []byte) Result {
	if dest != workflow.DestinationGmail {
		result := failure("photo delivery not supported for destination: %s", dest)
		d.metrics.RecordDispatch(string(dest), false)
		return result
	}
	if d.mail == nil {
		d.metrics.RecordDispatch(string(dest), false)
		return failure("mail client not configured")
	}
	if err := d.mail.Initialize(ctx); err != nil {
		d.metrics.RecordDispatch(string(dest), false)
		return failure("initialize mail client: %v", err)
	}

	name := fmt.Sprintf("photo_%d.jpg", d.now().UnixMilli())
	if err := d.mail.SendWithAttachment(ctx, account, subject, body, name, image); err != nil {
		d.metrics.RecordDispatch(string(dest), false)
		return failure("send photo email: %v", err)
	}
	d.metrics.RecordDispatch(string(dest), true)
	return Result{Success: true, Message: fmt.Sprintf("Photo emailed to %s", account)}
}

func (d *Dispatcher) sendMail(ctx context.Context, account string, content transform.Processed) Result {
	if d.mail == nil {
		return failure("mail client not configured")
	}
	// Re-init covers runs triggered by non-mail sources.
	if err := d.mail.Initialize(ctx); err != nil {
		return failure("initialize mail client: %v", err)
	}

	subject := content.Subject
	if subject == "" {
		subject = "Processed: " + content.Original.Subject
	}
	if err := d.mail.Send(ctx, account, subject, content.Body); err != nil {
		return failure("send email: %v", err)
	}

	// Best effort; the source message staying unread only risks a duplicate
	// run, never a lost delivery.
	if content.Original.ID != "" {
		if err := d.mail.MarkRead(ctx, content.Original.ID); err != nil {
			d.logger.Warn("failed to mark source message %s as read: %v", content.Original.ID, err)
		}
	}
	return Result{Success: true, Message: fmt.Sprintf("Email sent successfully to %s", account)}
}

func (d *Dispatcher) sendTelegram(ctx context.Context, chatID string, content transform.Processed) Result {
	if d.telegram == nil {
		return failure("telegram client not configured")
	}
	if err := d.telegram.Initialize(ctx); err != nil {
		return failure("initialize telegram client: %v", err)
	}

	message := fmt.Sprintf("Processed Message\nFrom: %s\nSubject: %s\n\n%s",
		content.Original.From, content.Original.Subject, content.Body)
	if err := d.telegram.SendMessage(ctx, chatID, message); err != nil {
		return failure("send telegram message: %v", err)
	}
	return Result{Success: true, Message: fmt.Sprintf("Message sent to Telegram: %s", chatID)}
}
