// Package trigger turns external events — app notifications, geofence
// transitions, new photos — into pipeline runs.
package trigger

import (
	"context"
	"sync"
	"time"

	"relay/internal/logging"
	"relay/internal/observability"
	"relay/internal/pipeline"
)

// DefaultDebounceWindow suppresses notification bursts: chat apps and mail
// clients fire several notifications for one logical event.
const DefaultDebounceWindow = 3000 * time.Millisecond

// Debouncer admits at most one event per key per window. The window is only
// armed by admitted events; a suppressed event does not extend it.
type Debouncer struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time
	now    func() time.Time
}

func NewDebouncer(window time.Duration) *Debouncer {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Debouncer{
		window: window,
		last:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Allow reports whether an event for key may proceed, recording the event
// time only when it does.
func (d *Debouncer) Allow(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if last, ok := d.last[key]; ok && now.Sub(last) < d.window {
		return false
	}
	d.last[key] = now
	return true
}

// EventProcessor runs the pipeline for one application event.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, ev pipeline.Event) []pipeline.RunResult
}

// NotificationTrigger handles posted-notification events from watched apps.
type NotificationTrigger struct {
	debouncer *Debouncer
	sources   map[string]string // package name -> source app name
	runner    EventProcessor
	metrics   *observability.Metrics
	logger    logging.Logger
}

// NewNotificationTrigger maps package names to source app names ("Gmail",
// "Telegram") and debounces per package.
func NewNotificationTrigger(debouncer *Debouncer, sources map[string]string, runner EventProcessor, metrics *observability.Metrics, logger logging.Logger) *NotificationTrigger {
	return &NotificationTrigger{
		debouncer: debouncer,
		sources:   sources,
		runner:    runner,
		metrics:   metrics,
		logger:    logging.OrNop(logger),
	}
}

// HandleNotification runs the pipeline for a notification from pkg. title is
// passed along as the source selection hint. Unknown packages and debounced
// events are dropped.
func (t *NotificationTrigger) HandleNotification(ctx context.Context, pkg, title string) {
	app, ok := t.sources[pkg]
	if !ok {
		t.logger.Debug("ignoring notification from unwatched package %s", pkg)
		t.metrics.RecordTrigger(pkg, "ignored")
		return
	}
	if !t.debouncer.Allow(pkg) {
		t.logger.Debug("debounced notification from %s", pkg)
		t.metrics.RecordTrigger(app, "debounced")
		return
	}
	t.logger.Info("notification trigger app=%s", app)
	t.metrics.RecordTrigger(app, "accepted")
	t.runner.ProcessEvent(ctx, pipeline.Event{App: app, Hint: title})
}
