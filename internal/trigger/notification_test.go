package trigger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/pipeline"
	"relay/internal/workflow"
)

type recordingProcessor struct {
	mu     sync.Mutex
	events []pipeline.Event
	photos []pipeline.PhotoEvent
	runs   [][]workflow.Workflow
}

func (r *recordingProcessor) ProcessEvent(_ context.Context, ev pipeline.Event) []pipeline.RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return []pipeline.RunResult{{State: pipeline.StateLogged}}
}

func (r *recordingProcessor) ProcessPhoto(_ context.Context, ev pipeline.PhotoEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.photos = append(r.photos, ev)
}

func (r *recordingProcessor) RunWorkflows(_ context.Context, wfs []workflow.Workflow, hint string) []pipeline.RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, wfs)
	results := make([]pipeline.RunResult, len(wfs))
	for i, wf := range wfs {
		results[i] = pipeline.RunResult{Workflow: wf, State: pipeline.StateLogged}
	}
	return results
}

func (r *recordingProcessor) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

var testSources = map[string]string{
	"com.google.android.gm":  "Gmail",
	"org.telegram.messenger": "Telegram",
}

func TestDebouncerSuppressesWithinWindow(t *testing.T) {
	d := NewDebouncer(3 * time.Second)
	now := time.Unix(0, 0)
	d.now = func() time.Time { return now }

	assert.True(t, d.Allow("gmail"))

	now = now.Add(500 * time.Millisecond)
	assert.False(t, d.Allow("gmail"), "second event 500ms later is suppressed")

	now = now.Add(2499 * time.Millisecond)
	assert.False(t, d.Allow("gmail"), "window counts from the accepted event")

	now = now.Add(1 * time.Millisecond)
	assert.True(t, d.Allow("gmail"), "window expired")
}

func TestDebouncerSuppressedEventDoesNotExtendWindow(t *testing.T) {
	d := NewDebouncer(3 * time.Second)
	now := time.Unix(0, 0)
	d.now = func() time.Time { return now }

	require.True(t, d.Allow("k"))
	now = now.Add(2900 * time.Millisecond)
	require.False(t, d.Allow("k"))
	now = now.Add(200 * time.Millisecond)
	assert.True(t, d.Allow("k"), "suppressed event must not restart the window")
}

func TestDebouncerKeysAreIndependent(t *testing.T) {
	d := NewDebouncer(3 * time.Second)
	now := time.Unix(0, 0)
	d.now = func() time.Time { return now }

	assert.True(t, d.Allow("gmail"))
	assert.True(t, d.Allow("telegram"))
}

func TestNotificationTriggerDoubleEventRunsOnce(t *testing.T) {
	proc := &recordingProcessor{}
	d := NewDebouncer(3 * time.Second)
	now := time.Unix(0, 0)
	d.now = func() time.Time { return now }

	tr := NewNotificationTrigger(d, testSources, proc, nil, nil)
	ctx := context.Background()

	tr.HandleNotification(ctx, "com.google.android.gm", "New mail")
	now = now.Add(500 * time.Millisecond)
	tr.HandleNotification(ctx, "com.google.android.gm", "New mail")

	assert.Equal(t, 1, proc.eventCount(), "two notifications 500ms apart produce one run")
	assert.Equal(t, "Gmail", proc.events[0].App)
	assert.Equal(t, "New mail", proc.events[0].Hint)
}

func TestNotificationTriggerIgnoresUnwatchedPackage(t *testing.T) {
	proc := &recordingProcessor{}
	tr := NewNotificationTrigger(NewDebouncer(0), testSources, proc, nil, nil)

	tr.HandleNotification(context.Background(), "com.example.random", "whatever")
	assert.Equal(t, 0, proc.eventCount())
}

func TestNotificationTriggerMapsPackageToApp(t *testing.T) {
	proc := &recordingProcessor{}
	tr := NewNotificationTrigger(NewDebouncer(0), testSources, proc, nil, nil)

	tr.HandleNotification(context.Background(), "org.telegram.messenger", "ping")
	require.Equal(t, 1, proc.eventCount())
	assert.Equal(t, "Telegram", proc.events[0].App)
}
