package trigger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/pipeline"
)

func writePhoto(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func newTestWatcher(t *testing.T, dir string, proc PhotoProcessor) *PhotoWatcher {
	t.Helper()
	w, err := NewPhotoWatcher(dir, proc, func(string) int64 { return 42 }, nil)
	require.NoError(t, err)
	return w
}

// Offer drains in the background; tests wait for the queue to settle.
func waitPhotos(t *testing.T, proc *recordingProcessor, n int, msg string) {
	t.Helper()
	require.Eventually(t, func() bool {
		proc.mu.Lock()
		defer proc.mu.Unlock()
		return len(proc.photos) == n
	}, 2*time.Second, 5*time.Millisecond, msg)
}

func TestOfferProcessesImage(t *testing.T) {
	dir := t.TempDir()
	proc := &recordingProcessor{}
	w := newTestWatcher(t, dir, proc)

	path := writePhoto(t, dir, "img1.jpg", []byte{0xFF, 0xD8})
	w.Offer(context.Background(), path)

	waitPhotos(t, proc, 1, "offered image reaches the pipeline")
	assert.Equal(t, path, proc.photos[0].Path)
	assert.Equal(t, int64(42), proc.photos[0].Timestamp)
	assert.Equal(t, []byte{0xFF, 0xD8}, proc.photos[0].Data)
}

func TestOfferIgnoresNonImages(t *testing.T) {
	dir := t.TempDir()
	proc := &recordingProcessor{}
	w := newTestWatcher(t, dir, proc)

	path := writePhoto(t, dir, "notes.txt", []byte("hello"))
	w.Offer(context.Background(), path)
	assert.Empty(t, proc.photos)
}

func TestOfferSuppressesDuplicateEvents(t *testing.T) {
	dir := t.TempDir()
	proc := &recordingProcessor{}
	w := newTestWatcher(t, dir, proc)

	now := time.Unix(0, 0)
	w.now = func() time.Time { return now }

	path := writePhoto(t, dir, "img.jpg", []byte{1})
	ctx := context.Background()

	w.Offer(ctx, path)
	now = now.Add(100 * time.Millisecond)
	w.Offer(ctx, path)
	waitPhotos(t, proc, 1, "create+write burst collapses to one event")

	now = now.Add(3 * time.Second)
	w.Offer(ctx, path)
	waitPhotos(t, proc, 2, "a later rewrite is a fresh event")
}

func TestDrainSingleFlight(t *testing.T) {
	dir := t.TempDir()
	proc := &recordingProcessor{}
	w := newTestWatcher(t, dir, proc)

	// Simulate a drain already in progress: offers queue but do not process.
	w.draining.Store(true)

	p1 := writePhoto(t, dir, "a.jpg", []byte{1})
	p2 := writePhoto(t, dir, "b.jpg", []byte{2})
	ctx := context.Background()
	w.Offer(ctx, p1)
	w.Offer(ctx, p2)

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return len(w.pending) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, proc.photos, "queued behind the in-flight drain")

	w.draining.Store(false)
	w.drain(ctx)
	waitPhotos(t, proc, 2, "released drain processes the whole queue")
}

type stallingProcessor struct {
	started chan string
	release chan struct{}
}

func (s *stallingProcessor) ProcessPhoto(_ context.Context, ev pipeline.PhotoEvent) {
	s.started <- ev.Path
	<-s.release
}

func TestOfferReturnsWhileProcessingRuns(t *testing.T) {
	dir := t.TempDir()
	proc := &stallingProcessor{started: make(chan string, 2), release: make(chan struct{})}
	w := newTestWatcher(t, dir, proc)

	p1 := writePhoto(t, dir, "a.jpg", []byte{1})
	p2 := writePhoto(t, dir, "b.jpg", []byte{2})
	ctx := context.Background()

	offered := make(chan struct{})
	go func() {
		w.Offer(ctx, p1)
		w.Offer(ctx, p2)
		close(offered)
	}()

	select {
	case <-offered:
	case <-time.After(time.Second):
		t.Fatal("Offer must not wait on the pipeline")
	}

	close(proc.release)
	assert.Equal(t, p1, <-proc.started)
	assert.Equal(t, p2, <-proc.started)
}

func TestSweepOffersDirectoryContents(t *testing.T) {
	dir := t.TempDir()
	proc := &recordingProcessor{}
	w := newTestWatcher(t, dir, proc)

	writePhoto(t, dir, "one.jpg", []byte{1})
	writePhoto(t, dir, "two.png", []byte{2})
	writePhoto(t, dir, "skip.txt", []byte{3})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	w.Sweep(context.Background())
	waitPhotos(t, proc, 2, "only images are offered")
}

func TestWatcherPicksUpNewFile(t *testing.T) {
	dir := t.TempDir()
	proc := &recordingProcessor{}
	w := newTestWatcher(t, dir, proc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Close()

	writePhoto(t, dir, "live.jpg", []byte{0xFF})

	require.Eventually(t, func() bool {
		proc.mu.Lock()
		defer proc.mu.Unlock()
		return len(proc.photos) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
