package trigger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"

	"relay/internal/logging"
	"relay/internal/pipeline"
)

// photoEventWindow collapses the Create/Write bursts a single saved file
// produces into one queued event.
const photoEventWindow = 2 * time.Second

// seenCacheSize bounds the duplicate-suppression cache.
const seenCacheSize = 512

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".heic": true,
}

// TimestampResolver maps a photo path to its capture time in unix ms.
type TimestampResolver func(path string) int64

// MtimeResolver resolves capture time from file modification time.
func MtimeResolver(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.ModTime().UnixMilli()
}

// PhotoProcessor runs the photo pipeline for one image event.
type PhotoProcessor interface {
	ProcessPhoto(ctx context.Context, ev pipeline.PhotoEvent)
}

// PhotoWatcher watches a directory for new images and feeds them through the
// photo pipeline. Events are queued and drained by a single worker at a
// time; events arriving mid-drain are picked up by a follow-up drain.
type PhotoWatcher struct {
	dir       string
	runner    PhotoProcessor
	resolveTs TimestampResolver
	logger    logging.Logger

	seen *lru.Cache[string, time.Time]
	now  func() time.Time

	mu      sync.Mutex
	pending []string

	draining atomic.Bool
	watcher  *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewPhotoWatcher builds a watcher over dir. resolveTs may be nil to use
// file modification times.
func NewPhotoWatcher(dir string, runner PhotoProcessor, resolveTs TimestampResolver, logger logging.Logger) (*PhotoWatcher, error) {
	if resolveTs == nil {
		resolveTs = MtimeResolver
	}
	seen, err := lru.New[string, time.Time](seenCacheSize)
	if err != nil {
		return nil, err
	}
	return &PhotoWatcher{
		dir:       dir,
		runner:    runner,
		resolveTs: resolveTs,
		logger:    logging.OrNop(logger),
		seen:      seen,
		now:       time.Now,
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching the directory. Returns once the watch is installed;
// event handling runs in the background until Close.
func (w *PhotoWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return err
	}
	w.watcher = watcher
	w.logger.Info("watching photo directory %s", w.dir)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) {
					w.Offer(ctx, ev.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("photo watcher error: %v", err)
			case <-w.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Close stops watching and waits for the event loop to exit. In-flight
// drains finish on their own goroutine.
func (w *PhotoWatcher) Close() error {
	close(w.done)
	var err error
	if w.watcher != nil {
		err = w.watcher.Close()
	}
	w.wg.Wait()
	return err
}

// Offer queues path for processing if it looks like a new image, then kicks
// a drain in the background. Offer itself never waits on pipeline work, so
// the fsnotify event loop keeps consuming while photos are processed.
// Non-images and recently seen paths are dropped.
func (w *PhotoWatcher) Offer(ctx context.Context, path string) {
	if !imageExtensions[strings.ToLower(filepath.Ext(path))] {
		return
	}
	now := w.now()
	if last, ok := w.seen.Get(path); ok && now.Sub(last) < photoEventWindow {
		return
	}
	w.seen.Add(path, now)

	w.mu.Lock()
	w.pending = append(w.pending, path)
	w.mu.Unlock()

	go w.drain(ctx)
}

// drain processes queued paths. Only one drain runs at a time; if new paths
// arrive while finishing, a follow-up drain is scheduled.
func (w *PhotoWatcher) drain(ctx context.Context) {
	if !w.draining.CompareAndSwap(false, true) {
		return
	}
	defer func() {
		w.draining.Store(false)
		w.mu.Lock()
		remaining := len(w.pending)
		w.mu.Unlock()
		if remaining > 0 {
			go w.drain(ctx)
		}
	}()

	for {
		w.mu.Lock()
		if len(w.pending) == 0 {
			w.mu.Unlock()
			return
		}
		path := w.pending[0]
		w.pending = w.pending[1:]
		w.mu.Unlock()

		w.processOne(ctx, path)
	}
}

func (w *PhotoWatcher) processOne(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("failed to read photo %s: %v", path, err)
		return
	}
	w.runner.ProcessPhoto(ctx, pipeline.PhotoEvent{
		Path:      path,
		Timestamp: w.resolveTs(path),
		Data:      data,
	})
}

// Sweep offers every image in the directory, recovering photos saved while
// the process was down. Per-workflow gates drop anything already handled.
func (w *PhotoWatcher) Sweep(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("photo sweep failed: %v", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.Offer(ctx, filepath.Join(w.dir, entry.Name()))
	}
}
