package catalog

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// pollInterval is fixed at 1 second per spec.md §4.1: polling, not
// inotify, because the catalog file may live on a mount that never
// delivers filesystem change notifications.
const pollInterval = time.Second

// massShutdownGuardThreshold is the live-registry size above which an
// empty reload is treated as a transient parse failure rather than an
// intentional scale-to-zero (spec.md §4.1 "Reload safety").
const massShutdownGuardThreshold = 2

// LiveCounter reports how many servers are currently live, so the watcher
// can apply the mass-shutdown guard without importing the supervisor.
type LiveCounter interface {
	LiveCount() int
}

// OnChangeFunc is invoked with a freshly parsed, non-empty-guarded desired
// set whenever the catalog file's digest changes.
type OnChangeFunc func(*ParseResult)

// Watcher polls the catalog file's mtime and re-parses it on change.
type Watcher struct {
	path    string
	live    LiveCounter
	onChange OnChangeFunc
	logger  *slog.Logger

	mu         sync.Mutex
	lastMtime  time.Time
	lastDigest string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a catalog watcher. Call Start to begin polling and
// Stop to end it; Stop blocks until the polling goroutine has exited.
func NewWatcher(path string, live LiveCounter, onChange OnChangeFunc, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     path,
		live:     live,
		onChange: onChange,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins the 1-second polling loop and performs one initial load.
func (w *Watcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.poll() // initial load, synchronous so callers observe the first desired set immediately

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.poll()
			}
		}
	}()
}

// Stop cancels the polling loop and waits for it to exit.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
}

func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn("catalog file stat failed", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.lastMtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	result, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn("catalog reload failed, keeping previous desired set", "path", w.path, "error", err)
		return
	}

	for _, warning := range result.Warnings {
		w.logger.Warn("catalog entry warning", "server_id", warning.ServerID, "message", warning.Message)
	}

	w.mu.Lock()
	sameDigest := result.Digest == w.lastDigest
	w.mu.Unlock()
	if sameDigest {
		// mtime moved (e.g. touch) but content didn't; still record mtime
		// so we don't re-read on every tick.
		w.mu.Lock()
		w.lastMtime = info.ModTime()
		w.mu.Unlock()
		return
	}

	if len(result.Specs) == 0 && w.live != nil && w.live.LiveCount() > massShutdownGuardThreshold {
		w.logger.Warn("reload produced an empty desired set while servers are live; aborting reload to avoid a mass shutdown",
			"path", w.path, "live_count", w.live.LiveCount())
		return
	}

	w.mu.Lock()
	w.lastMtime = info.ModTime()
	w.lastDigest = result.Digest
	w.mu.Unlock()

	w.onChange(result)
}
