package integrity

import (
	"sync"
	"time"

	"github.com/mnemom/aip/pkg/types"
)

// WindowConfig bounds a session's sliding window of recent checkpoints.
type WindowConfig struct {
	MaxSize        int
	MaxAgeSeconds  int64
}

// DefaultWindowConfig matches the pipeline's fixed window shape:
// max_size=10, session_boundary=reset, max_age_seconds=3600.
var DefaultWindowConfig = WindowConfig{MaxSize: 10, MaxAgeSeconds: 3600}

type windowEntry struct {
	verdict   types.Verdict
	timestamp time.Time
}

// Window is one session's bounded history, used for drift detection
// and the checkpoint's WindowPosition/WindowSummary. Session
// boundaries reset the window entirely (a new session_id gets a fresh
// Window), so there is no cross-session state to manage here.
type Window struct {
	mu      sync.Mutex
	cfg     WindowConfig
	entries []windowEntry
	drift   driftState
}

func NewWindow(cfg WindowConfig) *Window {
	return &Window{cfg: cfg}
}

// Push evicts entries older than MaxAgeSeconds, appends the new
// verdict, then evicts the oldest entries until the window is within
// MaxSize. It returns the checkpoint's position within the
// post-push window.
func (w *Window) Push(verdict types.Verdict, now time.Time) types.WindowPosition {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evictExpired(now)
	w.entries = append(w.entries, windowEntry{verdict: verdict, timestamp: now})
	for len(w.entries) > w.cfg.MaxSize {
		w.entries = w.entries[1:]
	}

	w.drift.observe(verdict, w.integrityRatio())

	return types.WindowPosition{Index: len(w.entries) - 1, WindowSize: len(w.entries)}
}

func (w *Window) evictExpired(now time.Time) {
	maxAge := time.Duration(w.cfg.MaxAgeSeconds) * time.Second
	cut := 0
	for cut < len(w.entries) && now.Sub(w.entries[cut].timestamp) > maxAge {
		cut++
	}
	w.entries = w.entries[cut:]
}

func (w *Window) integrityRatio() float64 {
	if len(w.entries) == 0 {
		return 1.0
	}
	clear := 0
	for _, e := range w.entries {
		if e.verdict == types.VerdictClear {
			clear++
		}
	}
	return float64(clear) / float64(len(w.entries))
}

// Summary returns the externally-visible window summary, including the
// current drift-alert state.
func (w *Window) Summary() types.WindowSummary {
	w.mu.Lock()
	defer w.mu.Unlock()

	counts := map[types.Verdict]int{}
	for _, e := range w.entries {
		counts[e.verdict]++
	}

	return types.WindowSummary{
		Size:             len(w.entries),
		VerdictCounts:    counts,
		IntegrityRatio:   w.integrityRatio(),
		DriftAlertActive: w.drift.active,
	}
}
