// Package progress reports sync executor phase transitions.
package progress

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Ning0612/dsync/internal/domain"
	"github.com/Ning0612/dsync/internal/logger"
)

// Reporter receives sync progress. Implementations must be safe for
// concurrent use since every rank reports through the same value.
type Reporter interface {
	// Phase marks the start of a phase with its global work item count
	Phase(phase domain.SyncPhase, items int64)
	// Done reports the reduced statistics once the executor finished
	Done(stats domain.SyncStats)
	// Error reports a fatal executor error
	Error(err error)
}

// Callback is a function that receives progress updates
type Callback func(update Update)

// Update represents a progress update
type Update struct {
	Type    UpdateType
	Phase   domain.SyncPhase
	Items   int64
	Stats   domain.SyncStats
	Elapsed time.Duration
	Error   error
}

// UpdateType indicates the type of progress update
type UpdateType int

const (
	UpdatePhase UpdateType = iota
	UpdateDone
	UpdateError
)

// CallbackReporter implements Reporter with a callback function
type CallbackReporter struct {
	callback   Callback
	mu         sync.Mutex
	phase      domain.SyncPhase
	phaseStart time.Time
	started    time.Time
}

// NewCallbackReporter creates a new CallbackReporter
func NewCallbackReporter(callback Callback) *CallbackReporter {
	return &CallbackReporter{callback: callback}
}

// Phase records a phase transition. Repeated reports of the current phase
// are dropped so only one rank's call reaches the callback.
func (r *CallbackReporter) Phase(phase domain.SyncPhase, items int64) {
	r.mu.Lock()
	if phase == r.phase {
		r.mu.Unlock()
		return
	}
	now := time.Now()
	if r.started.IsZero() {
		r.started = now
	}
	var elapsed time.Duration
	if !r.phaseStart.IsZero() {
		elapsed = now.Sub(r.phaseStart)
	}
	r.phase = phase
	r.phaseStart = now
	update := Update{Type: UpdatePhase, Phase: phase, Items: items, Elapsed: elapsed}
	callback := r.callback
	r.mu.Unlock()

	// Call callback outside lock to prevent deadlock
	if callback != nil {
		callback(update)
	}
}

// Done reports the final statistics
func (r *CallbackReporter) Done(stats domain.SyncStats) {
	r.mu.Lock()
	r.phase = domain.PhaseDone
	var elapsed time.Duration
	if !r.started.IsZero() {
		elapsed = time.Since(r.started)
	}
	update := Update{Type: UpdateDone, Phase: domain.PhaseDone, Stats: stats, Elapsed: elapsed}
	callback := r.callback
	r.mu.Unlock()

	if callback != nil {
		callback(update)
	}
}

// Error reports a fatal error in the current phase
func (r *CallbackReporter) Error(err error) {
	r.mu.Lock()
	update := Update{Type: UpdateError, Phase: r.phase, Error: err}
	callback := r.callback
	r.mu.Unlock()

	if callback != nil {
		callback(update)
	}
}

// NewLogReporter writes updates to log at info level
func NewLogReporter(log logger.Logger) *CallbackReporter {
	return NewCallbackReporter(func(u Update) {
		switch u.Type {
		case UpdatePhase:
			log.Info("sync phase", "phase", u.Phase.String(), "items", u.Items, "previous_took", u.Elapsed)
		case UpdateDone:
			log.Info("sync done",
				"deleted", u.Stats.Deleted,
				"copied", u.Stats.Copied,
				"refreshed", u.Stats.Refreshed,
				"bytes", humanize.IBytes(uint64(u.Stats.BytesCopied)),
				"took", u.Elapsed,
			)
		case UpdateError:
			log.Error("sync failed", "phase", u.Phase.String(), "error", u.Error)
		}
	})
}

// NullReporter is a no-op reporter
type NullReporter struct{}

func (NullReporter) Phase(phase domain.SyncPhase, items int64) {}
func (NullReporter) Done(stats domain.SyncStats)                {}
func (NullReporter) Error(err error)                            {}
