package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ppiankov/lockwatch/internal/enforce"
	"github.com/ppiankov/lockwatch/internal/model"
)

// DefaultBuffer is the number of events a Recorder queues before dropping.
const DefaultBuffer = 4096

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	Buffer      int
	DenialsOnly bool
}

// Recorder is an enforce.Observer that queues decision events and writes
// them to a Log from its own goroutine. Observe never blocks; events that do
// not fit in the queue are counted and dropped.
type Recorder struct {
	log         *Log
	events      chan enforce.Event
	denialsOnly bool
	dropped     atomic.Uint64
	logger      *slog.Logger
}

// NewRecorder creates a Recorder writing to l. A nil logger discards output.
func NewRecorder(l *Log, cfg RecorderConfig, logger *slog.Logger) *Recorder {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{
		log:         l,
		events:      make(chan enforce.Event, cfg.Buffer),
		denialsOnly: cfg.DenialsOnly,
		logger:      logger,
	}
}

// Observe implements enforce.Observer.
func (r *Recorder) Observe(ev enforce.Event) {
	if r.denialsOnly && ev.Decision != model.Deny {
		return
	}
	select {
	case r.events <- ev:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns the number of events lost to a full queue.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Run writes queued events until ctx is done, then flushes what is still
// queued and returns.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-r.events:
			r.write(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-r.events:
					r.write(ev)
				default:
					if n := r.Dropped(); n > 0 {
						r.logger.Warn("audit events dropped", "count", n)
					}
					return nil
				}
			}
		}
	}
}

func (r *Recorder) write(ev enforce.Event) {
	if err := r.log.Record(EntryFromEvent(ev, time.Now())); err != nil {
		r.logger.Error("audit write failed", "error", err)
	}
}

// EntryFromEvent converts a decision event to a log entry stamped with ts.
func EntryFromEvent(ev enforce.Event, ts time.Time) Entry {
	return Entry{
		Timestamp: ts.UTC().Format(TimestampFormat),
		Hook:      string(ev.Hook),
		PID:       ev.PID,
		Container: ev.Container.String(),
		Level:     ev.Level.String(),
		Decision:  string(ev.Decision),
		Reason:    ev.Reason,
		Path:      ev.Path,
		RulesHash: ev.RulesHash,
	}
}
