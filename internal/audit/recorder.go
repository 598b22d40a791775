package audit

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/idotmatrix-bridge/internal/session"
)

const (
	defaultBufferSize = 256
	pruneInterval     = time.Hour
	drainTimeout      = 5 * time.Second
)

// Logger defines the logging interface used by the Recorder.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// Repository receives every recorded entry. Required.
	Repository Repository

	// BufferSize is how many events may wait for the writer.
	// Default: 256.
	BufferSize int

	// Retention is how long entries are kept. Zero keeps them forever.
	Retention time.Duration

	// Clock drives timestamps and the prune ticker. Default: the wall clock.
	Clock clockwork.Clock

	Logger Logger
}

// Recorder is a session.EventSink that writes events to a Repository on a
// background goroutine. HandleEvent never blocks: when the buffer is full
// the event is dropped and counted.
type Recorder struct {
	repo      Repository
	retention time.Duration
	clock     clockwork.Clock
	logger    Logger

	events  chan session.Event
	dropped atomic.Uint64
	written atomic.Uint64

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRecorder creates a recorder. Call Start to begin writing.
func NewRecorder(cfg RecorderConfig) *Recorder {
	size := cfg.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	var logger Logger = noopLogger{}
	if cfg.Logger != nil {
		logger = cfg.Logger
	}
	return &Recorder{
		repo:      cfg.Repository,
		retention: cfg.Retention,
		clock:     clock,
		logger:    logger,
		events:    make(chan session.Event, size),
		done:      make(chan struct{}),
	}
}

// HandleEvent queues e for writing.
func (r *Recorder) HandleEvent(e session.Event) {
	select {
	case r.events <- e:
	default:
		if r.dropped.Add(1) == 1 {
			r.logger.Warn("audit buffer full, dropping events", "event_type", e.Type, "device_id", e.DisplayID)
		}
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Written reports how many entries reached the repository.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Start runs the writer until ctx is cancelled or Stop is called.
func (r *Recorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop writes whatever is still buffered and waits for the writer to exit.
// Safe to call multiple times.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

func (r *Recorder) run(ctx context.Context) {
	defer r.wg.Done()

	// Writes outlive ctx so the final drain still reaches the database.
	writeCtx := context.WithoutCancel(ctx)

	var prune <-chan time.Time
	if r.retention > 0 {
		r.prune(writeCtx)
		ticker := r.clock.NewTicker(pruneInterval)
		defer ticker.Stop()
		prune = ticker.Chan()
	}

	for {
		select {
		case e := <-r.events:
			r.write(writeCtx, e)
		case <-prune:
			r.prune(writeCtx)
		case <-ctx.Done():
			r.drain(writeCtx)
			return
		case <-r.done:
			r.drain(writeCtx)
			return
		}
	}
}

func (r *Recorder) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	for {
		select {
		case e := <-r.events:
			r.write(ctx, e)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, e session.Event) {
	created := e.Timestamp
	if created.IsZero() {
		created = r.clock.Now()
	}
	entry := &Entry{
		EventType:  e.Type,
		DisplayID:  e.DisplayID,
		MACAddress: e.MACAddress,
		Details:    maps.Clone(e.Data),
		CreatedAt:  created,
	}
	if err := r.repo.Create(ctx, entry); err != nil {
		r.logger.Error("recording event", "event_type", e.Type, "device_id", e.DisplayID, "error", err)
		return
	}
	r.written.Add(1)
}

func (r *Recorder) prune(ctx context.Context) {
	cutoff := r.clock.Now().Add(-r.retention)
	n, err := r.repo.Prune(ctx, cutoff)
	if err != nil {
		r.logger.Error("pruning audit log", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("pruned audit log", "removed", n, "before", cutoff.UTC())
	}
}
