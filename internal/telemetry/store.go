package telemetry

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roman-kulish/flow-navigation/internal/mission"
	"github.com/roman-kulish/flow-navigation/internal/storage"
)

const (
	defaultBatchSize  = 100
	defaultBufferSize = 256
)

// WithLogger sets the logger for storage failures.
func WithLogger(logger *slog.Logger) func(*StoreRecorder) {
	return func(r *StoreRecorder) {
		r.logger = logger
	}
}

// WithBatchSize sets the number of pose ticks written per insert.
func WithBatchSize(size int) func(*StoreRecorder) {
	return func(r *StoreRecorder) {
		if size > 0 {
			r.batchSize = size
		}
	}
}

// StoreRecorder writes pose ticks and waypoint outcomes of a single flight to
// the flight log. Records are handed to a writer goroutine so that the
// control loop only blocks while the buffer is full. Storage failures are
// logged and counted, never returned to the engine.
type StoreRecorder struct {
	store     storage.Store
	flightID  int64
	logger    *slog.Logger
	batchSize int

	mu      sync.RWMutex
	closed  bool
	records chan any
	done    chan struct{}

	pending  []storage.PoseTick
	failures atomic.Int64
	dropped  atomic.Int64
}

// NewStoreRecorder starts a recorder for flightID. Close must be called to
// flush buffered records.
func NewStoreRecorder(store storage.Store, flightID int64, options ...func(*StoreRecorder)) *StoreRecorder {
	r := StoreRecorder{
		store:     store,
		flightID:  flightID,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		batchSize: defaultBatchSize,
		records:   make(chan any, defaultBufferSize),
		done:      make(chan struct{}),
	}

	for _, option := range options {
		option(&r)
	}

	r.logger = r.logger.With(slog.String("component", "flightlog"), slog.Int64("flight", flightID))
	r.pending = make([]storage.PoseTick, 0, r.batchSize)

	go r.handleRecords()

	return &r
}

func (r *StoreRecorder) RecordPose(ctx context.Context, tick mission.PoseTick) {
	r.send(ctx, toPoseTick(tick))
}

func (r *StoreRecorder) RecordOutcome(ctx context.Context, o mission.Outcome) {
	r.send(ctx, toWaypointOutcome(o))
}

// Failures returns the number of records the store failed to persist.
func (r *StoreRecorder) Failures() int64 {
	return r.failures.Load()
}

// Dropped returns the number of records discarded because the recorder was
// closed or the context was done while the buffer was full.
func (r *StoreRecorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close flushes buffered records and stops the writer goroutine. It is safe
// to call Close multiple times.
func (r *StoreRecorder) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.records)
	}
	r.mu.Unlock()

	<-r.done
	return nil
}

func (r *StoreRecorder) send(ctx context.Context, record any) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.dropped.Add(1)
		return
	}

	select {
	case r.records <- record:
		return
	default:
	}

	select {
	case r.records <- record:
	case <-ctx.Done():
		r.dropped.Add(1)
	}
}

func (r *StoreRecorder) handleRecords() {
	defer close(r.done)

	// writes outlive the flight context so that an aborted flight is still
	// logged in full
	ctx := context.Background()

	for record := range r.records {
		switch v := record.(type) {
		case storage.PoseTick:
			r.pending = append(r.pending, v)
			if len(r.pending) >= r.batchSize {
				r.flush(ctx)
			}

		case storage.WaypointOutcome:
			r.flush(ctx)
			if err := r.store.StoreOutcome(ctx, r.flightID, v); err != nil {
				r.failures.Add(1)
				r.logger.Error("storing waypoint outcome", slog.String("id", v.WaypointID), slog.Any("error", err))
			}
		}
	}

	r.flush(ctx)
}

func (r *StoreRecorder) flush(ctx context.Context) {
	if len(r.pending) == 0 {
		return
	}

	if err := r.store.StorePoses(ctx, r.flightID, r.pending); err != nil {
		r.failures.Add(int64(len(r.pending)))
		r.logger.Error("storing pose ticks", slog.Int("count", len(r.pending)), slog.Any("error", err))
	}
	r.pending = r.pending[:0]
}

func toPoseTick(tick mission.PoseTick) storage.PoseTick {
	return storage.PoseTick{
		WaypointIndex: tick.WaypointIndex,
		Timestamp:     tick.Time,
		Pose:          toPose(tick.Pose),
	}
}

func toWaypointOutcome(o mission.Outcome) storage.WaypointOutcome {
	return storage.WaypointOutcome{
		WaypointIndex:      o.Index,
		WaypointID:         o.WaypointID,
		Action:             o.Action.String(),
		HeightStatus:       o.HeightStatus.String(),
		DistanceStatus:     o.DistanceStatus.String(),
		OutliersRejected:   o.OutliersRejected,
		TargetHeightCm:     o.TargetHeightCm,
		CumulativeTargetCm: o.CumulativeTargetCm,
		Pose:               toPose(o.Pose),
		StartedAt:          o.StartedAt,
		Duration:           o.Duration,
	}
}
