// Package mission flies a course: an ordered list of waypoints, each driven
// by a closed-loop procedure against the pose estimator.
package mission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/flow-navigation/internal/nav"
	"github.com/roman-kulish/flow-navigation/internal/timeutil"
	"github.com/roman-kulish/flow-navigation/internal/vehicle"
)

const (
	takeoffSettle = 800 * time.Millisecond

	heightInitialSettle = 200 * time.Millisecond
	heightSamples       = 3
	heightSampleSpacing = 20 * time.Millisecond
	heightHover         = 300 * time.Millisecond
	heightMoveSettle    = 150 * time.Millisecond

	forwardMoveSettle   = 50 * time.Millisecond
	forwardSettleTicks  = 3
	forwardTickInterval = 30 * time.Millisecond

	// the forward chunk shrinks when the remaining distance falls below
	// these thresholds
	approachSlowCm   = 100
	approachSlowMax  = 20
	approachCrawlCm  = 50
	approachCrawlMax = 10

	gateSettle    = 200 * time.Millisecond
	landingSettle = 200 * time.Millisecond
	touchdown     = 500 * time.Millisecond
)

// ErrAborted is returned when a flight is stopped by Abort or by context
// cancellation.
var ErrAborted = errors.New("flight aborted")

// WithLogger sets the logger for the engine
func WithLogger(logger *slog.Logger) func(*Engine) {
	return func(e *Engine) {
		e.logger = logger.With(slog.String("component", "engine"))
	}
}

// WithClock sets the clock used for settle delays and loop timeouts.
func WithClock(clock timeutil.Clock) func(*Engine) {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithRecorder sets the recorder receiving pose ticks and outcomes.
func WithRecorder(recorder Recorder) func(*Engine) {
	return func(e *Engine) {
		e.recorder = recorder
	}
}

// Engine executes waypoints sequentially on a single goroutine. Abort may be
// called from any goroutine.
type Engine struct {
	vehicle   vehicle.Vehicle
	estimator *nav.Estimator
	tuning    Tuning
	clock     timeutil.Clock
	logger    *slog.Logger
	recorder  Recorder

	aborted atomic.Bool
	state   FlightState
}

// NewEngine creates an engine flying v with poses from estimator.
func NewEngine(v vehicle.Vehicle, estimator *nav.Estimator, tuning Tuning, options ...func(*Engine)) *Engine {
	e := Engine{
		vehicle:   v,
		estimator: estimator,
		tuning:    tuning,
		clock:     timeutil.RealClock{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		recorder:  nopRecorder{},
	}

	for _, option := range options {
		option(&e)
	}

	return &e
}

// Abort requests the running flight to stop at the next loop iteration and
// land.
func (e *Engine) Abort() {
	if !e.aborted.Swap(true) {
		e.logger.Warn("abort requested")
	}
}

// Fly pairs with the vehicle, runs the waypoints and always closes the
// vehicle connection, whatever the outcome.
func (e *Engine) Fly(ctx context.Context, waypoints []Waypoint) (report *Report, err error) {
	defer func() {
		if closeErr := e.vehicle.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close vehicle: %w", closeErr))
		}
		e.logger.Info("vehicle disconnected")
	}()

	e.logger.Info("pairing vehicle")
	if err = e.vehicle.Pair(ctx); err != nil {
		return nil, fmt.Errorf("pair: %w", err)
	}

	return e.Run(ctx, waypoints)
}

// Run executes the waypoints on an already paired vehicle. A vehicle command
// failure stops the sequence and is returned; control loop timeouts are
// recorded in the report and the flight continues.
func (e *Engine) Run(ctx context.Context, waypoints []Waypoint) (*Report, error) {
	e.state = FlightState{}
	start := e.clock.Now()

	finish := func(aborted bool) *Report {
		return &Report{
			FlightState: e.state,
			Stats:       e.estimator.Stats(),
			Aborted:     aborted,
			Duration:    e.clock.Since(start),
		}
	}

	e.logger.Info("flight started", slog.Int("waypoints", len(waypoints)))

	for i, wp := range waypoints {
		e.state.Index = i

		err := e.interrupted(ctx)
		if err == nil {
			var outcome Outcome
			outcome, err = e.execute(ctx, i, wp)
			if err == nil {
				e.state.Outcomes = append(e.state.Outcomes, outcome)
				e.recorder.RecordOutcome(ctx, outcome)
				continue
			}
		}

		if errors.Is(err, ErrAborted) || e.interrupted(ctx) != nil {
			e.emergencyLand(ctx)
			if !errors.Is(err, ErrAborted) {
				err = errors.Join(ErrAborted, err)
			}
			return finish(true), err
		}

		e.logger.Error("flight failed", slog.Int("waypoint", i), slog.String("id", wp.ID), slog.Any("error", err))
		return finish(false), fmt.Errorf("waypoint %d (%s): %w", i, wp.ID, err)
	}

	report := finish(false)
	e.logger.Info("flight complete",
		slog.Float64("distance", report.CumulativeTargetCm),
		slog.Int("timeouts", report.Timeouts()),
		slog.Int("outliersRejected", report.Stats.Rejected()),
		slog.Duration("duration", report.Duration))

	return report, nil
}

func (e *Engine) execute(ctx context.Context, index int, wp Waypoint) (Outcome, error) {
	logger := e.logger.With(slog.Int("waypoint", index), slog.String("id", wp.ID), slog.String("action", wp.Action.String()))
	logger.Info("processing waypoint")

	outcome := Outcome{
		Index:          index,
		WaypointID:     wp.ID,
		Action:         wp.Action,
		TargetHeightCm: wp.HeightCm,
		StartedAt:      e.clock.Now(),
	}
	rejected := e.estimator.Stats().Rejected()

	var err error
	switch wp.Action {
	case ActionTakeoff:
		err = e.takeoff(ctx)
	case ActionPassThrough:
		outcome.HeightStatus, outcome.DistanceStatus, err = e.passThrough(ctx, wp, logger)
	case ActionLand:
		outcome.HeightStatus, outcome.DistanceStatus, err = e.land(ctx, wp, logger)
	default:
		err = fmt.Errorf("unsupported action %s", wp.Action)
	}

	outcome.CumulativeTargetCm = e.state.CumulativeTargetCm
	outcome.Pose = e.estimator.Pose()
	outcome.OutliersRejected = e.estimator.Stats().Rejected() - rejected
	outcome.Duration = e.clock.Since(outcome.StartedAt)

	if err == nil {
		logger.Info("waypoint complete",
			slog.Float64("x", outcome.Pose.X),
			slog.Float64("y", outcome.Pose.Y),
			slog.Float64("height", outcome.Pose.HeightCm),
			slog.String("heightStatus", outcome.HeightStatus.String()),
			slog.String("distanceStatus", outcome.DistanceStatus.String()))
	}

	return outcome, err
}

func (e *Engine) takeoff(ctx context.Context) error {
	if err := e.vehicle.Takeoff(ctx); err != nil {
		return fmt.Errorf("takeoff: %w", err)
	}

	e.clock.Sleep(takeoffSettle)
	e.estimator.Reset(ctx)
	e.step(ctx)

	return nil
}

func (e *Engine) passThrough(ctx context.Context, wp Waypoint, logger *slog.Logger) (Status, Status, error) {
	heightStatus, err := e.holdHeight(ctx, wp.HeightCm, logger)
	if err != nil {
		return heightStatus, StatusNotRun, err
	}

	e.state.CumulativeTargetCm += wp.DistanceFromPreviousCm

	distanceStatus, err := e.forwardTo(ctx, e.state.CumulativeTargetCm, logger)
	if err != nil {
		return heightStatus, distanceStatus, err
	}

	if clearance := e.tuning.GetGateClearanceCm(); clearance > 0 {
		if err = e.vehicle.Move(ctx, vehicle.Forward, clearance); err != nil {
			return heightStatus, distanceStatus, fmt.Errorf("gate clearance: %w", err)
		}
	}
	e.clock.Sleep(gateSettle)
	e.step(ctx)

	return heightStatus, distanceStatus, nil
}

func (e *Engine) land(ctx context.Context, wp Waypoint, logger *slog.Logger) (Status, Status, error) {
	e.state.CumulativeTargetCm += wp.DistanceFromPreviousCm

	distanceStatus, err := e.forwardTo(ctx, e.state.CumulativeTargetCm, logger)
	if err != nil {
		return StatusNotRun, distanceStatus, err
	}

	heightStatus, err := e.holdHeight(ctx, wp.HeightCm, logger)
	if err != nil {
		return heightStatus, distanceStatus, err
	}

	e.clock.Sleep(landingSettle)
	e.step(ctx)

	logger.Info("landing")
	if err = e.vehicle.Land(ctx); err != nil {
		return heightStatus, distanceStatus, fmt.Errorf("land: %w", err)
	}
	e.clock.Sleep(touchdown)

	return heightStatus, distanceStatus, nil
}

// holdHeight moves vertically until the sampled height is within tolerance
// of target. Running out of time is not an error.
func (e *Engine) holdHeight(ctx context.Context, target float64, logger *slog.Logger) (Status, error) {
	tolerance := e.tuning.GetHeightToleranceCm()
	timeout := e.tuning.GetHeightTimeout()
	maxStep := e.tuning.GetHeightStepCm()

	logger.Info("adjusting height", slog.Float64("target", target))

	start := e.clock.Now()
	e.clock.Sleep(heightInitialSettle)

	current := math.NaN()
	for e.clock.Since(start) < timeout {
		if err := e.interrupted(ctx); err != nil {
			return StatusNotRun, err
		}

		h, ok := e.estimator.SampleHeight(ctx, heightSamples, heightSampleSpacing)
		if !ok {
			continue
		}
		current = h

		diff := target - h
		logger.Debug("height", slog.Float64("current", h), slog.Float64("diff", diff))

		if math.Abs(diff) <= tolerance {
			if err := e.vehicle.Hover(ctx, heightHover); err != nil {
				return StatusNotRun, fmt.Errorf("hover: %w", err)
			}
			logger.Info("reached target height", slog.Float64("height", h))
			return StatusSuccess, nil
		}

		dir := vehicle.Up
		if diff < 0 {
			dir = vehicle.Down
		}
		if err := e.vehicle.Move(ctx, dir, min(maxStep, math.Abs(diff))); err != nil {
			return StatusNotRun, fmt.Errorf("height move: %w", err)
		}
		e.clock.Sleep(heightMoveSettle)
	}

	logger.Warn("height control timed out", slog.Float64("target", target), slog.Float64("current", current))
	return StatusTimeout, nil
}

// forwardTo moves forward in chunks until the estimated forward position is
// within the stop epsilon of target, then snaps the estimate onto target.
// The loop is bounded by a chunk count and a time limit.
func (e *Engine) forwardTo(ctx context.Context, target float64, logger *slog.Logger) (Status, error) {
	epsilon := e.tuning.GetForwardStopEpsilonCm()
	maxChunk := e.tuning.GetForwardChunkCm()
	maxChunks := e.tuning.GetForwardMaxChunks()
	timeout := e.tuning.GetForwardTimeout()

	logger.Info("moving forward", slog.Float64("target", target))

	start := e.clock.Now()
	for chunks := 0; ; chunks++ {
		if err := e.interrupted(ctx); err != nil {
			return StatusNotRun, err
		}

		pose := e.step(ctx)
		remaining := target - pose.Y
		logger.Debug("forward", slog.Float64("y", pose.Y), slog.Float64("remaining", remaining))

		if remaining <= epsilon {
			e.estimator.Snap(pose.X, target)
			logger.Info("reached forward target", slog.Float64("target", target), slog.Float64("error", -remaining))
			return StatusSuccess, nil
		}

		if chunks >= maxChunks || e.clock.Since(start) >= timeout {
			logger.Warn("forward control timed out",
				slog.Float64("target", target),
				slog.Float64("remaining", remaining),
				slog.Int("chunks", chunks))
			return StatusTimeout, nil
		}

		if err := e.vehicle.Move(ctx, vehicle.Forward, approachChunk(remaining, maxChunk)); err != nil {
			return StatusNotRun, fmt.Errorf("forward move: %w", err)
		}
		e.clock.Sleep(forwardMoveSettle)

		for i := 0; i < forwardSettleTicks; i++ {
			e.clock.Sleep(forwardTickInterval)
			e.step(ctx)
		}
	}
}

func approachChunk(remaining, maxChunk float64) float64 {
	chunk := min(maxChunk, remaining)
	switch {
	case remaining < approachCrawlCm:
		chunk = min(chunk, approachCrawlMax)
	case remaining < approachSlowCm:
		chunk = min(chunk, approachSlowMax)
	}
	return chunk
}

func (e *Engine) step(ctx context.Context) nav.Pose {
	pose := e.estimator.Step(ctx)
	e.recorder.RecordPose(ctx, PoseTick{
		WaypointIndex: e.state.Index,
		Time:          e.clock.Now(),
		Pose:          pose,
	})
	return pose
}

func (e *Engine) interrupted(ctx context.Context) error {
	if e.aborted.Load() {
		return ErrAborted
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrAborted, err)
	}
	return nil
}

// emergencyLand lands on a best-effort basis. It runs even when ctx is
// already cancelled.
func (e *Engine) emergencyLand(ctx context.Context) {
	e.logger.Warn("flight aborted, landing")

	if err := e.vehicle.Land(context.WithoutCancel(ctx)); err != nil {
		e.logger.Error("emergency landing failed", slog.Any("error", err))
	}
}
