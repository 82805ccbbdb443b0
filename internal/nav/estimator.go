// Package nav implements dead-reckoning pose estimation from body-frame
// optical flow, a heading sensor and a height sensor.
//
// World frame conventions: +Y is forward from the takeoff heading, +X is to
// the right. Distances are in centimetres, angles in degrees.
package nav

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/roman-kulish/flow-navigation/internal/timeutil"
	"github.com/roman-kulish/flow-navigation/internal/vehicle"
)

const (
	DefaultFlowScale      = 1.0
	DefaultMaxVelocityCmS = 200.0
	DefaultHistorySize    = 5

	// minUpdateInterval floors dt so implied velocities stay finite.
	minUpdateInterval = time.Millisecond

	// firstStepInterval is assumed for a Step that has no previous update.
	firstStepInterval = 50 * time.Millisecond
)

// Pose is a read-only snapshot of the estimated state.
type Pose struct {
	X        float64 // cm, right of the origin
	Y        float64 // cm, forward of the origin
	YawDeg   float64 // heading as last reported by the sensor, not relative to takeoff
	HeightCm float64 // filtered height
}

// Stats holds counters accumulated since the estimator was created.
type Stats struct {
	Ticks          int
	RejectedX      int     // ticks whose lateral delta was discarded
	RejectedY      int     // ticks whose forward delta was discarded
	SensorFailures int     // sensor reads that returned no usable value
	PathLengthCm   float64 // integrated world-frame path length
}

// Rejected returns the total number of discarded axis deltas.
func (s Stats) Rejected() int {
	return s.RejectedX + s.RejectedY
}

// WithFlowScale sets the factor converting raw flow units to centimetres.
func WithFlowScale(scale float64) func(*Estimator) {
	return func(e *Estimator) {
		e.flowScale = scale
	}
}

// WithMaxVelocity sets the implied velocity, in cm/s, above which a flow
// delta is treated as a sensor glitch.
func WithMaxVelocity(cmPerSec float64) func(*Estimator) {
	return func(e *Estimator) {
		e.maxVelocity = cmPerSec
	}
}

// WithHistorySize sets the height filter window length.
func WithHistorySize(n int) func(*Estimator) {
	return func(e *Estimator) {
		if n > 0 {
			e.history = newHeightHistory(n)
		}
	}
}

// WithDefaultHeight sets the height assumed when no height reading has ever
// been obtained.
func WithDefaultHeight(cm float64) func(*Estimator) {
	return func(e *Estimator) {
		e.defaultHeight = cm
	}
}

// WithClock sets the clock used to measure update intervals and delays.
func WithClock(clock timeutil.Clock) func(*Estimator) {
	return func(e *Estimator) {
		e.clock = clock
	}
}

// WithLogger sets the logger for the estimator
func WithLogger(logger *slog.Logger) func(*Estimator) {
	return func(e *Estimator) {
		e.logger = logger.With(slog.String("component", "estimator"))
	}
}

// Estimator integrates per-tick body-frame flow deltas into a world-frame
// pose. It owns the pose exclusively; callers receive copies.
type Estimator struct {
	sensors vehicle.Sensors
	clock   timeutil.Clock
	logger  *slog.Logger

	flowScale     float64
	maxVelocity   float64
	defaultHeight float64

	mu            sync.Mutex
	pose          Pose
	history       *heightHistory
	lastRawHeight float64
	haveHeight    bool
	lastUpdate    time.Time
	yawRefDeg     float64 // sensor heading that maps to world +Y
	stats         Stats
}

// NewEstimator creates an estimator with a zeroed pose.
func NewEstimator(sensors vehicle.Sensors, options ...func(*Estimator)) *Estimator {
	e := Estimator{
		sensors:     sensors,
		clock:       timeutil.RealClock{},
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		flowScale:   DefaultFlowScale,
		maxVelocity: DefaultMaxVelocityCmS,
		history:     newHeightHistory(DefaultHistorySize),
	}

	for _, option := range options {
		option(&e)
	}

	e.pose.HeightCm = e.defaultHeight
	return &e
}

// FlowScale returns the configured flow scale.
func (e *Estimator) FlowScale() float64 {
	return e.flowScale
}

// Reset zeroes the horizontal position at the current location, makes the
// current heading the world +Y axis, takes the current height reading as the
// new filtered height and clears the height window. Flow accumulated before the reset is discarded. Reset never fails:
// without a height reading it keeps the last known height, or the default.
func (e *Estimator) Reset(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pose.X, e.pose.Y = 0, 0
	e.history.clear()

	if h, ok := e.readHeight(ctx); ok {
		e.history.push(h)
		e.pose.HeightCm = h
	} else if e.haveHeight {
		e.pose.HeightCm = e.lastRawHeight
	} else {
		e.pose.HeightCm = e.defaultHeight
	}

	e.readYaw(ctx)
	e.yawRefDeg = e.pose.YawDeg

	e.readFlow(ctx, e.sensors.FlowDX)
	e.readFlow(ctx, e.sensors.FlowDY)

	e.lastUpdate = e.clock.Now()

	e.logger.Info("pose zeroed",
		slog.Float64("height", e.pose.HeightCm),
		slog.Float64("yaw", e.pose.YawDeg))
}

// Update integrates one tick of sensor data covering the interval dt and
// returns the resulting pose.
func (e *Estimator) Update(ctx context.Context, dt time.Duration) Pose {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastUpdate = e.clock.Now()
	return e.update(ctx, dt)
}

// Step is Update with dt measured since the previous update or reset.
func (e *Estimator) Step(ctx context.Context) Pose {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	dt := firstStepInterval
	if !e.lastUpdate.IsZero() {
		dt = now.Sub(e.lastUpdate)
	}
	e.lastUpdate = now

	return e.update(ctx, dt)
}

func (e *Estimator) update(ctx context.Context, dt time.Duration) Pose {
	secs := max(dt, minUpdateInterval).Seconds()

	dx := e.readFlow(ctx, e.sensors.FlowDX) * e.flowScale
	dy := e.readFlow(ctx, e.sensors.FlowDY) * e.flowScale

	if vx := math.Abs(dx) / secs; vx > e.maxVelocity {
		e.stats.RejectedX++
		e.logger.Warn("rejecting lateral flow outlier", slog.Float64("velocity", vx), slog.Float64("delta", dx))
		dx = 0
	}
	if vy := math.Abs(dy) / secs; vy > e.maxVelocity {
		e.stats.RejectedY++
		e.logger.Warn("rejecting forward flow outlier", slog.Float64("velocity", vy), slog.Float64("delta", dy))
		dy = 0
	}

	e.readYaw(ctx)

	dxWorld, dyWorld := BodyToWorld(dx, dy, e.pose.YawDeg-e.yawRefDeg)
	e.pose.X += dxWorld
	e.pose.Y += dyWorld
	e.stats.PathLengthCm += math.Hypot(dxWorld, dyWorld)

	if h, ok := e.readHeight(ctx); ok {
		e.pushHeight(h)
	} else if e.haveHeight {
		e.pushHeight(e.lastRawHeight)
	}

	e.stats.Ticks++
	return e.pose
}

// Pose returns the current pose snapshot.
func (e *Estimator) Pose() Pose {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pose
}

// Snap overwrites the horizontal position with a known-good value. Height
// and yaw are untouched.
func (e *Estimator) Snap(x, y float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logger.Debug("position snapped",
		slog.Float64("fromX", e.pose.X), slog.Float64("fromY", e.pose.Y),
		slog.Float64("toX", x), slog.Float64("toY", y))

	e.pose.X, e.pose.Y = x, y
}

// SampleHeight takes n fresh height readings, spaced by spacing, feeds each
// into the height filter and returns their mean. ok is false when every
// reading failed.
func (e *Estimator) SampleHeight(ctx context.Context, n int, spacing time.Duration) (float64, bool) {
	var sum float64
	var count int

	for i := 0; i < n; i++ {
		e.mu.Lock()
		if h, ok := e.readHeight(ctx); ok {
			e.pushHeight(h)
			sum += h
			count++
		}
		e.mu.Unlock()

		e.clock.Sleep(spacing)
	}

	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

// Stats returns a copy of the estimator counters.
func (e *Estimator) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Estimator) pushHeight(h float64) {
	e.history.push(h)
	if m, ok := e.history.mean(); ok {
		e.pose.HeightCm = m
	}
}

func (e *Estimator) readHeight(ctx context.Context) (float64, bool) {
	h, err := e.sensors.Height(ctx)
	if err != nil || math.IsNaN(h) || math.IsInf(h, 0) {
		e.stats.SensorFailures++
		e.logger.Debug("height read failed", slog.Any("error", err))
		return 0, false
	}

	e.lastRawHeight = h
	e.haveHeight = true
	return h, true
}

func (e *Estimator) readYaw(ctx context.Context) {
	yaw, err := e.sensors.Yaw(ctx)
	if err != nil || math.IsNaN(yaw) || math.IsInf(yaw, 0) {
		e.stats.SensorFailures++
		e.logger.Warn("could not read yaw, using last known value", slog.Float64("yaw", e.pose.YawDeg))
		return
	}
	e.pose.YawDeg = yaw
}

func (e *Estimator) readFlow(ctx context.Context, read func(context.Context) (float64, error)) float64 {
	v, err := read(ctx)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		e.stats.SensorFailures++
		e.logger.Debug("flow read failed", slog.Any("error", err))
		return 0
	}
	return v
}

// BodyToWorld rotates a body-frame displacement into the world frame for a
// vehicle heading of yawDeg relative to the world +Y axis.
func BodyToWorld(dx, dy, yawDeg float64) (float64, float64) {
	sin, cos := math.Sincos(yawDeg * math.Pi / 180)
	return dx*cos + dy*sin, -dx*sin + dy*cos
}
