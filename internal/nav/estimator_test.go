package nav

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/flow-navigation/internal/timeutil"
	"github.com/roman-kulish/flow-navigation/internal/vehicle"
)

// fakeSensors returns scripted readings. Flow is cleared on read.
type fakeSensors struct {
	height    float64
	heightErr error
	yaw       float64
	yawErr    error
	dx, dy    float64
	flowErr   error
}

func (f *fakeSensors) Height(context.Context) (float64, error) {
	if f.heightErr != nil {
		return 0, f.heightErr
	}
	return f.height, nil
}

func (f *fakeSensors) Yaw(context.Context) (float64, error) {
	if f.yawErr != nil {
		return 0, f.yawErr
	}
	return f.yaw, nil
}

func (f *fakeSensors) FlowDX(context.Context) (float64, error) {
	if f.flowErr != nil {
		return 0, f.flowErr
	}
	dx := f.dx
	f.dx = 0
	return dx, nil
}

func (f *fakeSensors) FlowDY(context.Context) (float64, error) {
	if f.flowErr != nil {
		return 0, f.flowErr
	}
	dy := f.dy
	f.dy = 0
	return dy, nil
}

func newMockClock() *timeutil.MockClock {
	return timeutil.NewMockClock(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
}

func TestEstimator_UpdateIntegratesRotatedDelta(t *testing.T) {
	testCases := []struct {
		name   string
		refYaw float64
		yaw    float64
		scale  float64
		dx, dy float64
		wantX  float64
		wantY  float64
	}{
		{name: "aligned", yaw: 0, scale: 1, dx: 3, dy: 4, wantX: 3, wantY: 4},
		{name: "scaled", yaw: 0, scale: 2, dx: 3, dy: 4, wantX: 6, wantY: 8},
		{name: "facing right", yaw: 90, scale: 1, dy: 10, wantX: 10, wantY: 0},
		{name: "facing left", yaw: -90, scale: 1, dy: 10, wantX: -10, wantY: 0},
		{name: "lateral facing right", yaw: 90, scale: 1, dx: 10, wantX: 0, wantY: -10},
		{name: "diagonal", yaw: 45, scale: 1, dy: 10, wantX: 10 / math.Sqrt2, wantY: 10 / math.Sqrt2},
		{name: "takeoff heading is forward", refYaw: 30, yaw: 30, scale: 1, dx: 3, dy: 4, wantX: 3, wantY: 4},
		{name: "turned right of takeoff heading", refYaw: -60, yaw: 30, scale: 1, dy: 10, wantX: 10, wantY: 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			sensors := &fakeSensors{height: 80, yaw: tc.refYaw}
			e := NewEstimator(sensors, WithFlowScale(tc.scale), WithClock(newMockClock()))
			e.Reset(ctx)

			sensors.yaw = tc.yaw
			sensors.dx, sensors.dy = tc.dx, tc.dy
			pose := e.Update(ctx, time.Second)

			assert.InDelta(t, tc.wantX, pose.X, 1e-9)
			assert.InDelta(t, tc.wantY, pose.Y, 1e-9)
			assert.Equal(t, tc.yaw, pose.YawDeg)
			assert.Equal(t, pose, e.Pose())
		})
	}
}

func TestEstimator_ResetTakesHeadingReference(t *testing.T) {
	ctx := context.Background()
	sensors := &fakeSensors{height: 80, yaw: 90}
	e := NewEstimator(sensors, WithClock(newMockClock()))
	e.Reset(ctx)

	sensors.dy = 10
	e.Update(ctx, time.Second)
	assert.InDelta(t, 0.0, e.Pose().X, 1e-9)
	assert.InDelta(t, 10.0, e.Pose().Y, 1e-9)

	// the second leg starts facing the other way
	sensors.yaw = -90
	e.Reset(ctx)

	sensors.dy = 10
	e.Update(ctx, time.Second)
	assert.InDelta(t, 0.0, e.Pose().X, 1e-9)
	assert.InDelta(t, 10.0, e.Pose().Y, 1e-9)
	assert.Equal(t, -90.0, e.Pose().YawDeg)
}

func TestEstimator_RejectsOutliersPerAxis(t *testing.T) {
	ctx := context.Background()
	sensors := &fakeSensors{height: 80}
	e := NewEstimator(sensors, WithMaxVelocity(200), WithClock(newMockClock()))
	e.Reset(ctx)

	// 100 ms at 200 cm/s allows at most 20 cm per axis
	for i := 0; i < 3; i++ {
		sensors.dx, sensors.dy = 5, 50
		e.Update(ctx, 100*time.Millisecond)
	}

	pose := e.Pose()
	assert.InDelta(t, 15.0, pose.X, 1e-9, "lateral axis is accepted")
	assert.Zero(t, pose.Y, "repeated outliers never move the pose")

	stats := e.Stats()
	assert.Equal(t, 0, stats.RejectedX)
	assert.Equal(t, 3, stats.RejectedY)
	assert.Equal(t, 3, stats.Rejected())
	assert.Equal(t, 3, stats.Ticks)
}

func TestEstimator_FloorsUpdateInterval(t *testing.T) {
	ctx := context.Background()
	sensors := &fakeSensors{height: 80}
	e := NewEstimator(sensors, WithClock(newMockClock()))
	e.Reset(ctx)

	sensors.dy = 0.1 // 100 cm/s over 1 ms
	e.Update(ctx, 0)
	assert.InDelta(t, 0.1, e.Pose().Y, 1e-9)

	sensors.dy = 0.5 // 500 cm/s over 1 ms
	e.Update(ctx, 0)
	assert.InDelta(t, 0.1, e.Pose().Y, 1e-9)
}

func TestEstimator_StepMeasuresElapsedTime(t *testing.T) {
	ctx := context.Background()
	clock := newMockClock()
	sensors := &fakeSensors{height: 80}
	e := NewEstimator(sensors, WithClock(clock))
	e.Reset(ctx)

	clock.Advance(time.Second)
	sensors.dy = 150
	assert.InDelta(t, 150.0, e.Step(ctx).Y, 1e-9)

	clock.Advance(100 * time.Millisecond)
	sensors.dy = 150
	assert.InDelta(t, 150.0, e.Step(ctx).Y, 1e-9, "150 cm in 100 ms is an outlier")
}

func TestEstimator_ResetZeroesPosition(t *testing.T) {
	ctx := context.Background()
	sensors := &fakeSensors{height: 80, yaw: 12}
	e := NewEstimator(sensors, WithClock(newMockClock()))
	e.Reset(ctx)

	sensors.dx, sensors.dy = 10, 15
	e.Update(ctx, time.Second)

	sensors.height = 92
	sensors.dx, sensors.dy = 7, 7 // accumulated before the reset and discarded
	e.Reset(ctx)

	pose := e.Pose()
	assert.Zero(t, pose.X)
	assert.Zero(t, pose.Y)
	assert.Equal(t, 92.0, pose.HeightCm)
	assert.Equal(t, 12.0, pose.YawDeg)

	pose = e.Update(ctx, time.Second)
	assert.Zero(t, pose.X)
	assert.Zero(t, pose.Y)
}

func TestEstimator_ResetWithoutHeight(t *testing.T) {
	ctx := context.Background()
	sensors := &fakeSensors{heightErr: vehicle.ErrNoReading}
	e := NewEstimator(sensors, WithDefaultHeight(50), WithClock(newMockClock()))

	e.Reset(ctx)
	assert.Equal(t, 50.0, e.Pose().HeightCm, "default height without any reading")

	sensors.heightErr = nil
	sensors.height = 70
	e.Update(ctx, time.Second)

	sensors.heightErr = vehicle.ErrNoReading
	e.Reset(ctx)
	assert.Equal(t, 70.0, e.Pose().HeightCm, "last known height")
}

func TestEstimator_Snap(t *testing.T) {
	ctx := context.Background()
	sensors := &fakeSensors{height: 80, yaw: 30}
	e := NewEstimator(sensors, WithClock(newMockClock()))
	e.Reset(ctx)

	sensors.dx, sensors.dy = 13, 17
	e.Update(ctx, time.Second)

	e.Snap(4, 180)

	pose := e.Pose()
	assert.Equal(t, 4.0, pose.X)
	assert.Equal(t, 180.0, pose.Y)
	assert.Equal(t, 30.0, pose.YawDeg)
	assert.Equal(t, 80.0, pose.HeightCm)
}

func TestEstimator_HeightFilter(t *testing.T) {
	ctx := context.Background()
	sensors := &fakeSensors{height: 80}
	e := NewEstimator(sensors, WithHistorySize(5), WithClock(newMockClock()))
	e.Reset(ctx)

	sensors.height = 100
	for i := 0; i < 5; i++ {
		e.Update(ctx, 50*time.Millisecond)
	}
	assert.InDelta(t, 100.0, e.Pose().HeightCm, 1e-9, "converges to a constant input")
	assert.Equal(t, 5, e.history.len())

	sensors.height = 300
	e.Update(ctx, 50*time.Millisecond)
	assert.InDelta(t, 140.0, e.Pose().HeightCm, 1e-9)

	sensors.height = 100
	for i := 0; i < 5; i++ {
		e.Update(ctx, 50*time.Millisecond)
	}
	assert.InDelta(t, 100.0, e.Pose().HeightCm, 1e-9, "outlier is evicted")
	assert.Equal(t, 5, e.history.len())
}

func TestEstimator_SensorFailures(t *testing.T) {
	ctx := context.Background()
	sensors := &fakeSensors{height: 80}
	e := NewEstimator(sensors, WithClock(newMockClock()))
	e.Reset(ctx)

	sensors.yaw = 90
	e.Update(ctx, time.Second)

	sensors.yawErr = errors.New("imu offline")
	sensors.dy = 10
	pose := e.Update(ctx, time.Second)
	assert.Equal(t, 90.0, pose.YawDeg, "yaw falls back to the last known value")
	assert.InDelta(t, 10.0, pose.X, 1e-9)

	sensors.flowErr = vehicle.ErrNoReading
	sensors.heightErr = vehicle.ErrNoReading
	pose = e.Update(ctx, time.Second)
	assert.InDelta(t, 10.0, pose.X, 1e-9, "missing flow contributes nothing")
	assert.Equal(t, 80.0, pose.HeightCm)

	assert.Equal(t, 5, e.Stats().SensorFailures)
}

func TestEstimator_SampleHeight(t *testing.T) {
	ctx := context.Background()
	clock := newMockClock()
	sensors := &fakeSensors{height: 40}
	e := NewEstimator(sensors, WithClock(clock))
	e.Reset(ctx)

	sensors.height = 85
	start := clock.Now()
	h, ok := e.SampleHeight(ctx, 3, 20*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, 85.0, h)
	assert.Equal(t, 60*time.Millisecond, clock.Since(start))

	sensors.heightErr = vehicle.ErrNoReading
	_, ok = e.SampleHeight(ctx, 3, 20*time.Millisecond)
	assert.False(t, ok)
}

func TestEstimator_PathLength(t *testing.T) {
	ctx := context.Background()
	sensors := &fakeSensors{height: 80}
	e := NewEstimator(sensors, WithClock(newMockClock()))
	e.Reset(ctx)

	sensors.dx, sensors.dy = 3, 4
	e.Update(ctx, time.Second)
	sensors.dy = -5
	e.Update(ctx, time.Second)

	assert.InDelta(t, 10.0, e.Stats().PathLengthCm, 1e-9)
}

func TestBodyToWorld(t *testing.T) {
	x, y := BodyToWorld(0, 10, 180)
	assert.InDelta(t, 0.0, x, 1e-9)
	assert.InDelta(t, -10.0, y, 1e-9)
}
