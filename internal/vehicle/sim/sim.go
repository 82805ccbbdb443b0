// Package sim implements a simulated vehicle that moves exactly as commanded
// and reports its motion through the same raw sensor surface as real
// hardware. It is used for dry runs and by the navigation tests.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/roman-kulish/flow-navigation/internal/timeutil"
	"github.com/roman-kulish/flow-navigation/internal/vehicle"
)

const (
	defaultSpeedCmS        = 50.0
	defaultTakeoffHeightCm = 80.0
	defaultFlowGain        = 1.0
)

var errNotFlying = errors.New("vehicle is not airborne")

// WithClock sets the clock used to account for motion time.
func WithClock(clock timeutil.Clock) func(*Vehicle) {
	return func(v *Vehicle) {
		v.clock = clock
	}
}

// WithSpeed sets the speed at which moves are executed, in cm/s.
func WithSpeed(cmPerSec float64) func(*Vehicle) {
	return func(v *Vehicle) {
		v.speedCmS = cmPerSec
	}
}

// WithFlowGain sets how many raw flow units the sensor reports per centimetre
// of real displacement. A gain of 0.8 under-reports motion by 20%.
func WithFlowGain(gain float64) func(*Vehicle) {
	return func(v *Vehicle) {
		v.flowGain = gain
	}
}

// WithTakeoffHeight sets the height reached after takeoff.
func WithTakeoffHeight(cm float64) func(*Vehicle) {
	return func(v *Vehicle) {
		v.takeoffHeightCm = cm
	}
}

// WithHeading sets the fixed heading reported by the yaw sensor.
func WithHeading(deg float64) func(*Vehicle) {
	return func(v *Vehicle) {
		v.headingDeg = deg
	}
}

// WithCommandFailure makes the named command ("pair", "takeoff", "land",
// "hover", "move") fail with err.
func WithCommandFailure(command string, err error) func(*Vehicle) {
	return func(v *Vehicle) {
		v.failures[command] = err
	}
}

// Vehicle is a noise-free simulated aircraft.
type Vehicle struct {
	mu sync.Mutex

	clock           timeutil.Clock
	speedCmS        float64
	flowGain        float64
	takeoffHeightCm float64
	headingDeg      float64
	failures        map[string]error

	x, y, height   float64
	flowDX, flowDY float64
	airborne       bool
	paired         bool
	closed         bool
	flowStalled    bool
	heightDropout  bool
	commands       []string
}

// New creates a simulated vehicle resting on the ground at the origin.
func New(options ...func(*Vehicle)) *Vehicle {
	v := Vehicle{
		clock:           timeutil.RealClock{},
		speedCmS:        defaultSpeedCmS,
		flowGain:        defaultFlowGain,
		takeoffHeightCm: defaultTakeoffHeightCm,
		failures:        make(map[string]error),
	}

	for _, option := range options {
		option(&v)
	}

	return &v
}

func (v *Vehicle) command(name string) error {
	v.commands = append(v.commands, name)
	if err, ok := v.failures[name]; ok {
		return vehicle.NewCommandError(name, err)
	}
	if v.closed {
		return vehicle.NewCommandError(name, errors.New("connection closed"))
	}
	return nil
}

func (v *Vehicle) Pair(_ context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.command("pair"); err != nil {
		return err
	}
	v.paired = true
	return nil
}

func (v *Vehicle) Takeoff(_ context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.command("takeoff"); err != nil {
		return err
	}
	v.airborne = true
	v.height = v.takeoffHeightCm
	return nil
}

func (v *Vehicle) Land(_ context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.command("land"); err != nil {
		return err
	}
	v.airborne = false
	v.height = 0
	return nil
}

func (v *Vehicle) Hover(_ context.Context, d time.Duration) error {
	v.mu.Lock()
	if err := v.command("hover"); err != nil {
		v.mu.Unlock()
		return err
	}
	clock := v.clock
	v.mu.Unlock()

	clock.Sleep(d)
	return nil
}

func (v *Vehicle) Move(_ context.Context, dir vehicle.Direction, distanceCm float64) error {
	v.mu.Lock()
	if err := v.command("move"); err != nil {
		v.mu.Unlock()
		return err
	}
	if !v.airborne {
		v.mu.Unlock()
		return vehicle.NewCommandError("move", errNotFlying)
	}

	var bodyX, bodyY float64
	switch dir {
	case vehicle.Forward:
		bodyY = distanceCm
	case vehicle.Backward:
		bodyY = -distanceCm
	case vehicle.Right:
		bodyX = distanceCm
	case vehicle.Left:
		bodyX = -distanceCm
	case vehicle.Up:
		v.height += distanceCm
	case vehicle.Down:
		v.height = math.Max(0, v.height-distanceCm)
	default:
		v.mu.Unlock()
		return vehicle.NewCommandError("move", fmt.Errorf("unsupported direction %s", dir))
	}

	theta := v.headingDeg * math.Pi / 180
	v.x += bodyX*math.Cos(theta) + bodyY*math.Sin(theta)
	v.y += -bodyX*math.Sin(theta) + bodyY*math.Cos(theta)

	if !v.flowStalled {
		v.flowDX += bodyX * v.flowGain
		v.flowDY += bodyY * v.flowGain
	}

	clock := v.clock
	travel := time.Duration(math.Abs(distanceCm) / v.speedCmS * float64(time.Second))
	v.mu.Unlock()

	clock.Sleep(travel)
	return nil
}

func (v *Vehicle) Height(_ context.Context) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.heightDropout {
		return 0, vehicle.ErrNoReading
	}
	return v.height, nil
}

func (v *Vehicle) Yaw(_ context.Context) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.headingDeg, nil
}

func (v *Vehicle) FlowDX(_ context.Context) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	dx := v.flowDX
	v.flowDX = 0
	return dx, nil
}

func (v *Vehicle) FlowDY(_ context.Context) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	dy := v.flowDY
	v.flowDY = 0
	return dy, nil
}

func (v *Vehicle) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.closed = true
	v.paired = false
	return nil
}

// InjectFlowGlitch adds a spurious body-frame flow reading that is reported
// on the next flow read without any real motion.
func (v *Vehicle) InjectFlowGlitch(dx, dy float64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.flowDX += dx
	v.flowDY += dy
}

// StallFlow makes the flow sensor stop registering motion.
func (v *Vehicle) StallFlow(stalled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.flowStalled = stalled
}

// DropHeight makes the height sensor return no value.
func (v *Vehicle) DropHeight(dropped bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.heightDropout = dropped
}

// Position returns the true world-frame position and height.
func (v *Vehicle) Position() (x, y, height float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.x, v.y, v.height
}

// Airborne reports whether the vehicle is flying.
func (v *Vehicle) Airborne() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.airborne
}

// Closed reports whether Close has been called.
func (v *Vehicle) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// Commands returns the names of all commands issued so far, in order.
func (v *Vehicle) Commands() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	result := make([]string, len(v.commands))
	copy(result, v.commands)
	return result
}
