// Package vehicle defines the contract between the navigation core and the
// aircraft driver: flight commands and raw sensor getters.
package vehicle

import (
	"context"
	"fmt"
	"time"
)

const (
	Forward Direction = iota + 1
	Backward
	Left
	Right
	Up
	Down
)

// Direction of a relative move command, in the body frame.
type Direction int

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "back"
	case Left:
		return "left"
	case Right:
		return "right"
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Sensors exposes the raw onboard readings the pose estimator integrates.
//
// Flow getters return the body-frame displacement, in raw sensor units,
// accumulated since the previous read. Any getter may return ErrNoReading
// when the sensor produced no value.
type Sensors interface {
	Height(ctx context.Context) (float64, error)
	Yaw(ctx context.Context) (float64, error)
	FlowDX(ctx context.Context) (float64, error)
	FlowDY(ctx context.Context) (float64, error)
}

// Mover issues relative motion commands. Move blocks until the vehicle
// reports the motion as complete.
type Mover interface {
	Move(ctx context.Context, dir Direction, distanceCm float64) error
}

// Vehicle is the full driver surface consumed by the waypoint engine.
// Command failures are returned as *CommandError.
type Vehicle interface {
	Sensors
	Mover

	Pair(ctx context.Context) error
	Takeoff(ctx context.Context) error
	Land(ctx context.Context) error
	Hover(ctx context.Context, d time.Duration) error
	Close() error
}
