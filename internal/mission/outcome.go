package mission

import (
	"context"
	"fmt"
	"time"

	"github.com/roman-kulish/flow-navigation/internal/nav"
)

const (
	StatusNotRun Status = iota
	StatusSuccess
	StatusTimeout
)

// Status is the result of a single control loop.
type Status int

func (s Status) String() string {
	switch s {
	case StatusNotRun:
		return "not_run"
	case StatusSuccess:
		return "success"
	case StatusTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Outcome records how a waypoint was executed.
type Outcome struct {
	Index              int
	WaypointID         string
	Action             Action
	HeightStatus       Status
	DistanceStatus     Status
	OutliersRejected   int
	TargetHeightCm     float64
	CumulativeTargetCm float64
	Pose               nav.Pose // pose when the waypoint completed
	StartedAt          time.Time
	Duration           time.Duration
}

// Degraded reports whether any control loop of the waypoint timed out.
func (o Outcome) Degraded() bool {
	return o.HeightStatus == StatusTimeout || o.DistanceStatus == StatusTimeout
}

// PoseTick is a pose snapshot taken after an estimator update.
type PoseTick struct {
	WaypointIndex int
	Time          time.Time
	Pose          nav.Pose
}

// FlightState is the engine state for one flight.
type FlightState struct {
	// CumulativeTargetCm is the forward distance from the flight origin that
	// the current leg aims for. It never decreases.
	CumulativeTargetCm float64
	Index              int
	Outcomes           []Outcome
}

// Report summarises a flight.
type Report struct {
	FlightState

	Stats    nav.Stats
	Aborted  bool
	Duration time.Duration
}

// Timeouts returns the number of waypoints with a degraded outcome.
func (r *Report) Timeouts() int {
	var n int
	for _, o := range r.Outcomes {
		if o.Degraded() {
			n++
		}
	}
	return n
}

// Recorder receives flight telemetry. Implementations must not block the
// control loop for long and handle their own failures.
type Recorder interface {
	RecordPose(ctx context.Context, tick PoseTick)
	RecordOutcome(ctx context.Context, outcome Outcome)
}

type nopRecorder struct{}

func (nopRecorder) RecordPose(context.Context, PoseTick)   {}
func (nopRecorder) RecordOutcome(context.Context, Outcome) {}
