package storage

import (
	"database/sql"
	"time"
)

// FlightKind tells what a flight log entry was recorded for.
type FlightKind string

const (
	KindFly       FlightKind = "fly"
	KindCalibrate FlightKind = "calibrate"
)

// FlightStatus is the final state of a flight.
type FlightStatus string

const (
	StatusRunning   FlightStatus = "running"
	StatusCompleted FlightStatus = "completed"
	StatusDegraded  FlightStatus = "degraded"
	StatusAborted   FlightStatus = "aborted"
	StatusFailed    FlightStatus = "failed"
)

// Flight is a single flight or calibration run.
type Flight struct {
	ID         int64
	UUID       string
	Kind       FlightKind
	Course     string
	Config     *string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     FlightStatus
	Error      *string
}

// Pose is an estimated vehicle pose in the flight origin frame.
type Pose struct {
	XCm      float64
	YCm      float64
	YawDeg   float64
	HeightCm float64
}

// PoseTick is a pose recorded after an estimator update.
type PoseTick struct {
	WaypointIndex int
	Timestamp     time.Time
	Pose
}

// WaypointOutcome is the recorded result of a single waypoint.
type WaypointOutcome struct {
	WaypointIndex      int
	WaypointID         string
	Action             string
	HeightStatus       string
	DistanceStatus     string
	OutliersRejected   int
	TargetHeightCm     float64
	CumulativeTargetCm float64
	Pose               Pose
	StartedAt          time.Time
	Duration           time.Duration
}

// CalibrationSample is a single flow calibration trial.
type CalibrationSample struct {
	Trial               int
	CommandedDistanceCm float64
	MeasuredDistanceCm  float64
	FlowScale           float64
	Timestamp           time.Time
}

type flightData struct {
	ID         int64
	UUID       string
	Kind       string
	Course     string
	Config     sql.NullString
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Status     string
	Error      sql.NullString
}

func (d *flightData) toFlight() *Flight {
	f := Flight{
		ID:        d.ID,
		UUID:      d.UUID,
		Kind:      FlightKind(d.Kind),
		Course:    d.Course,
		StartedAt: d.StartedAt,
		Status:    FlightStatus(d.Status),
	}
	if d.Config.Valid {
		f.Config = &d.Config.String
	}
	if d.FinishedAt.Valid {
		f.FinishedAt = &d.FinishedAt.Time
	}
	if d.Error.Valid {
		f.Error = &d.Error.String
	}
	return &f
}
