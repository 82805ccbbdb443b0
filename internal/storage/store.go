package storage

import (
	"context"
	"errors"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultFileName is the flight log file name within a data directory.
const DefaultFileName = "flightlog.sqlite"

// ErrFlightNotFound is returned when a flight does not exist in the log.
var ErrFlightNotFound = errors.New("flight not found")

// Store provides an interface for managing the flight log. It records flights,
// pose ticks, waypoint outcomes and calibration samples in a thread-safe manner.
// All operations that write to the database should be considered atomic.
type Store interface {
	// CreateFlight registers a new flight and returns it with its database ID
	// and UUID assigned. The flight starts in the running status.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - kind: Whether this is a course flight or a calibration run
	//   - course: Course file the flight follows, empty for calibration
	//   - config: Optional configuration. Can be string, []byte, or JSON-serializable object
	//
	// Returns:
	//   - flight: The created flight
	//   - error: If flight creation fails or context is cancelled
	CreateFlight(ctx context.Context, kind FlightKind, course string, config any) (*Flight, error)

	// FinishFlight stamps the finish time and final status of a flight.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - flightID: ID of the flight to finish
	//   - status: Final flight status
	//   - cause: Optional error that ended the flight
	//
	// Returns:
	//   - error: ErrFlightNotFound if the flight does not exist, or if the update fails
	FinishFlight(ctx context.Context, flightID int64, status FlightStatus, cause error) error

	// Flight retrieves a specific flight by its ID.
	//
	// Returns:
	//   - flight: Pointer to flight data
	//   - error: ErrFlightNotFound if the flight does not exist, or if retrieval fails
	Flight(ctx context.Context, id int64) (*Flight, error)

	// LatestFlight returns the most recently started flight of the given kind.
	LatestFlight(ctx context.Context, kind FlightKind) (*Flight, error)

	// Flights returns all flights stored in the database.
	// Results are ordered by start time in ascending order.
	Flights(ctx context.Context) ([]*Flight, error)

	// StorePoses saves pose ticks of a flight. Ticks are written in batches,
	// each batch in a single transaction.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - flightID: ID of the flight the ticks belong to
	//   - ticks: Pose ticks in the order they were recorded
	//
	// Returns:
	//   - error: If storage fails or context is cancelled
	StorePoses(ctx context.Context, flightID int64, ticks []PoseTick) error

	// StoreOutcome saves the outcome of a single waypoint.
	StoreOutcome(ctx context.Context, flightID int64, outcome WaypointOutcome) error

	// StoreCalibrationSample saves the result of a single calibration trial.
	StoreCalibrationSample(ctx context.Context, flightID int64, sample CalibrationSample) error

	// Outcomes returns the waypoint outcomes of a flight ordered by waypoint index.
	Outcomes(ctx context.Context, flightID int64) ([]WaypointOutcome, error)

	// CalibrationSamples returns the calibration trials of a flight ordered by trial.
	CalibrationSamples(ctx context.Context, flightID int64) ([]CalibrationSample, error)

	// ReadPoses creates a PoseReader over the pose ticks of a flight in
	// recording order.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - flightID: ID of the flight to read from
	//   - opts: Optional filters (WithWaypoint, WithStartTime, WithEndTime, WithTimeRange)
	//
	// The returned PoseReader must be closed after use to release database resources.
	// Each reader instance should only be used from a single goroutine.
	//
	// Returns error if reader creation fails or the filters are inconsistent.
	ReadPoses(ctx context.Context, flightID int64, opts ...ReaderOption) (PoseReader, error)

	// Close releases all database connections and resources.
	// After Close is called, the store instance cannot be reused.
	// It is safe to call Close multiple times.
	//
	// Returns:
	//   - error: If closing fails or some resources cannot be released
	Close() error
}
