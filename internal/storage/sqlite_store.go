package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultBatchSize is the maximum number of pose ticks stored within a single
// database transaction.
const DefaultBatchSize = 200

// WithLogger sets the logger used for schema migrations.
func WithLogger(logger *slog.Logger) func(*SqliteStore) {
	return func(s *SqliteStore) {
		s.logger = logger
	}
}

// WithBatchSize sets the maximum number of pose ticks per insert transaction.
func WithBatchSize(size int) func(*SqliteStore) {
	return func(s *SqliteStore) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// SqliteStore handles database operations
type SqliteStore struct {
	dbPath    string
	logger    *slog.Logger
	batchSize int

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore creates a flight log backed by the SQLite file at dbPath.
// Connections are opened and the schema migrated on first use.
func NewSqliteStore(dbPath string, options ...func(*SqliteStore)) *SqliteStore {
	s := SqliteStore{
		dbPath:    dbPath,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		batchSize: DefaultBatchSize,
	}

	for _, option := range options {
		option(&s)
	}

	s.logger = s.logger.With(slog.String("component", "storage"))
	return &s
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}
		db.SetMaxOpenConns(1)

		if err = migrateUp(db, s.logger); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

const insertFlightSQL = `
INSERT INTO flights (uuid,
                     kind,
                     course,
                     config,
                     started_at,
                     status)
VALUES (?, ?, ?, ?, ?, ?)`

func (s *SqliteStore) CreateFlight(ctx context.Context, kind FlightKind, course string, config any) (flight *Flight, err error) {
	configData, err := toConfigData(config)
	if err != nil {
		return nil, err
	}

	db, err := s.getWriteDB()
	if err != nil {
		return nil, fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, insertFlightSQL)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	data := flightData{
		UUID:      uuid.New().String(),
		Kind:      string(kind),
		Course:    course,
		Config:    configData,
		StartedAt: time.Now().UTC(),
		Status:    string(StatusRunning),
	}

	result, err := stmt.ExecContext(ctx, data.UUID, data.Kind, data.Course, data.Config, data.StartedAt, data.Status)
	if err != nil {
		return nil, fmt.Errorf("inserting flight: %w", err)
	}

	if data.ID, err = result.LastInsertId(); err != nil {
		return nil, fmt.Errorf("getting flight ID: %w", err)
	}
	return data.toFlight(), nil
}

const finishFlightSQL = `
UPDATE flights
SET finished_at = ?,
    status      = ?,
    error       = ?
WHERE id = ?`

func (s *SqliteStore) FinishFlight(ctx context.Context, flightID int64, status FlightStatus, cause error) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	result, err := db.ExecContext(ctx, finishFlightSQL, time.Now().UTC(), string(status), toNullString(cause), flightID)
	if err != nil {
		return fmt.Errorf("updating flight: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("flight %d: %w", flightID, ErrFlightNotFound)
	}
	return nil
}

const selectFlightColumnsSQL = `
SELECT id,
       uuid,
       kind,
       course,
       config,
       started_at,
       finished_at,
       status,
       error
FROM flights`

func scanFlight(row interface{ Scan(...any) error }) (*Flight, error) {
	var data flightData
	err := row.Scan(
		&data.ID,
		&data.UUID,
		&data.Kind,
		&data.Course,
		&data.Config,
		&data.StartedAt,
		&data.FinishedAt,
		&data.Status,
		&data.Error,
	)
	if err != nil {
		return nil, err
	}
	return data.toFlight(), nil
}

func (s *SqliteStore) Flight(ctx context.Context, id int64) (*Flight, error) {
	return s.queryFlight(ctx, selectFlightColumnsSQL+" WHERE id = ?", id)
}

func (s *SqliteStore) LatestFlight(ctx context.Context, kind FlightKind) (*Flight, error) {
	return s.queryFlight(ctx, selectFlightColumnsSQL+" WHERE kind = ? ORDER BY started_at DESC, id DESC LIMIT 1", string(kind))
}

func (s *SqliteStore) queryFlight(ctx context.Context, query string, args ...any) (flight *Flight, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	flight, err = scanFlight(stmt.QueryRowContext(ctx, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFlightNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning flight: %w", err)
	}
	return flight, nil
}

func (s *SqliteStore) Flights(ctx context.Context) (flights []*Flight, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectFlightColumnsSQL+" ORDER BY started_at, id")
	if err != nil {
		return nil, fmt.Errorf("querying flights: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var flight *Flight
		if flight, err = scanFlight(rows); err != nil {
			return nil, fmt.Errorf("scanning flight: %w", err)
		}
		flights = append(flights, flight)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating flights: %w", err)
	}
	return flights, nil
}

const insertPoseTicksSQL = `
INSERT INTO pose_ticks (flight_id,
                        waypoint_index,
                        timestamp,
                        x_cm,
                        y_cm,
                        yaw_deg,
                        height_cm)
VALUES `

func (s *SqliteStore) StorePoses(ctx context.Context, flightID int64, ticks []PoseTick) error {
	if len(ticks) == 0 {
		return nil
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	for chunk := range slices.Chunk(ticks, s.batchSize) {
		if err = s.insertPoseTicks(ctx, db, flightID, chunk); err != nil {
			return fmt.Errorf("storing pose ticks: %w", err)
		}
	}
	return nil
}

func (s *SqliteStore) insertPoseTicks(ctx context.Context, db *sql.DB, flightID int64, ticks []PoseTick) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	values := make([]any, 0, len(ticks)*7)
	valuesPlaceholder := "(?, ?, ?, ?, ?, ?, ?)"

	var sb strings.Builder
	sb.WriteString(insertPoseTicksSQL)

	for i, tick := range ticks {
		values = append(values,
			flightID,
			tick.WaypointIndex,
			tick.Timestamp.UTC(),
			tick.XCm,
			tick.YCm,
			tick.YawDeg,
			tick.HeightCm,
		)

		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(valuesPlaceholder)
	}

	if _, err = tx.ExecContext(ctx, sb.String(), values...); err != nil {
		return fmt.Errorf("batch inserting pose ticks: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

const insertOutcomeSQL = `
INSERT INTO waypoint_outcomes (flight_id,
                               waypoint_index,
                               waypoint_id,
                               action,
                               height_status,
                               distance_status,
                               outliers_rejected,
                               target_height_cm,
                               cumulative_target_cm,
                               x_cm,
                               y_cm,
                               yaw_deg,
                               height_cm,
                               started_at,
                               duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *SqliteStore) StoreOutcome(ctx context.Context, flightID int64, o WaypointOutcome) error {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	_, err = db.ExecContext(ctx, insertOutcomeSQL,
		flightID,
		o.WaypointIndex,
		o.WaypointID,
		o.Action,
		o.HeightStatus,
		o.DistanceStatus,
		o.OutliersRejected,
		o.TargetHeightCm,
		o.CumulativeTargetCm,
		o.Pose.XCm,
		o.Pose.YCm,
		o.Pose.YawDeg,
		o.Pose.HeightCm,
		o.StartedAt.UTC(),
		o.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("inserting waypoint outcome: %w", err)
	}
	return nil
}

const selectOutcomesSQL = `
SELECT waypoint_index,
       waypoint_id,
       action,
       height_status,
       distance_status,
       outliers_rejected,
       target_height_cm,
       cumulative_target_cm,
       x_cm,
       y_cm,
       yaw_deg,
       height_cm,
       started_at,
       duration_ms
FROM waypoint_outcomes
WHERE flight_id = ?
ORDER BY waypoint_index, id`

func (s *SqliteStore) Outcomes(ctx context.Context, flightID int64) (outcomes []WaypointOutcome, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectOutcomesSQL, flightID)
	if err != nil {
		return nil, fmt.Errorf("querying waypoint outcomes: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var o WaypointOutcome
		var durationMs int64
		err = rows.Scan(
			&o.WaypointIndex,
			&o.WaypointID,
			&o.Action,
			&o.HeightStatus,
			&o.DistanceStatus,
			&o.OutliersRejected,
			&o.TargetHeightCm,
			&o.CumulativeTargetCm,
			&o.Pose.XCm,
			&o.Pose.YCm,
			&o.Pose.YawDeg,
			&o.Pose.HeightCm,
			&o.StartedAt,
			&durationMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning waypoint outcome: %w", err)
		}
		o.Duration = time.Duration(durationMs) * time.Millisecond
		outcomes = append(outcomes, o)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating waypoint outcomes: %w", err)
	}
	return outcomes, nil
}

const insertCalibrationSampleSQL = `
INSERT INTO calibration_samples (flight_id,
                                 trial,
                                 commanded_distance_cm,
                                 measured_distance_cm,
                                 flow_scale,
                                 timestamp)
VALUES (?, ?, ?, ?, ?, ?)`

func (s *SqliteStore) StoreCalibrationSample(ctx context.Context, flightID int64, sample CalibrationSample) error {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	_, err = db.ExecContext(ctx, insertCalibrationSampleSQL,
		flightID,
		sample.Trial,
		sample.CommandedDistanceCm,
		sample.MeasuredDistanceCm,
		sample.FlowScale,
		sample.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting calibration sample: %w", err)
	}
	return nil
}

const selectCalibrationSamplesSQL = `
SELECT trial,
       commanded_distance_cm,
       measured_distance_cm,
       flow_scale,
       timestamp
FROM calibration_samples
WHERE flight_id = ?
ORDER BY trial, id`

func (s *SqliteStore) CalibrationSamples(ctx context.Context, flightID int64) (samples []CalibrationSample, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectCalibrationSamplesSQL, flightID)
	if err != nil {
		return nil, fmt.Errorf("querying calibration samples: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var sample CalibrationSample
		if err = rows.Scan(
			&sample.Trial,
			&sample.CommandedDistanceCm,
			&sample.MeasuredDistanceCm,
			&sample.FlowScale,
			&sample.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scanning calibration sample: %w", err)
		}
		samples = append(samples, sample)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating calibration samples: %w", err)
	}
	return samples, nil
}

// ReadPoses creates a PoseReader over the pose ticks of a flight.
func (s *SqliteStore) ReadPoses(ctx context.Context, flightID int64, opts ...ReaderOption) (PoseReader, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	reader, err := newSqlitePoseReader(ctx, db, flightID, opts...)
	if err != nil {
		return nil, err
	}
	return reader, nil
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		s.closeErr = errors.Join(writeErr, readErr)
	})

	return s.closeErr
}

var _ Store = (*SqliteStore)(nil)
