package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PoseReader provides an iterator-based interface for reading the pose ticks
// of a flight with optional waypoint and time filtering.
type PoseReader interface {
	// Next advances the iterator and returns true if there is another pose
	// tick to read, false when the iteration is complete or if an error occurred.
	Next(context.Context) bool

	// Current returns the current pose tick in the iteration.
	// If called after Next() returns false, the behavior is undefined.
	Current() *PoseTick

	// Error returns any error that occurred during iteration.
	Error() error

	// Close releases any resources associated with the reader.
	Close() error
}

// ReaderOption configures a PoseReader with specific filtering criteria.
type ReaderOption func(*SqlitePoseReader)

// WithWaypoint limits the reader to ticks recorded while flying to the
// waypoint with the given index.
func WithWaypoint(index int) ReaderOption {
	return func(r *SqlitePoseReader) {
		r.waypoint = &index
	}
}

// WithStartTime excludes ticks recorded before t.
func WithStartTime(t time.Time) ReaderOption {
	return func(r *SqlitePoseReader) {
		r.startTime = &t
	}
}

// WithEndTime excludes ticks recorded after t.
func WithEndTime(t time.Time) ReaderOption {
	return func(r *SqlitePoseReader) {
		r.endTime = &t
	}
}

// WithTimeRange sets both start and end time filters.
func WithTimeRange(startTime, endTime time.Time) ReaderOption {
	return func(r *SqlitePoseReader) {
		r.startTime = &startTime
		r.endTime = &endTime
	}
}

const selectPoseTicksSQL = `
SELECT waypoint_index,
       timestamp,
       x_cm,
       y_cm,
       yaw_deg,
       height_cm
FROM pose_ticks
WHERE flight_id = ?`

// SqlitePoseReader reads pose ticks from the SQLite flight log.
type SqlitePoseReader struct {
	db       *sql.DB
	flightID int64

	waypoint  *int
	startTime *time.Time
	endTime   *time.Time

	rows    *sql.Rows
	current *PoseTick
	err     error
}

func newSqlitePoseReader(ctx context.Context, db *sql.DB, flightID int64, opts ...ReaderOption) (*SqlitePoseReader, error) {
	pr := &SqlitePoseReader{
		db:       db,
		flightID: flightID,
	}

	for _, opt := range opts {
		opt(pr)
	}

	if pr.startTime != nil && pr.endTime != nil && pr.startTime.After(*pr.endTime) {
		return nil, fmt.Errorf("start time %s is after end time %s", pr.startTime, pr.endTime)
	}

	if err := pr.initQuery(ctx); err != nil {
		return nil, fmt.Errorf("initializing query: %w", err)
	}
	return pr, nil
}

func (pr *SqlitePoseReader) initQuery(ctx context.Context) (err error) {
	var sb strings.Builder
	args := []any{pr.flightID}

	sb.WriteString(selectPoseTicksSQL)
	if pr.waypoint != nil {
		sb.WriteString(" AND waypoint_index = ?")
		args = append(args, *pr.waypoint)
	}
	if pr.startTime != nil {
		sb.WriteString(" AND timestamp >= ?")
		args = append(args, pr.startTime.UTC())
	}
	if pr.endTime != nil {
		sb.WriteString(" AND timestamp <= ?")
		args = append(args, pr.endTime.UTC())
	}
	sb.WriteString(" ORDER BY id")

	stmt, err := pr.db.PrepareContext(ctx, sb.String())
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	if pr.rows, err = stmt.QueryContext(ctx, args...); err != nil {
		return err
	}
	return nil
}

func (pr *SqlitePoseReader) Next(ctx context.Context) bool {
	if pr.err != nil || pr.rows == nil {
		return false
	}

	select {
	case <-ctx.Done():
		pr.err = ctx.Err()
		return false
	default:
	}

	if !pr.rows.Next() {
		pr.current = nil
		return false
	}

	var tick PoseTick
	if pr.err = pr.rows.Scan(
		&tick.WaypointIndex,
		&tick.Timestamp,
		&tick.XCm,
		&tick.YCm,
		&tick.YawDeg,
		&tick.HeightCm,
	); pr.err != nil {
		pr.err = fmt.Errorf("scanning pose tick: %w", pr.err)
		return false
	}

	pr.current = &tick
	return true
}

func (pr *SqlitePoseReader) Current() *PoseTick {
	return pr.current
}

func (pr *SqlitePoseReader) Error() error {
	if pr.err != nil {
		return pr.err
	}
	if pr.rows != nil {
		return pr.rows.Err()
	}
	return nil
}

func (pr *SqlitePoseReader) Close() error {
	if pr.rows != nil {
		err := pr.rows.Close()
		pr.rows = nil
		pr.current = nil
		return err
	}
	return nil
}
