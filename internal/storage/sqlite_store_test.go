package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newTestStore(t *testing.T, options ...func(*SqliteStore)) *SqliteStore {
	t.Helper()

	store := NewSqliteStore(filepath.Join(t.TempDir(), "flightlog.sqlite"), options...)
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	})
	return store
}

func testTicks(base time.Time, n int) []PoseTick {
	ticks := make([]PoseTick, n)
	for i := range ticks {
		ticks[i] = PoseTick{
			WaypointIndex: i / 10,
			Timestamp:     base.Add(time.Duration(i) * 100 * time.Millisecond),
			Pose: Pose{
				XCm:      float64(i) * 0.5,
				YCm:      float64(i) * 3,
				YawDeg:   1.5,
				HeightCm: 40 + float64(i%7),
			},
		}
	}
	return ticks
}

func TestSqliteStore_FlightLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	config := map[string]any{"flowScale": 1.12}
	flight, err := store.CreateFlight(ctx, KindFly, "courses/timewarp.json", config)
	if err != nil {
		t.Fatalf("Failed to create flight: %v", err)
	}
	if flight.ID == 0 || flight.UUID == "" {
		t.Fatalf("Expected flight ID and UUID to be assigned, got %+v", flight)
	}
	if flight.Status != StatusRunning {
		t.Errorf("Expected status %q, got %q", StatusRunning, flight.Status)
	}

	cause := errors.New("waypoint 2 (cube): distance timeout")
	if err = store.FinishFlight(ctx, flight.ID, StatusDegraded, cause); err != nil {
		t.Fatalf("Failed to finish flight: %v", err)
	}

	got, err := store.Flight(ctx, flight.ID)
	if err != nil {
		t.Fatalf("Failed to read flight: %v", err)
	}
	if got.UUID != flight.UUID || got.Kind != KindFly || got.Course != "courses/timewarp.json" {
		t.Errorf("Unexpected flight: %+v", got)
	}
	if got.Status != StatusDegraded {
		t.Errorf("Expected status %q, got %q", StatusDegraded, got.Status)
	}
	if got.FinishedAt == nil {
		t.Errorf("Expected finish time to be set")
	}
	if got.Error == nil || *got.Error != cause.Error() {
		t.Errorf("Expected error %q, got %v", cause, got.Error)
	}
	if got.Config == nil || *got.Config != `{"flowScale":1.12}` {
		t.Errorf("Unexpected config: %v", got.Config)
	}
}

func TestSqliteStore_FlightNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.CreateFlight(ctx, KindCalibrate, "", nil); err != nil {
		t.Fatalf("Failed to create flight: %v", err)
	}

	if _, err := store.Flight(ctx, 42); !errors.Is(err, ErrFlightNotFound) {
		t.Errorf("Expected ErrFlightNotFound, got %v", err)
	}
	if err := store.FinishFlight(ctx, 42, StatusCompleted, nil); !errors.Is(err, ErrFlightNotFound) {
		t.Errorf("Expected ErrFlightNotFound, got %v", err)
	}
	if _, err := store.LatestFlight(ctx, KindFly); !errors.Is(err, ErrFlightNotFound) {
		t.Errorf("Expected ErrFlightNotFound, got %v", err)
	}
}

func TestSqliteStore_Flights(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first, err := store.CreateFlight(ctx, KindFly, "a.json", nil)
	if err != nil {
		t.Fatalf("Failed to create flight: %v", err)
	}
	second, err := store.CreateFlight(ctx, KindCalibrate, "", `{"knownDistanceCm":100}`)
	if err != nil {
		t.Fatalf("Failed to create flight: %v", err)
	}
	third, err := store.CreateFlight(ctx, KindFly, "b.json", []byte("raw"))
	if err != nil {
		t.Fatalf("Failed to create flight: %v", err)
	}

	flights, err := store.Flights(ctx)
	if err != nil {
		t.Fatalf("Failed to list flights: %v", err)
	}
	if len(flights) != 3 {
		t.Fatalf("Expected 3 flights, got %d", len(flights))
	}
	for i, want := range []int64{first.ID, second.ID, third.ID} {
		if flights[i].ID != want {
			t.Errorf("Flight %d: expected ID %d, got %d", i, want, flights[i].ID)
		}
	}

	latest, err := store.LatestFlight(ctx, KindFly)
	if err != nil {
		t.Fatalf("Failed to get latest flight: %v", err)
	}
	if latest.ID != third.ID {
		t.Errorf("Expected latest flight %d, got %d", third.ID, latest.ID)
	}
	if latest.Config == nil || *latest.Config != "raw" {
		t.Errorf("Unexpected config: %v", latest.Config)
	}
}

func TestSqliteStore_PosesRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, WithBatchSize(7))

	flight, err := store.CreateFlight(ctx, KindFly, "course.json", nil)
	if err != nil {
		t.Fatalf("Failed to create flight: %v", err)
	}

	base := time.Date(2025, 2, 14, 16, 5, 11, 0, time.UTC)
	ticks := testTicks(base, 25)
	if err = store.StorePoses(ctx, flight.ID, ticks); err != nil {
		t.Fatalf("Failed to store poses: %v", err)
	}
	if err = store.StorePoses(ctx, flight.ID, nil); err != nil {
		t.Fatalf("Storing no poses should be a no-op, got %v", err)
	}

	got := readAll(t, store, flight.ID)
	if diff := cmp.Diff(ticks, got); diff != "" {
		t.Errorf("ReadPoses() mismatch (-want +got):\n%s", diff)
	}
}

func TestSqliteStore_ReadPosesFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	flight, err := store.CreateFlight(ctx, KindFly, "course.json", nil)
	if err != nil {
		t.Fatalf("Failed to create flight: %v", err)
	}
	other, err := store.CreateFlight(ctx, KindFly, "course.json", nil)
	if err != nil {
		t.Fatalf("Failed to create flight: %v", err)
	}

	base := time.Date(2025, 2, 14, 16, 5, 11, 0, time.UTC)
	ticks := testTicks(base, 30)
	if err = store.StorePoses(ctx, flight.ID, ticks); err != nil {
		t.Fatalf("Failed to store poses: %v", err)
	}
	if err = store.StorePoses(ctx, other.ID, testTicks(base, 5)); err != nil {
		t.Fatalf("Failed to store poses: %v", err)
	}

	testCases := []struct {
		name string
		opts []ReaderOption
		want []PoseTick
	}{
		{
			name: "all",
			want: ticks,
		},
		{
			name: "waypoint",
			opts: []ReaderOption{WithWaypoint(1)},
			want: ticks[10:20],
		},
		{
			name: "time range",
			opts: []ReaderOption{WithTimeRange(base.Add(500*time.Millisecond), base.Add(1500*time.Millisecond))},
			want: ticks[5:16],
		},
		{
			name: "start time",
			opts: []ReaderOption{WithStartTime(base.Add(2550 * time.Millisecond))},
			want: ticks[26:],
		},
		{
			name: "end time and waypoint",
			opts: []ReaderOption{WithWaypoint(0), WithEndTime(base.Add(250 * time.Millisecond))},
			want: ticks[:3],
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := readAll(t, store, flight.ID, tc.opts...)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("ReadPoses() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSqliteStore_ReadPosesInvalidRange(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	flight, err := store.CreateFlight(ctx, KindFly, "course.json", nil)
	if err != nil {
		t.Fatalf("Failed to create flight: %v", err)
	}

	now := time.Now()
	reader, err := store.ReadPoses(ctx, flight.ID, WithTimeRange(now, now.Add(-time.Second)))
	if err == nil {
		t.Fatalf("Expected an error for an inverted time range")
	}
	if reader != nil {
		t.Errorf("Expected no reader, got %v", reader)
	}
}

func TestSqliteStore_ReadPosesCancelled(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	flight, err := store.CreateFlight(ctx, KindFly, "course.json", nil)
	if err != nil {
		t.Fatalf("Failed to create flight: %v", err)
	}
	if err = store.StorePoses(ctx, flight.ID, testTicks(time.Now(), 3)); err != nil {
		t.Fatalf("Failed to store poses: %v", err)
	}

	reader, err := store.ReadPoses(ctx, flight.ID)
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer reader.Close()

	cctx, cancel := context.WithCancel(ctx)
	if !reader.Next(cctx) {
		t.Fatalf("Expected a pose tick, got error %v", reader.Error())
	}
	cancel()

	if reader.Next(cctx) {
		t.Fatalf("Expected iteration to stop on a cancelled context")
	}
	if !errors.Is(reader.Error(), context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", reader.Error())
	}
}

func TestSqliteStore_Outcomes(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	flight, err := store.CreateFlight(ctx, KindFly, "course.json", nil)
	if err != nil {
		t.Fatalf("Failed to create flight: %v", err)
	}

	started := time.Date(2025, 2, 14, 16, 5, 11, 250_000_000, time.UTC)
	want := []WaypointOutcome{
		{
			WaypointIndex:  0,
			WaypointID:     "start",
			Action:         "takeoff",
			HeightStatus:   "not_run",
			DistanceStatus: "not_run",
			Pose:           Pose{HeightCm: 40},
			StartedAt:      started,
			Duration:       850 * time.Millisecond,
		},
		{
			WaypointIndex:      1,
			WaypointID:         "arch",
			Action:             "pass_through",
			HeightStatus:       "timeout",
			DistanceStatus:     "success",
			OutliersRejected:   2,
			TargetHeightCm:     85,
			CumulativeTargetCm: 180,
			Pose:               Pose{XCm: -1.25, YCm: 200, YawDeg: 3, HeightCm: 78.5},
			StartedAt:          started.Add(time.Second),
			Duration:           9 * time.Second,
		},
	}

	// stored out of order on purpose
	for _, o := range []WaypointOutcome{want[1], want[0]} {
		if err = store.StoreOutcome(ctx, flight.ID, o); err != nil {
			t.Fatalf("Failed to store outcome: %v", err)
		}
	}

	got, err := store.Outcomes(ctx, flight.ID)
	if err != nil {
		t.Fatalf("Failed to read outcomes: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Outcomes() mismatch (-want +got):\n%s", diff)
	}
}

func TestSqliteStore_CalibrationSamples(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	flight, err := store.CreateFlight(ctx, KindCalibrate, "", nil)
	if err != nil {
		t.Fatalf("Failed to create flight: %v", err)
	}

	ts := time.Date(2025, 2, 14, 16, 0, 0, 0, time.UTC)
	want := []CalibrationSample{
		{Trial: 0, CommandedDistanceCm: 100, MeasuredDistanceCm: 80, FlowScale: 1.25, Timestamp: ts},
		{Trial: 1, CommandedDistanceCm: 100, MeasuredDistanceCm: 0, FlowScale: 1, Timestamp: ts.Add(5 * time.Second)},
	}
	for _, sample := range want {
		if err = store.StoreCalibrationSample(ctx, flight.ID, sample); err != nil {
			t.Fatalf("Failed to store calibration sample: %v", err)
		}
	}

	got, err := store.CalibrationSamples(ctx, flight.ID)
	if err != nil {
		t.Fatalf("Failed to read calibration samples: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CalibrationSamples() mismatch (-want +got):\n%s", diff)
	}
}

func TestSqliteStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "flightlog.sqlite")

	store := NewSqliteStore(path)
	flight, err := store.CreateFlight(ctx, KindFly, "course.json", nil)
	if err != nil {
		t.Fatalf("Failed to create flight: %v", err)
	}
	if err = store.Close(); err != nil {
		t.Fatalf("Failed to close store: %v", err)
	}
	if err = store.Close(); err != nil {
		t.Fatalf("Second close should be a no-op, got %v", err)
	}

	// migrations are already applied on the second open
	reopened := NewSqliteStore(path)
	defer reopened.Close()

	if _, err = reopened.CreateFlight(ctx, KindFly, "course.json", nil); err != nil {
		t.Fatalf("Failed to create flight: %v", err)
	}
	got, err := reopened.Flight(ctx, flight.ID)
	if err != nil {
		t.Fatalf("Failed to read flight: %v", err)
	}
	if got.UUID != flight.UUID {
		t.Errorf("Expected UUID %s, got %s", flight.UUID, got.UUID)
	}
}

func readAll(t *testing.T, store Store, flightID int64, opts ...ReaderOption) []PoseTick {
	t.Helper()

	ctx := context.Background()
	reader, err := store.ReadPoses(ctx, flightID, opts...)
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer reader.Close()

	var ticks []PoseTick
	for reader.Next(ctx) {
		ticks = append(ticks, *reader.Current())
	}
	if err = reader.Error(); err != nil {
		t.Fatalf("Failed to read poses: %v", err)
	}
	return ticks
}
