package app

import (
	"math"
	"time"

	"github.com/roman-kulish/flow-navigation/internal/storage"
)

// TrackPoint is a pose tick projected onto the ground plane.
type TrackPoint struct {
	XCm           float64
	YCm           float64
	HeightCm      float64
	WaypointIndex int
}

// Bounds is the extent of the track on the ground plane.
type Bounds struct {
	MinX, MaxX float64
	MinY, MaxY float64
}

// Width returns the extent along X.
func (b Bounds) Width() float64 { return b.MaxX - b.MinX }

// Height returns the extent along Y.
func (b Bounds) Height() float64 { return b.MaxY - b.MinY }

// Grow expands the bounds by margin on every side.
func (b Bounds) Grow(margin float64) Bounds {
	return Bounds{
		MinX: b.MinX - margin,
		MaxX: b.MaxX + margin,
		MinY: b.MinY - margin,
		MaxY: b.MaxY + margin,
	}
}

// TrackData accumulates the pose ticks and outcomes of a flight.
type TrackData struct {
	Flight   *storage.Flight
	Points   []TrackPoint
	Outcomes []storage.WaypointOutcome

	Bounds         Bounds
	HeightMin      float64
	HeightMax      float64
	PathLengthCm   float64
	TimestampStart time.Time
	TimestampEnd   time.Time
}

func NewTrackData(flight *storage.Flight) *TrackData {
	return &TrackData{
		Flight: flight,
		Bounds: Bounds{
			MinX: math.Inf(1),
			MaxX: math.Inf(-1),
			MinY: math.Inf(1),
			MaxY: math.Inf(-1),
		},
		HeightMin: math.Inf(1),
		HeightMax: math.Inf(-1),
	}
}

// Update appends a pose tick. Ticks must arrive in recording order.
func (t *TrackData) Update(tick *storage.PoseTick) {
	p := TrackPoint{
		XCm:           tick.XCm,
		YCm:           tick.YCm,
		HeightCm:      tick.HeightCm,
		WaypointIndex: tick.WaypointIndex,
	}

	if n := len(t.Points); n > 0 {
		prev := t.Points[n-1]
		t.PathLengthCm += math.Hypot(p.XCm-prev.XCm, p.YCm-prev.YCm)
	} else {
		t.TimestampStart = tick.Timestamp
	}
	t.TimestampEnd = tick.Timestamp
	t.Points = append(t.Points, p)

	t.extend(p.XCm, p.YCm)
	t.HeightMin = math.Min(t.HeightMin, p.HeightCm)
	t.HeightMax = math.Max(t.HeightMax, p.HeightCm)
}

// AddOutcomes records waypoint outcomes. Outcome poses widen the bounds so
// that markers stay inside the plot.
func (t *TrackData) AddOutcomes(outcomes []storage.WaypointOutcome) {
	for _, o := range outcomes {
		t.Outcomes = append(t.Outcomes, o)
		t.extend(o.Pose.XCm, o.Pose.YCm)
	}
}

// Empty reports whether nothing was recorded.
func (t *TrackData) Empty() bool {
	return len(t.Points) == 0 && len(t.Outcomes) == 0
}

// NormalizedHeight maps a height onto [0, 1] within the recorded range.
func (t *TrackData) NormalizedHeight(h float64) float64 {
	span := t.HeightMax - t.HeightMin
	if span <= 0 || math.IsInf(span, 0) {
		return 0
	}
	return math.Max(0, math.Min(1, (h-t.HeightMin)/span))
}

func (t *TrackData) extend(x, y float64) {
	t.Bounds.MinX = math.Min(t.Bounds.MinX, x)
	t.Bounds.MaxX = math.Max(t.Bounds.MaxX, x)
	t.Bounds.MinY = math.Min(t.Bounds.MinY, y)
	t.Bounds.MaxY = math.Max(t.Bounds.MaxY, y)
}
