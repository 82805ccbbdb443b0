package app

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/flow-navigation/internal/storage"
)

func TestProjection_KeepsAspectRatio(t *testing.T) {
	area := image.Rect(0, 0, 500, 500)
	proj := newProjection(area, Bounds{MinX: 0, MaxX: 100, MinY: 0, MaxY: 400})

	a := proj.point(0, 0)
	b := proj.point(0, 100)
	c := proj.point(100, 0)

	// forward is up
	assert.Less(t, b.Y, a.Y)
	assert.Equal(t, a.Y-b.Y, c.X-a.X)

	for _, p := range []image.Point{a, b, c, proj.point(100, 400)} {
		assert.True(t, p.In(area.Inset(-1)), "%v outside of %v", p, area)
	}

	visible := proj.visible()
	assert.InDelta(t, visible.Width(), visible.Height(), 1e-6)
	assert.LessOrEqual(t, visible.MinY, 0.0)
	assert.GreaterOrEqual(t, visible.MaxY, 400.0)
}

func TestTrackRenderer_DrawsTrackAndMarkers(t *testing.T) {
	track := NewTrackData(&storage.Flight{ID: 1, UUID: "test"})
	for i := 0; i <= 10; i++ {
		track.Update(&storage.PoseTick{Pose: storage.Pose{YCm: float64(i) * 10, HeightCm: 50}})
	}
	track.AddOutcomes([]storage.WaypointOutcome{
		{WaypointIndex: 1, WaypointID: "gate", HeightStatus: "success", DistanceStatus: "timeout", Pose: storage.Pose{YCm: 100}},
	})

	r := NewTrackRenderer(RenderConfig{Size: 200, NoAnnotations: true})
	img, err := r.Render(track)
	require.NoError(t, err)

	proj := newProjection(image.Rect(defaultLeftBorder, defaultTopBorder, defaultLeftBorder+200, defaultTopBorder+200), track.Bounds)

	marker := proj.point(0, 100)
	assert.Equal(t, colorTimeout, img.RGBAAt(marker.X, marker.Y))

	mid := proj.point(0, 50)
	assert.Equal(t, r.colorMap.Color(0), img.RGBAAt(mid.X, mid.Y))

	assert.Equal(t, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, img.RGBAAt(1, 1))
}

func TestTrackRenderer_EmptyTrack(t *testing.T) {
	_, err := NewTrackRenderer(RenderConfig{}).Render(NewTrackData(&storage.Flight{}))
	assert.ErrorIs(t, err, errEmptyTrack)
}

func TestHeightColorMapper(t *testing.T) {
	cm := NewHeightColorMapper(16)

	assert.Equal(t, cm.Color(0), cm.Color(-1))
	assert.Equal(t, cm.Color(1), cm.Color(2))

	low, high := cm.Color(0), cm.Color(1)
	assert.Greater(t, low.B, low.R, "low heights are blue")
	assert.Greater(t, high.R, high.B, "high heights are red")
	assert.Equal(t, "#ff0000", Hex(color.RGBA{R: 0xff}))
}

func TestCalculateNiceStep(t *testing.T) {
	assert.Equal(t, 50.0, calculateNiceStep(400, 1000))
	assert.Equal(t, 5.0, calculateNiceStep(10, 1000))
	assert.Equal(t, 5000.0, calculateNiceStep(1e6, 1000))
	assert.Equal(t, "-0.5 m", formatMetres(-50))
	assert.Equal(t, "1.25 m", formatMetres(125))
}
