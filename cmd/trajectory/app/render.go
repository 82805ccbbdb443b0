package app

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
)

const (
	// Default border sizes in pixels
	defaultTopBorder    = 30
	defaultLeftBorder   = 70
	defaultBottomBorder = 110
	defaultRightBorder  = 70

	minMarginCm     = 20.0
	markerSize      = 9
	trackLineWidth  = 2
	originCrossSize = 6
)

var errEmptyTrack = errors.New("nothing was recorded for the flight")

// BorderConfig defines the sizes of white space around the plot.
type BorderConfig struct {
	Top    int // Space for waypoint labels
	Left   int // Space for the Y scale
	Bottom int // Space for the X scale and the information bar
	Right  int // Space for the height legend
}

// RenderConfig holds the configuration of the trajectory image.
type RenderConfig struct {
	Size          int // plot area edge in pixels
	NoAnnotations bool
	BorderConfig  BorderConfig
}

// TrackRenderer draws a top-down view of a flight.
type TrackRenderer struct {
	colorMap *HeightColorMapper
	config   RenderConfig
}

func NewTrackRenderer(config RenderConfig) *TrackRenderer {
	if config.Size == 0 {
		config.Size = defaultImageSize
	}
	if config.BorderConfig.Top == 0 {
		config.BorderConfig.Top = defaultTopBorder
	}
	if config.BorderConfig.Left == 0 {
		config.BorderConfig.Left = defaultLeftBorder
	}
	if config.BorderConfig.Bottom == 0 {
		config.BorderConfig.Bottom = defaultBottomBorder
	}
	if config.BorderConfig.Right == 0 {
		config.BorderConfig.Right = defaultRightBorder
	}

	return &TrackRenderer{
		colorMap: NewHeightColorMapper(defaultColorMapSize),
		config:   config,
	}
}

// Render creates an image of the track with annotations.
func (r *TrackRenderer) Render(track *TrackData) (*image.RGBA, error) {
	if track.Empty() {
		return nil, errEmptyTrack
	}

	borders := r.config.BorderConfig
	img := image.NewRGBA(image.Rect(0, 0,
		r.config.Size+borders.Left+borders.Right,
		r.config.Size+borders.Top+borders.Bottom))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	area := image.Rect(borders.Left, borders.Top, borders.Left+r.config.Size, borders.Top+r.config.Size)
	proj := newProjection(area, track.Bounds)

	var ann *Annotator
	if !r.config.NoAnnotations {
		var err error
		if ann, err = NewAnnotator(borders); err != nil {
			return nil, fmt.Errorf("creating annotator: %w", err)
		}
		defer ann.Close()

		// grid goes underneath the track
		ann.drawGrid(img, proj)
	}

	r.drawOrigin(img, proj)
	r.drawTrack(img, proj, track)
	r.drawMarkers(img, proj, track)

	if ann != nil {
		if err := ann.Annotate(img, proj, track, r.colorMap); err != nil {
			return nil, fmt.Errorf("drawing annotations: %w", err)
		}
	}

	return img, nil
}

func (r *TrackRenderer) drawTrack(img *image.RGBA, proj projection, track *TrackData) {
	for i, p := range track.Points {
		c := r.colorMap.Color(track.NormalizedHeight(p.HeightCm))
		to := proj.point(p.XCm, p.YCm)
		if i == 0 {
			fillRect(img, to, trackLineWidth, c)
			continue
		}

		prev := track.Points[i-1]
		drawLine(img, proj.point(prev.XCm, prev.YCm), to, trackLineWidth, c)
	}
}

func (r *TrackRenderer) drawMarkers(img *image.RGBA, proj projection, track *TrackData) {
	for _, o := range track.Outcomes {
		c := colorSuccess
		if o.HeightStatus == "timeout" || o.DistanceStatus == "timeout" {
			c = colorTimeout
		}
		fillRect(img, proj.point(o.Pose.XCm, o.Pose.YCm), markerSize, c)
	}
}

func (r *TrackRenderer) drawOrigin(img *image.RGBA, proj projection) {
	o := proj.point(0, 0)
	if !o.In(proj.area) {
		return
	}
	for d := -originCrossSize; d <= originCrossSize; d++ {
		img.Set(o.X+d, o.Y, colorOrigin)
		img.Set(o.X, o.Y+d, colorOrigin)
	}
}

// projection maps ground plane centimetres onto the plot area. Both axes
// share one scale, forward (Y) points up.
type projection struct {
	area     image.Rectangle
	bounds   Bounds
	pxPerCm  float64
	offsetPx image.Point
}

func newProjection(area image.Rectangle, bounds Bounds) projection {
	span := math.Max(bounds.Width(), bounds.Height())
	margin := math.Max(minMarginCm, span*0.05)
	bounds = bounds.Grow(margin)
	span += 2 * margin

	size := float64(min(area.Dx(), area.Dy()))
	p := projection{
		area:    area,
		bounds:  bounds,
		pxPerCm: size / span,
	}

	// centre the shorter extent
	p.offsetPx = image.Pt(
		int((size-bounds.Width()*p.pxPerCm)/2),
		int((size-bounds.Height()*p.pxPerCm)/2))
	return p
}

func (p projection) point(xCm, yCm float64) image.Point {
	return image.Pt(
		p.area.Min.X+p.offsetPx.X+int(math.Round((xCm-p.bounds.MinX)*p.pxPerCm)),
		p.area.Max.Y-p.offsetPx.Y-int(math.Round((yCm-p.bounds.MinY)*p.pxPerCm)))
}

// visible returns the ground plane extent covered by the plot area.
func (p projection) visible() Bounds {
	ox := float64(p.offsetPx.X) / p.pxPerCm
	oy := float64(p.offsetPx.Y) / p.pxPerCm
	return Bounds{
		MinX: p.bounds.MinX - ox,
		MaxX: p.bounds.MinX - ox + float64(p.area.Dx())/p.pxPerCm,
		MinY: p.bounds.MinY - oy,
		MaxY: p.bounds.MinY - oy + float64(p.area.Dy())/p.pxPerCm,
	}
}

// drawLine draws a thick line using Bresenham's algorithm.
func drawLine(img *image.RGBA, from, to image.Point, width int, c color.Color) {
	dx := abs(to.X - from.X)
	dy := -abs(to.Y - from.Y)
	sx, sy := 1, 1
	if from.X > to.X {
		sx = -1
	}
	if from.Y > to.Y {
		sy = -1
	}

	e := dx + dy
	x, y := from.X, from.Y
	for {
		fillRect(img, image.Pt(x, y), width, c)
		if x == to.X && y == to.Y {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			if x == to.X {
				break
			}
			e += dy
			x += sx
		}
		if e2 <= dx {
			if y == to.Y {
				break
			}
			e += dx
			y += sy
		}
	}
	fillRect(img, to, width, c)
}

// fillRect fills a size x size square centred on p.
func fillRect(img *image.RGBA, p image.Point, size int, c color.Color) {
	half := size / 2
	r := image.Rect(p.X-half, p.Y-half, p.X-half+size, p.Y-half+size)
	draw.Draw(img, r.Intersect(img.Bounds()), image.NewUniform(c), image.Point{}, draw.Src)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
