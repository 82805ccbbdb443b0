package app

import (
	"fmt"
	"image"
	"image/draw"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	dpi            float64 = 72
	fontSize       float64 = 13
	spacing        float64 = 1.3
	tickMarkLength         = 5
	pixelsPerLabel         = 120.0
	legendWidth            = 14
)

// Annotator draws scales, waypoint labels and the information bar.
type Annotator struct {
	context  *freetype.Context
	fontFace font.Face
	borders  BorderConfig
}

func NewAnnotator(borders BorderConfig) (*Annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(fontSize)
	ctx.SetHinting(font.HintingFull)
	ctx.SetSrc(image.Black)

	return &Annotator{
		context: ctx,
		borders: borders,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    fontSize,
			DPI:     dpi,
			Hinting: font.HintingFull,
		}),
	}, nil
}

func (a *Annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *Annotator) Annotate(img *image.RGBA, proj projection, track *TrackData, colors *HeightColorMapper) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	ops := []struct {
		msg string
		fn  func() error
	}{
		{"drawing scales", func() error { return a.drawScales(img, proj) }},
		{"drawing waypoint labels", func() error { return a.drawWaypointLabels(proj, track) }},
		{"drawing height legend", func() error { return a.drawLegend(img, proj, track, colors) }},
		{"drawing info", func() error { return a.drawInfo(img, track) }},
	}
	for _, op := range ops {
		if err := op.fn(); err != nil {
			return fmt.Errorf("%s: %w", op.msg, err)
		}
	}

	return nil
}

// drawGrid draws light grid lines at every scale step.
func (a *Annotator) drawGrid(img *image.RGBA, proj projection) {
	visible := proj.visible()
	step := calculateNiceStep(math.Max(visible.Width(), visible.Height()), proj.area.Dx())

	for x := math.Ceil(visible.MinX/step) * step; x <= visible.MaxX; x += step {
		px := proj.point(x, 0).X
		for y := proj.area.Min.Y; y < proj.area.Max.Y; y++ {
			img.Set(px, y, colorGrid)
		}
	}
	for y := math.Ceil(visible.MinY/step) * step; y <= visible.MaxY; y += step {
		py := proj.point(0, y).Y
		for x := proj.area.Min.X; x < proj.area.Max.X; x++ {
			img.Set(x, py, colorGrid)
		}
	}
}

func (a *Annotator) drawScales(img *image.RGBA, proj projection) error {
	visible := proj.visible()
	step := calculateNiceStep(math.Max(visible.Width(), visible.Height()), proj.area.Dx())

	metrics := a.fontFace.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()

	// X scale under the plot
	for x := math.Ceil(visible.MinX/step) * step; x <= visible.MaxX; x += step {
		px := proj.point(x, 0).X
		for y := proj.area.Max.Y; y < proj.area.Max.Y+tickMarkLength; y++ {
			img.Set(px, y, image.Black)
		}

		label := formatMetres(x)
		width := font.MeasureString(a.fontFace, label).Round()
		pt := freetype.Pt(px-width/2, proj.area.Max.Y+tickMarkLength+fontHeight)
		if _, err := a.context.DrawString(label, pt); err != nil {
			return fmt.Errorf("drawing X label: %w", err)
		}
	}

	// Y scale left of the plot
	for y := math.Ceil(visible.MinY/step) * step; y <= visible.MaxY; y += step {
		py := proj.point(0, y).Y
		for x := proj.area.Min.X - tickMarkLength; x < proj.area.Min.X; x++ {
			img.Set(x, py, image.Black)
		}

		label := formatMetres(y)
		width := font.MeasureString(a.fontFace, label).Round()
		pt := freetype.Pt(proj.area.Min.X-tickMarkLength-3-width, py+fontHeight/2-metrics.Descent.Round())
		if _, err := a.context.DrawString(label, pt); err != nil {
			return fmt.Errorf("drawing Y label: %w", err)
		}
	}

	return nil
}

func (a *Annotator) drawWaypointLabels(proj projection, track *TrackData) error {
	for _, o := range track.Outcomes {
		p := proj.point(o.Pose.XCm, o.Pose.YCm)
		label := fmt.Sprintf("%d %s", o.WaypointIndex, o.WaypointID)
		pt := freetype.Pt(p.X+markerSize, p.Y-markerSize/2)
		if _, err := a.context.DrawString(label, pt); err != nil {
			return fmt.Errorf("drawing label of waypoint %d: %w", o.WaypointIndex, err)
		}
	}
	return nil
}

// drawLegend draws the height ramp right of the plot.
func (a *Annotator) drawLegend(img *image.RGBA, proj projection, track *TrackData, colors *HeightColorMapper) error {
	if len(track.Points) == 0 {
		return nil
	}

	left := proj.area.Max.X + 10
	top, bottom := proj.area.Min.Y+20, proj.area.Max.Y-20
	for y := top; y < bottom; y++ {
		c := colors.Color(float64(bottom-y) / float64(bottom-top))
		draw.Draw(img, image.Rect(left, y, left+legendWidth, y+1), image.NewUniform(c), image.Point{}, draw.Src)
	}

	pt := freetype.Pt(left, top-6)
	if _, err := a.context.DrawString(formatMetres(track.HeightMax), pt); err != nil {
		return err
	}
	pt = freetype.Pt(left, bottom+(a.fontFace.Metrics().Ascent).Round()+4)
	_, err := a.context.DrawString(formatMetres(track.HeightMin), pt)
	return err
}

func (a *Annotator) drawInfo(img *image.RGBA, track *TrackData) error {
	var timeouts int
	for _, o := range track.Outcomes {
		if o.HeightStatus == "timeout" || o.DistanceStatus == "timeout" {
			timeouts++
		}
	}

	lines := []string{
		fmt.Sprintf("Flight %d (%s), %s", track.Flight.ID, track.Flight.UUID, track.Flight.Status),
		fmt.Sprintf("Recorded: %s - %s (%s)",
			track.TimestampStart.Local().Format(time.DateTime),
			track.TimestampEnd.Local().Format(time.TimeOnly),
			track.TimestampEnd.Sub(track.TimestampStart).Round(time.Second)),
		fmt.Sprintf("Path length: %s; height: %s to %s",
			humanize.SIWithDigits(track.PathLengthCm/100, 2, "m"),
			formatMetres(track.HeightMin),
			formatMetres(track.HeightMax)),
		fmt.Sprintf("Waypoints: %d, %d timed out; ticks: %s",
			len(track.Outcomes), timeouts, humanize.Comma(int64(len(track.Points)))),
	}
	if len(track.Points) == 0 {
		lines = lines[:1]
	}

	top := img.Bounds().Max.Y - a.borders.Bottom + 3*int(fontSize)
	pt := freetype.Pt(a.borders.Left, top)
	for _, s := range lines {
		if _, err := a.context.DrawString(s, pt); err != nil {
			return err
		}
		pt.Y += a.context.PointToFixed(fontSize * spacing)
	}

	return nil
}

func calculateNiceStep(rangeCm float64, widthPx int) float64 {
	steps := []float64{5, 10, 20, 25, 50, 100, 200, 250, 500, 1000, 2000, 5000}

	target := rangeCm / (float64(widthPx) / pixelsPerLabel)
	for _, step := range steps {
		if step >= target {
			return step
		}
	}
	return steps[len(steps)-1]
}

func formatMetres(cm float64) string {
	if math.Abs(cm) < 1e-9 {
		cm = 0
	}
	return humanize.FtoaWithDigits(cm/100, 2) + " m"
}
