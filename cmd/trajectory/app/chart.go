package app

import (
	"fmt"
	"image"
	"io"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const maxChartPoints = 5000

// chartArea is the plot area used to square the axes of the chart.
var chartArea = image.Rect(0, 0, 900, 900)

// renderChart writes an interactive scatter plot of the track. Points are
// coloured by height, waypoint outcomes are drawn as labelled diamonds.
func renderChart(w io.Writer, track *TrackData) error {
	if track.Empty() {
		return errEmptyTrack
	}

	stride := 1
	if len(track.Points) > maxChartPoints {
		stride = (len(track.Points) + maxChartPoints - 1) / maxChartPoints
	}

	points := make([]opts.ScatterData, 0, len(track.Points)/stride+1)
	for i := 0; i < len(track.Points); i += stride {
		p := track.Points[i]
		points = append(points, opts.ScatterData{
			Value: []interface{}{round2(p.XCm / 100), round2(p.YCm / 100), round2(p.HeightCm / 100), p.WaypointIndex},
		})
	}

	var success, timeout []opts.ScatterData
	for _, o := range track.Outcomes {
		pt := opts.ScatterData{
			Name:  fmt.Sprintf("%d %s", o.WaypointIndex, o.WaypointID),
			Value: []interface{}{round2(o.Pose.XCm / 100), round2(o.Pose.YCm / 100), round2(o.Pose.HeightCm / 100), o.WaypointIndex},
		}
		if o.HeightStatus == "timeout" || o.DistanceStatus == "timeout" {
			timeout = append(timeout, pt)
		} else {
			success = append(success, pt)
		}
	}

	visible := newProjection(chartArea, track.Bounds).visible()
	colors := NewHeightColorMapper(10)
	ramp := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		ramp = append(ramp, Hex(colors.Color(float64(i)/9)))
	}

	heightMin, heightMax := track.HeightMin, track.HeightMax
	if len(track.Points) == 0 {
		heightMin, heightMax = 0, 0
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Flight Trajectory", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("Flight %d trajectory", track.Flight.ID),
			Subtitle: fmt.Sprintf("uuid=%s status=%s ticks=%d path=%s",
				track.Flight.UUID, track.Flight.Status, len(track.Points),
				humanize.SIWithDigits(track.PathLengthCm/100, 2, "m")),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Min: round2(visible.MinX / 100), Max: round2(visible.MaxX / 100), Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Min: round2(visible.MinY / 100), Max: round2(visible.MaxY / 100), Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Dimension:  "2",
			Min:        float32(heightMin / 100),
			Max:        float32(math.Max(heightMax, heightMin+1) / 100),
			Text:       []string{"height (m)"},
			InRange:    &opts.VisualMapInRange{Color: ramp},
		}),
	)

	scatter.AddSeries("track", points, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	if len(success) > 0 {
		scatter.AddSeries("waypoint", success,
			charts.WithScatterChartOpts(opts.ScatterChart{Symbol: "diamond", SymbolSize: 14}),
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "right", Formatter: "{b}"}))
	}
	if len(timeout) > 0 {
		scatter.AddSeries("timeout", timeout,
			charts.WithScatterChartOpts(opts.ScatterChart{Symbol: "diamond", SymbolSize: 14}),
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "right", Formatter: "{b}"}))
	}

	return scatter.Render(w)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
