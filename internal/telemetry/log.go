// Package telemetry records flight progress: pose ticks and waypoint outcomes
// go to the log and to the flight log database.
package telemetry

import (
	"context"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/flow-navigation/internal/mission"
)

// LogRecorder writes pose ticks at debug level and waypoint outcomes at info,
// or warn when a control loop timed out.
type LogRecorder struct {
	logger *slog.Logger
}

func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	return &LogRecorder{logger: logger.With(slog.String("component", "telemetry"))}
}

func (r *LogRecorder) RecordPose(ctx context.Context, tick mission.PoseTick) {
	r.logger.DebugContext(ctx, "pose",
		slog.Int("waypoint", tick.WaypointIndex),
		slog.String("x", formatCm(tick.Pose.X)),
		slog.String("y", formatCm(tick.Pose.Y)),
		slog.String("height", formatCm(tick.Pose.HeightCm)),
		slog.Float64("yaw", tick.Pose.YawDeg))
}

func (r *LogRecorder) RecordOutcome(ctx context.Context, o mission.Outcome) {
	level := slog.LevelInfo
	if o.Degraded() {
		level = slog.LevelWarn
	}

	r.logger.Log(ctx, level, "waypoint complete",
		slog.Int("waypoint", o.Index),
		slog.String("id", o.WaypointID),
		slog.String("action", o.Action.String()),
		slog.String("height", o.HeightStatus.String()),
		slog.String("distance", o.DistanceStatus.String()),
		slog.String("target", formatCm(o.CumulativeTargetCm)),
		slog.String("reached", formatCm(o.Pose.Y)),
		slog.Int("outliers", o.OutliersRejected),
		slog.Duration("took", o.Duration))
}

// formatCm renders a distance in centimetres as metres with an SI prefix,
// e.g. 180 becomes "1.8 m".
func formatCm(cm float64) string {
	return humanize.SIWithDigits(cm/100, 2, "m")
}
