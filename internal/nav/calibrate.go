package nav

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/roman-kulish/flow-navigation/internal/vehicle"
)

const (
	calibrationPreMove      = 500 * time.Millisecond
	calibrationSettle       = 2 * time.Second
	calibrationTicks        = 10
	calibrationTickInterval = 100 * time.Millisecond
	calibrationTrialPause   = time.Second
)

// ErrCalibrationFailed is returned when the flow sensor did not register a
// forward displacement during a calibration move. The accompanying scale is
// the neutral 1.0 so callers may continue.
var ErrCalibrationFailed = errors.New("calibration failed: no forward flow measured")

// CalibrationSample is a single commanded/measured pair.
type CalibrationSample struct {
	CommandedDistanceCm float64
	MeasuredDistanceCm  float64
}

// Calibration is the result of one or more calibration trials.
type Calibration struct {
	FlowScale float64
	StdDev    float64
	Samples   []CalibrationSample
}

// Calibrate commands a forward move of knownCm from a freshly reset pose and
// compares it with the integrated forward distance. The returned scale is
// relative to the estimator's current flow scale.
func (e *Estimator) Calibrate(ctx context.Context, mover vehicle.Mover, knownCm float64) (Calibration, error) {
	if knownCm <= 0 {
		return Calibration{FlowScale: DefaultFlowScale}, fmt.Errorf("calibration distance must be positive, got %v", knownCm)
	}

	e.Reset(ctx)
	e.clock.Sleep(calibrationPreMove)

	if err := mover.Move(ctx, vehicle.Forward, knownCm); err != nil {
		return Calibration{FlowScale: DefaultFlowScale}, fmt.Errorf("calibration move: %w", err)
	}

	e.clock.Sleep(calibrationSettle)

	for i := 0; i < calibrationTicks; i++ {
		if err := ctx.Err(); err != nil {
			return Calibration{FlowScale: DefaultFlowScale}, err
		}
		e.Step(ctx)
		e.clock.Sleep(calibrationTickInterval)
	}

	measured := e.Pose().Y
	sample := CalibrationSample{
		CommandedDistanceCm: knownCm,
		MeasuredDistanceCm:  measured,
	}
	result := Calibration{
		FlowScale: DefaultFlowScale,
		Samples:   []CalibrationSample{sample},
	}

	if measured <= 0 {
		e.logger.Warn("calibration measured no forward motion", slog.Float64("measured", measured))
		return result, ErrCalibrationFailed
	}

	result.FlowScale = e.flowScale * knownCm / measured

	e.logger.Info("calibration trial complete",
		slog.Float64("commanded", knownCm),
		slog.Float64("measured", measured),
		slog.Float64("flowScale", result.FlowScale))

	return result, nil
}

// CalibrateTrials runs Calibrate repeatedly, returning to the start between
// trials, and reports the mean and standard deviation of the successful
// trials. Failed trials are skipped; when none succeed the scale is 1.0 and
// ErrCalibrationFailed is returned.
func (e *Estimator) CalibrateTrials(ctx context.Context, mover vehicle.Mover, knownCm float64, trials int) (Calibration, error) {
	trials = max(trials, 1)

	var scales []float64
	var samples []CalibrationSample

	for i := 0; i < trials; i++ {
		cal, err := e.Calibrate(ctx, mover, knownCm)
		samples = append(samples, cal.Samples...)

		switch {
		case errors.Is(err, ErrCalibrationFailed):
			e.logger.Warn("calibration trial failed", slog.Int("trial", i+1))
		case err != nil:
			return Calibration{FlowScale: DefaultFlowScale, Samples: samples}, fmt.Errorf("trial %d: %w", i+1, err)
		default:
			scales = append(scales, cal.FlowScale)
		}

		if i < trials-1 {
			if err := mover.Move(ctx, vehicle.Backward, knownCm); err != nil {
				return Calibration{FlowScale: DefaultFlowScale, Samples: samples}, fmt.Errorf("calibration return move: %w", err)
			}
			e.clock.Sleep(calibrationTrialPause)
		}
	}

	if len(scales) == 0 {
		return Calibration{FlowScale: DefaultFlowScale, Samples: samples}, ErrCalibrationFailed
	}

	result := Calibration{Samples: samples}
	if len(scales) == 1 {
		result.FlowScale = scales[0]
	} else {
		result.FlowScale, result.StdDev = stat.MeanStdDev(scales, nil)
	}

	e.logger.Info("calibration complete",
		slog.Int("trials", trials),
		slog.Int("successful", len(scales)),
		slog.Float64("flowScale", result.FlowScale),
		slog.Float64("stdDev", result.StdDev))

	return result, nil
}
