package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/flow-navigation/internal/mission"
	"github.com/roman-kulish/flow-navigation/internal/nav"
	"github.com/roman-kulish/flow-navigation/internal/storage"
	"github.com/roman-kulish/flow-navigation/internal/telemetry"
	"github.com/roman-kulish/flow-navigation/internal/timeutil"
	"github.com/roman-kulish/flow-navigation/internal/vehicle"
	"github.com/roman-kulish/flow-navigation/internal/vehicle/sdk"
	"github.com/roman-kulish/flow-navigation/internal/vehicle/sim"
)

const (
	ModeFly       Mode = "fly"
	ModeCalibrate Mode = "calibrate"
)

// Mode selects what the application does with the vehicle.
type Mode string

// WithClock sets the clock for the estimator, the engine and the simulated
// vehicle.
func WithClock(clock timeutil.Clock) func(*App) {
	return func(a *App) {
		a.clock = clock
	}
}

// WithVehicle replaces the configured vehicle adapter.
func WithVehicle(v vehicle.Vehicle) func(*App) {
	return func(a *App) {
		a.vehicle = v
	}
}

// App wires the configured vehicle, the flight log and the navigation stack.
type App struct {
	config  *Config
	logger  *slog.Logger
	clock   timeutil.Clock
	vehicle vehicle.Vehicle
}

func New(config *Config, logger *slog.Logger, options ...func(*App)) *App {
	a := App{
		config: config,
		logger: logger,
		clock:  timeutil.RealClock{},
	}

	for _, option := range options {
		option(&a)
	}

	return &a
}

// Run executes mode with the given configuration.
func Run(ctx context.Context, mode Mode, config *Config, logger *slog.Logger) error {
	a := New(config, logger)

	switch mode {
	case ModeFly:
		_, err := a.Fly(ctx)
		return err

	case ModeCalibrate:
		_, err := a.Calibrate(ctx)
		return err

	default:
		return fmt.Errorf("unknown mode '%s'", mode)
	}
}

// Fly loads the course and flies it, recording the flight in the flight log.
// The vehicle connection is closed on every path once opened.
func (a *App) Fly(ctx context.Context) (report *mission.Report, err error) {
	if a.config.Course == "" {
		return nil, errors.New("no course configured")
	}

	course, err := mission.LoadCourse(a.config.Course)
	if err != nil {
		return nil, fmt.Errorf("loading course: %w", err)
	}

	logger := a.logger.With(slog.String("mode", string(ModeFly)))
	if course.Metadata.Competition != "" {
		logger = logger.With(slog.String("course", course.Metadata.Competition))
	}
	logger.Info("course loaded",
		slog.Int("waypoints", len(course.Waypoints)),
		slog.String("distance", humanize.SIWithDigits(course.TotalDistanceCm()/100, 2, "m")),
		slog.Float64("flowScale", course.Tuning.GetFlowScale()))

	store, err := a.createStorage()
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}
	if store != nil {
		defer closeWithError(store, &err)
	}

	recorders := []mission.Recorder{telemetry.NewLogRecorder(logger)}

	var flight *storage.Flight
	var flightLog *telemetry.StoreRecorder
	if store != nil {
		// the course as flown, tuning included
		var snapshot []byte
		if snapshot, err = yaml.Marshal(course); err != nil {
			return nil, fmt.Errorf("encoding course: %w", err)
		}
		if flight, err = store.CreateFlight(context.WithoutCancel(ctx), storage.KindFly, a.config.Course, string(snapshot)); err != nil {
			return nil, fmt.Errorf("creating flight: %w", err)
		}
		logger = logger.With(slog.String("flight", flight.UUID))

		flightLog = telemetry.NewStoreRecorder(store, flight.ID,
			telemetry.WithLogger(logger),
			telemetry.WithBatchSize(a.config.Storage.MaxBatchSize))
		recorders = append(recorders, flightLog)

		defer func() {
			_ = flightLog.Close()
			if fErr := store.FinishFlight(context.WithoutCancel(ctx), flight.ID, flightStatus(report, err), err); fErr != nil {
				logger.Error("failed to finish flight", slog.Any("error", fErr))
			}
			if n := flightLog.Failures() + flightLog.Dropped(); n > 0 {
				logger.Warn("flight log incomplete", slog.Int64("lost", n))
			}
		}()
	}

	v, err := a.createVehicle(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create vehicle: %w", err)
	}

	estimator := nav.NewEstimator(v, append(course.Tuning.EstimatorOptions(),
		nav.WithClock(a.clock),
		nav.WithLogger(logger))...)

	engine := mission.NewEngine(v, estimator, course.Tuning,
		mission.WithLogger(logger),
		mission.WithClock(a.clock),
		mission.WithRecorder(telemetry.Multi(recorders...)))

	report, err = engine.Fly(ctx, course.Waypoints)
	if report != nil {
		logger.Info("flight summary",
			slog.String("status", string(flightStatus(report, err))),
			slog.Int("completed", len(report.Outcomes)),
			slog.Int("timeouts", report.Timeouts()),
			slog.Int("outliersRejected", report.Stats.Rejected()),
			slog.Int("sensorFailures", report.Stats.SensorFailures),
			slog.String("travelled", humanize.SIWithDigits(report.Stats.PathLengthCm/100, 2, "m")),
			slog.Duration("duration", report.Duration))
	}
	return report, err
}

// Calibrate takes off, runs the configured calibration trials and lands. The
// resulting scale is logged for use as the course flow_scale. When no trial
// registers forward flow the neutral scale is reported and the flight is
// recorded as degraded.
func (a *App) Calibrate(ctx context.Context) (cal nav.Calibration, err error) {
	logger := a.logger.With(slog.String("mode", string(ModeCalibrate)))
	known := a.config.Calibration.KnownDistanceCm

	var degraded bool

	store, err := a.createStorage()
	if err != nil {
		return cal, fmt.Errorf("failed to create storage: %w", err)
	}
	if store != nil {
		defer closeWithError(store, &err)
	}

	var flight *storage.Flight
	if store != nil {
		if flight, err = store.CreateFlight(context.WithoutCancel(ctx), storage.KindCalibrate, "", a.config.Calibration); err != nil {
			return cal, fmt.Errorf("creating flight: %w", err)
		}
		logger = logger.With(slog.String("flight", flight.UUID))

		defer func() {
			status := storage.StatusCompleted
			switch {
			case ctx.Err() != nil:
				status = storage.StatusAborted
			case err != nil:
				status = storage.StatusFailed
			case degraded:
				status = storage.StatusDegraded
			}
			finishErr := err
			if finishErr == nil && degraded {
				finishErr = nav.ErrCalibrationFailed
			}
			if fErr := store.FinishFlight(context.WithoutCancel(ctx), flight.ID, status, finishErr); fErr != nil {
				logger.Error("failed to finish flight", slog.Any("error", fErr))
			}
		}()
	}

	v, err := a.createVehicle(logger)
	if err != nil {
		return cal, fmt.Errorf("failed to create vehicle: %w", err)
	}
	defer func() {
		if closeErr := v.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close vehicle: %w", closeErr))
		}
	}()

	if err = v.Pair(ctx); err != nil {
		return cal, fmt.Errorf("pair: %w", err)
	}
	if err = v.Takeoff(ctx); err != nil {
		return cal, fmt.Errorf("takeoff: %w", err)
	}

	estimator := nav.NewEstimator(v, nav.WithClock(a.clock), nav.WithLogger(logger))
	cal, err = estimator.CalibrateTrials(ctx, v, known, a.config.Calibration.Trials)
	if errors.Is(err, nav.ErrCalibrationFailed) {
		degraded = true
		err = nil
		logger.Warn("no trial measured forward flow, keep tuning flow_scale at the neutral value",
			slog.Float64("flowScale", cal.FlowScale),
			slog.Int("trials", len(cal.Samples)))
	}

	if landErr := v.Land(context.WithoutCancel(ctx)); landErr != nil {
		err = errors.Join(err, fmt.Errorf("land: %w", landErr))
	}

	if store != nil {
		now := a.clock.Now()
		for i, sample := range cal.Samples {
			scale := nav.DefaultFlowScale
			if sample.MeasuredDistanceCm > 0 {
				scale = estimator.FlowScale() * sample.CommandedDistanceCm / sample.MeasuredDistanceCm
			}
			sErr := store.StoreCalibrationSample(context.WithoutCancel(ctx), flight.ID, storage.CalibrationSample{
				Trial:               i,
				CommandedDistanceCm: sample.CommandedDistanceCm,
				MeasuredDistanceCm:  sample.MeasuredDistanceCm,
				FlowScale:           scale,
				Timestamp:           now,
			})
			if sErr != nil {
				logger.Error("failed to store calibration sample", slog.Int("trial", i), slog.Any("error", sErr))
			}
		}
	}

	if err != nil || degraded {
		return cal, err
	}

	logger.Info("set tuning flow_scale to the calibrated value",
		slog.Float64("flowScale", cal.FlowScale),
		slog.Float64("stdDev", cal.StdDev),
		slog.Int("trials", len(cal.Samples)))

	return cal, nil
}

func (a *App) createVehicle(logger *slog.Logger) (vehicle.Vehicle, error) {
	if a.vehicle != nil {
		return a.vehicle, nil
	}

	config := a.config.Vehicle
	switch config.Type {
	case VehicleSim:
		options := []func(*sim.Vehicle){sim.WithClock(a.clock), sim.WithHeading(config.Sim.HeadingDeg)}
		if config.Sim.SpeedCmS > 0 {
			options = append(options, sim.WithSpeed(config.Sim.SpeedCmS))
		}
		if config.Sim.FlowGain > 0 {
			options = append(options, sim.WithFlowGain(config.Sim.FlowGain))
		}
		if config.Sim.TakeoffHeightCm > 0 {
			options = append(options, sim.WithTakeoffHeight(config.Sim.TakeoffHeightCm))
		}
		logger.Info("using simulated vehicle")
		return sim.New(options...), nil

	case VehicleSerial:
		options := []func(*sdk.Vehicle){sdk.WithLogger(logger)}
		if config.Serial.ResponseTimeout > 0 {
			options = append(options, sdk.WithResponseTimeout(config.Serial.ResponseTimeout.Duration()))
		}
		if config.Serial.MaxParseErrors > 0 {
			options = append(options, sdk.WithMaxParseErrors(config.Serial.MaxParseErrors))
		}

		v, err := sdk.Open(config.Serial.Port, sdk.PortOptions{
			BaudRate:    config.Serial.BaudRate,
			ReadTimeout: config.Serial.ReadTimeout.Duration(),
		}, options...)
		if err != nil {
			return nil, err
		}
		logger.Info("serial link open", slog.String("port", config.Serial.Port))
		return v, nil

	default:
		return nil, fmt.Errorf("unknown vehicle type '%s'", config.Type)
	}
}

func (a *App) createStorage() (*storage.SqliteStore, error) {
	config := a.config.Storage
	if config.Disabled {
		return nil, nil
	}

	dir := config.DataDirectory
	if !filepath.IsAbs(dir) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current working directory: %w", err)
		}
		dir = filepath.Join(wd, dir)
	}

	stat, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("storage directory '%s' is not accessible: %w", dir, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("invalid storage directory '%s'", dir)
	}

	options := []func(*storage.SqliteStore){storage.WithLogger(a.logger)}
	if config.MaxBatchSize > 0 {
		options = append(options, storage.WithBatchSize(config.MaxBatchSize))
	}
	return storage.NewSqliteStore(filepath.Join(dir, storage.DefaultFileName), options...), nil
}

func flightStatus(report *mission.Report, err error) storage.FlightStatus {
	switch {
	case errors.Is(err, mission.ErrAborted):
		return storage.StatusAborted
	case err != nil:
		return storage.StatusFailed
	case report != nil && report.Timeouts() > 0:
		return storage.StatusDegraded
	default:
		return storage.StatusCompleted
	}
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}
