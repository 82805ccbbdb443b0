package app

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/flow-navigation/internal/storage"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath, storage.WithLogger(logger))
	defer store.Close()

	flight, err := findFlight(ctx, store, config.FlightID)
	if err != nil {
		return err
	}

	track, err := readTrack(ctx, store, flight, config, logger)
	if err != nil {
		return err
	}

	logger.Info("rendering trajectory",
		slog.Group("output",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
		))

	return writeOutput(track, config)
}

func findFlight(ctx context.Context, store storage.Store, id int64) (*storage.Flight, error) {
	var flight *storage.Flight
	var err error
	if id == 0 {
		flight, err = store.LatestFlight(ctx, storage.KindFly)
	} else {
		flight, err = store.Flight(ctx, id)
	}

	if errors.Is(err, storage.ErrFlightNotFound) {
		if id == 0 {
			return nil, errors.New("the flight log has no course flights")
		}
		return nil, fmt.Errorf("flight %d: %w", id, err)
	}
	return flight, err
}

func readTrack(ctx context.Context, store storage.Store, flight *storage.Flight, config *Config, logger *slog.Logger) (*TrackData, error) {
	var opts []storage.ReaderOption
	filters := []any{slog.Int64("flight", flight.ID), slog.String("uuid", flight.UUID)}
	if config.Waypoint != nil {
		opts = append(opts, storage.WithWaypoint(*config.Waypoint))
		filters = append(filters, slog.Int("waypoint", *config.Waypoint))
	}

	switch {
	case config.MinTimestamp != nil && config.MaxTimestamp != nil:
		opts = append(opts, storage.WithTimeRange(config.MinTimestamp.UTC(), config.MaxTimestamp.UTC()))

		filters = append(filters,
			slog.String("minTimestamp", config.MinTimestamp.UTC().Format(time.DateTime)),
			slog.String("maxTimestamp", config.MaxTimestamp.UTC().Format(time.DateTime)))

	case config.MinTimestamp != nil:
		opts = append(opts, storage.WithStartTime(config.MinTimestamp.UTC()))
		filters = append(filters, slog.String("minTimestamp", config.MinTimestamp.UTC().Format(time.DateTime)))

	case config.MaxTimestamp != nil:
		opts = append(opts, storage.WithEndTime(config.MaxTimestamp.UTC()))
		filters = append(filters, slog.String("maxTimestamp", config.MaxTimestamp.UTC().Format(time.DateTime)))
	}

	logger.Info("iterator configuration", filters...)

	iter, err := store.ReadPoses(ctx, flight.ID, opts...)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	track := NewTrackData(flight)
	for iter.Next(ctx) {
		track.Update(iter.Current())
	}
	if err = iter.Error(); err != nil {
		return nil, err
	}

	outcomes, err := store.Outcomes(ctx, flight.ID)
	if err != nil {
		return nil, err
	}
	// markers sit where a leg ended
	filtered := outcomes[:0]
	for _, o := range outcomes {
		finished := o.StartedAt.Add(o.Duration)
		switch {
		case config.Waypoint != nil && o.WaypointIndex != *config.Waypoint:
		case config.MinTimestamp != nil && finished.Before(*config.MinTimestamp):
		case config.MaxTimestamp != nil && finished.After(*config.MaxTimestamp):
		default:
			filtered = append(filtered, o)
		}
	}
	track.AddOutcomes(filtered)

	if track.Empty() {
		return nil, fmt.Errorf("flight %d: %w", flight.ID, errEmptyTrack)
	}

	stats := []any{
		slog.Int("ticks", len(track.Points)),
		slog.Int("waypoints", len(track.Outcomes)),
		slog.String("pathLength", humanize.SIWithDigits(track.PathLengthCm/100, 2, "m")),
	}
	if len(track.Points) > 0 {
		stats = append(stats,
			slog.String("minTimestamp", track.TimestampStart.Local().Format(time.DateTime)),
			slog.String("maxTimestamp", track.TimestampEnd.Local().Format(time.DateTime)),
			slog.String("minHeight", formatMetres(track.HeightMin)),
			slog.String("maxHeight", formatMetres(track.HeightMax)))
	}
	logger.Info("finished reading flight", slog.Group("stats", stats...))

	return track, nil
}

func writeOutput(track *TrackData, config *Config) (err error) {
	out, err := os.Create(config.OutputFile)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := out.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	switch config.Format {
	case FormatPNG:
		renderer := NewTrackRenderer(RenderConfig{
			Size:          config.Size,
			NoAnnotations: config.NoAnnotations,
		})

		img, rErr := renderer.Render(track)
		if rErr != nil {
			return fmt.Errorf("rendering trajectory: %w", rErr)
		}
		return png.Encode(out, img)

	case FormatHTML:
		if err = renderChart(out, track); err != nil {
			return fmt.Errorf("rendering chart: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unsupported output format: %s", config.Format)
	}
}
