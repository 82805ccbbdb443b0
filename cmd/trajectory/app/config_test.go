package app

import (
	"flag"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("trajectory", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestNewConfigFromArgs(t *testing.T) {
	config, err := NewConfigFromArgs(newFlagSet(), []string{
		"-db", "data/flightlog.sqlite", "-flight", "3", "-o", "out/flight3", "-f", "HTML", "-waypoint", "0",
	})
	require.NoError(t, err)

	waypoint := 0
	want := &Config{
		DBPath:     "data/flightlog.sqlite",
		FlightID:   3,
		OutputFile: "out/flight3.html",
		Format:     FormatHTML,
		Waypoint:   &waypoint,
		Size:       defaultImageSize,
	}
	if diff := cmp.Diff(want, config); diff != "" {
		t.Errorf("NewConfigFromArgs() mismatch (-want +got):\n%s", diff)
	}
}

func TestNewConfigFromArgs_Defaults(t *testing.T) {
	config, err := NewConfigFromArgs(newFlagSet(), []string{"-db", "flightlog.sqlite", "-o", "track"})
	require.NoError(t, err)

	assert.Equal(t, int64(0), config.FlightID)
	assert.Equal(t, OutputFormat(FormatPNG), config.Format)
	assert.Equal(t, "track.png", config.OutputFile)
	assert.Nil(t, config.Waypoint)
}

func TestNewConfigFromArgs_TimeRange(t *testing.T) {
	config, err := NewConfigFromArgs(newFlagSet(), []string{
		"-db", "x.sqlite", "-o", "t", "-from", "2025-03-01 10:00:01", "-to", "2025-03-01T12:00:02+02:00",
	})
	require.NoError(t, err)

	require.NotNil(t, config.MinTimestamp)
	require.NotNil(t, config.MaxTimestamp)
	assert.True(t, config.MinTimestamp.Equal(time.Date(2025, 3, 1, 10, 0, 1, 0, time.UTC)))
	assert.True(t, config.MaxTimestamp.Equal(time.Date(2025, 3, 1, 10, 0, 2, 0, time.UTC)))
}

func TestNewConfigFromArgs_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		args []string
		want string
	}{
		{"no db", []string{"-o", "track"}, "db path is required"},
		{"no output", []string{"-db", "x.sqlite"}, "output file is required"},
		{"negative flight", []string{"-db", "x.sqlite", "-o", "t", "-flight", "-1"}, "flight id must not be negative"},
		{"bad format", []string{"-db", "x.sqlite", "-o", "t", "-f", "gif"}, "invalid output format: gif"},
		{"negative waypoint", []string{"-db", "x.sqlite", "-o", "t", "-waypoint", "-2"}, "waypoint index must not be negative"},
		{"tiny image", []string{"-db", "x.sqlite", "-o", "t", "-size", "10"}, "size must be at least 100 pixels"},
		{"bad from", []string{"-db", "x.sqlite", "-o", "t", "-from", "yesterday"}, "invalid -from"},
		{"bad to", []string{"-db", "x.sqlite", "-o", "t", "-to", "2025-13-01 00:00:00"}, "invalid -to"},
		{"inverted range", []string{"-db", "x.sqlite", "-o", "t", "-from", "2025-03-01 11:00:00", "-to", "2025-03-01 10:00:00"}, "-from must not be after -to"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewConfigFromArgs(newFlagSet(), tc.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
