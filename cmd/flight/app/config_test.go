package app

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const serialConfig = `
settings:
  logLevel: debug
course: courses/timewarp.json
vehicle:
  type: serial
  serial:
    port: /dev/ttyUSB0
    baudRate: 115200
    readTimeout: 250ms
    responseTimeout: 7s
    maxParseErrors: 3
calibration:
  knownDistanceCm: 150
storage:
  dataDirectory: /var/lib/flight
  maxBatchSize: 50
`

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flight.yaml")
	require.NoError(t, os.WriteFile(path, []byte(serialConfig), 0o600))

	config, err := LoadConfig(path)
	require.NoError(t, err)

	want := &Config{
		Settings: Settings{LogLevel: "debug"},
		Course:   filepath.Join(dir, "courses", "timewarp.json"),
		Vehicle: VehicleConfig{
			Type: VehicleSerial,
			Serial: SerialConfig{
				Port:            "/dev/ttyUSB0",
				BaudRate:        115200,
				ReadTimeout:     NewTimeDuration(250 * time.Millisecond),
				ResponseTimeout: NewTimeDuration(7 * time.Second),
				MaxParseErrors:  3,
			},
		},
		Calibration: CalibrationConfig{KnownDistanceCm: 150, Trials: 3},
		Storage:     StorageConfig{DataDirectory: "/var/lib/flight", MaxBatchSize: 50},
	}

	if diff := cmp.Diff(want, config); diff != "" {
		t.Errorf("LoadConfig() mismatch (-want +got):\n%s", diff)
	}

	level, err := config.Settings.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestParseConfig_Defaults(t *testing.T) {
	config, err := ParseConfig([]byte(`course: /tmp/course.json`))
	require.NoError(t, err)

	assert.Equal(t, VehicleSim, config.Vehicle.Type)
	assert.Equal(t, 100.0, config.Calibration.KnownDistanceCm)
	assert.Equal(t, 3, config.Calibration.Trials)
	assert.Equal(t, "data", config.Storage.DataDirectory)

	level, err := config.Settings.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestParseConfig_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		data string
		want string
	}{
		{
			name: "unknown vehicle",
			data: `vehicle: {type: carrier-pigeon}`,
			want: "unknown vehicle type 'carrier-pigeon'",
		},
		{
			name: "serial without port",
			data: `vehicle: {type: serial}`,
			want: "vehicle.serial.port is required",
		},
		{
			name: "bad duration",
			data: `vehicle: {type: serial, serial: {port: /dev/ttyS0, readTimeout: soon}}`,
			want: "app.TimeDuration: failed to parse",
		},
		{
			name: "bad log level",
			data: `settings: {logLevel: chatty}`,
			want: "invalid log level",
		},
		{
			name: "negative batch size",
			data: `storage: {maxBatchSize: -1}`,
			want: "storage.maxBatchSize must not be negative",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tc.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestTimeDuration_MarshalYAML(t *testing.T) {
	d := NewTimeDuration(1500 * time.Millisecond)
	v, err := d.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1.5s", v)
	assert.Equal(t, 1500*time.Millisecond, d.Duration())
}
