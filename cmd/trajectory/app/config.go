package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	FormatPNG  = "png"
	FormatHTML = "html"

	defaultImageSize = 1000
)

// timestampLayouts are tried in order; timestamps without a zone are UTC.
var timestampLayouts = []string{time.RFC3339, time.DateTime}

type OutputFormat string

type Config struct {
	DBPath        string
	FlightID      int64 // 0 selects the latest course flight
	OutputFile    string
	Format        OutputFormat
	Waypoint      *int
	MinTimestamp  *time.Time
	MaxTimestamp  *time.Time
	Size          int
	NoAnnotations bool
}

var validOutputFormats = map[OutputFormat]struct{}{
	FormatPNG:  {},
	FormatHTML: {},
}

func NewConfig() *Config {
	return &Config{
		Format: FormatPNG,
		Size:   defaultImageSize,
	}
}

func NewConfigFromCLI() (*Config, error) {
	return NewConfigFromArgs(flag.NewFlagSet(os.Args[0], flag.ExitOnError), os.Args[1:])
}

// NewConfigFromArgs parses args with fs. The output file gets the format as
// its extension.
func NewConfigFromArgs(fs *flag.FlagSet, args []string) (*Config, error) {
	c := NewConfig()

	var format string
	var waypoint int
	var from, to string
	fs.StringVar(&c.DBPath, "db", "", "Path to the flight log database")
	fs.Int64Var(&c.FlightID, "flight", 0, "Flight ID, the latest course flight when omitted")
	fs.StringVar(&c.OutputFile, "o", "", "Path to the output file, without extension")
	fs.StringVar(&format, "f", string(FormatPNG), "Output format. [png, html]")
	fs.IntVar(&waypoint, "waypoint", 0, "Only render the leg flown towards this waypoint index")
	fs.StringVar(&from, "from", "", "Only render ticks recorded at or after this time (RFC 3339 or \"2006-01-02 15:04:05\" UTC)")
	fs.StringVar(&to, "to", "", "Only render ticks recorded at or before this time (RFC 3339 or \"2006-01-02 15:04:05\" UTC)")
	fs.IntVar(&c.Size, "size", defaultImageSize, "Size of the plot area in pixels (png only)")
	fs.BoolVar(&c.NoAnnotations, "no-annotations", false, "Disable annotations such as scales and waypoint labels")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	format = strings.ToLower(format)

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "waypoint" {
			c.Waypoint = &waypoint
		}
	})

	var err error
	if c.MinTimestamp, err = parseTimestamp(from); err != nil {
		err = fmt.Errorf("invalid -from: %w", err)
	} else if c.MaxTimestamp, err = parseTimestamp(to); err != nil {
		err = fmt.Errorf("invalid -to: %w", err)
	} else if c.DBPath == "" {
		err = errors.New("db path is required")
	} else if c.FlightID < 0 {
		err = errors.New("flight id must not be negative")
	} else if c.OutputFile == "" {
		err = errors.New("output file is required")
	} else if _, ok := validOutputFormats[OutputFormat(format)]; !ok {
		err = fmt.Errorf("invalid output format: %s", format)
	} else if c.Waypoint != nil && *c.Waypoint < 0 {
		err = errors.New("waypoint index must not be negative")
	} else if c.Size < 100 {
		err = errors.New("size must be at least 100 pixels")
	} else if c.MinTimestamp != nil && c.MaxTimestamp != nil && c.MinTimestamp.After(*c.MaxTimestamp) {
		err = errors.New("-from must not be after -to")
	}

	if err != nil {
		fs.Usage()
		return nil, err
	}

	c.Format = OutputFormat(format)
	c.OutputFile = fmt.Sprintf("%s.%s", c.OutputFile, c.Format)
	return c, nil
}

func parseTimestamp(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}

	var err error
	for _, layout := range timestampLayouts {
		var t time.Time
		if t, err = time.ParseInLocation(layout, s, time.UTC); err == nil {
			return &t, nil
		}
	}
	return nil, err
}
