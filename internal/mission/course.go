package mission

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const maxCourseFileSize = 1 << 20

// Metadata describes where and by whom a course was recorded.
type Metadata struct {
	Competition  string `yaml:"competition,omitempty"`
	Year         int    `yaml:"year,omitempty"`
	DateRecorded string `yaml:"date_recorded,omitempty"`
	RecordedBy   string `yaml:"recorded_by,omitempty"`
	Notes        string `yaml:"notes,omitempty"`
}

// Waypoint is a single step of a course. Distances are relative to the
// previous waypoint; the engine accumulates them from the flight origin.
type Waypoint struct {
	ID                     string  `yaml:"id"`
	Type                   string  `yaml:"type,omitempty"` // gate, target, takeoff
	Action                 Action  `yaml:"action"`
	HeightCm               float64 `yaml:"height_cm"`
	DistanceFromPreviousCm float64 `yaml:"distance_from_previous_cm"`
}

// Course is a recorded course: the ordered waypoints plus the tuning to fly
// them with. JSON course files are accepted as well since JSON is valid YAML.
type Course struct {
	Metadata  Metadata   `yaml:"metadata"`
	Waypoints []Waypoint `yaml:"waypoints"`
	Tuning    Tuning     `yaml:"tuning"`
}

// LoadCourse reads and validates a course file.
func LoadCourse(path string) (*Course, error) {
	cleanPath := filepath.Clean(path)

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat course file: %w", err)
	}
	if fileInfo.Size() > maxCourseFileSize {
		return nil, fmt.Errorf("course file too large: %d bytes (max %d)", fileInfo.Size(), maxCourseFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read course file: %w", err)
	}

	course, err := ParseCourse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cleanPath, err)
	}
	return course, nil
}

// ParseCourse decodes and validates a course document. Waypoints without an
// id are named after their position.
func ParseCourse(data []byte) (*Course, error) {
	var course Course
	if err := yaml.Unmarshal(data, &course); err != nil {
		return nil, fmt.Errorf("failed to parse course: %w", err)
	}

	for i := range course.Waypoints {
		if course.Waypoints[i].ID == "" {
			course.Waypoints[i].ID = fmt.Sprintf("waypoint_%d", i)
		}
	}

	if err := course.Validate(); err != nil {
		return nil, fmt.Errorf("invalid course: %w", err)
	}
	return &course, nil
}

// Validate checks the waypoint sequence and the tuning parameters.
func (c *Course) Validate() error {
	var errs []error

	if len(c.Waypoints) == 0 {
		errs = append(errs, errors.New("course has no waypoints"))
	} else if c.Waypoints[0].Action != ActionTakeoff {
		errs = append(errs, fmt.Errorf("first waypoint %q must be a takeoff, got %s", c.Waypoints[0].ID, c.Waypoints[0].Action))
	}

	for i, wp := range c.Waypoints {
		switch wp.Action {
		case ActionTakeoff, ActionPassThrough, ActionLand:
		default:
			errs = append(errs, fmt.Errorf("waypoint %d (%s): missing action", i, wp.ID))
		}
		if wp.HeightCm < 0 {
			errs = append(errs, fmt.Errorf("waypoint %d (%s): negative height %v", i, wp.ID, wp.HeightCm))
		}
		if wp.DistanceFromPreviousCm < 0 {
			errs = append(errs, fmt.Errorf("waypoint %d (%s): negative distance %v", i, wp.ID, wp.DistanceFromPreviousCm))
		}
	}

	if err := c.Tuning.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tuning: %w", err))
	}

	return errors.Join(errs...)
}

// TotalDistanceCm returns the forward distance covered by the course.
func (c *Course) TotalDistanceCm() float64 {
	var total float64
	for _, wp := range c.Waypoints {
		if wp.Action != ActionTakeoff {
			total += wp.DistanceFromPreviousCm
		}
	}
	return total
}
