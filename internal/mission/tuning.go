package mission

import (
	"errors"
	"fmt"
	"time"

	"github.com/roman-kulish/flow-navigation/internal/nav"
)

// Tuning holds the per-flight control parameters. Unset fields fall back to
// the defaults returned by the Get* accessors, so partial course files are
// safe.
type Tuning struct {
	HeightToleranceCm    *float64 `yaml:"height_tolerance_cm,omitempty"`
	HeightTimeoutSec     *float64 `yaml:"height_timeout_sec,omitempty"`
	ForwardChunkCm       *float64 `yaml:"forward_chunk_cm,omitempty"`
	ForwardStopEpsilonCm *float64 `yaml:"forward_stop_epsilon_cm,omitempty"`
	FlowScale            *float64 `yaml:"flow_scale,omitempty"`
	MaxVelocityCmS       *float64 `yaml:"max_velocity_cm_s,omitempty"`

	// Loop bounds
	ForwardTimeoutSec *float64 `yaml:"forward_timeout_sec,omitempty"`
	ForwardMaxChunks  *int     `yaml:"forward_max_chunks,omitempty"`
	GateClearanceCm   *float64 `yaml:"gate_clearance_cm,omitempty"`
	HeightStepCm      *float64 `yaml:"height_step_cm,omitempty"`
}

// GetHeightToleranceCm returns the height_tolerance_cm value or the default.
func (t Tuning) GetHeightToleranceCm() float64 {
	if t.HeightToleranceCm == nil {
		return 6
	}
	return *t.HeightToleranceCm
}

// GetHeightTimeout returns height_timeout_sec as a duration or the default.
func (t Tuning) GetHeightTimeout() time.Duration {
	if t.HeightTimeoutSec == nil {
		return 6 * time.Second
	}
	return seconds(*t.HeightTimeoutSec)
}

// GetForwardChunkCm returns the forward_chunk_cm value or the default.
func (t Tuning) GetForwardChunkCm() float64 {
	if t.ForwardChunkCm == nil {
		return 30
	}
	return *t.ForwardChunkCm
}

// GetForwardStopEpsilonCm returns the forward_stop_epsilon_cm value or the default.
func (t Tuning) GetForwardStopEpsilonCm() float64 {
	if t.ForwardStopEpsilonCm == nil {
		return 5.0
	}
	return *t.ForwardStopEpsilonCm
}

// GetFlowScale returns the flow_scale value or the default.
func (t Tuning) GetFlowScale() float64 {
	if t.FlowScale == nil {
		return nav.DefaultFlowScale
	}
	return *t.FlowScale
}

// GetMaxVelocityCmS returns the max_velocity_cm_s value or the default.
func (t Tuning) GetMaxVelocityCmS() float64 {
	if t.MaxVelocityCmS == nil {
		return nav.DefaultMaxVelocityCmS
	}
	return *t.MaxVelocityCmS
}

// GetForwardTimeout returns forward_timeout_sec as a duration or the default.
func (t Tuning) GetForwardTimeout() time.Duration {
	if t.ForwardTimeoutSec == nil {
		return 30 * time.Second
	}
	return seconds(*t.ForwardTimeoutSec)
}

// GetForwardMaxChunks returns the forward_max_chunks value or the default.
func (t Tuning) GetForwardMaxChunks() int {
	if t.ForwardMaxChunks == nil {
		return 60
	}
	return *t.ForwardMaxChunks
}

// GetGateClearanceCm returns the gate_clearance_cm value or the default.
func (t Tuning) GetGateClearanceCm() float64 {
	if t.GateClearanceCm == nil {
		return 20
	}
	return *t.GateClearanceCm
}

// GetHeightStepCm returns the height_step_cm value or the default.
func (t Tuning) GetHeightStepCm() float64 {
	if t.HeightStepCm == nil {
		return 20
	}
	return *t.HeightStepCm
}

// EstimatorOptions returns the estimator options implied by the tuning.
func (t Tuning) EstimatorOptions() []func(*nav.Estimator) {
	return []func(*nav.Estimator){
		nav.WithFlowScale(t.GetFlowScale()),
		nav.WithMaxVelocity(t.GetMaxVelocityCmS()),
	}
}

// Validate checks that every set value is usable.
func (t Tuning) Validate() error {
	var errs []error

	positive := func(name string, v *float64) {
		if v != nil && *v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, *v))
		}
	}
	nonNegative := func(name string, v *float64) {
		if v != nil && *v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %v", name, *v))
		}
	}

	nonNegative("height_tolerance_cm", t.HeightToleranceCm)
	positive("height_timeout_sec", t.HeightTimeoutSec)
	positive("forward_chunk_cm", t.ForwardChunkCm)
	nonNegative("forward_stop_epsilon_cm", t.ForwardStopEpsilonCm)
	positive("flow_scale", t.FlowScale)
	positive("max_velocity_cm_s", t.MaxVelocityCmS)
	positive("forward_timeout_sec", t.ForwardTimeoutSec)
	nonNegative("gate_clearance_cm", t.GateClearanceCm)
	positive("height_step_cm", t.HeightStepCm)

	if t.ForwardMaxChunks != nil && *t.ForwardMaxChunks <= 0 {
		errs = append(errs, fmt.Errorf("forward_max_chunks must be positive, got %d", *t.ForwardMaxChunks))
	}

	return errors.Join(errs...)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// Float64 returns a pointer to v, for building Tuning values in code.
func Float64(v float64) *float64 { return &v }

// Int returns a pointer to v, for building Tuning values in code.
func Int(v int) *int { return &v }
