package vehicle

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectionString(t *testing.T) {
	assert.Equal(t, "forward", Forward.String())
	assert.Equal(t, "down", Down.String())
	assert.Equal(t, "Direction(42)", Direction(42).String())
}

func TestCommandError(t *testing.T) {
	cause := errors.New("link lost")
	err := fmt.Errorf("takeoff: %w", NewCommandError("takeoff", cause))

	assert.True(t, IsCommandError(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), `"takeoff"`)

	assert.False(t, IsCommandError(ErrNoReading))
}
