package mission

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ActionTakeoff Action = iota + 1
	ActionPassThrough
	ActionLand
)

// Action is the control procedure run for a waypoint.
type Action int

func (a Action) String() string {
	switch a {
	case ActionTakeoff:
		return "takeoff"
	case ActionPassThrough:
		return "pass_through"
	case ActionLand:
		return "land"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// ParseAction converts an action name into an Action.
func ParseAction(value string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "takeoff":
		return ActionTakeoff, nil
	case "pass_through", "pass-through", "passthrough":
		return ActionPassThrough, nil
	case "land":
		return ActionLand, nil
	default:
		return 0, fmt.Errorf("unknown action %q", value)
	}
}

// UnmarshalYAML decodes an action name.
func (a *Action) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}

	action, err := ParseAction(name)
	if err != nil {
		return err
	}

	*a = action
	return nil
}

// MarshalYAML encodes the action by name.
func (a Action) MarshalYAML() (any, error) {
	return a.String(), nil
}
