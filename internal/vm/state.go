package vm

import (
	"fmt"
	"strings"

	"github.com/jbweber/hearth/internal/errdefs"
	"github.com/jbweber/hearth/internal/status"
)

// DomainState is a libvirt VIR_DOMAIN_* state code.
type DomainState int32

const (
	StateNoState DomainState = iota
	StateRunning
	StateBlocked
	StatePaused
	StateShuttingDown
	StateShutOff
	StateCrashed
	StateSuspended
)

// Live reports whether a qemu process backs the domain in this state.
func (s DomainState) Live() bool {
	switch s {
	case StateRunning, StateBlocked, StatePaused, StateShuttingDown, StateSuspended:
		return true
	}
	return false
}

// String converts the state to its display name.
func (s DomainState) String() string {
	switch s {
	case StateNoState:
		return "no state"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StatePaused:
		return "paused"
	case StateShuttingDown:
		return "shutting down"
	case StateShutOff:
		return "shut off"
	case StateCrashed:
		return "crashed"
	case StateSuspended:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// MarshalText renders the display name in JSON and YAML output.
func (s DomainState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Action is a power or lifecycle action on a VM.
type Action int

const (
	ActionStart Action = iota + 1
	ActionShutdown
	ActionDestroy
	ActionReboot
	ActionSync
	ActionDelete
)

var actionNames = map[Action]string{
	ActionStart:    "start",
	ActionShutdown: "shutdown",
	ActionDestroy:  "destroy",
	ActionReboot:   "reboot",
	ActionSync:     "sync",
	ActionDelete:   "delete",
}

// Actions lists every action in declaration order.
func Actions() []Action {
	return []Action{ActionStart, ActionShutdown, ActionDestroy, ActionReboot, ActionSync, ActionDelete}
}

// ParseAction parses an action name. Unknown names are InvalidArgument.
func ParseAction(s string) (Action, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, a := range Actions() {
		if actionNames[a] == s {
			return a, nil
		}
	}
	return 0, errdefs.InvalidArgument("unknown action %q", s)
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Label is the task label recorded when the action is dispatched.
func (a Action) Label() string {
	switch a {
	case ActionStart:
		return status.LabelStart
	case ActionShutdown:
		return status.LabelShutdown
	case ActionDestroy:
		return status.LabelDestroy
	case ActionReboot:
		return status.LabelReboot
	case ActionSync:
		return status.LabelSync
	case ActionDelete:
		return status.LabelDelete
	default:
		return a.String()
	}
}

func (a Action) MarshalText() ([]byte, error) {
	if _, ok := actionNames[a]; !ok {
		return nil, errdefs.InvalidArgument("unknown action %d", int(a))
	}
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(b []byte) error {
	parsed, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
