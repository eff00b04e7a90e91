package provisioning

import (
	"fmt"
	"slices"

	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// State is the lifecycle state of an instance.
type State string

const (
	// StateNone is the state of an instance that has not been requested yet.
	StateNone         State = ""
	StatePending      State = "pending"
	StateRunning      State = "running"
	StateStopping     State = "stopping"
	StateStopped      State = "stopped"
	StateShuttingDown State = "shutting-down"
	StateTerminated   State = "terminated"
	StateUnknown      State = "unknown"
)

// transitions lists the states each state may move to directly. A pending
// instance cannot be stopped: EC2 answers IncorrectInstanceState.
var transitions = map[State][]State{
	StateNone:         {StatePending},
	StatePending:      {StateRunning, StateShuttingDown},
	StateRunning:      {StateStopping, StateShuttingDown},
	StateStopping:     {StateStopped},
	StateStopped:      {StatePending, StateShuttingDown},
	StateShuttingDown: {StateTerminated},
}

// CanTransition reports whether an instance in state from may move to state to.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// checkTransition returns an error describing a disallowed transition.
func checkTransition(op string, from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("cannot %s instance in state %q", op, from)
	}
	return nil
}

// stateFromEC2 maps an EC2 instance state to State.
func stateFromEC2(s *types.InstanceState) State {
	if s == nil {
		return StateUnknown
	}
	switch s.Name {
	case types.InstanceStateNamePending:
		return StatePending
	case types.InstanceStateNameRunning:
		return StateRunning
	case types.InstanceStateNameStopping:
		return StateStopping
	case types.InstanceStateNameStopped:
		return StateStopped
	case types.InstanceStateNameShuttingDown:
		return StateShuttingDown
	case types.InstanceStateNameTerminated:
		return StateTerminated
	default:
		return StateUnknown
	}
}
