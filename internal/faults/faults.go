// Package faults holds the error kinds shared by the deployment components.
//
// Components wrap collaborator errors with one of the sentinels below so
// callers can classify a failure with errors.Is without caring which
// package produced it.
package faults

import (
	"errors"
	"fmt"
)

var (
	// ErrProvisioning is returned when the provider rejects an instance
	// request or the instance never reaches the running state.
	ErrProvisioning = errors.New("provisioning failed")

	// ErrStateTransition is returned when a start or stop is rejected,
	// times out, or is not allowed from the instance's current state.
	ErrStateTransition = errors.New("state transition failed")

	// ErrLookup is returned when an instance or its public address cannot be resolved.
	ErrLookup = errors.New("lookup failed")

	// ErrAuth is returned when the registry refuses to issue a credential.
	ErrAuth = errors.New("registry authentication failed")

	// ErrConnection is returned when a remote session cannot be opened.
	ErrConnection = errors.New("connection failed")

	// ErrExecution is returned on transport failures while running a
	// remote command. A non-zero exit status is never an ErrExecution.
	ErrExecution = errors.New("execution failed")

	// ErrRemoteCommand is returned by callers that chose to treat a
	// non-zero remote exit status as fatal.
	ErrRemoteCommand = errors.New("remote command exited non-zero")
)

// StepError identifies the deployment step that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Step wraps err with the name of the step that produced it. A nil err stays nil.
func Step(step string, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: err}
}

// FailedStep returns the step recorded in err's chain, if any.
func FailedStep(err error) (string, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step, true
	}
	return "", false
}
