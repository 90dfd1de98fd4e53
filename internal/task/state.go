package task

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidState is returned for a state outside the five allowed values.
var ErrInvalidState = errors.New("invalid state")

// State is the execution state of one item.
type State string

const (
	Incomplete     State = "INCOMPLETE"
	InProgress     State = "IN_PROGRESS"
	Failed         State = "FAILED"
	CannotAutomate State = "CANNOT_AUTOMATE"
	Complete       State = "COMPLETE"
)

// States lists every allowed state.
var States = []State{Incomplete, InProgress, Failed, CannotAutomate, Complete}

// Valid reports whether s is one of the allowed states.
func (s State) Valid() bool {
	switch s {
	case Incomplete, InProgress, Failed, CannotAutomate, Complete:
		return true
	}
	return false
}

func (s State) String() string { return string(s) }

// ParseState validates a state string. Matching is exact.
func ParseState(s string) (State, error) {
	st := State(s)
	if !st.Valid() {
		names := make([]string, len(States))
		for i, v := range States {
			names[i] = string(v)
		}
		return "", fmt.Errorf("%w %q: can only change state to %s", ErrInvalidState, s, strings.Join(names, ","))
	}
	return st, nil
}
