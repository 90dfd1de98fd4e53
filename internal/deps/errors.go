package deps

import (
	"errors"
	"fmt"

	"github.com/marcus/makemagic/internal/digraph"
)

var (
	ErrUnknownTemplate = errors.New("unknown template")
	ErrMembershipCycle = errors.New("group membership cycle")
	ErrInvariant       = errors.New("flattening invariant violated")
	ErrNoGoals         = errors.New("no goal items to complete")

	// Aliases so callers can match structural failures from one package.
	ErrCycle        = digraph.ErrCycle
	ErrDanglingEdge = digraph.ErrDanglingEdge
)

// ReduceError reports a structural failure while building a task graph.
type ReduceError struct {
	Kind error
	Msg  string
}

func (e *ReduceError) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *ReduceError) Unwrap() error { return e.Kind }

func reducef(kind error, format string, args ...any) error {
	return &ReduceError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
