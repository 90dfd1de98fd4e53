package digraph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCycle        = errors.New("dependency cycle")
	ErrDanglingEdge = errors.New("dangling edge")
	ErrUnknownNode  = errors.New("unknown node")
)

// GraphError wraps structural graph failures.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func danglingf(format string, args ...any) error {
	return &GraphError{Kind: ErrDanglingEdge, Msg: fmt.Sprintf(format, args...)}
}

func unknownf(format string, args ...any) error {
	return &GraphError{Kind: ErrUnknownNode, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	return &GraphError{Kind: ErrCycle, Msg: strings.Join(path, " -> ")}
}
