//go:build linux

package logrelay

import (
	"errors"
	"fmt"
)

// Kind classifies a failed relay setup.
type Kind int

const (
	// KindResourceExhausted means a pipe could not be allocated, typically
	// because a descriptor limit was reached.
	KindResourceExhausted Kind = iota + 1
	// KindSetupFailed means a descriptor flag could not be applied.
	KindSetupFailed
	// KindSpawnFailed means the sink process could not be started.
	KindSpawnFailed
)

// Sentinels matching each [Kind] through errors.Is.
var (
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrSetupFailed       = errors.New("setup failed")
	ErrSpawnFailed       = errors.New("spawn failed")
)

// ErrStopped is returned for requests submitted to a stopped [Logger].
var ErrStopped = errors.New("logrelay: logger stopped")

func (k Kind) String() string {
	switch k {
	case KindResourceExhausted:
		return "resource exhausted"
	case KindSetupFailed:
		return "setup failed"
	case KindSpawnFailed:
		return "spawn failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindResourceExhausted:
		return ErrResourceExhausted
	case KindSetupFailed:
		return ErrSetupFailed
	case KindSpawnFailed:
		return ErrSpawnFailed
	default:
		return nil
	}
}

// Error is the error returned by a failed relay setup. By the time it is
// returned, everything the setup allocated has been released.
type Error struct {
	Kind      Kind
	Direction Direction
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("logrelay: %s relay: %s: %v", e.Direction, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	sentinel := e.Kind.sentinel()

	return sentinel != nil && target == sentinel
}

// KindOf returns the kind of the first [*Error] in err's chain, or 0.
func KindOf(err error) Kind {
	var relayErr *Error
	if errors.As(err, &relayErr) {
		return relayErr.Kind
	}

	return 0
}
