package capability

import (
	"errors"
	"fmt"
	"sync"
)

// ErrCapabilityUnavailable is returned when a dependent action is attempted
// while the capability is not ready (uninitialized, loading or failed).
var ErrCapabilityUnavailable = errors.New("capability unavailable")

// State is the lifecycle position of a capability handle.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Handle wraps an external capability with a uninitialized -> loading -> ready
// (or failed) lifecycle. The zero value is an uninitialized handle.
type Handle[T any] struct {
	mu    sync.RWMutex
	state State
	value T
	err   error
}

// Begin moves the handle into loading. It reports false if the handle already
// left the uninitialized state.
func (h *Handle[T]) Begin() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateUninitialized {
		return false
	}
	h.state = StateLoading
	return true
}

// Ready stores the loaded capability.
func (h *Handle[T]) Ready(v T) {
	h.mu.Lock()
	h.value = v
	h.err = nil
	h.state = StateReady
	h.mu.Unlock()
}

// Fail records a terminal load failure.
func (h *Handle[T]) Fail(err error) {
	h.mu.Lock()
	var zero T
	h.value = zero
	h.err = err
	h.state = StateFailed
	h.mu.Unlock()
}

func (h *Handle[T]) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Get returns the capability when ready. Any other state yields an error
// wrapping ErrCapabilityUnavailable.
func (h *Handle[T]) Get() (T, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.state != StateReady {
		var zero T
		if h.err != nil {
			return zero, fmt.Errorf("%w (%s): %v", ErrCapabilityUnavailable, h.state, h.err)
		}
		return zero, fmt.Errorf("%w (%s)", ErrCapabilityUnavailable, h.state)
	}
	return h.value, nil
}
