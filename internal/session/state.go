// Package session owns the capture pipeline lifecycle: the audio session
// that wires device acquisition into the mixer and the delivery queue, and
// the video session that drives the encoder off a window, borrowed, or
// full-display track.
package session

import (
	"errors"
	"fmt"
	"sync"
)

type State int

const (
	Idle State = iota
	Acquiring
	Capturing
	Paused
	Stopping
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Acquiring:
		return "acquiring"
	case Capturing:
		return "capturing"
	case Paused:
		return "paused"
	case Stopping:
		return "stopping"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

var ErrInvalidTransition = errors.New("invalid state transition")

// transitions is the explicit table; Errored is reachable from every state.
var transitions = map[State][]State{
	Idle:      {Acquiring, Errored},
	Acquiring: {Capturing, Stopping, Errored},
	Capturing: {Paused, Stopping, Errored},
	Paused:    {Capturing, Stopping, Errored},
	Stopping:  {Idle, Errored},
	Errored:   {Stopping},
}

// machine is a mutex-guarded state holder; every lifecycle mutation goes
// through to(), so an illegal callback ordering shows up as an error
// instead of corrupted state.
type machine struct {
	mu  sync.Mutex
	cur State
}

func (m *machine) state() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

func (m *machine) to(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, allowed := range transitions[m.cur] {
		if next == allowed {
			m.cur = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.cur, next)
}
