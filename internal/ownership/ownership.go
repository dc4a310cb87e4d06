// Package ownership tracks which session owns or borrows each hardware
// handle, so a borrower can never tear down a stream the owner still needs.
// Release dispatches on the recorded role: an owner release stops the
// hardware, a borrower release only restores the track's pre-borrow enabled
// flag. Owner release restores every outstanding borrow first, then stops
// the hardware, making owner-before-borrower ordering an invariant rather
// than a matter of call timing.
package ownership

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

var (
	ErrAlreadyOwned = errors.New("handle already owned")
	ErrNotOwned     = errors.New("handle has no owner")
)

// Track is the only hardware surface a borrower may touch.
type Track interface {
	Enabled() bool
	SetEnabled(enabled bool)
}

type borrow struct {
	track      Track
	wasEnabled bool
}

type entry struct {
	owner   string
	release func()
	borrows map[string]*borrow // keyed by borrower session id
}

// Coordinator is the single table of handle ownership for the process.
type Coordinator struct {
	mu      sync.Mutex
	entries map[string]*entry
	log     zerolog.Logger
}

func NewCoordinator(log zerolog.Logger) *Coordinator {
	return &Coordinator{
		entries: make(map[string]*entry),
		log:     log,
	}
}

// Own registers sessionID as the exclusive owner of handleID. release is the
// hardware teardown and runs at most once, on the owner's Release.
func (c *Coordinator) Own(handleID, sessionID string, release func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[handleID]; ok {
		return ErrAlreadyOwned
	}
	c.entries[handleID] = &entry{
		owner:   sessionID,
		release: release,
		borrows: make(map[string]*borrow),
	}
	return nil
}

// Borrow records sessionID using one track of an owned handle and enables
// it. The pre-borrow enabled state is restored on release.
func (c *Coordinator) Borrow(handleID, sessionID string, t Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[handleID]
	if !ok {
		return ErrNotOwned
	}
	if _, dup := e.borrows[sessionID]; dup {
		return nil
	}
	e.borrows[sessionID] = &borrow{track: t, wasEnabled: t.Enabled()}
	t.SetEnabled(true)
	return nil
}

// Release ends sessionID's claim on handleID. Unknown handles and repeat
// releases are no-ops, so stop paths stay idempotent.
func (c *Coordinator) Release(handleID, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[handleID]
	if !ok {
		return
	}

	if e.owner == sessionID {
		// Restore borrows before the hardware goes away.
		for id, b := range e.borrows {
			b.track.SetEnabled(b.wasEnabled)
			c.log.Debug().Str("handle", handleID).Str("borrower", id).Msg("restored borrowed track before owner release")
		}
		delete(c.entries, handleID)
		if e.release != nil {
			e.release()
		}
		return
	}

	if b, ok := e.borrows[sessionID]; ok {
		b.track.SetEnabled(b.wasEnabled)
		delete(e.borrows, sessionID)
		return
	}

	c.log.Debug().Str("handle", handleID).Str("session", sessionID).Msg("release from session with no claim")
}

// Owner reports the owning session of handleID, if any.
func (c *Coordinator) Owner(handleID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[handleID]
	if !ok {
		return "", false
	}
	return e.owner, true
}
