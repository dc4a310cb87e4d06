package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// FrameGrabber is the platform screen-capture surface. sourceID selects a
// window-scoped source; empty means the full display. Grab returns the raw
// frame stream and a stop function; the frame channel closing signals the
// stream ended externally.
type FrameGrabber interface {
	Grab(ctx context.Context, sourceID string) (<-chan Frame, func(), error)
}

// UnsupportedGrabber is the grabber for hosts without screen-capture
// integration. Every Grab fails, which degrades loopback acquisition to
// mic-only and video sessions to an acquisition error.
type UnsupportedGrabber struct{}

func (UnsupportedGrabber) Grab(ctx context.Context, sourceID string) (<-chan Frame, func(), error) {
	return nil, nil, fmt.Errorf("%w: screen capture not supported on this host", ErrDeviceUnavailable)
}

// displayTrack adapts a grabber stream to the VideoTrack contract. The
// enabled flag gates frame forwarding only; it never touches the stream
// lifecycle, which is what lets a borrower toggle it safely.
type displayTrack struct {
	id     string
	log    zerolog.Logger
	stopFn func()

	out   chan Frame
	ended chan struct{}

	mu      sync.Mutex
	enabled bool
	live    bool

	stopOnce sync.Once
}

func newDisplayTrack(ctx context.Context, grabber FrameGrabber, sourceID string, log zerolog.Logger) (*displayTrack, error) {
	src, stop, err := grabber.Grab(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	kind := "display"
	if sourceID != "" {
		kind = "window"
	}
	t := &displayTrack{
		id:      kind + "-" + uuid.NewString(),
		log:     log,
		stopFn:  stop,
		out:     make(chan Frame, 4),
		ended:   make(chan struct{}),
		enabled: true,
		live:    true,
	}

	go t.forward(src)
	return t, nil
}

func (t *displayTrack) forward(src <-chan Frame) {
	defer close(t.out)
	for f := range src {
		t.mu.Lock()
		enabled := t.enabled
		t.mu.Unlock()
		if !enabled {
			continue
		}
		select {
		case t.out <- f:
		default:
			// Encoder behind; keep the stream real-time.
		}
	}
	// Source closed underneath us: the user revoked screen sharing or the
	// window went away.
	t.markEnded()
}

func (t *displayTrack) markEnded() {
	t.mu.Lock()
	wasLive := t.live
	t.live = false
	t.mu.Unlock()
	if wasLive {
		t.log.Debug().Str("track", t.id).Msg("video track ended")
	}
	t.stopOnce.Do(func() {
		close(t.ended)
	})
}

func (t *displayTrack) ID() string { return t.id }

func (t *displayTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *displayTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *displayTrack) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

func (t *displayTrack) Ended() <-chan struct{} { return t.ended }
func (t *displayTrack) Frames() <-chan Frame   { return t.out }

func (t *displayTrack) Stop() {
	t.mu.Lock()
	t.live = false
	t.mu.Unlock()
	if t.stopFn != nil {
		t.stopFn()
	}
	t.stopOnce.Do(func() {
		close(t.ended)
	})
}
