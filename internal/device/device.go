// Package device negotiates access to the microphone and the optional
// system-audio/display loopback source. Microphone acquisition is mandatory
// and fails loudly; loopback acquisition is best-effort and degrades to
// mic-only rather than failing the caller.
package device

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied means the OS denied capture access. Fatal to the
	// source it names; the pipeline continues degraded where it can.
	ErrPermissionDenied = errors.New("capture permission denied")

	// ErrDeviceUnavailable means no usable hardware, or a track that ended
	// before use. Triggers the fallback path.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
)

// Frame is one raw video frame handed to the encoder.
type Frame struct {
	Width  int
	Height int
	RGBA   []byte // packed RGBA, Width*Height*4 bytes
	TS     time.Time
}

// AudioTrack is a live audio capture stream delivering fixed-size float32
// frames at the device's native rate.
type AudioTrack interface {
	ID() string
	SampleRate() int
	Frames() <-chan []float32

	// Suspended fires when an output-device change suspended the stream;
	// Resume restarts it. Recovery is silent to the user.
	Suspended() <-chan struct{}
	Resume() error

	Close() error
}

// VideoTrack is one video sub-resource of a capture stream. Enabled is the
// only state a borrower may mutate, and only through the ownership
// coordinator. Ended fires when the stream ends externally, e.g. the user
// revokes screen sharing from the OS chrome.
type VideoTrack interface {
	ID() string
	Enabled() bool
	SetEnabled(enabled bool)
	Live() bool
	Ended() <-chan struct{}
	Frames() <-chan Frame
	Stop()
}

// Loopback bundles the audio and video tracks of one display-capture
// stream. Only the owning session may call StopTracks.
type Loopback struct {
	ID    string
	Audio AudioTrack
	Video VideoTrack
}

// StopTracks terminates the underlying stream. Owner-only; borrowers go
// through the ownership coordinator instead.
func (l *Loopback) StopTracks() {
	if l.Video != nil {
		l.Video.Stop()
	}
	if l.Audio != nil {
		l.Audio.Close()
	}
}

// Acquirer negotiates hardware access for capture sessions.
type Acquirer interface {
	// AcquireMic acquires the default microphone. Mandatory: errors are
	// ErrPermissionDenied or ErrDeviceUnavailable and surface to the caller.
	AcquireMic(ctx context.Context) (AudioTrack, error)

	// AcquireLoopback acquires the system-audio/display stream at the given
	// sample rate. Best-effort: any failure returns nil after a warning.
	AcquireLoopback(ctx context.Context, sampleRate int) *Loopback

	// AcquireDisplay requests a brand-new full-display video stream.
	AcquireDisplay(ctx context.Context) (VideoTrack, error)

	// AcquireWindow requests a window-scoped video stream for a source id
	// resolved by the platform window finder.
	AcquireWindow(ctx context.Context, sourceID string) (VideoTrack, error)

	Close() error
}
