// Package bridge defines the narrow boundary between the capture pipeline
// and its surrounding collaborators: the persistence side that consumes
// chunks, and the platform shell that resolves windows and gates loopback
// capture. The pipeline holds only these interfaces.
package bridge

import "context"

// Sink is the persistence boundary. Chunk calls are one-way and must arrive
// in order per session; the delivery queue provides that ordering.
// StartVideoCapture and StopVideoCapture are called exactly once per video
// session, in that order, bracketing the session's chunk stream. A video
// chunk carries the encoded frame together with the mixed PCM captured over
// the same interval, so the recording keeps its own audio track.
type Sink interface {
	PushAudioChunk(ctx context.Context, sessionID string, samples []int16) error
	StartVideoCapture(ctx context.Context, sessionID string) error
	PushVideoChunk(ctx context.Context, sessionID string, video []byte, audio []int16) error
	StopVideoCapture(ctx context.Context, sessionID string) error
}

// Window identifies an on-screen window that can back a window-scoped
// capture stream.
type Window struct {
	SourceID string `json:"source_id"`
	Name     string `json:"name"`
}

// Platform is the shell-side surface the pipeline drives. Enable and
// Disable are idempotent toggles around a single display-capture call and
// must always be paired, even on error paths. SetWindowCaptureSource and
// ClearWindowCaptureSource must bracket any window-scoped capture request;
// an uncleared source would leak targeting into unrelated captures.
type Platform interface {
	EnableLoopbackCapture() error
	DisableLoopbackCapture() error

	// FindWindowForPlatform is a read-only lookup; (nil, nil) means no match.
	FindWindowForPlatform(hint string) (*Window, error)
	SetWindowCaptureSource(sourceID string) error
	ClearWindowCaptureSource() error
}

// NopPlatform is a Platform for hosts with no shell integration: loopback
// toggles succeed, window lookups never match.
type NopPlatform struct{}

func (NopPlatform) EnableLoopbackCapture() error                  { return nil }
func (NopPlatform) DisableLoopbackCapture() error                 { return nil }
func (NopPlatform) FindWindowForPlatform(string) (*Window, error) { return nil, nil }
func (NopPlatform) SetWindowCaptureSource(string) error           { return nil }
func (NopPlatform) ClearWindowCaptureSource() error               { return nil }
