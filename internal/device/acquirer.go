package device

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/meetcap/meetcap/internal/bridge"
	"github.com/meetcap/meetcap/internal/metrics"
)

// Options configures a HardwareAcquirer.
type Options struct {
	Platform        bridge.Platform
	Grabber         FrameGrabber
	FramesPerBuffer int
	Logger          zerolog.Logger
	Metrics         *metrics.Metrics
}

// HardwareAcquirer is the production Acquirer: PortAudio for the
// microphone, a WASAPI-style loopback device for system audio, and a
// platform frame grabber for display and window video.
type HardwareAcquirer struct {
	platform        bridge.Platform
	grabber         FrameGrabber
	framesPerBuffer int
	log             zerolog.Logger
	met             *metrics.Metrics
}

// NewAcquirer initializes the audio host. Callers must Close it to release
// the host again.
func NewAcquirer(opts Options) (*HardwareAcquirer, error) {
	if opts.Platform == nil {
		opts.Platform = bridge.NopPlatform{}
	}
	if opts.Grabber == nil {
		opts.Grabber = UnsupportedGrabber{}
	}
	if opts.FramesPerBuffer <= 0 {
		opts.FramesPerBuffer = 512
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize audio host: %w", err)
	}

	return &HardwareAcquirer{
		platform:        opts.Platform,
		grabber:         opts.Grabber,
		framesPerBuffer: opts.FramesPerBuffer,
		log:             opts.Logger,
		met:             opts.Metrics,
	}, nil
}

func (a *HardwareAcquirer) AcquireMic(ctx context.Context) (AudioTrack, error) {
	if err := ensureMicAccess(); err != nil {
		return nil, err
	}
	return newMicTrack(a.framesPerBuffer, a.log)
}

// AcquireLoopback toggles the process-wide loopback flag around the single
// display-capture call. The flag is always disabled again, even when
// acquisition fails partway.
func (a *HardwareAcquirer) AcquireLoopback(ctx context.Context, sampleRate int) *Loopback {
	lb, err := a.acquireLoopback(ctx, sampleRate)
	if err != nil {
		a.log.Warn().Err(err).Msg("system audio unavailable, continuing mic-only")
		a.met.IncLoopbackUnavailable()
		return nil
	}
	return lb
}

func (a *HardwareAcquirer) acquireLoopback(ctx context.Context, sampleRate int) (*Loopback, error) {
	if err := a.platform.EnableLoopbackCapture(); err != nil {
		return nil, fmt.Errorf("failed to enable loopback capture: %w", err)
	}
	defer func() {
		if err := a.platform.DisableLoopbackCapture(); err != nil {
			a.log.Warn().Err(err).Msg("failed to disable loopback capture flag")
		}
	}()

	audio, err := newLoopbackAudio(sampleRate, a.log)
	if err != nil {
		return nil, err
	}

	video, err := newDisplayTrack(ctx, a.grabber, "", a.log)
	if err != nil {
		audio.Close()
		return nil, err
	}
	if !video.Live() {
		video.Stop()
		audio.Close()
		return nil, fmt.Errorf("%w: display track ended before use", ErrDeviceUnavailable)
	}

	return &Loopback{
		ID:    "loopback-" + uuid.NewString(),
		Audio: audio,
		Video: video,
	}, nil
}

func (a *HardwareAcquirer) AcquireDisplay(ctx context.Context) (VideoTrack, error) {
	return newDisplayTrack(ctx, a.grabber, "", a.log)
}

func (a *HardwareAcquirer) AcquireWindow(ctx context.Context, sourceID string) (VideoTrack, error) {
	if sourceID == "" {
		return nil, fmt.Errorf("%w: empty window source id", ErrDeviceUnavailable)
	}
	return newDisplayTrack(ctx, a.grabber, sourceID, a.log)
}

func (a *HardwareAcquirer) Close() error {
	return portaudio.Terminate()
}
