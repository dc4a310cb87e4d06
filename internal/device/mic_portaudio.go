package device

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

// micTrack captures the default input device at its native rate through
// PortAudio. Frames are copied out of the stream buffer and dropped when
// the consumer falls behind; blocking the audio thread is worse than a gap.
type micTrack struct {
	id     string
	stream *portaudio.Stream
	buffer []float32
	rate   int
	log    zerolog.Logger

	frames chan []float32
	susp   chan struct{}
	resume chan struct{}
	quit   chan struct{}

	closeOnce sync.Once
}

func newMicTrack(framesPerBuffer int, log zerolog.Logger) (*micTrack, error) {
	device, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: no default input device: %v", ErrDeviceUnavailable, err)
	}
	if device == nil || device.MaxInputChannels < 1 {
		return nil, fmt.Errorf("%w: default device has no input channels", ErrDeviceUnavailable)
	}

	// Capture at the device's native rate; resampling happens in the mixer,
	// not in the OS audio graph.
	rate := int(device.DefaultSampleRate)

	t := &micTrack{
		id:     "mic-" + uuid.NewString(),
		buffer: make([]float32, framesPerBuffer),
		rate:   rate,
		log:    log,
		frames: make(chan []float32, 8),
		susp:   make(chan struct{}, 1),
		resume: make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: 1,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(rate),
		FramesPerBuffer: framesPerBuffer,
	}, t.buffer)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open input stream: %v", ErrDeviceUnavailable, err)
	}
	t.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: failed to start input stream: %v", ErrDeviceUnavailable, err)
	}

	go t.run()
	return t, nil
}

func (t *micTrack) run() {
	defer t.stream.Close()
	defer close(t.frames)
	for {
		select {
		case <-t.quit:
			return
		default:
		}

		if err := t.stream.Read(); err != nil {
			// Output-device changes (headphones unplugged) surface here as
			// a suspended stream. Signal upward and wait for Resume.
			t.log.Debug().Err(err).Msg("input stream suspended")
			select {
			case t.susp <- struct{}{}:
			default:
			}
			select {
			case <-t.resume:
				continue
			case <-t.quit:
				return
			}
		}

		samples := make([]float32, len(t.buffer))
		copy(samples, t.buffer)

		select {
		case t.frames <- samples:
		case <-t.quit:
			return
		default:
			// Drop if channel full (backpressure)
		}
	}
}

func (t *micTrack) ID() string                 { return t.id }
func (t *micTrack) SampleRate() int            { return t.rate }
func (t *micTrack) Frames() <-chan []float32   { return t.frames }
func (t *micTrack) Suspended() <-chan struct{} { return t.susp }

func (t *micTrack) Resume() error {
	_ = t.stream.Stop()
	if err := t.stream.Start(); err != nil {
		return fmt.Errorf("%w: failed to resume input stream: %v", ErrDeviceUnavailable, err)
	}
	select {
	case t.resume <- struct{}{}:
	default:
	}
	return nil
}

func (t *micTrack) Close() error {
	t.closeOnce.Do(func() {
		close(t.quit)
		// Abort unblocks a pending Read; the run loop closes the stream.
		t.stream.Abort()
	})
	return nil
}
