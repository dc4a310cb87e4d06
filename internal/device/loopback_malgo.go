package device

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// loopbackAudio captures the system render mix (what the machine is playing)
// as a virtual input via a miniaudio loopback device. Only some backends
// support loopback; failure here is what degrades the pipeline to mic-only.
type loopbackAudio struct {
	id     string
	actx   *malgo.AllocatedContext
	device *malgo.Device
	rate   int
	log    zerolog.Logger

	frames    chan []float32
	closeOnce sync.Once
}

func newLoopbackAudio(sampleRate int, log zerolog.Logger) (*loopbackAudio, error) {
	actx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to init loopback context: %v", ErrDeviceUnavailable, err)
	}

	t := &loopbackAudio{
		id:     "sysaudio-" + uuid.NewString(),
		actx:   actx,
		rate:   sampleRate,
		log:    log,
		frames: make(chan []float32, 8),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Loopback)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutputSample, pInputSample []byte, frameCount uint32) {
			samples := bytesToFloat32(pInputSample)
			select {
			case t.frames <- samples:
			default:
				// Drop if slow consumer; better to drop than block audio thread
			}
		},
	}

	dev, err := malgo.InitDevice(actx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = actx.Uninit()
		actx.Free()
		return nil, fmt.Errorf("%w: failed to init loopback device: %v", ErrDeviceUnavailable, err)
	}
	t.device = dev

	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = actx.Uninit()
		actx.Free()
		return nil, fmt.Errorf("%w: failed to start loopback device: %v", ErrDeviceUnavailable, err)
	}

	return t, nil
}

func (t *loopbackAudio) ID() string               { return t.id }
func (t *loopbackAudio) SampleRate() int          { return t.rate }
func (t *loopbackAudio) Frames() <-chan []float32 { return t.frames }

// Suspended never fires for the loopback device; the render mix survives
// output-device changes.
func (t *loopbackAudio) Suspended() <-chan struct{} { return nil }
func (t *loopbackAudio) Resume() error              { return nil }

func (t *loopbackAudio) Close() error {
	t.closeOnce.Do(func() {
		if t.device != nil {
			_ = t.device.Stop()
			t.device.Uninit()
			t.device = nil
		}
		if t.actx != nil {
			_ = t.actx.Uninit()
			t.actx.Free()
			t.actx = nil
		}
		close(t.frames)
	})
	return nil
}
