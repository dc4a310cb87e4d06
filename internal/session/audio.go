package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meetcap/meetcap/internal/bridge"
	"github.com/meetcap/meetcap/internal/config"
	"github.com/meetcap/meetcap/internal/delivery"
	"github.com/meetcap/meetcap/internal/device"
	"github.com/meetcap/meetcap/internal/metrics"
	"github.com/meetcap/meetcap/internal/mix"
	"github.com/meetcap/meetcap/internal/ownership"
)

// AudioOptions wires an AudioSession's collaborators.
type AudioOptions struct {
	Acquirer    device.Acquirer
	Coordinator *ownership.Coordinator
	Sink        bridge.Sink
	Events      *bridge.Emitter
	Metrics     *metrics.Metrics
	Audio       config.AudioConfig
	Logger      zerolog.Logger
}

// AudioSession turns live microphone and optional system-loopback audio
// into a transcription-ready 16 kHz PCM chunk stream. The microphone is
// mandatory; loopback failure degrades to mic-only with a warning.
type AudioSession struct {
	id     string
	acq    device.Acquirer
	coord  *ownership.Coordinator
	sink   bridge.Sink
	events *bridge.Emitter
	met    *metrics.Metrics
	cfg    config.AudioConfig
	log    zerolog.Logger

	sm machine

	// mu serializes Start/Stop. A Stop racing a Start that is still
	// suspended in device acquisition waits for the acquisition to complete
	// and then tears down, instead of racing it.
	mu        sync.Mutex
	stopped   bool
	counted   bool
	mic       device.AudioTrack
	loopback  *device.Loopback
	hasSystem bool
	mixState  mix.State
	queue     *delivery.Queue
	seq       uint64
	startedAt time.Time

	// tapMu is separate from mu: the pump reads the tap while Stop holds mu
	// waiting for it.
	tapMu sync.Mutex
	tap   chan []int16

	pumpCancel context.CancelFunc
	wg         sync.WaitGroup
}

func NewAudioSession(opts AudioOptions) *AudioSession {
	id := "audio-" + uuid.NewString()
	return &AudioSession{
		id:     id,
		acq:    opts.Acquirer,
		coord:  opts.Coordinator,
		sink:   opts.Sink,
		events: opts.Events,
		met:    opts.Metrics,
		cfg:    opts.Audio,
		log:    opts.Logger.With().Str("session", id).Logger(),
	}
}

func (s *AudioSession) ID() string { return s.id }

func (s *AudioSession) State() State { return s.sm.state() }

// HasSystemAudio reports whether the loopback channel is feeding the mix.
func (s *AudioSession) HasSystemAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasSystem
}

// PCMTap returns a channel carrying a copy of every mixed PCM chunk, so a
// video session can combine the audio track with its frames. Copies are
// dropped when the tap consumer falls behind; the channel is closed when
// the session stops.
func (s *AudioSession) PCMTap() <-chan []int16 {
	s.tapMu.Lock()
	defer s.tapMu.Unlock()
	if s.tap == nil {
		s.tap = make(chan []int16, 16)
	}
	return s.tap
}

func (s *AudioSession) pcmTap() chan []int16 {
	s.tapMu.Lock()
	defer s.tapMu.Unlock()
	return s.tap
}

// LoopbackVideo exposes the video half of the loopback stream for a video
// session to borrow. ok is false when running mic-only.
func (s *AudioSession) LoopbackVideo() (handleID string, track device.VideoTrack, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loopback == nil || s.loopback.Video == nil {
		return "", nil, false
	}
	return s.loopback.ID, s.loopback.Video, true
}

// Start acquires devices and begins emitting PCM chunks. Microphone
// failure is fatal and surfaces to the caller; loopback failure is
// recovered into mic-only mode.
func (s *AudioSession) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sm.to(Acquiring); err != nil {
		return err
	}

	mic, err := s.acq.AcquireMic(ctx)
	if err != nil {
		s.sm.to(Errored)
		s.met.IncSessionErrors()
		s.events.Emit(bridge.Event{Type: bridge.EventCaptureError, SessionID: s.id, Error: err.Error()})
		return fmt.Errorf("microphone acquisition failed: %w", err)
	}
	s.mic = mic
	if err := s.coord.Own(mic.ID(), s.id, func() { mic.Close() }); err != nil {
		mic.Close()
		s.sm.to(Errored)
		return fmt.Errorf("failed to register microphone handle: %w", err)
	}

	if lb := s.acq.AcquireLoopback(ctx, mic.SampleRate()); lb != nil {
		if err := s.coord.Own(lb.ID, s.id, lb.StopTracks); err != nil {
			lb.StopTracks()
			s.log.Warn().Err(err).Msg("could not register loopback handle, continuing mic-only")
		} else {
			s.loopback = lb
			s.hasSystem = true
		}
	}
	if !s.hasSystem {
		s.events.Emit(bridge.Event{Type: bridge.EventCaptureWarning, SessionID: s.id, Warning: bridge.WarnNoSystemAudio})
	}

	// The native rate is only known now; never assume one.
	s.mixState = mix.NewState(mic.SampleRate(), s.cfg.TargetSampleRate, s.cfg.MicGain, s.cfg.SystemGain)

	s.queue = delivery.NewQueue("audio:"+s.id, s.cfg.QueueDepth, func(ctx context.Context, c delivery.Chunk) error {
		return s.sink.PushAudioChunk(ctx, c.SessionID, c.Samples)
	}, s.log, s.met)

	pumpCtx, cancel := context.WithCancel(context.Background())
	s.pumpCancel = cancel
	s.startedAt = time.Now()
	s.wg.Add(1)
	go s.pump(pumpCtx)

	if err := s.sm.to(Capturing); err != nil {
		return err
	}
	s.met.IncSessionsStarted()
	s.counted = true
	s.log.Info().Int("source_rate", mic.SampleRate()).Bool("system_audio", s.hasSystem).Msg("audio capture started")
	return nil
}

func (s *AudioSession) pump(ctx context.Context) {
	defer s.wg.Done()

	var sysFrames <-chan []float32
	if s.loopback != nil {
		sysFrames = s.loopback.Audio.Frames()
	}
	acc := mix.NewAccumulator(s.mixState.SourceRate)

	progress := time.NewTicker(time.Second)
	defer progress.Stop()

	micFrames := s.mic.Frames()
	for {
		select {
		case <-ctx.Done():
			return

		case <-s.mic.Suspended():
			// Output-device change; recovery should be silent to the user.
			if err := s.mic.Resume(); err != nil {
				s.log.Error().Err(err).Msg("failed to resume suspended input stream")
			} else {
				s.met.IncMicAutoResumes()
				s.log.Debug().Msg("input stream auto-resumed")
			}

		case buf, ok := <-sysFrames:
			if !ok {
				sysFrames = nil
				continue
			}
			if s.sm.state() != Capturing {
				s.met.IncFramesDropped()
				continue
			}
			acc.Push(buf)

		case frame, ok := <-micFrames:
			if !ok {
				return
			}
			if s.sm.state() != Capturing {
				// Frames keep arriving while paused and are discarded; no
				// stale audio is buffered for resume.
				acc.Reset()
				s.met.IncFramesDropped()
				continue
			}
			var system []float32
			if s.hasSystem {
				system = acc.Pull(len(frame))
			}
			samples := mix.Mix(s.mixState, frame, system)
			s.seq++
			if err := s.queue.Enqueue(delivery.Chunk{SessionID: s.id, Seq: s.seq, Samples: samples}); err != nil {
				return
			}
			s.met.IncAudioChunks()
			if tap := s.pcmTap(); tap != nil {
				select {
				case tap <- samples:
				default:
				}
			}

		case <-progress.C:
			tracks := 1
			if s.hasSystem {
				tracks = 2
			}
			s.events.Emit(bridge.Event{
				Type:      bridge.EventCaptureProgress,
				SessionID: s.id,
				Duration:  time.Since(s.startedAt),
				Tracks:    tracks,
			})
		}
	}
}

// Pause gates chunk emission only; hardware keeps delivering frames, which
// are discarded.
func (s *AudioSession) Pause() error {
	return s.sm.to(Paused)
}

func (s *AudioSession) Resume() error {
	return s.sm.to(Capturing)
}

// Stop drains the delivery queue, then releases hardware through the
// ownership coordinator. Idempotent; teardown runs unconditionally even
// after a mid-session error.
func (s *AudioSession) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.sm.state() == Idle {
		return nil
	}
	s.stopped = true
	s.sm.to(Stopping)

	if s.pumpCancel != nil {
		s.pumpCancel()
		s.wg.Wait()
	}

	// The pump is done; no more sends can race the close.
	s.tapMu.Lock()
	if s.tap != nil {
		close(s.tap)
		s.tap = nil
	}
	s.tapMu.Unlock()

	// No chunk already enqueued may be lost to hardware release.
	if s.queue != nil {
		if err := s.queue.Drain(ctx); err != nil {
			s.log.Warn().Err(err).Msg("audio queue drain interrupted")
		}
	}

	if s.mic != nil {
		s.coord.Release(s.mic.ID(), s.id)
	}
	if s.loopback != nil {
		s.coord.Release(s.loopback.ID, s.id)
	}

	s.sm.to(Idle)
	if s.counted {
		s.counted = false
		s.met.DecActiveSessions()
	}
	s.log.Info().Msg("audio capture stopped")
	return nil
}
