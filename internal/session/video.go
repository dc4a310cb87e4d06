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
	"github.com/meetcap/meetcap/internal/ownership"
	"github.com/meetcap/meetcap/internal/video"
)

// VideoOptions wires a VideoSession's collaborators. Audio is the running
// audio session whose loopback video track can be borrowed and whose mixed
// PCM is combined into the video chunks; it may be nil. The session takes
// ownership of Encoder and closes it on Stop.
type VideoOptions struct {
	Acquirer    device.Acquirer
	Coordinator *ownership.Coordinator
	Platform    bridge.Platform
	Sink        bridge.Sink
	Events      *bridge.Emitter
	Metrics     *metrics.Metrics
	Encoder     *video.Encoder
	Video       config.VideoConfig
	Audio       *AudioSession
	Logger      zerolog.Logger
}

// VideoSession captures a companion video track and drives the encoder
// into compressed byte chunks. Capture strategy, in order: a window-scoped
// stream resolved from the platform hint, the audio session's loopback
// video track (borrowed, never owned), or a brand-new full-display stream.
type VideoSession struct {
	id       string
	acq      device.Acquirer
	coord    *ownership.Coordinator
	platform bridge.Platform
	sink     bridge.Sink
	events   *bridge.Emitter
	met      *metrics.Metrics
	enc      *video.Encoder
	cfg      config.VideoConfig
	audio    *AudioSession
	log      zerolog.Logger

	sm machine

	mu        sync.Mutex
	stopped   bool
	counted   bool
	prepared  bool
	finalized bool
	track     device.VideoTrack
	handleID  string
	borrowed  bool
	pcm       <-chan []int16
	queue     *delivery.Queue
	seq       uint64

	pumpCancel context.CancelFunc
	wg         sync.WaitGroup
}

func NewVideoSession(opts VideoOptions) *VideoSession {
	id := "video-" + uuid.NewString()
	return &VideoSession{
		id:       id,
		acq:      opts.Acquirer,
		coord:    opts.Coordinator,
		platform: opts.Platform,
		sink:     opts.Sink,
		events:   opts.Events,
		met:      opts.Metrics,
		enc:      opts.Encoder,
		cfg:      opts.Video,
		audio:    opts.Audio,
		log:      opts.Logger.With().Str("session", id).Logger(),
	}
}

func (s *VideoSession) ID() string { return s.id }

func (s *VideoSession) State() State { return s.sm.state() }

func (s *VideoSession) Start(ctx context.Context, platformHint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sm.to(Acquiring); err != nil {
		return err
	}

	track, handleID, borrowed, err := s.acquireTrack(ctx, platformHint)
	if err != nil {
		s.sm.to(Errored)
		s.met.IncSessionErrors()
		s.events.Emit(bridge.Event{Type: bridge.EventCaptureError, SessionID: s.id, Error: err.Error()})
		return fmt.Errorf("video acquisition failed: %w", err)
	}
	s.track = track
	s.handleID = handleID
	s.borrowed = borrowed
	if s.audio != nil {
		s.pcm = s.audio.PCMTap()
	}

	if err := s.sink.StartVideoCapture(ctx, s.id); err != nil {
		s.coord.Release(s.handleID, s.id)
		s.sm.to(Errored)
		return fmt.Errorf("failed to prepare video persistence: %w", err)
	}
	s.prepared = true

	s.queue = delivery.NewQueue("video:"+s.id, s.cfg.QueueDepth, func(ctx context.Context, c delivery.Chunk) error {
		return s.sink.PushVideoChunk(ctx, c.SessionID, c.Bytes, c.Samples)
	}, s.log, s.met)

	pumpCtx, cancel := context.WithCancel(context.Background())
	s.pumpCancel = cancel
	s.wg.Add(1)
	go s.pump(pumpCtx)

	if err := s.sm.to(Capturing); err != nil {
		return err
	}
	s.met.IncSessionsStarted()
	s.counted = true
	s.log.Info().Str("track", track.ID()).Bool("borrowed", borrowed).Msg("video capture started")
	return nil
}

// acquireTrack implements the capture decision policy. Exactly one of the
// window or display tracks is ever owned by this session; a borrowed track
// stays under the audio session's ownership.
func (s *VideoSession) acquireTrack(ctx context.Context, platformHint string) (device.VideoTrack, string, bool, error) {
	// (a) window-scoped capture for a recognized meeting application
	if platformHint != "" {
		win, err := s.platform.FindWindowForPlatform(platformHint)
		if err != nil {
			s.log.Warn().Err(err).Str("hint", platformHint).Msg("window lookup failed")
		}
		if win != nil {
			track, err := s.acquireWindowTrack(ctx, win.SourceID)
			if err == nil {
				if err := s.coord.Own(track.ID(), s.id, track.Stop); err != nil {
					track.Stop()
					return nil, "", false, err
				}
				return track, track.ID(), false, nil
			}
			s.log.Warn().Err(err).Str("window", win.Name).Msg("window capture failed, falling back")
		}
	}

	// (b) borrow the loopback video track the audio session already holds
	if s.audio != nil {
		if handleID, vt, ok := s.audio.LoopbackVideo(); ok && vt.Live() {
			err := s.coord.Borrow(handleID, s.id, vt)
			if err == nil {
				return vt, handleID, true, nil
			}
			s.log.Warn().Err(err).Msg("could not borrow loopback video track")
		}
	}

	// (c) brand-new full-display stream
	track, err := s.acq.AcquireDisplay(ctx)
	if err != nil {
		return nil, "", false, fmt.Errorf("no video source available: %w", err)
	}
	if err := s.coord.Own(track.ID(), s.id, track.Stop); err != nil {
		track.Stop()
		return nil, "", false, err
	}
	return track, track.ID(), false, nil
}

// acquireWindowTrack brackets the capture request with the source-targeting
// calls; an uncleared source would leak into later unrelated captures.
func (s *VideoSession) acquireWindowTrack(ctx context.Context, sourceID string) (device.VideoTrack, error) {
	if err := s.platform.SetWindowCaptureSource(sourceID); err != nil {
		return nil, err
	}
	defer func() {
		if err := s.platform.ClearWindowCaptureSource(); err != nil {
			s.log.Warn().Err(err).Msg("failed to clear window capture source")
		}
	}()
	return s.acq.AcquireWindow(ctx, sourceID)
}

func (s *VideoSession) pump(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.chunkInterval())
	defer ticker.Stop()

	frames := s.track.Frames()
	pcm := s.pcm
	var latest *device.Frame
	var audio []int16
	for {
		select {
		case <-ctx.Done():
			return

		case <-s.track.Ended():
			// User revoked screen sharing from the OS chrome; same stop
			// path as an explicit stop.
			s.log.Info().Msg("video track ended externally")
			go s.Stop(context.Background())
			return

		case f, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			latest = &f

		case samples, ok := <-pcm:
			if !ok {
				pcm = nil
				continue
			}
			audio = append(audio, samples...)
			// Bound the backlog while no frames arrive; the newest audio
			// stays aligned with the frame that eventually comes.
			if len(audio) > maxAudioBacklog {
				audio = audio[len(audio)-maxAudioBacklog:]
			}

		case <-ticker.C:
			if latest == nil {
				continue
			}
			data, err := s.enc.Encode(*latest)
			latest = nil
			if err != nil {
				// Fatal to this session only; audio keeps running.
				s.log.Error().Err(err).Msg("encoder failed, stopping video session")
				s.met.IncSessionErrors()
				s.sm.to(Errored)
				go s.Stop(context.Background())
				return
			}
			s.seq++
			if err := s.queue.Enqueue(delivery.Chunk{SessionID: s.id, Seq: s.seq, Bytes: data, Samples: audio}); err != nil {
				return
			}
			audio = nil
			s.met.IncVideoChunks()
		}
	}
}

// maxAudioBacklog caps the PCM buffered between video chunks, about half a
// minute at the 16 kHz target rate.
const maxAudioBacklog = 1 << 19

func (s *VideoSession) chunkInterval() time.Duration {
	if s.cfg.ChunkInterval <= 0 {
		return time.Second
	}
	return s.cfg.ChunkInterval
}

// Stop drains the chunk queue, finalizes persistence exactly once and
// releases or restores the track per its ownership tag. Idempotent.
func (s *VideoSession) Stop(ctx context.Context) error {
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

	if s.queue != nil {
		if err := s.queue.Drain(ctx); err != nil {
			s.log.Warn().Err(err).Msg("video queue drain interrupted")
		}
	}

	if s.prepared && !s.finalized {
		s.finalized = true
		if err := s.sink.StopVideoCapture(ctx, s.id); err != nil {
			s.log.Error().Err(err).Msg("failed to finalize video persistence")
		}
	}

	if s.enc != nil {
		if err := s.enc.Close(); err != nil {
			s.log.Warn().Err(err).Msg("encoder close failed")
		}
	}

	if s.handleID != "" {
		// Owner release stops the track; borrower release re-disables it
		// per the owner's conventions. The coordinator dispatches.
		s.coord.Release(s.handleID, s.id)
	}

	s.sm.to(Idle)
	if s.counted {
		s.counted = false
		s.met.DecActiveSessions()
	}
	s.log.Info().Msg("video capture stopped")
	return nil
}
