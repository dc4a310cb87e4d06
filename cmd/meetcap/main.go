package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/meetcap/meetcap/internal/bridge"
	"github.com/meetcap/meetcap/internal/config"
	"github.com/meetcap/meetcap/internal/device"
	"github.com/meetcap/meetcap/internal/logging"
	"github.com/meetcap/meetcap/internal/metrics"
	"github.com/meetcap/meetcap/internal/ownership"
	"github.com/meetcap/meetcap/internal/session"
	"github.com/meetcap/meetcap/internal/video"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	log := logging.NewWithLevel(cfg.LogLevel)
	log.Info().Str("version", Version).Str("commit", Commit).Msg("meetcap starting")

	met := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	sink, err := bridge.NewFileSink(cfg.OutputDir, cfg.Audio.TargetSampleRate)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare output directory")
	}

	platform := bridge.NopPlatform{}

	acquirer, err := device.NewAcquirer(device.Options{
		Platform:        platform,
		FramesPerBuffer: cfg.Audio.FramesPerBuffer,
		Logger:          log,
		Metrics:         met,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize audio host")
	}
	defer acquirer.Close()

	coord := ownership.NewCoordinator(log)

	events := bridge.NewEmitter(32)
	go logEvents(log, events)

	audio := session.NewAudioSession(session.AudioOptions{
		Acquirer:    acquirer,
		Coordinator: coord,
		Sink:        sink,
		Events:      events,
		Metrics:     met,
		Audio:       cfg.Audio,
		Logger:      log,
	})

	ctx := context.Background()
	if err := audio.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start audio capture")
	}
	if !audio.HasSystemAudio() {
		log.Warn().Msg("Recording microphone only; system audio is unavailable")
	}

	var vid *session.VideoSession
	if cfg.Video.Enabled {
		enc, err := video.NewEncoder(video.Config{Quality: cfg.Video.JPEGQuality})
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize video encoder")
		} else {
			vid = session.NewVideoSession(session.VideoOptions{
				Acquirer:    acquirer,
				Coordinator: coord,
				Platform:    platform,
				Sink:        sink,
				Events:      events,
				Metrics:     met,
				Encoder:     enc,
				Video:       cfg.Video,
				Audio:       audio,
				Logger:      log,
			})
			if err := vid.Start(ctx, cfg.Platform.Hint); err != nil {
				log.Error().Err(err).Msg("Video capture unavailable, continuing audio-only")
				vid = nil
			}
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down...")

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// Borrower before owner: the video session may hold a borrowed track
	// of the audio session's loopback stream.
	if vid != nil {
		if err := vid.Stop(stopCtx); err != nil {
			log.Error().Err(err).Msg("Video stop error")
		}
	}
	if err := audio.Stop(stopCtx); err != nil {
		log.Error().Err(err).Msg("Audio stop error")
	}
	if err := sink.CloseSession(audio.ID()); err != nil {
		log.Error().Err(err).Msg("Failed to finalize audio file")
	}
}

// logEvents surfaces pipeline status events; a UI shell would subscribe
// here instead.
func logEvents(log zerolog.Logger, events *bridge.Emitter) {
	for ev := range events.Events() {
		switch ev.Type {
		case bridge.EventCaptureProgress:
			log.Debug().Str("session", ev.SessionID).Dur("duration", ev.Duration).Int("tracks", ev.Tracks).Msg("capture progress")
		case bridge.EventCaptureWarning:
			log.Warn().Str("session", ev.SessionID).Str("warning", ev.Warning).Msg("capture warning")
		case bridge.EventCaptureError:
			log.Error().Str("session", ev.SessionID).Str("error", ev.Error).Msg("capture error")
		}
	}
}
