// Package video turns raw capture frames into compressed byte chunks. The
// codec itself is delegated to a backend; the software JPEG backend is the
// always-available fallback, and platform backends register themselves at
// init like hardware encoders do.
package video

import (
	"errors"
	"fmt"
	"sync"

	"github.com/meetcap/meetcap/internal/device"
)

var (
	ErrInvalidQuality = errors.New("invalid quality")
	ErrInvalidFrame   = errors.New("invalid frame")

	// ErrEncoderFailed marks an encode failure. Fatal to the video session
	// only; the audio session is unaffected.
	ErrEncoderFailed = errors.New("encoder failed")
)

type Config struct {
	Quality int // 1-100, JPEG-style
}

func DefaultConfig() Config {
	return Config{Quality: 80}
}

type backend interface {
	Encode(f device.Frame) ([]byte, error)
	Close() error
	Name() string
}

type backendFactory func(cfg Config) (backend, error)

var (
	platformFactoriesMu sync.Mutex
	platformFactories   []backendFactory
)

func registerPlatformFactory(factory backendFactory) {
	platformFactoriesMu.Lock()
	defer platformFactoriesMu.Unlock()
	platformFactories = append(platformFactories, factory)
}

// Encoder drives a single backend. Safe for use from one session goroutine;
// the mutex guards Close racing a late Encode.
type Encoder struct {
	mu      sync.Mutex
	backend backend
}

func NewEncoder(cfg Config) (*Encoder, error) {
	if cfg.Quality == 0 {
		cfg.Quality = DefaultConfig().Quality
	}
	if cfg.Quality < 1 || cfg.Quality > 100 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuality, cfg.Quality)
	}

	b, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}
	return &Encoder{backend: b}, nil
}

func newBackend(cfg Config) (backend, error) {
	platformFactoriesMu.Lock()
	factories := make([]backendFactory, len(platformFactories))
	copy(factories, platformFactories)
	platformFactoriesMu.Unlock()

	for _, factory := range factories {
		if b, err := factory(cfg); err == nil {
			return b, nil
		}
	}
	return newJPEGBackend(cfg)
}

func (e *Encoder) Encode(f device.Frame) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backend == nil {
		return nil, fmt.Errorf("%w: encoder closed", ErrEncoderFailed)
	}
	data, err := e.backend.Encode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoderFailed, err)
	}
	return data, nil
}

func (e *Encoder) Name() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backend == nil {
		return "closed"
	}
	return e.backend.Name()
}

func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backend == nil {
		return nil
	}
	err := e.backend.Close()
	e.backend = nil
	return err
}
