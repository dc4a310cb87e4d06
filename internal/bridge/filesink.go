package bridge

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileSink is a local persistence collaborator: audio lands as a WAV file
// per session, video chunks are appended to a raw .mjpeg file prepared by
// StartVideoCapture and finalized by StopVideoCapture. The mixed PCM
// carried by video chunks lands in a companion WAV under the video
// session's id, keeping the recording's audio alongside its frames.
type FileSink struct {
	dir        string
	sampleRate int

	mu    sync.Mutex
	audio map[string]*wavFile
	video map[string]*os.File
}

type wavFile struct {
	f         *os.File
	dataBytes uint32
}

func NewFileSink(dir string, sampleRate int) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &FileSink{
		dir:        dir,
		sampleRate: sampleRate,
		audio:      make(map[string]*wavFile),
		video:      make(map[string]*os.File),
	}, nil
}

func (s *FileSink) PushAudioChunk(ctx context.Context, sessionID string, samples []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendWAVLocked(sessionID, samples)
}

func (s *FileSink) appendWAVLocked(sessionID string, samples []int16) error {
	w, ok := s.audio[sessionID]
	if !ok {
		f, err := os.Create(filepath.Join(s.dir, sessionID+".wav"))
		if err != nil {
			return fmt.Errorf("failed to create audio file: %w", err)
		}
		// Placeholder header, sizes patched on close
		hdr, err := EncodeWAVHeader(0, s.sampleRate)
		if err != nil {
			f.Close()
			return err
		}
		if _, err := f.Write(hdr); err != nil {
			f.Close()
			return err
		}
		w = &wavFile{f: f}
		s.audio[sessionID] = w
	}

	if err := binary.Write(w.f, binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("failed to append samples: %w", err)
	}
	w.dataBytes += uint32(len(samples) * 2)
	return nil
}

func (s *FileSink) StartVideoCapture(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.video[sessionID]; ok {
		return fmt.Errorf("video capture already started for %s", sessionID)
	}
	f, err := os.Create(filepath.Join(s.dir, sessionID+".mjpeg"))
	if err != nil {
		return fmt.Errorf("failed to create video file: %w", err)
	}
	s.video[sessionID] = f
	return nil
}

func (s *FileSink) PushVideoChunk(ctx context.Context, sessionID string, video []byte, audio []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.video[sessionID]
	if !ok {
		return fmt.Errorf("video capture not started for %s", sessionID)
	}
	if _, err := f.Write(video); err != nil {
		return fmt.Errorf("failed to append video chunk: %w", err)
	}
	if len(audio) > 0 {
		return s.appendWAVLocked(sessionID, audio)
	}
	return nil
}

func (s *FileSink) StopVideoCapture(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.video[sessionID]
	if !ok {
		return fmt.Errorf("video capture not started for %s", sessionID)
	}
	delete(s.video, sessionID)
	err := f.Close()
	if werr := s.closeWAVLocked(sessionID); err == nil {
		err = werr
	}
	return err
}

// CloseSession patches the WAV header sizes and closes the audio file.
func (s *FileSink) CloseSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeWAVLocked(sessionID)
}

func (s *FileSink) closeWAVLocked(sessionID string) error {
	w, ok := s.audio[sessionID]
	if !ok {
		return nil
	}
	delete(s.audio, sessionID)

	hdr, err := EncodeWAVHeader(w.dataBytes, s.sampleRate)
	if err == nil {
		_, err = w.f.WriteAt(hdr, 0)
	}
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return err
}
