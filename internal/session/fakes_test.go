package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/meetcap/meetcap/internal/bridge"
	"github.com/meetcap/meetcap/internal/config"
	"github.com/meetcap/meetcap/internal/device"
)

// Fakes for the hardware and boundary collaborators, in place of PortAudio,
// the loopback device and the persistence side.

type fakeMic struct {
	id     string
	rate   int
	frames chan []float32
	susp   chan struct{}

	mu        sync.Mutex
	resumes   int
	closes    int
	closeOnce sync.Once
}

func newFakeMic(rate int) *fakeMic {
	return &fakeMic{
		id:     "fake-mic",
		rate:   rate,
		frames: make(chan []float32, 16),
		susp:   make(chan struct{}, 1),
	}
}

func (m *fakeMic) ID() string                 { return m.id }
func (m *fakeMic) SampleRate() int            { return m.rate }
func (m *fakeMic) Frames() <-chan []float32   { return m.frames }
func (m *fakeMic) Suspended() <-chan struct{} { return m.susp }

func (m *fakeMic) Resume() error {
	m.mu.Lock()
	m.resumes++
	m.mu.Unlock()
	return nil
}

func (m *fakeMic) Close() error {
	m.mu.Lock()
	m.closes++
	m.mu.Unlock()
	m.closeOnce.Do(func() { close(m.frames) })
	return nil
}

func (m *fakeMic) resumeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resumes
}

func (m *fakeMic) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

type fakeAudioTrack struct {
	id     string
	rate   int
	frames chan []float32

	mu        sync.Mutex
	closes    int
	closeOnce sync.Once
}

func newFakeAudioTrack(rate int) *fakeAudioTrack {
	return &fakeAudioTrack{id: "fake-sysaudio", rate: rate, frames: make(chan []float32, 16)}
}

func (a *fakeAudioTrack) ID() string                 { return a.id }
func (a *fakeAudioTrack) SampleRate() int            { return a.rate }
func (a *fakeAudioTrack) Frames() <-chan []float32   { return a.frames }
func (a *fakeAudioTrack) Suspended() <-chan struct{} { return nil }
func (a *fakeAudioTrack) Resume() error              { return nil }

func (a *fakeAudioTrack) Close() error {
	a.mu.Lock()
	a.closes++
	a.mu.Unlock()
	a.closeOnce.Do(func() { close(a.frames) })
	return nil
}

type fakeVideoTrack struct {
	id     string
	frames chan device.Frame
	ended  chan struct{}

	mu       sync.Mutex
	enabled  bool
	live     bool
	stops    int
	stopOnce sync.Once
}

func newFakeVideoTrack(id string) *fakeVideoTrack {
	return &fakeVideoTrack{
		id:      id,
		frames:  make(chan device.Frame, 16),
		ended:   make(chan struct{}),
		enabled: true,
		live:    true,
	}
}

func (t *fakeVideoTrack) ID() string { return t.id }

func (t *fakeVideoTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeVideoTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *fakeVideoTrack) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

func (t *fakeVideoTrack) Ended() <-chan struct{}      { return t.ended }
func (t *fakeVideoTrack) Frames() <-chan device.Frame { return t.frames }

func (t *fakeVideoTrack) Stop() {
	t.mu.Lock()
	t.live = false
	t.stops++
	t.mu.Unlock()
	t.stopOnce.Do(func() { close(t.ended) })
}

// endExternally simulates the user revoking screen share from the OS.
func (t *fakeVideoTrack) endExternally() {
	t.mu.Lock()
	t.live = false
	t.mu.Unlock()
	t.stopOnce.Do(func() { close(t.ended) })
}

func (t *fakeVideoTrack) stopCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

type fakeAcquirer struct {
	mic      device.AudioTrack
	micErr   error
	loopback *device.Loopback

	display    device.VideoTrack
	displayErr error
	window     device.VideoTrack
	windowErr  error

	mu          sync.Mutex
	windowCalls []string
}

func (a *fakeAcquirer) AcquireMic(ctx context.Context) (device.AudioTrack, error) {
	if a.micErr != nil {
		return nil, a.micErr
	}
	return a.mic, nil
}

func (a *fakeAcquirer) AcquireLoopback(ctx context.Context, sampleRate int) *device.Loopback {
	return a.loopback
}

func (a *fakeAcquirer) AcquireDisplay(ctx context.Context) (device.VideoTrack, error) {
	if a.displayErr != nil {
		return nil, a.displayErr
	}
	return a.display, nil
}

func (a *fakeAcquirer) AcquireWindow(ctx context.Context, sourceID string) (device.VideoTrack, error) {
	a.mu.Lock()
	a.windowCalls = append(a.windowCalls, sourceID)
	a.mu.Unlock()
	if a.windowErr != nil {
		return nil, a.windowErr
	}
	return a.window, nil
}

func (a *fakeAcquirer) Close() error { return nil }

type recordSink struct {
	mu          sync.Mutex
	audioChunks [][]int16
	videoChunks [][]byte
	videoAudio  []int16
	videoStarts int
	videoStops  int
}

func (s *recordSink) PushAudioChunk(ctx context.Context, sessionID string, samples []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioChunks = append(s.audioChunks, samples)
	return nil
}

func (s *recordSink) StartVideoCapture(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoStarts++
	return nil
}

func (s *recordSink) PushVideoChunk(ctx context.Context, sessionID string, video []byte, audio []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoChunks = append(s.videoChunks, video)
	s.videoAudio = append(s.videoAudio, audio...)
	return nil
}

func (s *recordSink) StopVideoCapture(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoStops++
	return nil
}

func (s *recordSink) audioCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audioChunks)
}

func (s *recordSink) videoCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.videoChunks)
}

func (s *recordSink) videoAudioCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.videoAudio)
}

func (s *recordSink) starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoStarts
}

func (s *recordSink) stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoStops
}

type fakePlatform struct {
	window *bridge.Window

	mu     sync.Mutex
	sets   []string
	clears int
}

func (p *fakePlatform) EnableLoopbackCapture() error  { return nil }
func (p *fakePlatform) DisableLoopbackCapture() error { return nil }

func (p *fakePlatform) FindWindowForPlatform(hint string) (*bridge.Window, error) {
	return p.window, nil
}

func (p *fakePlatform) SetWindowCaptureSource(sourceID string) error {
	p.mu.Lock()
	p.sets = append(p.sets, sourceID)
	p.mu.Unlock()
	return nil
}

func (p *fakePlatform) ClearWindowCaptureSource() error {
	p.mu.Lock()
	p.clears++
	p.mu.Unlock()
	return nil
}

func (p *fakePlatform) bracketCounts() (sets, clears int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sets), p.clears
}

func testAudioConfig() config.AudioConfig {
	return config.AudioConfig{
		TargetSampleRate: 16000,
		FramesPerBuffer:  64,
		MicGain:          1.0,
		SystemGain:       1.0,
		QueueDepth:       16,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	for i := 0; i < 400; i++ {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
