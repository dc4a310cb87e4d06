package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/meetcap/meetcap/internal/bridge"
	"github.com/meetcap/meetcap/internal/config"
	"github.com/meetcap/meetcap/internal/device"
	"github.com/meetcap/meetcap/internal/ownership"
	"github.com/meetcap/meetcap/internal/video"
)

func testVideoConfig() config.VideoConfig {
	return config.VideoConfig{
		Enabled:       true,
		ChunkInterval: 10 * time.Millisecond,
		JPEGQuality:   75,
		QueueDepth:    16,
	}
}

func newVideoSessionForTest(t *testing.T, acq device.Acquirer, coord *ownership.Coordinator, platform bridge.Platform, sink *recordSink, audio *AudioSession) *VideoSession {
	t.Helper()
	enc, err := video.NewEncoder(video.Config{Quality: 75})
	if err != nil {
		t.Fatal(err)
	}
	if coord == nil {
		coord = ownership.NewCoordinator(zerolog.Nop())
	}
	if platform == nil {
		platform = bridge.NopPlatform{}
	}
	return NewVideoSession(VideoOptions{
		Acquirer:    acq,
		Coordinator: coord,
		Platform:    platform,
		Sink:        sink,
		Encoder:     enc,
		Video:       testVideoConfig(),
		Audio:       audio,
		Logger:      zerolog.Nop(),
	})
}

func testFrame() device.Frame {
	pix := make([]byte, 4*4*4)
	for i := range pix {
		pix[i] = 0xff
	}
	return device.Frame{Width: 4, Height: 4, RGBA: pix, TS: time.Now()}
}

func TestWindowScopedCaptureBracketsSourceTargeting(t *testing.T) {
	track := newFakeVideoTrack("win-track")
	platform := &fakePlatform{window: &bridge.Window{SourceID: "win:42", Name: "Meeting"}}
	sink := &recordSink{}
	s := newVideoSessionForTest(t, &fakeAcquirer{window: track}, nil, platform, sink, nil)

	if err := s.Start(context.Background(), "zoom"); err != nil {
		t.Fatal(err)
	}

	sets, clears := platform.bracketCounts()
	if sets != 1 || clears != 1 {
		t.Fatalf("expected one set/clear bracket, got %d/%d", sets, clears)
	}
	if got := sink.starts(); got != 1 {
		t.Fatalf("expected one StartVideoCapture, got %d", got)
	}

	track.frames <- testFrame()
	waitFor(t, func() bool { return sink.videoCount() >= 1 }, "expected encoded chunks from window track")

	if err := s.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := track.stopCount(); got != 1 {
		t.Fatalf("expected owned window track stopped once, got %d", got)
	}
	if got := sink.stops(); got != 1 {
		t.Fatalf("expected one StopVideoCapture, got %d", got)
	}
}

func TestFallbackBorrowsLoopbackVideoTrack(t *testing.T) {
	coord := ownership.NewCoordinator(zerolog.Nop())
	mic := newFakeMic(16000)
	lbVideo := newFakeVideoTrack("lb-video")
	lbVideo.SetEnabled(false) // owner keeps the video half disabled for audio-only capture
	lb := &device.Loopback{ID: "lb-1", Audio: newFakeAudioTrack(16000), Video: lbVideo}
	sink := &recordSink{}

	audio := NewAudioSession(AudioOptions{
		Acquirer:    &fakeAcquirer{mic: mic, loopback: lb},
		Coordinator: coord,
		Sink:        sink,
		Audio:       testAudioConfig(),
		Logger:      zerolog.Nop(),
	})
	if err := audio.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer audio.Stop(context.Background())

	vs := newVideoSessionForTest(t, &fakeAcquirer{}, coord, nil, sink, audio)
	if err := vs.Start(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	if !lbVideo.Enabled() {
		t.Fatal("expected borrow to enable the loopback video track")
	}

	lbVideo.frames <- testFrame()
	waitFor(t, func() bool { return sink.videoCount() >= 1 }, "expected chunks from borrowed track")

	if err := vs.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if lbVideo.Enabled() {
		t.Fatal("expected borrower stop to restore the pre-borrow disabled state")
	}
	if got := lbVideo.stopCount(); got != 0 {
		t.Fatalf("borrower stop must not reach the hardware, got %d stops", got)
	}
}

func TestFallbackAcquiresNewDisplayStream(t *testing.T) {
	track := newFakeVideoTrack("display-track")
	sink := &recordSink{}
	// No hint, no audio session to borrow from: a brand-new display stream.
	s := newVideoSessionForTest(t, &fakeAcquirer{display: track}, nil, nil, sink, nil)

	if err := s.Start(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := track.stopCount(); got != 1 {
		t.Fatalf("expected owned display track stopped once, got %d", got)
	}
}

func TestStartFailsWithoutAnySource(t *testing.T) {
	sink := &recordSink{}
	s := newVideoSessionForTest(t, &fakeAcquirer{displayErr: device.ErrDeviceUnavailable}, nil, nil, sink, nil)

	err := s.Start(context.Background(), "")
	if !errors.Is(err, device.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if got := sink.starts(); got != 0 {
		t.Fatalf("persistence must not be prepared when acquisition fails, got %d starts", got)
	}
}

func TestExternalTrackEndFinalizesExactlyOnce(t *testing.T) {
	track := newFakeVideoTrack("display-track")
	sink := &recordSink{}
	s := newVideoSessionForTest(t, &fakeAcquirer{display: track}, nil, nil, sink, nil)

	if err := s.Start(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	// User revokes screen sharing from the OS chrome.
	track.endExternally()

	waitFor(t, func() bool { return s.State() == Idle }, "expected session to stop after external track end")
	if got := sink.stops(); got != 1 {
		t.Fatalf("expected exactly one finalization, got %d", got)
	}

	// A late explicit stop is a no-op.
	if err := s.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := sink.stops(); got != 1 {
		t.Fatalf("expected finalization to stay at one, got %d", got)
	}
}

func TestEncoderFailureIsFatalToVideoOnly(t *testing.T) {
	track := newFakeVideoTrack("display-track")
	sink := &recordSink{}
	s := newVideoSessionForTest(t, &fakeAcquirer{display: track}, nil, nil, sink, nil)

	if err := s.Start(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	// A malformed frame makes the encoder fail.
	track.frames <- device.Frame{Width: 4, Height: 4, RGBA: []byte{0}}

	waitFor(t, func() bool { return s.State() == Idle }, "expected session stopped after encoder failure")
	if got := sink.stops(); got != 1 {
		t.Fatalf("expected one finalization after encoder failure, got %d", got)
	}
}

func TestVideoChunksCarryMixedAudio(t *testing.T) {
	coord := ownership.NewCoordinator(zerolog.Nop())
	mic := newFakeMic(16000)
	sink := &recordSink{}

	audio := NewAudioSession(AudioOptions{
		Acquirer:    &fakeAcquirer{mic: mic},
		Coordinator: coord,
		Sink:        sink,
		Audio:       testAudioConfig(),
		Logger:      zerolog.Nop(),
	})
	if err := audio.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer audio.Stop(context.Background())

	track := newFakeVideoTrack("display-track")
	vs := newVideoSessionForTest(t, &fakeAcquirer{display: track}, coord, nil, sink, audio)
	if err := vs.Start(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	defer vs.Stop(context.Background())

	// Keep both streams fed until a chunk lands with its audio attached.
	waitFor(t, func() bool {
		select {
		case mic.frames <- constSamples(0.1, 64):
		default:
		}
		select {
		case track.frames <- testFrame():
		default:
		}
		return sink.videoCount() >= 1 && sink.videoAudioCount() > 0
	}, "expected video chunks to carry the mixed audio track")
}

func TestStopClosesEncoder(t *testing.T) {
	enc, err := video.NewEncoder(video.Config{Quality: 75})
	if err != nil {
		t.Fatal(err)
	}
	track := newFakeVideoTrack("display-track")
	s := NewVideoSession(VideoOptions{
		Acquirer:    &fakeAcquirer{display: track},
		Coordinator: ownership.NewCoordinator(zerolog.Nop()),
		Platform:    bridge.NopPlatform{},
		Sink:        &recordSink{},
		Encoder:     enc,
		Video:       testVideoConfig(),
		Logger:      zerolog.Nop(),
	})
	if err := s.Start(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := enc.Encode(testFrame()); !errors.Is(err, video.ErrEncoderFailed) {
		t.Fatalf("expected encoder released on stop, got %v", err)
	}
}

func TestVideoChunkSequenceIsStrictlyIncreasing(t *testing.T) {
	track := newFakeVideoTrack("display-track")
	sink := &recordSink{}
	s := newVideoSessionForTest(t, &fakeAcquirer{display: track}, nil, nil, sink, nil)

	if err := s.Start(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		track.frames <- testFrame()
		time.Sleep(15 * time.Millisecond)
	}
	waitFor(t, func() bool { return sink.videoCount() >= 3 }, "expected several chunks")

	if err := s.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	s.mu.Lock()
	seq := s.seq
	s.mu.Unlock()
	if seq < 3 {
		t.Fatalf("expected sequence to advance with chunks, got %d", seq)
	}
}
