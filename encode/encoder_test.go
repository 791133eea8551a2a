package encode

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screenlink/media"
)

type recordedFrame struct {
	pts  int64
	lane string
}

type fakeRecorder struct {
	codec    string
	startErr error

	mu        sync.Mutex
	started   bool
	stopped   bool
	bitrate   int
	width     int
	height    int
	keyframes int
	frames    []recordedFrame
}

func (f *fakeRecorder) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *fakeRecorder) RecordVideo(_ media.Bitmap, pts int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, recordedFrame{pts: pts, lane: "video"})
	return nil
}

func (f *fakeRecorder) RecordAudio(_ media.AudioBlock, pts int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, recordedFrame{pts: pts, lane: "audio"})
	return nil
}

func (f *fakeRecorder) SetBitrate(bps int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bitrate = bps
	return nil
}

func (f *fakeRecorder) SetFrameSize(w, h int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.width, f.height = w, h
	return nil
}

func (f *fakeRecorder) ForceKeyFrame() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keyframes++
}

func (f *fakeRecorder) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeRecorder) recorded() []recordedFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedFrame, len(f.frames))
	copy(out, f.frames)
	return out
}

func testConfig() StreamConfig {
	return StreamConfig{
		ClientHost: "192.0.2.10",
		ClientPort: 9000,
		Width:      640,
		Height:     480,
		FPS:        30,
		BitrateBps: 2_000_000,
	}
}

// failFirstFactory fails every candidate before the named one, like a
// host without the hardware encoders.
func failFirstFactory(available string, recorders map[string]*fakeRecorder) Factory {
	return func(cfg StreamConfig, c Candidate) (Recorder, error) {
		rec := &fakeRecorder{codec: c.Codec}
		if c.Codec != available {
			rec.startErr = errors.New("encoder not present")
		}
		recorders[c.Codec] = rec
		return rec, nil
	}
}

func TestStreamEncoder_FallbackOrder(t *testing.T) {
	recorders := map[string]*fakeRecorder{}
	videoQ := media.NewQueue[media.Bitmap](4)
	enc := NewStreamEncoder(videoQ, nil, testConfig(), failFirstFactory("libx264", recorders))

	require.NoError(t, enc.Start())
	defer enc.Stop()

	assert.Equal(t, "libx264", enc.Backend())
	// The failed candidates were released.
	assert.True(t, recorders["h264_nvenc"].stopped)
	assert.True(t, recorders["h264_qsv"].stopped)
	assert.True(t, recorders["libx264"].started)
}

func TestStreamEncoder_AllCandidatesFail(t *testing.T) {
	factory := func(cfg StreamConfig, c Candidate) (Recorder, error) {
		return &fakeRecorder{startErr: errors.New("no encoder")}, nil
	}
	videoQ := media.NewQueue[media.Bitmap](4)
	enc := NewStreamEncoder(videoQ, nil, testConfig(), factory)

	err := enc.Start()
	assert.ErrorIs(t, err, ErrCodecUnavailable)
}

func TestStreamEncoder_TimestampsBecomeMicros(t *testing.T) {
	recorders := map[string]*fakeRecorder{}
	videoQ := media.NewQueue[media.Bitmap](4)
	audioQ := media.NewQueue[media.AudioBlock](4)
	enc := NewStreamEncoder(videoQ, audioQ, testConfig(), failFirstFactory("h264_nvenc", recorders))
	require.NoError(t, enc.Start())
	defer enc.Stop()

	push := func(nanos int64) {
		videoQ.Push(context.Background(), media.Envelope[media.Bitmap]{
			Payload:    media.Bitmap{Width: 640, Height: 480},
			CapturedAt: nanos,
		})
	}
	push(33_000_000)
	push(66_000_000)
	audioQ.Push(context.Background(), media.Envelope[media.AudioBlock]{
		Payload:    media.AudioBlock{SampleRate: 44100, Channels: 2},
		CapturedAt: 10_000_000,
	})

	rec := recorders["h264_nvenc"]
	require.Eventually(t, func() bool {
		return len(rec.recorded()) == 3
	}, time.Second, 5*time.Millisecond)

	var video, audio []int64
	for _, fr := range rec.recorded() {
		if fr.lane == "video" {
			video = append(video, fr.pts)
		} else {
			audio = append(audio, fr.pts)
		}
	}
	assert.Equal(t, []int64{33_000, 66_000}, video)
	assert.Equal(t, []int64{10_000}, audio)
}

func TestStreamEncoder_SetBitrate(t *testing.T) {
	recorders := map[string]*fakeRecorder{}
	videoQ := media.NewQueue[media.Bitmap](4)
	enc := NewStreamEncoder(videoQ, nil, testConfig(), failFirstFactory("h264_nvenc", recorders))
	require.NoError(t, enc.Start())
	defer enc.Stop()

	require.NoError(t, enc.SetBitrate(500_000))
	assert.Equal(t, 500_000, enc.Bitrate())
	assert.Equal(t, 500_000, recorders["h264_nvenc"].bitrate)

	assert.Error(t, enc.SetBitrate(0))
	assert.Equal(t, 500_000, enc.Bitrate(), "rejected value must not stick")
}

func TestStreamEncoder_SetResolution(t *testing.T) {
	recorders := map[string]*fakeRecorder{}
	videoQ := media.NewQueue[media.Bitmap](4)
	enc := NewStreamEncoder(videoQ, nil, testConfig(), failFirstFactory("h264_nvenc", recorders))
	require.NoError(t, enc.Start())
	defer enc.Stop()

	require.NoError(t, enc.SetResolution(1280, 720))
	w, h := enc.Resolution()
	assert.Equal(t, 1280, w)
	assert.Equal(t, 720, h)
	assert.Equal(t, 1280, recorders["h264_nvenc"].width)

	assert.Error(t, enc.SetResolution(-1, 720))
}

func TestStreamEncoder_RequestKeyFrame(t *testing.T) {
	recorders := map[string]*fakeRecorder{}
	videoQ := media.NewQueue[media.Bitmap](4)
	enc := NewStreamEncoder(videoQ, nil, testConfig(), failFirstFactory("h264_nvenc", recorders))
	require.NoError(t, enc.Start())
	defer enc.Stop()

	enc.RequestKeyFrame()
	enc.RequestKeyFrame()
	assert.Equal(t, 2, recorders["h264_nvenc"].keyframes)
}

func TestStreamEncoder_StopIdempotent(t *testing.T) {
	recorders := map[string]*fakeRecorder{}
	videoQ := media.NewQueue[media.Bitmap](4)
	enc := NewStreamEncoder(videoQ, nil, testConfig(), failFirstFactory("h264_nvenc", recorders))
	require.NoError(t, enc.Start())

	enc.Stop()
	enc.Stop()
	assert.True(t, recorders["h264_nvenc"].stopped)
}

func TestStreamConfig_Endpoint(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, "192.0.2.10:9000", cfg.Endpoint())
}
