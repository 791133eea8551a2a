package encode

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"screenlink/media"
	"screenlink/metrics"
)

const stopWait = 5 * time.Second

// StreamEncoder drains the video and audio queues on two independent
// lanes and feeds one muxing Recorder addressed to the client
// endpoint. All recorder access — both lanes' record calls and the
// live reconfiguration entry points — serializes through recMu, held
// only for the duration of one call, never across a queue wait.
type StreamEncoder struct {
	videoQ  *media.Queue[media.Bitmap]
	audioQ  *media.Queue[media.AudioBlock]
	factory Factory
	cfg     StreamConfig

	recMu   sync.Mutex
	rec     Recorder
	bitrate int
	width   int
	height  int
	backend string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewStreamEncoder(videoQ *media.Queue[media.Bitmap], audioQ *media.Queue[media.AudioBlock], cfg StreamConfig, factory Factory) *StreamEncoder {
	return &StreamEncoder{
		videoQ:  videoQ,
		audioQ:  audioQ,
		factory: factory,
		cfg:     cfg,
		bitrate: cfg.BitrateBps,
		width:   cfg.Width,
		height:  cfg.Height,
	}
}

// Start selects a codec backend and launches both lanes. Candidates
// are tried strictly in priority order; a candidate that fails to
// start is stopped and the next one is constructed. If none starts,
// ErrCodecUnavailable is returned and nothing is left running.
func (e *StreamEncoder) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	var lastErr error
	for _, cand := range Candidates() {
		rec, err := e.factory(e.cfg, cand)
		if err != nil {
			lastErr = err
			log.Printf("encoder: %s: construct failed: %v", cand.Codec, err)
			continue
		}
		if err := rec.Start(); err != nil {
			lastErr = err
			log.Printf("encoder: %s: start failed, trying next: %v", cand.Codec, err)
			rec.Stop()
			continue
		}
		e.recMu.Lock()
		e.rec = rec
		e.backend = cand.Codec
		e.recMu.Unlock()
		log.Printf("encoder: using %s -> %s", cand.Codec, e.cfg.Endpoint())
		break
	}
	if e.rec == nil {
		return fmt.Errorf("%w: %v", ErrCodecUnavailable, lastErr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.running = true
	e.wg.Add(1)
	go e.videoLane(ctx)
	if e.audioQ != nil {
		e.wg.Add(1)
		go e.audioLane(ctx)
	}
	return nil
}

func (e *StreamEncoder) videoLane(ctx context.Context) {
	defer e.wg.Done()
	for {
		env, err := e.videoQ.Pop(ctx)
		if err != nil {
			return
		}
		metrics.QueueDepth.WithLabelValues("video").Set(float64(e.videoQ.Len()))
		e.recMu.Lock()
		err = e.rec.RecordVideo(env.Payload, env.CapturedAt/1000)
		e.recMu.Unlock()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("encoder: video record: %v", err)
			}
			continue
		}
		metrics.FramesRecorded.WithLabelValues("video").Inc()
	}
}

func (e *StreamEncoder) audioLane(ctx context.Context) {
	defer e.wg.Done()
	for {
		env, err := e.audioQ.Pop(ctx)
		if err != nil {
			return
		}
		metrics.QueueDepth.WithLabelValues("audio").Set(float64(e.audioQ.Len()))
		e.recMu.Lock()
		err = e.rec.RecordAudio(env.Payload, env.CapturedAt/1000)
		e.recMu.Unlock()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("encoder: audio record: %v", err)
			}
			continue
		}
		metrics.FramesRecorded.WithLabelValues("audio").Inc()
	}
}

// SetBitrate retunes the active bitrate. Safe to call from the input
// goroutine while both lanes run; the new value is visible to the
// next recorded frame.
func (e *StreamEncoder) SetBitrate(bps int) error {
	if bps <= 0 {
		return fmt.Errorf("encoder: bitrate must be positive, got %d", bps)
	}
	e.recMu.Lock()
	defer e.recMu.Unlock()
	e.bitrate = bps
	if e.rec == nil {
		return nil
	}
	if err := e.rec.SetBitrate(bps); err != nil {
		return err
	}
	log.Printf("encoder: bitrate -> %d bps", bps)
	return nil
}

// SetResolution updates the target dimensions. The recorder is
// informed but not reinitialized; backends keep their negotiated
// output size and apply the new one on any later restart.
func (e *StreamEncoder) SetResolution(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("encoder: invalid resolution %dx%d", width, height)
	}
	e.recMu.Lock()
	defer e.recMu.Unlock()
	e.width, e.height = width, height
	if e.rec == nil {
		return nil
	}
	if err := e.rec.SetFrameSize(width, height); err != nil {
		return err
	}
	log.Printf("encoder: resolution -> %dx%d", width, height)
	return nil
}

// RequestKeyFrame asks the backend for an IDR as soon as it can
// produce one. Best effort.
func (e *StreamEncoder) RequestKeyFrame() {
	e.recMu.Lock()
	defer e.recMu.Unlock()
	if e.rec != nil {
		e.rec.ForceKeyFrame()
	}
}

func (e *StreamEncoder) Bitrate() int {
	e.recMu.Lock()
	defer e.recMu.Unlock()
	return e.bitrate
}

func (e *StreamEncoder) Resolution() (int, int) {
	e.recMu.Lock()
	defer e.recMu.Unlock()
	return e.width, e.height
}

// Backend reports the codec candidate that won the fallback.
func (e *StreamEncoder) Backend() string {
	e.recMu.Lock()
	defer e.recMu.Unlock()
	return e.backend
}

// ElementaryStream exposes the backend's tee'd H.264 elementary
// stream when it produces one (used by the browser preview), nil
// otherwise.
func (e *StreamEncoder) ElementaryStream() io.ReadCloser {
	e.recMu.Lock()
	defer e.recMu.Unlock()
	if t, ok := e.rec.(interface{ H264Stream() io.ReadCloser }); ok {
		return t.H264Stream()
	}
	return nil
}

// Stop cancels both lanes, waits a bounded time for them to drain out
// of their current call, then stops the recorder. Errors during stop
// are logged, never propagated; Stop is idempotent.
func (e *StreamEncoder) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopWait):
		log.Printf("encoder: lanes did not stop within %v", stopWait)
	}

	e.recMu.Lock()
	if e.rec != nil {
		if err := e.rec.Stop(); err != nil {
			log.Printf("encoder: recorder stop: %v", err)
		}
	}
	e.recMu.Unlock()
}
