package capture

import (
	"context"
	"log"
	"sync"
	"time"

	"screenlink/media"
	"screenlink/metrics"
)

// Grabber is the external screen-capture device. Grab is synchronous
// and may fail transiently; a failed grab is retried on the next tick.
type Grabber interface {
	Grab() (media.Bitmap, error)
	Close() error
}

// Screen grabs one frame every 1000/fps ms and pushes it, blocking,
// onto the video queue. Scheduling is drift-free: target times advance
// by a fixed increment instead of being re-measured each loop, so a
// slow iteration does not shift the phase of every later frame.
type Screen struct {
	queue    *media.Queue[media.Bitmap]
	grabber  Grabber
	interval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewScreen(queue *media.Queue[media.Bitmap], grabber Grabber, fps int) *Screen {
	if fps <= 0 {
		fps = 30
	}
	return &Screen{
		queue:    queue,
		grabber:  grabber,
		interval: time.Second / time.Duration(fps),
	}
}

func (s *Screen) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop cancels the capture loop and closes the grabber so a Grab
// blocked inside the device returns promptly. Safe to call multiple
// times and before Start.
func (s *Screen) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	s.grabber.Close()
	<-done
}

func (s *Screen) run(ctx context.Context) {
	defer close(s.done)

	next := time.Now()
	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := s.grabber.Grab()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("screen capture: grab failed, retrying next tick: %v", err)
		} else {
			env := media.Envelope[media.Bitmap]{Payload: frame, CapturedAt: media.Now()}
			if err := s.queue.Push(ctx, env); err != nil {
				return
			}
			metrics.FramesCaptured.WithLabelValues("video").Inc()
		}

		next = next.Add(s.interval)
		wait := time.Until(next)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}
}
