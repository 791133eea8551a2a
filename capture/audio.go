package capture

import (
	"context"
	"log"
	"sync"

	"screenlink/media"
	"screenlink/metrics"
)

// Source is the external audio-loopback device. NextBlock blocks at
// the OS's native cadence until a block of samples is available.
type Source interface {
	NextBlock() (media.AudioBlock, error)
	Close() error
}

// Audio continuously pulls blocks from a loopback source and pushes
// them onto the audio queue. Unlike Screen it has no timer of its own;
// the blocking NextBlock call paces the loop.
type Audio struct {
	queue  *media.Queue[media.AudioBlock]
	source Source

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewAudio(queue *media.Queue[media.AudioBlock], source Source) *Audio {
	return &Audio{queue: queue, source: source}
}

func (a *Audio) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return
	}
	a.running = true
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.run(ctx)
}

// Stop closes the source so a blocked NextBlock returns, then waits
// for the loop to exit. Idempotent.
func (a *Audio) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	cancel, done := a.cancel, a.done
	a.mu.Unlock()

	cancel()
	a.source.Close()
	<-done
}

func (a *Audio) run(ctx context.Context) {
	defer close(a.done)

	for {
		block, err := a.source.NextBlock()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("audio capture: source ended: %v", err)
			}
			return
		}
		env := media.Envelope[media.AudioBlock]{Payload: block, CapturedAt: media.Now()}
		if err := a.queue.Push(ctx, env); err != nil {
			return
		}
		metrics.FramesCaptured.WithLabelValues("audio").Inc()
	}
}
