package session

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"screenlink/capture"
	"screenlink/encode"
	"screenlink/media"
)

// Queue capacities. Audio units are small and frequent, so that queue
// tolerates more jitter than the video one before backpressure bites.
const (
	videoQueueSlots = 60
	audioQueueSlots = 200
)

// ErrCaptureUnavailable means the screen-capture surface could not be
// acquired. Fatal to the session; an unavailable audio device is not.
var ErrCaptureUnavailable = errors.New("screen capture device unavailable")

// Collaborators are the external-device constructors a session uses.
// Tests substitute fakes for all three.
type Collaborators struct {
	// OpenGrabber acquires the screen-capture surface for the
	// negotiated frame size and cadence.
	OpenGrabber func(cfg encode.StreamConfig) (capture.Grabber, error)
	// OpenAudio opens the system loopback device, or fails when the
	// host has none; the session then runs video-only.
	OpenAudio func() (capture.Source, error)
	// NewFactory builds the codec-backend factory, told whether an
	// audio lane will feed the muxer.
	NewFactory func(withAudio bool) encode.Factory
}

// Manager owns one capture+encode pipeline: a video capture worker, a
// best-effort audio capture worker and the stream encoder, all wired
// to the same pair of bounded queues. Exactly one Manager exists per
// client connection; nobody else starts or stops its workers.
type Manager struct {
	ID  string
	cfg encode.StreamConfig

	collab Collaborators

	mu      sync.Mutex
	started bool
	stopped bool
	screen  *capture.Screen
	audio   *capture.Audio
	encoder *encode.StreamEncoder
}

func New(cfg encode.StreamConfig, collab Collaborators) *Manager {
	return &Manager{
		ID:     uuid.NewString(),
		cfg:    cfg,
		collab: collab,
	}
}

// Start acquires the devices and launches all worker goroutines.
// Either the whole pipeline comes up or nothing is left running.
// Calling Start twice is a no-op.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.stopped {
		return nil
	}

	grabber, err := m.collab.OpenGrabber(m.cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}

	source, err := m.collab.OpenAudio()
	if err != nil {
		log.Printf("session %s: no audio device, streaming video only: %v", m.ID, err)
		source = nil
	}

	videoQ := media.NewQueue[media.Bitmap](videoQueueSlots)
	var audioQ *media.Queue[media.AudioBlock]
	if source != nil {
		audioQ = media.NewQueue[media.AudioBlock](audioQueueSlots)
	}

	m.encoder = encode.NewStreamEncoder(videoQ, audioQ, m.cfg, m.collab.NewFactory(source != nil))
	if err := m.encoder.Start(); err != nil {
		grabber.Close()
		if source != nil {
			source.Close()
		}
		return err
	}

	m.screen = capture.NewScreen(videoQ, grabber, m.cfg.FPS)
	m.screen.Start()
	if source != nil {
		m.audio = capture.NewAudio(audioQ, source)
		m.audio.Start()
	}

	m.started = true
	log.Printf("session %s: streaming %dx%d@%dfps, %d bps -> %s",
		m.ID, m.cfg.Width, m.cfg.Height, m.cfg.FPS, m.cfg.BitrateBps, m.cfg.Endpoint())
	return nil
}

// Stop tears down every worker the session owns. Idempotent, and
// tolerant of workers that never started.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true

	if m.screen != nil {
		m.screen.Stop()
	}
	if m.audio != nil {
		m.audio.Stop()
	}
	if m.encoder != nil {
		m.encoder.Stop()
	}
	if m.started {
		log.Printf("session %s: stopped", m.ID)
	}
}

// Encoder exposes the live encoder so the input channel can route
// reconfiguration commands to it.
func (m *Manager) Encoder() *encode.StreamEncoder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.encoder
}

func (m *Manager) Config() encode.StreamConfig { return m.cfg }

// HasAudio reports whether the audio lane came up.
func (m *Manager) HasAudio() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audio != nil
}
