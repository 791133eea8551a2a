package server

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"sync"

	"screenlink/auth"
	"screenlink/config"
	"screenlink/control"
	"screenlink/input"
	"screenlink/metrics"
	"screenlink/session"
)

// Event is a lifecycle notification pushed to whoever registered a
// Notify hook (the web event feed, typically).
type Event struct {
	Type      string `json:"type"` // "session-started" | "session-stopped"
	SessionID string `json:"sessionId"`
	Peer      string `json:"peer,omitempty"`
}

// Supervisor owns the control listener. Every accepted connection runs
// the credential handshake, and a successful one gets its own capture
// and encode pipeline plus the input channel for the rest of its life.
// A bounded slot pool caps how many clients stream at once; connections
// beyond the cap wait in the accept backlog until a slot frees.
type Supervisor struct {
	cfg       config.Config
	validator auth.Validator
	injector  input.Injector
	collab    session.Collaborators

	// Notify, when set before Serve, receives lifecycle events. Called
	// from connection goroutines; implementations must be safe for that.
	Notify func(Event)

	slots chan struct{}

	mu       sync.Mutex
	ln       net.Listener
	sessions map[string]*session.Manager
	closed   bool
}

func NewSupervisor(cfg config.Config, validator auth.Validator, injector input.Injector, collab session.Collaborators) *Supervisor {
	pool := cfg.ClientPoolSize
	if pool <= 0 {
		pool = 1
	}
	return &Supervisor{
		cfg:       cfg,
		validator: validator,
		injector:  injector,
		collab:    collab,
		slots:     make(chan struct{}, pool),
		sessions:  make(map[string]*session.Manager),
	}
}

// Serve listens on the configured control port and accepts until the
// listener is closed. Blocks; run it on its own goroutine.
func (s *Supervisor) Serve() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.ListenPort))
	if err != nil {
		return fmt.Errorf("control listener: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.ln = ln
	s.mu.Unlock()

	log.Printf("server: control channel on %s, pool size %d", ln.Addr(), cap(s.slots))
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.slots <- struct{}{}
		go func() {
			defer func() { <-s.slots }()
			s.handle(conn)
		}()
	}
}

// Addr reports the listener address, or nil before Serve binds it.
func (s *Supervisor) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Supervisor) handle(conn net.Conn) {
	defer conn.Close()
	peer := conn.RemoteAddr().String()

	// One reader for the whole connection; the handshake and the input
	// channel must not each buffer ahead of the other.
	r := bufio.NewReader(conn)

	ctrl := control.NewChannel(conn, r, s.validator, s.cfg.ServerToken, s.cfg.HandshakeTimeout)
	streamCfg, err := ctrl.Run()
	if err != nil {
		metrics.HandshakeFailures.Inc()
		log.Printf("server: handshake with %s failed: %v", peer, err)
		return
	}

	sess := session.New(streamCfg, s.collab)
	if err := sess.Start(); err != nil {
		log.Printf("server: session for %s failed to start: %v", peer, err)
		return
	}
	s.register(sess)
	metrics.ActiveSessions.Inc()
	s.notify(Event{Type: "session-started", SessionID: sess.ID, Peer: peer})
	defer func() {
		sess.Stop()
		s.unregister(sess.ID)
		metrics.ActiveSessions.Dec()
		s.notify(Event{Type: "session-stopped", SessionID: sess.ID, Peer: peer})
	}()

	in := input.NewChannel(r, s.injector, sess.Encoder())
	if err := in.Run(); err != nil {
		log.Printf("server: input channel for %s: %v", peer, err)
	}
}

func (s *Supervisor) register(sess *session.Manager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

func (s *Supervisor) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Supervisor) notify(e Event) {
	if s.Notify != nil {
		s.Notify(e)
	}
}

// Sessions snapshots the live sessions.
func (s *Supervisor) Sessions() []*session.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session.Manager, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// ActiveSession returns any one live session, nil when idle. The
// browser preview attaches to whichever stream is up.
func (s *Supervisor) ActiveSession() *session.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		return sess
	}
	return nil
}

// Close stops accepting and tears down every live session. In-flight
// connection goroutines observe their session stopping and unwind.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ln := s.ln
	live := make([]*session.Manager, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, sess := range live {
		sess.Stop()
	}
}
