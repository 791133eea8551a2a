package control

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"screenlink/auth"
	"screenlink/encode"
)

// DefaultTimeout bounds each handshake read so a stalled or hostile
// peer cannot hold a worker slot indefinitely. Once the channel is
// Active the connection's lifetime is governed by the input channel
// and the deadline is removed.
const DefaultTimeout = 15 * time.Second

var (
	// ErrAuthRejected: bad or mismatched credential. The connection
	// terminates with no session created.
	ErrAuthRejected = errors.New("credential rejected")
	// ErrConfigMalformed: unparseable or invalid stream settings.
	ErrConfigMalformed = errors.New("malformed stream config")
)

// State is the handshake position of one connection.
type State int

const (
	AwaitingCredential State = iota
	AwaitingConfig
	Active
	Rejected
)

func (s State) String() string {
	switch s {
	case AwaitingCredential:
		return "awaiting-credential"
	case AwaitingConfig:
		return "awaiting-config"
	case Active:
		return "active"
	default:
		return "rejected"
	}
}

type credentialMsg struct {
	JWT *string `json:"jwt"`
}

type configMsg struct {
	FPS     int `json:"fps"`
	Bitrate int `json:"bitrate"`
	Width   int `json:"width"`
	Height  int `json:"height"`
	Port    int `json:"port"`
}

// Channel runs the two-step control handshake on one connection:
// credential first, then stream settings. The reader is shared with
// the input channel that takes over the socket afterwards.
type Channel struct {
	conn        net.Conn
	r           *bufio.Reader
	validator   auth.Validator
	serverToken string
	timeout     time.Duration

	state State
}

func NewChannel(conn net.Conn, r *bufio.Reader, validator auth.Validator, serverToken string, timeout time.Duration) *Channel {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Channel{
		conn:        conn,
		r:           r,
		validator:   validator,
		serverToken: serverToken,
		timeout:     timeout,
		state:       AwaitingCredential,
	}
}

func (c *Channel) State() State { return c.state }

// Run drives the state machine to Active and returns the negotiated
// stream config, or leaves it Rejected and returns why. The failure
// is reported to the peer where the protocol step allows it.
func (c *Channel) Run() (encode.StreamConfig, error) {
	if err := c.authenticate(); err != nil {
		c.state = Rejected
		return encode.StreamConfig{}, err
	}
	c.state = AwaitingConfig

	cfg, err := c.readConfig()
	if err != nil {
		c.state = Rejected
		return encode.StreamConfig{}, err
	}

	// Remaining lifetime belongs to the input channel; no deadline.
	c.conn.SetReadDeadline(time.Time{})
	c.state = Active
	return cfg, nil
}

func (c *Channel) authenticate() error {
	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	line, err := c.r.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading credential: %w", err)
	}

	var msg credentialMsg
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		c.reply("FAIL: Invalid handshake format.\n")
		return fmt.Errorf("%w: %v", ErrAuthRejected, err)
	}
	if msg.JWT == nil {
		c.reply("FAIL: JWT token not found in handshake.\n")
		return fmt.Errorf("%w: no jwt field", ErrAuthRejected)
	}

	if !c.validator.Validate(*msg.JWT) {
		c.reply("FAIL\n")
		return fmt.Errorf("%w: invalid token", ErrAuthRejected)
	}

	// The credential must belong to the same account that authorized
	// this host, not merely be a valid token from the issuer.
	serverSubject, err := c.validator.Subject(c.serverToken)
	if err != nil {
		c.reply("FAIL\n")
		return fmt.Errorf("server token unusable: %w", err)
	}
	clientSubject, err := c.validator.Subject(*msg.JWT)
	if err != nil || clientSubject != serverSubject {
		c.reply("FAIL: User mismatch.\n")
		return fmt.Errorf("%w: subject %q does not match host account", ErrAuthRejected, clientSubject)
	}

	c.reply("OK\n")
	log.Printf("control: authenticated %s from %s", clientSubject, c.conn.RemoteAddr())
	return nil
}

func (c *Channel) readConfig() (encode.StreamConfig, error) {
	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	line, err := c.r.ReadString('\n')
	if err != nil {
		return encode.StreamConfig{}, fmt.Errorf("reading config: %w", err)
	}

	var msg configMsg
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return encode.StreamConfig{}, fmt.Errorf("%w: %v", ErrConfigMalformed, err)
	}
	if msg.FPS <= 0 || msg.Bitrate <= 0 || msg.Width <= 0 || msg.Height <= 0 ||
		msg.Port <= 0 || msg.Port > 65535 {
		return encode.StreamConfig{}, fmt.Errorf("%w: fps=%d bitrate=%d size=%dx%d port=%d",
			ErrConfigMalformed, msg.FPS, msg.Bitrate, msg.Width, msg.Height, msg.Port)
	}

	return encode.StreamConfig{
		ClientHost:  peerHost(c.conn),
		ClientPort:  msg.Port,
		Width:       msg.Width,
		Height:      msg.Height,
		FPS:         msg.FPS,
		BitrateBps:  msg.Bitrate,
		PixelFormat: "yuv420p",
	}, nil
}

func (c *Channel) reply(line string) {
	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.Write([]byte(line)); err != nil {
		log.Printf("control: writing %q to %s: %v", line[:len(line)-1], c.conn.RemoteAddr(), err)
	}
	c.conn.SetWriteDeadline(time.Time{})
}

// peerHost extracts the connection's source IP; the media stream is
// always addressed back to it.
func peerHost(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
