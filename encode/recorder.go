package encode

import (
	"errors"
	"net"
	"strconv"

	"screenlink/media"
)

// ErrCodecUnavailable is returned by StreamEncoder.Start when every
// codec candidate failed to start. No session may begin without a
// working encoder.
var ErrCodecUnavailable = errors.New("no usable video codec backend")

// StreamConfig is the negotiated per-session stream description. The
// client endpoint host is always the connection's source IP; bitrate
// and resolution may be retuned mid-stream through the encoder.
type StreamConfig struct {
	ClientHost  string
	ClientPort  int
	Width       int
	Height      int
	FPS         int
	BitrateBps  int
	PixelFormat string
}

// Endpoint is the UDP address the muxed stream is sent to.
func (c StreamConfig) Endpoint() string {
	return net.JoinHostPort(c.ClientHost, strconv.Itoa(c.ClientPort))
}

// Recorder is the single codec+muxer instance both encoder lanes feed.
// Implementations need not be safe for concurrent use; the encoder
// serializes every call under one lock.
type Recorder interface {
	Start() error
	RecordVideo(frame media.Bitmap, ptsMicros int64) error
	RecordAudio(block media.AudioBlock, ptsMicros int64) error
	SetBitrate(bps int) error
	SetFrameSize(width, height int) error
	ForceKeyFrame()
	Stop() error
}

// Candidate describes one codec backend in fallback priority order.
type Candidate struct {
	Codec  string
	Preset string // low-latency preset, software encoders only
}

// Candidates returns the backend fallback order: NVIDIA and Intel
// hardware encoders first, then the software encoder with its
// low-latency preset.
func Candidates() []Candidate {
	return []Candidate{
		{Codec: "h264_nvenc"},
		{Codec: "h264_qsv"},
		{Codec: "libx264", Preset: "ultrafast"},
	}
}

// Factory constructs (but does not start) a recorder for one
// candidate. The encoder tries candidates in order, releasing each one
// that fails to start.
type Factory func(cfg StreamConfig, c Candidate) (Recorder, error)
