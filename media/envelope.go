package media

import "time"

// Bitmap is one raw captured screen frame, packed BGRA rows.
type Bitmap struct {
	Width  int
	Height int
	Pix    []byte
}

// AudioBlock is one block of interleaved PCM samples (s16le).
type AudioBlock struct {
	SampleRate int
	Channels   int
	PCM        []byte
}

// Envelope pairs a captured unit with its monotonic capture timestamp.
// It is created at the instant of capture and consumed exactly once by
// the encoder lane matching its payload kind.
type Envelope[T any] struct {
	Payload    T
	CapturedAt int64 // monotonic clock, nanoseconds
}

var epoch = time.Now()

// Now returns the monotonic capture clock in nanoseconds. Both capture
// sources stamp envelopes with this clock so the encoder can interleave
// the two lanes by true capture-time offsets.
func Now() int64 {
	return int64(time.Since(epoch))
}
