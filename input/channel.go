package input

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
)

// Wire tags. Each record is the tag byte followed by big-endian
// 4-byte integers specific to the tag.
const (
	TagMouseMove        byte = 1 // x:i32, y:i32
	TagMouseClick       byte = 2 // buttonMask:i32
	TagKeyPress         byte = 3 // keyCode:i32
	TagKeyRelease       byte = 4 // keyCode:i32
	TagChangeBitrate    byte = 5 // bps:i32
	TagChangeResolution byte = 6 // width:i32, height:i32
)

// ErrProtocol marks a record that could not be decoded. A single bad
// record desynchronizes every later tag boundary, so it is fatal to
// the connection rather than skippable.
var ErrProtocol = errors.New("input protocol error")

// Injector is the OS input-injection collaborator.
type Injector interface {
	MoveMouse(x, y int) error
	Click(buttonMask int) error
	KeyDown(code int) error
	KeyUp(code int) error
}

// Reconfigurer is the slice of the live encoder the input channel
// drives for mid-stream retuning.
type Reconfigurer interface {
	SetBitrate(bps int) error
	SetResolution(width, height int) error
}

// Channel decodes the binary command stream that follows a completed
// handshake and dispatches each record synchronously: input events to
// the OS injector, reconfiguration to the encoder.
type Channel struct {
	r        io.Reader
	injector Injector
	encoder  Reconfigurer
}

func NewChannel(r io.Reader, injector Injector, encoder Reconfigurer) *Channel {
	return &Channel{r: r, injector: injector, encoder: encoder}
}

// Run reads records until the peer closes the connection (nil), a
// read fails (the error), or a record fails to decode (ErrProtocol).
// Either way the caller tears the session down.
func (c *Channel) Run() error {
	for {
		var tag [1]byte
		if _, err := io.ReadFull(c.r, tag[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading command tag: %w", err)
		}
		if err := c.dispatch(tag[0]); err != nil {
			return err
		}
	}
}

func (c *Channel) dispatch(tag byte) error {
	switch tag {
	case TagMouseMove:
		x, y, err := c.readPair()
		if err != nil {
			return err
		}
		if err := c.injector.MoveMouse(int(x), int(y)); err != nil {
			log.Printf("input: mouse move: %v", err)
		}
	case TagMouseClick:
		mask, err := c.readOne()
		if err != nil {
			return err
		}
		if mask == 0 {
			return nil
		}
		if err := c.injector.Click(int(mask)); err != nil {
			log.Printf("input: click: %v", err)
		}
	case TagKeyPress:
		code, err := c.readOne()
		if err != nil {
			return err
		}
		if err := c.injector.KeyDown(int(code)); err != nil {
			log.Printf("input: key press: %v", err)
		}
	case TagKeyRelease:
		code, err := c.readOne()
		if err != nil {
			return err
		}
		if err := c.injector.KeyUp(int(code)); err != nil {
			log.Printf("input: key release: %v", err)
		}
	case TagChangeBitrate:
		bps, err := c.readOne()
		if err != nil {
			return err
		}
		if err := c.encoder.SetBitrate(int(bps)); err != nil {
			log.Printf("input: change bitrate: %v", err)
		}
	case TagChangeResolution:
		w, h, err := c.readPair()
		if err != nil {
			return err
		}
		if err := c.encoder.SetResolution(int(w), int(h)); err != nil {
			log.Printf("input: change resolution: %v", err)
		}
	default:
		return fmt.Errorf("%w: unknown tag %d", ErrProtocol, tag)
	}
	return nil
}

func (c *Channel) readOne() (int32, error) {
	var v int32
	if err := binary.Read(c.r, binary.BigEndian, &v); err != nil {
		return 0, fmt.Errorf("%w: short payload: %v", ErrProtocol, err)
	}
	return v, nil
}

func (c *Channel) readPair() (int32, int32, error) {
	var v [2]int32
	if err := binary.Read(c.r, binary.BigEndian, &v); err != nil {
		return 0, 0, fmt.Errorf("%w: short payload: %v", ErrProtocol, err)
	}
	return v[0], v[1], nil
}
