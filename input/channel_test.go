package input

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	op   string
	args []int
}

type fakeInjector struct {
	calls []recordedCall
}

func (f *fakeInjector) MoveMouse(x, y int) error {
	f.calls = append(f.calls, recordedCall{"move", []int{x, y}})
	return nil
}

func (f *fakeInjector) Click(mask int) error {
	f.calls = append(f.calls, recordedCall{"click", []int{mask}})
	return nil
}

func (f *fakeInjector) KeyDown(code int) error {
	f.calls = append(f.calls, recordedCall{"keydown", []int{code}})
	return nil
}

func (f *fakeInjector) KeyUp(code int) error {
	f.calls = append(f.calls, recordedCall{"keyup", []int{code}})
	return nil
}

type fakeReconfigurer struct {
	calls []recordedCall
}

func (f *fakeReconfigurer) SetBitrate(bps int) error {
	f.calls = append(f.calls, recordedCall{"bitrate", []int{bps}})
	return nil
}

func (f *fakeReconfigurer) SetResolution(w, h int) error {
	f.calls = append(f.calls, recordedCall{"resolution", []int{w, h}})
	return nil
}

func record(tag byte, values ...int32) []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(tag)
	for _, v := range values {
		binary.Write(buf, binary.BigEndian, v)
	}
	return buf.Bytes()
}

func TestChannel_DispatchesRecords(t *testing.T) {
	stream := &bytes.Buffer{}
	stream.Write(record(TagMouseMove, 100, 200))
	stream.Write(record(TagMouseClick, 1<<10))
	stream.Write(record(TagKeyPress, 65))
	stream.Write(record(TagKeyRelease, 65))
	stream.Write(record(TagChangeBitrate, 500_000))
	stream.Write(record(TagChangeResolution, 1280, 720))

	inj := &fakeInjector{}
	enc := &fakeReconfigurer{}
	require.NoError(t, NewChannel(stream, inj, enc).Run())

	assert.Equal(t, []recordedCall{
		{"move", []int{100, 200}},
		{"click", []int{1 << 10}},
		{"keydown", []int{65}},
		{"keyup", []int{65}},
	}, inj.calls)
	assert.Equal(t, []recordedCall{
		{"bitrate", []int{500_000}},
		{"resolution", []int{1280, 720}},
	}, enc.calls)
}

func TestChannel_ZeroButtonMaskSkipsClick(t *testing.T) {
	stream := bytes.NewBuffer(record(TagMouseClick, 0))
	inj := &fakeInjector{}
	require.NoError(t, NewChannel(stream, inj, &fakeReconfigurer{}).Run())
	assert.Empty(t, inj.calls)
}

func TestChannel_CleanEOF(t *testing.T) {
	err := NewChannel(&bytes.Buffer{}, &fakeInjector{}, &fakeReconfigurer{}).Run()
	assert.NoError(t, err)
}

func TestChannel_UnknownTagFatal(t *testing.T) {
	stream := bytes.NewBuffer([]byte{99})
	err := NewChannel(stream, &fakeInjector{}, &fakeReconfigurer{}).Run()
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestChannel_TruncatedPayloadFatal(t *testing.T) {
	// Tag says mouse move, payload is 3 of the required 8 bytes.
	stream := bytes.NewBuffer([]byte{TagMouseMove, 0, 0, 1})
	err := NewChannel(stream, &fakeInjector{}, &fakeReconfigurer{}).Run()
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestChannel_StopsAtFirstBadRecord(t *testing.T) {
	stream := &bytes.Buffer{}
	stream.Write(record(TagMouseMove, 1, 2))
	stream.WriteByte(200) // unknown tag
	stream.Write(record(TagMouseMove, 3, 4))

	inj := &fakeInjector{}
	err := NewChannel(stream, inj, &fakeReconfigurer{}).Run()
	assert.ErrorIs(t, err, ErrProtocol)
	// Only the record before the corruption was dispatched.
	assert.Len(t, inj.calls, 1)
}

func TestKeyName(t *testing.T) {
	assert.Equal(t, "A", keyName('A'))
	assert.Equal(t, "7", keyName('7'))
	assert.Equal(t, "Return", keyName(10))
	assert.Equal(t, "Return", keyName(13))
	assert.Equal(t, "space", keyName(32))
	assert.Equal(t, "Left", keyName(37))
	assert.Equal(t, "BackSpace", keyName(8))
	assert.Equal(t, "123", keyName(123))
}
