package encode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screenlink/media"
)

func TestFFmpegArgs_VideoOnly(t *testing.T) {
	r := newFFmpegRecorder(testConfig(), Candidate{Codec: "h264_nvenc"}, FFmpegOptions{})
	args := strings.Join(r.args(), " ")

	assert.Contains(t, args, "-f rawvideo -pix_fmt bgra -s 640x480 -r 30 -i pipe:0")
	assert.Contains(t, args, "-c:v h264_nvenc -b:v 2000000")
	assert.Contains(t, args, "-tune zerolatency")
	assert.Contains(t, args, "-f flv udp://192.0.2.10:9000?pkt_size=1316&fifo_size=1000000")
	assert.NotContains(t, args, "s16le")
	assert.NotContains(t, args, "-preset")
}

func TestFFmpegArgs_WithAudio(t *testing.T) {
	r := newFFmpegRecorder(testConfig(), Candidate{Codec: "libx264", Preset: "ultrafast"}, FFmpegOptions{WithAudio: true})
	args := strings.Join(r.args(), " ")

	assert.Contains(t, args, "-f s16le -ar 44100 -ac 2 -i pipe:3")
	assert.Contains(t, args, "-c:a aac -b:a 192k")
	assert.Contains(t, args, "-preset ultrafast")
}

func TestFFmpegArgs_TeeAddsElementaryStream(t *testing.T) {
	r := newFFmpegRecorder(testConfig(), Candidate{Codec: "libx264", Preset: "ultrafast"}, FFmpegOptions{TeeH264: true})
	args := strings.Join(r.args(), " ")

	assert.Contains(t, args, "-f tee")
	assert.Contains(t, args, "[f=flv]udp://192.0.2.10:9000?pkt_size=1316&fifo_size=1000000|[select='v':f=h264]pipe:1")
}

func TestFFmpegRecorder_RejectsWrongFrameSize(t *testing.T) {
	r := newFFmpegRecorder(testConfig(), Candidate{Codec: "libx264"}, FFmpegOptions{})
	err := r.RecordVideo(media.Bitmap{Width: 10, Height: 10, Pix: make([]byte, 400)}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frame size")
}

func TestFFmpegRecorder_RejectsBackwardsPTS(t *testing.T) {
	r := newFFmpegRecorder(testConfig(), Candidate{Codec: "libx264"}, FFmpegOptions{})
	// Bypass the write by never starting; a backwards PTS fails before
	// any pipe I/O.
	r.lastVideo = 1000
	err := r.RecordVideo(media.Bitmap{Pix: make([]byte, 640*480*4)}, 999)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "went backwards")
}

func TestFFmpegRecorder_StopBeforeStart(t *testing.T) {
	r := newFFmpegRecorder(testConfig(), Candidate{Codec: "libx264"}, FFmpegOptions{})
	assert.NoError(t, r.Stop())
}

func TestFFmpegCandidates_Order(t *testing.T) {
	cands := Candidates()
	require.Len(t, cands, 3)
	assert.Equal(t, "h264_nvenc", cands[0].Codec)
	assert.Equal(t, "h264_qsv", cands[1].Codec)
	assert.Equal(t, "libx264", cands[2].Codec)
	assert.Equal(t, "ultrafast", cands[2].Preset)
	assert.Empty(t, cands[0].Preset)
}
