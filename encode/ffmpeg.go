package encode

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"time"

	"screenlink/media"
)

// FFmpegOptions selects the inputs and outputs of the ffmpeg backend.
type FFmpegOptions struct {
	// WithAudio declares the PCM input. A session that found no
	// loopback device muxes video only.
	WithAudio bool
	// TeeH264 adds a second, elementary-stream output on stdout for
	// the browser preview.
	TeeH264 bool
}

// FFmpegFactory builds recorders that run one ffmpeg process muxing
// raw BGRA video (stdin) and s16le PCM (an inherited pipe) into an FLV
// stream over UDP, tuned for minimal encoder-side latency.
func FFmpegFactory(opts FFmpegOptions) Factory {
	return func(cfg StreamConfig, c Candidate) (Recorder, error) {
		return newFFmpegRecorder(cfg, c, opts), nil
	}
}

type ffmpegRecorder struct {
	cfg  StreamConfig
	cand Candidate
	opts FFmpegOptions

	cmd     *exec.Cmd
	videoIn io.WriteCloser
	audioIn io.WriteCloser
	h264Out io.ReadCloser
	exited  chan struct{}
	waitErr error

	frameBytes int
	lastVideo  int64
	lastAudio  int64
}

func newFFmpegRecorder(cfg StreamConfig, c Candidate, opts FFmpegOptions) *ffmpegRecorder {
	return &ffmpegRecorder{
		cfg:        cfg,
		cand:       c,
		opts:       opts,
		frameBytes: cfg.Width * cfg.Height * 4,
		lastVideo:  -1,
		lastAudio:  -1,
	}
}

func (r *ffmpegRecorder) args() []string {
	cfg := r.cfg
	pixFmt := cfg.PixelFormat
	if pixFmt == "" {
		pixFmt = "yuv420p"
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo", "-pix_fmt", "bgra",
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-r", fmt.Sprint(cfg.FPS),
		"-i", "pipe:0",
	}
	if r.opts.WithAudio {
		args = append(args, "-f", "s16le", "-ar", "44100", "-ac", "2", "-i", "pipe:3")
	}

	args = append(args,
		"-c:v", r.cand.Codec,
		"-b:v", fmt.Sprint(cfg.BitrateBps),
		"-pix_fmt", pixFmt,
		"-tune", "zerolatency",
	)
	if r.cand.Preset != "" {
		args = append(args, "-preset", r.cand.Preset)
	}
	if r.opts.WithAudio {
		args = append(args, "-c:a", "aac", "-b:a", "192k")
	}

	udp := fmt.Sprintf("udp://%s?pkt_size=1316&fifo_size=1000000", r.cfg.Endpoint())
	if r.opts.TeeH264 {
		args = append(args, "-f", "tee", fmt.Sprintf("[f=flv]%s|[select='v':f=h264]pipe:1", udp))
	} else {
		args = append(args, "-f", "flv", udp)
	}
	return args
}

func (r *ffmpegRecorder) Start() error {
	cmd := exec.Command("ffmpeg", r.args()...)

	videoIn, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if r.opts.WithAudio {
		pr, pw, err := os.Pipe()
		if err != nil {
			videoIn.Close()
			return err
		}
		cmd.ExtraFiles = []*os.File{pr} // fd 3 inside the child
		r.audioIn = pw
	}
	if r.opts.TeeH264 {
		out, err := cmd.StdoutPipe()
		if err != nil {
			videoIn.Close()
			return err
		}
		r.h264Out = out
	}

	if err := cmd.Start(); err != nil {
		videoIn.Close()
		return fmt.Errorf("%s: %w", r.cand.Codec, err)
	}
	r.cmd = cmd
	r.videoIn = videoIn
	r.exited = make(chan struct{})
	go func() {
		r.waitErr = cmd.Wait()
		close(r.exited)
	}()

	// A missing hardware encoder makes ffmpeg exit almost instantly;
	// catching that here lets the fallback move to the next candidate
	// instead of failing on the first frame write.
	select {
	case <-r.exited:
		return fmt.Errorf("%s: exited during startup: %v", r.cand.Codec, r.waitErr)
	case <-time.After(300 * time.Millisecond):
	}
	return nil
}

func (r *ffmpegRecorder) RecordVideo(frame media.Bitmap, ptsMicros int64) error {
	if len(frame.Pix) != r.frameBytes {
		return fmt.Errorf("frame size %d, want %d (%dx%d bgra)", len(frame.Pix), r.frameBytes, r.cfg.Width, r.cfg.Height)
	}
	if ptsMicros < r.lastVideo {
		return fmt.Errorf("video pts went backwards: %d < %d", ptsMicros, r.lastVideo)
	}
	r.lastVideo = ptsMicros
	_, err := r.videoIn.Write(frame.Pix)
	return err
}

func (r *ffmpegRecorder) RecordAudio(block media.AudioBlock, ptsMicros int64) error {
	if r.audioIn == nil {
		return nil
	}
	if ptsMicros < r.lastAudio {
		return fmt.Errorf("audio pts went backwards: %d < %d", ptsMicros, r.lastAudio)
	}
	r.lastAudio = ptsMicros
	_, err := r.audioIn.Write(block.PCM)
	return err
}

// SetBitrate records the new target. A command-line encode cannot be
// retuned in place; the value governs the next Start.
func (r *ffmpegRecorder) SetBitrate(bps int) error {
	r.cfg.BitrateBps = bps
	return nil
}

// SetFrameSize records the new target dimensions for the next Start;
// the running encode keeps its negotiated output size, so encoded
// frame dimensions never change mid-stream.
func (r *ffmpegRecorder) SetFrameSize(width, height int) error {
	r.cfg.Width, r.cfg.Height = width, height
	return nil
}

func (r *ffmpegRecorder) ForceKeyFrame() {
	// No control channel into a running ffmpeg process; the periodic
	// GOP keyframe is the best this backend can offer.
}

func (r *ffmpegRecorder) H264Stream() io.ReadCloser { return r.h264Out }

func (r *ffmpegRecorder) Stop() error {
	if r.cmd == nil {
		return nil
	}
	// Closing the inputs lets ffmpeg flush and exit on its own.
	if r.videoIn != nil {
		r.videoIn.Close()
	}
	if r.audioIn != nil {
		r.audioIn.Close()
	}

	select {
	case <-r.exited:
	case <-time.After(3 * time.Second):
		log.Printf("encoder: %s: killing unresponsive ffmpeg", r.cand.Codec)
		r.cmd.Process.Kill()
		<-r.exited
	}
	if r.h264Out != nil {
		r.h264Out.Close()
	}
	return r.waitErr
}
