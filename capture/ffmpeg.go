package capture

import (
	"fmt"
	"io"
	"os/exec"
	"runtime"

	"screenlink/media"
)

// Default collaborator implementations backed by a persistent ffmpeg
// process per device. ffmpeg owns the OS-specific capture surface
// (x11grab / gdigrab, pulse / dshow) and hands us raw frames over a
// pipe; one Grab or NextBlock call reads exactly one unit.

const bgraBytesPerPixel = 4

// Audio block granularity: 1024 stereo s16 sample frames (~23 ms at
// 44.1 kHz), matching the loopback cadence the encoder expects.
const (
	audioSampleRate = 44100
	audioChannels   = 2
	audioBlockBytes = 1024 * audioChannels * 2
)

type pipeProc struct {
	cmd *exec.Cmd
	out io.ReadCloser
}

func startPipe(args []string) (*pipeProc, error) {
	cmd := exec.Command("ffmpeg", args...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &pipeProc{cmd: cmd, out: out}, nil
}

func (p *pipeProc) Close() error {
	p.out.Close()
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	return p.cmd.Wait()
}

// FFmpegGrabber reads BGRA frames of a fixed size from an ffmpeg
// screen-capture pipeline.
type FFmpegGrabber struct {
	proc   *pipeProc
	width  int
	height int
}

// OpenGrabber starts a screen-capture pipeline for the whole display,
// scaled to width x height at the given cadence. display is the X11
// display on Linux ("" means $DISPLAY / :0) and is ignored on Windows.
func OpenGrabber(display string, width, height, fps int) (*FFmpegGrabber, error) {
	var in []string
	switch runtime.GOOS {
	case "windows":
		in = []string{"-f", "gdigrab", "-framerate", fmt.Sprint(fps), "-i", "desktop"}
	default:
		if display == "" {
			display = ":0"
		}
		in = []string{"-f", "x11grab", "-framerate", fmt.Sprint(fps), "-i", display}
	}
	args := append([]string{"-hide_banner", "-loglevel", "error"}, in...)
	args = append(args,
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-pix_fmt", "bgra", "-f", "rawvideo", "pipe:1",
	)
	proc, err := startPipe(args)
	if err != nil {
		return nil, fmt.Errorf("screen grabber: %w", err)
	}
	return &FFmpegGrabber{proc: proc, width: width, height: height}, nil
}

func (g *FFmpegGrabber) Grab() (media.Bitmap, error) {
	buf := make([]byte, g.width*g.height*bgraBytesPerPixel)
	if _, err := io.ReadFull(g.proc.out, buf); err != nil {
		return media.Bitmap{}, err
	}
	return media.Bitmap{Width: g.width, Height: g.height, Pix: buf}, nil
}

func (g *FFmpegGrabber) Close() error { return g.proc.Close() }

// FFmpegSource reads s16le PCM blocks from an ffmpeg loopback capture.
type FFmpegSource struct {
	proc *pipeProc
}

// OpenSource opens the named loopback device. An empty name is an
// error; callers decide beforehand (via FindLoopbackDevice) whether
// audio is available at all.
func OpenSource(device string) (*FFmpegSource, error) {
	if device == "" {
		return nil, fmt.Errorf("audio source: no device")
	}
	var in []string
	switch runtime.GOOS {
	case "windows":
		in = []string{"-f", "dshow", "-i", "audio=" + device}
	default:
		in = []string{"-f", "pulse", "-i", device}
	}
	args := append([]string{"-hide_banner", "-loglevel", "error"}, in...)
	args = append(args,
		"-ar", fmt.Sprint(audioSampleRate), "-ac", fmt.Sprint(audioChannels),
		"-f", "s16le", "pipe:1",
	)
	proc, err := startPipe(args)
	if err != nil {
		return nil, fmt.Errorf("audio source: %w", err)
	}
	return &FFmpegSource{proc: proc}, nil
}

func (s *FFmpegSource) NextBlock() (media.AudioBlock, error) {
	buf := make([]byte, audioBlockBytes)
	if _, err := io.ReadFull(s.proc.out, buf); err != nil {
		return media.AudioBlock{}, err
	}
	return media.AudioBlock{SampleRate: audioSampleRate, Channels: audioChannels, PCM: buf}, nil
}

func (s *FFmpegSource) Close() error { return s.proc.Close() }
