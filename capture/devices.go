package capture

import (
	"bufio"
	"bytes"
	"os/exec"
	"runtime"
	"strings"
)

// FindLoopbackDevice returns the name of an audio device suitable for
// capturing system sound output, or "" when no such device exists. On
// Windows this scans ffmpeg's DirectShow device list for a "Stereo
// Mix" style loopback; elsewhere the PulseAudio default source is
// assumed to exist.
func FindLoopbackDevice() string {
	if runtime.GOOS != "windows" {
		return "default"
	}

	// Device list arrives on stderr; -i dummy always "fails".
	cmd := exec.Command("ffmpeg", "-hide_banner", "-list_devices", "true", "-f", "dshow", "-i", "dummy")
	out, _ := cmd.CombinedOutput()
	return parseDShowLoopback(out)
}

// parseDShowLoopback scans ffmpeg -list_devices output for an audio
// entry whose quoted name looks like a system-output loopback.
func parseDShowLoopback(out []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, "(audio)") {
			continue
		}
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "stereo mix") && !strings.Contains(lower, "loopback") {
			continue
		}
		first := strings.Index(line, `"`)
		last := strings.LastIndex(line, `"`)
		if first >= 0 && last > first {
			return line[first+1 : last]
		}
	}
	return ""
}
