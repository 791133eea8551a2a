package input

import (
	"fmt"
	"os/exec"
	"strconv"
)

// Button bits as the remote viewer sends them (AWT extended button
// masks), mapped to X11 pointer buttons.
var buttonMap = []struct {
	mask   int
	button int
}{
	{1 << 10, 1}, // primary
	{1 << 11, 2}, // middle
	{1 << 12, 3}, // secondary
}

// XDoInjector injects input into the host desktop by driving xdotool,
// one invocation per event.
type XDoInjector struct {
	display string
}

func NewXDoInjector(display string) *XDoInjector {
	return &XDoInjector{display: display}
}

func (x *XDoInjector) run(args ...string) error {
	cmd := exec.Command("xdotool", args...)
	if x.display != "" {
		cmd.Env = append(cmd.Environ(), "DISPLAY="+x.display)
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("xdotool %s: %v (%s)", args[0], err, out)
	}
	return nil
}

func (x *XDoInjector) MoveMouse(px, py int) error {
	return x.run("mousemove", strconv.Itoa(px), strconv.Itoa(py))
}

// Click presses and releases every button named in the mask.
func (x *XDoInjector) Click(buttonMask int) error {
	for _, b := range buttonMap {
		if buttonMask&b.mask == 0 {
			continue
		}
		if err := x.run("click", strconv.Itoa(b.button)); err != nil {
			return err
		}
	}
	return nil
}

func (x *XDoInjector) KeyDown(code int) error {
	return x.run("keydown", keyName(code))
}

func (x *XDoInjector) KeyUp(code int) error {
	return x.run("keyup", keyName(code))
}

// keyName maps the viewer's key codes to X keysym names. Letters and
// digits arrive as their ASCII values; the table covers the control
// keys remote sessions actually use.
func keyName(code int) string {
	if code >= '0' && code <= '9' || code >= 'A' && code <= 'Z' {
		return string(rune(code))
	}
	switch code {
	case 8:
		return "BackSpace"
	case 9:
		return "Tab"
	case 10, 13:
		return "Return"
	case 16:
		return "Shift"
	case 17:
		return "Control"
	case 18:
		return "Alt"
	case 27:
		return "Escape"
	case 32:
		return "space"
	case 37:
		return "Left"
	case 38:
		return "Up"
	case 39:
		return "Right"
	case 40:
		return "Down"
	case 46:
		return "Delete"
	default:
		return strconv.Itoa(code)
	}
}
