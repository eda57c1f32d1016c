package turn

import (
	"fmt"

	"intervox/session"
)

// Mode is the set of capabilities an interview mode uses. One machine runs
// every mode; the flags decide which effects fire.
type Mode struct {
	Name      session.Mode
	Synthesis bool
	Capture   bool
	VAD       bool
}

var (
	Voice  = Mode{Name: session.ModeVoice, Synthesis: true, Capture: true, VAD: true}
	Direct = Mode{Name: session.ModeDirect, Capture: true, VAD: true}
	Chat   = Mode{Name: session.ModeChat}
)

// ModeFor maps a session mode to its capabilities. With playback off, voice
// behaves like direct: the question is shown, not spoken.
func ModeFor(name session.Mode, playback bool) (Mode, error) {
	switch name {
	case session.ModeVoice, "":
		if !playback {
			m := Direct
			m.Name = session.ModeVoice
			return m, nil
		}
		return Voice, nil
	case session.ModeDirect:
		return Direct, nil
	case session.ModeChat:
		return Chat, nil
	}
	return Mode{}, fmt.Errorf("unknown interview mode %q", name)
}

// Typed reports whether answers are typed rather than spoken.
func (m Mode) Typed() bool { return !m.Capture }
