package turn

import "testing"

var allEvents = []EventKind{
	EvQuestion, EvPlaybackDone, EvSkip, EvStop, EvTranscribed, EvSubmit,
	EvNextQuestion, EvEnded, EvAnalysis, EvFailed, EvAck, EvFinish,
}

var allModes = []Mode{Voice, Direct, Chat}

func TestNextHappyPath(t *testing.T) {
	tests := []struct {
		mode Mode
		path []EventKind
		want []State
	}{
		{
			Voice,
			[]EventKind{EvQuestion, EvPlaybackDone, EvStop, EvTranscribed, EvSubmit, EvNextQuestion},
			[]State{SpeakingQuestion, RecordingResponse, Transcribing, ResponseReady, Submitting, Idle},
		},
		{
			Voice,
			[]EventKind{EvQuestion, EvSkip, EvStop, EvTranscribed, EvSubmit, EvEnded},
			[]State{SpeakingQuestion, RecordingResponse, Transcribing, ResponseReady, Submitting, Completed},
		},
		{
			Direct,
			[]EventKind{EvQuestion, EvStop, EvTranscribed, EvSubmit, EvNextQuestion},
			[]State{RecordingResponse, Transcribing, ResponseReady, Submitting, Idle},
		},
		{
			Chat,
			[]EventKind{EvQuestion, EvStop, EvFailed, EvAck, EvAnalysis},
			[]State{RecordingResponse, Transcribing, Error, Idle, Completed},
		},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode.Name), func(t *testing.T) {
			s := Idle
			for i, ev := range tt.path {
				next, ok := Next(s, ev, tt.mode)
				if !ok {
					t.Fatalf("step %d: %s rejected in %s", i, ev, s)
				}
				if next != tt.want[i] {
					t.Fatalf("step %d: %s in %s -> %s, want %s", i, ev, s, next, tt.want[i])
				}
				s = next
			}
		})
	}
}

func TestNextAllowedTargets(t *testing.T) {
	allowed := map[State]map[State]bool{
		Idle:              {SpeakingQuestion: true, RecordingResponse: true, Completed: true, Error: true},
		RecordingResponse: {Transcribing: true, Error: true, Idle: true},
		SpeakingQuestion:  {RecordingResponse: true, Error: true, Idle: true},
		Transcribing:      {ResponseReady: true, Error: true},
		ResponseReady:     {Submitting: true, Error: true},
		Submitting:        {Idle: true, Completed: true, Error: true},
		Error:             {Idle: true},
		Completed:         {},
	}
	for from, targets := range allowed {
		for _, mode := range allModes {
			for _, ev := range allEvents {
				to, ok := Next(from, ev, mode)
				if !ok {
					if to != from {
						t.Errorf("%s/%s/%s: rejected event changed state to %s", from, ev, mode.Name, to)
					}
					continue
				}
				if !targets[to] {
					t.Errorf("%s --%s--> %s not allowed (mode %s)", from, ev, to, mode.Name)
				}
			}
		}
	}
}

func TestNextQuestionDependsOnSynthesis(t *testing.T) {
	if s, _ := Next(Idle, EvQuestion, Voice); s != SpeakingQuestion {
		t.Errorf("voice: %s", s)
	}
	for _, m := range []Mode{Direct, Chat} {
		if s, _ := Next(Idle, EvQuestion, m); s != RecordingResponse {
			t.Errorf("%s: %s", m.Name, s)
		}
	}
}

// Only finishing early takes an open answer anywhere but forward or to Error.
func TestRecordingLeavesOnlyForward(t *testing.T) {
	for _, mode := range allModes {
		for _, ev := range allEvents {
			to, ok := Next(RecordingResponse, ev, mode)
			if !ok || to == Transcribing || to == Error {
				continue
			}
			if ev != EvFinish || to != Idle {
				t.Errorf("%s --%s--> %s (mode %s)", RecordingResponse, ev, to, mode.Name)
			}
		}
	}
}

func TestFinishTransitions(t *testing.T) {
	for s := Idle; s <= Error; s++ {
		to, ok := Next(s, EvFinish, Voice)
		switch s {
		case SpeakingQuestion, RecordingResponse:
			if !ok || to != Idle {
				t.Errorf("finish from %s = %s, %v", s, to, ok)
			}
		default:
			if ok {
				t.Errorf("finish changed state from %s to %s", s, to)
			}
		}
	}
}

func TestModeFor(t *testing.T) {
	tests := []struct {
		name     string
		playback bool
		want     Mode
	}{
		{"voice", true, Voice},
		{"", true, Voice},
		{"direct", true, Direct},
		{"chat", false, Chat},
	}
	for _, tt := range tests {
		got, err := ModeFor(sessionMode(tt.name), tt.playback)
		if err != nil || got != tt.want {
			t.Errorf("ModeFor(%q) = %+v, %v", tt.name, got, err)
		}
	}

	m, err := ModeFor("voice", false)
	if err != nil || m.Synthesis || !m.Capture {
		t.Errorf("voice without playback = %+v", m)
	}
	if _, err := ModeFor("video", true); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestStateString(t *testing.T) {
	if ResponseReady.String() != "response_ready" || State(42).String() != "unknown" {
		t.Error("unexpected state names")
	}
}
