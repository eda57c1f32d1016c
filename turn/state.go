// Package turn drives one interview question at a time through speaking,
// listening, transcription and submission.
package turn

type State int

const (
	Idle State = iota
	SpeakingQuestion
	RecordingResponse
	Transcribing
	ResponseReady
	Submitting
	Completed
	Error
)

var stateNames = [...]string{
	Idle:              "idle",
	SpeakingQuestion:  "speaking_question",
	RecordingResponse: "recording_response",
	Transcribing:      "transcribing",
	ResponseReady:     "response_ready",
	Submitting:        "submitting",
	Completed:         "completed",
	Error:             "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) Terminal() bool { return s == Completed }

type EventKind int

const (
	EvQuestion EventKind = iota + 1
	EvPlaybackDone
	EvSkip
	EvStop
	EvTranscribed
	EvSubmit
	EvNextQuestion
	EvEnded
	EvAnalysis
	EvFailed
	EvAck
	EvFinish
)

var eventNames = map[EventKind]string{
	EvQuestion:     "question",
	EvPlaybackDone: "playback_done",
	EvSkip:         "skip",
	EvStop:         "stop",
	EvTranscribed:  "transcribed",
	EvSubmit:       "submit",
	EvNextQuestion: "next_question",
	EvEnded:        "ended",
	EvAnalysis:     "analysis",
	EvFailed:       "failed",
	EvAck:          "ack",
	EvFinish:       "finish",
}

func (k EventKind) String() string {
	if n, ok := eventNames[k]; ok {
		return n
	}
	return "unknown"
}

// Next is the transition table. ok is false when the event does not apply
// in state s; the caller ignores it. EvFinish only moves a question that is
// still being asked or answered back to Idle; the machine checks the
// finish-early gate before sending it.
func Next(s State, ev EventKind, m Mode) (State, bool) {
	if s == Completed {
		return s, false
	}
	if ev == EvFailed {
		if s == Error {
			return s, false
		}
		return Error, true
	}

	switch s {
	case Idle:
		switch ev {
		case EvQuestion:
			if m.Synthesis {
				return SpeakingQuestion, true
			}
			return RecordingResponse, true
		case EvAnalysis:
			return Completed, true
		}
	case SpeakingQuestion:
		switch ev {
		case EvPlaybackDone, EvSkip:
			return RecordingResponse, true
		case EvFinish:
			return Idle, true
		}
	case RecordingResponse:
		switch ev {
		case EvStop:
			return Transcribing, true
		case EvFinish:
			return Idle, true
		}
	case Transcribing:
		if ev == EvTranscribed {
			return ResponseReady, true
		}
	case ResponseReady:
		if ev == EvSubmit {
			return Submitting, true
		}
	case Submitting:
		switch ev {
		case EvNextQuestion:
			return Idle, true
		case EvEnded, EvAnalysis:
			return Completed, true
		}
	case Error:
		if ev == EvAck {
			return Idle, true
		}
	}
	return s, false
}
