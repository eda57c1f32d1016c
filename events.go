package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"intervox/session"
	"intervox/transcriber"
	"intervox/turn"
)

// Messages from the turn machine to the TUI.
type StateMsg struct{ From, To turn.State }
type QuestionMsg struct {
	Text   string
	Number int
}
type LevelMsg struct{ Level float64 }
type TranscriptMsg struct {
	Text       string
	Confidence float64
	Known      bool // provider reported a confidence
	Metrics    []string
}
type FailedMsg struct{ Err error }
type RejectedMsg struct{ Err error }
type WrapUpMsg struct{ Exchanges int }
type FinishedMsg struct{ Analysis *session.Analysis }

// DoneMsg is sent once the machine's Run returns.
type DoneMsg struct{ Err error }

// teaObserver forwards machine callbacks into a bubbletea program.
type teaObserver struct {
	send func(tea.Msg)
}

func (o teaObserver) StateChanged(from, to turn.State) { o.send(StateMsg{From: from, To: to}) }

func (o teaObserver) Question(text string, number int) {
	o.send(QuestionMsg{Text: text, Number: number})
}

func (o teaObserver) Level(energy float64) { o.send(LevelMsg{Level: energy}) }

func (o teaObserver) Transcript(text string, res *transcriber.Result) {
	msg := TranscriptMsg{Text: text}
	if res != nil {
		msg.Confidence = res.Confidence
		msg.Known = res.HasConfidence
		msg.Metrics = resultMetrics(res)
	}
	o.send(msg)
}

func (o teaObserver) Failed(err error) { o.send(FailedMsg{Err: err}) }

func (o teaObserver) Rejected(err error) { o.send(RejectedMsg{Err: err}) }

func (o teaObserver) WrapUp(n int) { o.send(WrapUpMsg{Exchanges: n}) }

func (o teaObserver) Finished(a *session.Analysis) { o.send(FinishedMsg{Analysis: a}) }

func resultMetrics(res *transcriber.Result) []string {
	var lines []string
	if res.Duration > 0 {
		lines = append(lines, fmt.Sprintf("audio %.1fs", res.Duration))
	}
	if m := res.Metrics; m != nil {
		lines = append(lines, fmt.Sprintf("total %dms  ttfb %dms", m.Total.Milliseconds(), m.TTFB.Milliseconds()))
		if m.ConnReused {
			lines = append(lines, "conn reused")
		}
	}
	if res.RateLimit != "" {
		lines = append(lines, "rate limit: "+res.RateLimit)
	}
	return lines
}
