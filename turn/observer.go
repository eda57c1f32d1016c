package turn

import (
	"intervox/session"
	"intervox/transcriber"
)

// Observer hears about everything the user should see. Level is called from
// the sampling goroutine, the rest from the machine's loop; implementations
// must not block.
type Observer interface {
	StateChanged(from, to State)
	Question(text string, number int)
	Level(energy float64)
	Transcript(text string, res *transcriber.Result)
	// Failed reports the error that moved the machine to Error.
	Failed(err error)
	// Rejected reports input that was refused without a state change.
	Rejected(err error)
	WrapUp(exchanges int)
	Finished(analysis *session.Analysis)
}

type NopObserver struct{}

func (NopObserver) StateChanged(State, State) {}
func (NopObserver) Question(string, int) {}
func (NopObserver) Level(float64) {}
func (NopObserver) Transcript(string, *transcriber.Result) {}
func (NopObserver) Failed(error) {}
func (NopObserver) Rejected(error) {}
func (NopObserver) WrapUp(int) {}
func (NopObserver) Finished(*session.Analysis) {}
