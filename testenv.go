package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"intervox/log"
	"intervox/session"
	"intervox/transcriber"
	"intervox/turn"
)

var errMachineStopped = errors.New("machine stopped")

// scriptObserver prints one line per machine event and lets a script wait
// for states.
type scriptObserver struct {
	out io.Writer

	mu      sync.Mutex
	entered map[turn.State]int
	waited  map[turn.State]int
	changed chan struct{}
}

func newScriptObserver(out io.Writer) *scriptObserver {
	return &scriptObserver{
		out:     out,
		entered: map[turn.State]int{},
		waited:  map[turn.State]int{},
		changed: make(chan struct{}),
	}
}

func (o *scriptObserver) printf(format string, args ...any) {
	o.mu.Lock()
	fmt.Fprintf(o.out, format+"\n", args...)
	o.mu.Unlock()
}

func (o *scriptObserver) StateChanged(from, to turn.State) {
	o.mu.Lock()
	fmt.Fprintf(o.out, "STATE %s -> %s\n", from, to)
	o.entered[to]++
	close(o.changed)
	o.changed = make(chan struct{})
	o.mu.Unlock()
}

func (o *scriptObserver) Question(text string, number int) {
	o.printf("QUESTION %d: %s", number, text)
}

func (o *scriptObserver) Level(float64) {}

func (o *scriptObserver) Transcript(text string, _ *transcriber.Result) {
	o.printf("TRANSCRIPT: %s", text)
}

func (o *scriptObserver) Failed(err error) { o.printf("FAILED: %v", err) }

func (o *scriptObserver) Rejected(err error) { o.printf("REJECTED: %v", err) }

func (o *scriptObserver) WrapUp(n int) { o.printf("WRAPUP %d", n) }

func (o *scriptObserver) Finished(a *session.Analysis) {
	o.printf("ANALYSIS: %s", strings.ReplaceAll(a.Text(), "\n", " "))
}

// wait returns once state has been entered more often than it was waited
// for, so a script can wait for the same state once per turn.
func (o *scriptObserver) wait(ctx context.Context, state turn.State, stopped <-chan struct{}) error {
	for {
		o.mu.Lock()
		if o.entered[state] > o.waited[state] {
			o.waited[state]++
			o.mu.Unlock()
			return nil
		}
		ch := o.changed
		o.mu.Unlock()
		select {
		case <-ch:
		case <-stopped:
			return errMachineStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func parseState(name string) (turn.State, bool) {
	for s := turn.Idle; s <= turn.Error; s++ {
		if s.String() == name {
			return s, true
		}
	}
	return 0, false
}

// runScript drives m from line commands until QUIT, the end of input, or the
// end of the interview:
//
//	SKIP | STOP | SUBMIT [text] | FINISH | ACK
//	WAIT <state> | SLEEP <ms> | QUIT
func runScript(ctx context.Context, m *turn.Machine, obs *scriptObserver, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopped := make(chan struct{})
	var runErr error
	go func() {
		defer close(stopped)
		runErr = m.Run(ctx)
	}()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		cmd, arg, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		switch cmd {
		case "":
		case "SKIP":
			m.Skip()
		case "STOP":
			m.Stop()
		case "SUBMIT":
			m.Submit(arg)
		case "FINISH":
			m.Finish()
		case "ACK":
			m.Ack()
		case "WAIT":
			state, ok := parseState(arg)
			if !ok {
				obs.printf("ERROR unknown state %q", arg)
				continue
			}
			if err := obs.wait(ctx, state, stopped); err != nil {
				obs.printf("WAIT %s: %v", arg, err)
			}
		case "SLEEP":
			if ms, err := strconv.Atoi(arg); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		case "QUIT":
			cancel()
			<-stopped
			return scriptResult(runErr)
		default:
			obs.printf("ERROR unknown command %q", cmd)
		}
		select {
		case <-stopped:
			return scriptResult(runErr)
		default:
		}
	}
	cancel()
	<-stopped
	return scriptResult(runErr)
}

func scriptResult(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		log.Errorf("headless run: %v", err)
	}
	return err
}
