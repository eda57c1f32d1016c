package turn

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"intervox/audio"
	"intervox/log"
	"intervox/metrics"
	"intervox/session"
	"intervox/synth"
	"intervox/transcriber"
	"intervox/vad"
)

func sessionMode(s string) session.Mode { return session.Mode(s) }

type recorder struct {
	mu          sync.Mutex
	transitions [][2]State
	questions   []string
	transcripts []string
	failed      []error
	rejected    []error
	wrapUps     []int
	finished    *session.Analysis
	levels      int
}

func (r *recorder) StateChanged(from, to State) {
	r.mu.Lock()
	r.transitions = append(r.transitions, [2]State{from, to})
	r.mu.Unlock()
}

func (r *recorder) Question(text string, _ int) {
	r.mu.Lock()
	r.questions = append(r.questions, text)
	r.mu.Unlock()
}

func (r *recorder) Level(float64) {
	r.mu.Lock()
	r.levels++
	r.mu.Unlock()
}

func (r *recorder) Transcript(text string, _ *transcriber.Result) {
	r.mu.Lock()
	r.transcripts = append(r.transcripts, text)
	r.mu.Unlock()
}

func (r *recorder) Failed(err error) {
	r.mu.Lock()
	r.failed = append(r.failed, err)
	r.mu.Unlock()
}

func (r *recorder) Rejected(err error) {
	r.mu.Lock()
	r.rejected = append(r.rejected, err)
	r.mu.Unlock()
}

func (r *recorder) WrapUp(n int) {
	r.mu.Lock()
	r.wrapUps = append(r.wrapUps, n)
	r.mu.Unlock()
}

func (r *recorder) Finished(a *session.Analysis) {
	r.mu.Lock()
	r.finished = a
	r.mu.Unlock()
}

func (r *recorder) count(from, to State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, tr := range r.transitions {
		if tr[0] == from && tr[1] == to {
			n++
		}
	}
	return n
}

func (r *recorder) errs() ([]error, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.failed...), append([]error(nil), r.rejected...)
}

type rig struct {
	machine *Machine
	coord   *session.Coordinator
	svc     *session.FakeService
	dev     *audio.FakeContext
	mgr     *audio.Manager
	synth   *synth.Fake
	stt     *transcriber.FakeTranscriber
	obs     *recorder
	metrics *metrics.Metrics

	cancel context.CancelFunc
	errCh  chan error
}

type rigOption func(*Config)

func newRig(t *testing.T, mode Mode, opts ...rigOption) *rig {
	t.Helper()
	r := &rig{
		svc:   session.NewFakeService("Q1", "Q2", "Q3", "Q4", "Q5", "Q6"),
		dev:   audio.NewFakeContextPCM(nil, false),
		synth: synth.NewFake(),
		stt:   transcriber.NewFake("an answer", nil),
		obs:     &recorder{},
		metrics: metrics.New("test"),
		errCh:   make(chan error, 1),
	}
	r.mgr = audio.NewManager(r.dev, nil, audio.CaptureConfig{})
	r.coord = session.NewCoordinator(r.svc, nil)

	cfg := Config{
		Mode:        mode,
		VAD:         vad.Config{Timeout: 60 * time.Millisecond},
		ExpiryGrace: 20 * time.Millisecond,
	}
	for _, o := range opts {
		o(&cfg)
	}
	m, err := New(cfg, Deps{
		Session:     r.coord,
		Mic:         r.mgr,
		Player:      r.dev,
		Synth:       r.synth,
		Transcriber: r.stt,
		Observer:    r.obs,
		Metrics:     r.metrics,
	})
	if err != nil {
		t.Fatal(err)
	}
	r.machine = m
	return r
}

func (r *rig) start(t *testing.T) {
	t.Helper()
	cfg := session.ProjectConfig{ProjectName: "Billing", Goal: "discovery", TargetAudience: "finance", Mode: r.machine.Mode().Name}
	if _, err := r.coord.Start(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go func() { r.errCh <- r.machine.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-r.errCh:
		case <-time.After(5 * time.Second):
		}
	})
}

func (r *rig) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.errCh:
		r.errCh <- err
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (r *rig) waitState(t *testing.T, s State) {
	t.Helper()
	waitUntil(t, s.String(), func() bool { return r.machine.State() == s })
}

// A silent answer ends by itself and is transcribed exactly once.
func TestSilenceEndsAnswer(t *testing.T) {
	r := newRig(t, Voice, func(c *Config) { c.VAD = vad.Config{} })
	r.start(t)

	r.waitState(t, ResponseReady)
	time.Sleep(600 * time.Millisecond)

	if s := r.machine.State(); s != ResponseReady {
		t.Fatalf("state = %s, want response_ready", s)
	}
	if n := len(r.stt.Payloads()); n != 1 {
		t.Errorf("transcriptions = %d, want 1", n)
	}
	want := [][2]State{
		{Idle, SpeakingQuestion},
		{SpeakingQuestion, RecordingResponse},
		{RecordingResponse, Transcribing},
		{Transcribing, ResponseReady},
	}
	r.obs.mu.Lock()
	got := append([][2]State(nil), r.obs.transitions...)
	r.obs.mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("transitions = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, got[i], want[i])
		}
	}
	if r.mgr.Held() {
		t.Error("microphone still held after transcription")
	}
	if reqs := r.synth.Requests(); len(reqs) != 1 || reqs[0].Text != "Q1" {
		t.Errorf("synth requests = %+v", reqs)
	}

	r.machine.Submit("")
	waitUntil(t, "second question", func() bool { return r.coord.ExchangeCount() == 1 })
	ex := r.coord.Exchanges()
	if ex[0].Question != "Q1" || ex[0].Response != "an answer" {
		t.Errorf("exchange = %+v", ex[0])
	}
}

func TestSynthesisFailure(t *testing.T) {
	r := newRig(t, Voice)
	r.synth.SetError(errors.New("provider down"))
	r.start(t)

	r.waitState(t, Error)

	if n := r.dev.Captures(); n != 0 {
		t.Errorf("microphone opened %d times", n)
	}
	failed, _ := r.obs.errs()
	var se *synth.SynthesisError
	if len(failed) != 1 || !errors.As(failed[0], &se) {
		t.Fatalf("failed = %v, want one *SynthesisError", failed)
	}
	if r.obs.count(SpeakingQuestion, Error) != 1 {
		t.Error("expected speaking_question -> error")
	}
}

func TestEditedTranscriptIsSubmitted(t *testing.T) {
	r := newRig(t, Direct)
	r.start(t)

	r.waitState(t, ResponseReady)
	r.machine.Submit("  corrected answer ")
	waitUntil(t, "exchange", func() bool { return r.coord.ExchangeCount() == 1 })
	if got := r.coord.Exchanges()[0].Response; got != "corrected answer" {
		t.Errorf("response = %q", got)
	}
}

func TestSkipPlayback(t *testing.T) {
	r := newRig(t, Voice)
	r.dev.SetPlayDelay(time.Hour)
	r.start(t)

	r.waitState(t, SpeakingQuestion)
	waitUntil(t, "playback", func() bool { return len(r.dev.Plays()) == 1 })
	r.machine.Skip()
	r.waitState(t, ResponseReady)

	if n := r.obs.count(SpeakingQuestion, RecordingResponse); n != 1 {
		t.Errorf("speaking -> recording = %d", n)
	}
	failed, _ := r.obs.errs()
	if len(failed) != 0 {
		t.Errorf("skip produced errors: %v", failed)
	}
}

func TestChatInterview(t *testing.T) {
	r := newRig(t, Chat)
	r.start(t)
	r.waitState(t, RecordingResponse)

	r.machine.Finish()
	r.machine.Submit("   ")
	waitUntil(t, "rejections", func() bool {
		_, rej := r.obs.errs()
		return len(rej) == 2
	})
	_, rej := r.obs.errs()
	if !errors.Is(rej[0], session.ErrFinishEarlyLocked) {
		t.Errorf("first rejection = %v", rej[0])
	}
	var verr *session.ValidationError
	if !errors.As(rej[1], &verr) {
		t.Errorf("second rejection = %v", rej[1])
	}

	r.machine.Submit("spreadsheets")
	waitUntil(t, "first exchange", func() bool { return r.coord.ExchangeCount() == 1 })
	r.waitState(t, RecordingResponse)
	r.machine.Finish()
	r.machine.Submit("month end is slow")
	waitUntil(t, "second exchange", func() bool { return r.coord.ExchangeCount() == 2 })
	r.waitState(t, RecordingResponse)
	r.machine.Finish()

	if err := r.wait(t); err != nil {
		t.Fatalf("Run = %v", err)
	}
	if r.machine.State() != Completed || r.machine.Analysis() == nil {
		t.Fatalf("state %s analysis %v", r.machine.State(), r.machine.Analysis())
	}
	if _, rej := r.obs.errs(); len(rej) != 3 || !errors.Is(rej[2], session.ErrFinishEarlyLocked) {
		t.Errorf("rejections = %v", rej)
	}
	if got := r.coord.ExchangeCount(); got != 2 {
		t.Errorf("exchanges = %d", got)
	}
	if r.obs.count(Idle, Completed) != 1 {
		t.Error("expected idle -> completed")
	}
	if r.dev.Captures() != 0 || len(r.synth.Requests()) != 0 {
		t.Error("chat mode used audio")
	}
}

// Finishing right after the second answer drops the question that is
// already open and asks for the analysis without a third submission.
func TestFinishEarlyDropsOpenQuestion(t *testing.T) {
	for _, mode := range []Mode{Voice, Chat} {
		t.Run(string(mode.Name), func(t *testing.T) {
			r := newRig(t, mode, func(c *Config) {
				c.AutoSubmit = true
				c.VAD = vad.Config{Timeout: time.Hour}
			})
			r.start(t)

			for i, text := range []string{"invoices", "approvals"} {
				r.waitState(t, RecordingResponse)
				if mode.Capture {
					time.Sleep(20 * time.Millisecond)
					r.machine.Stop()
				} else {
					r.machine.Submit(text)
				}
				n := i + 1
				waitUntil(t, "exchange", func() bool { return r.coord.ExchangeCount() == n })
			}
			r.waitState(t, RecordingResponse)
			r.machine.Finish()

			if err := r.wait(t); err != nil {
				t.Fatalf("Run = %v", err)
			}
			if r.machine.State() != Completed || r.machine.Analysis() == nil {
				t.Fatalf("state %s analysis %v", r.machine.State(), r.machine.Analysis())
			}
			calls := r.svc.Calls()
			if len(calls) != 4 || calls[3] != "analyze" {
				t.Errorf("calls = %v", calls)
			}
			if r.coord.ExchangeCount() != 2 {
				t.Errorf("exchanges = %d", r.coord.ExchangeCount())
			}
			if r.obs.count(RecordingResponse, Idle) != 1 || r.obs.count(Idle, Completed) != 1 {
				t.Errorf("transitions = %v", r.obs.transitions)
			}
			if _, rej := r.obs.errs(); len(rej) != 0 {
				t.Errorf("rejections = %v", rej)
			}
			if mode.Capture {
				if n := len(r.stt.Payloads()); n != 2 {
					t.Errorf("transcribed %d recordings, want 2", n)
				}
				waitUntil(t, "microphone release", func() bool { return !r.mgr.Held() })
			}
		})
	}
}

// A failed analysis does not leave the finish request armed: after the
// error is acknowledged the current question is asked again.
func TestFailedAnalysisReturnsToQuestion(t *testing.T) {
	r := newRig(t, Chat)
	r.start(t)
	for i, text := range []string{"invoices", "approvals"} {
		r.waitState(t, RecordingResponse)
		r.machine.Submit(text)
		n := i + 1
		waitUntil(t, "exchange", func() bool { return r.coord.ExchangeCount() == n })
	}
	r.waitState(t, RecordingResponse)

	r.svc.SetError(&session.NetworkError{Op: "analyze", Err: errors.New("connection reset")})
	r.machine.Finish()
	r.waitState(t, Error)
	r.svc.SetError(nil)

	for i := 0; i < 3; i++ {
		r.machine.Ack()
		r.waitState(t, RecordingResponse)
	}
	analyze := 0
	for _, c := range r.svc.Calls() {
		if c == "analyze" {
			analyze++
		}
	}
	if analyze != 1 {
		t.Errorf("analyze called %d times: %v", analyze, r.svc.Calls())
	}
	if failed, _ := r.obs.errs(); len(failed) != 1 {
		t.Errorf("failures = %v", failed)
	}
}

func TestIdleRechecksFinishGate(t *testing.T) {
	r := newRig(t, Chat)
	cfg := session.ProjectConfig{ProjectName: "Billing", Goal: "discovery", TargetAudience: "finance", Mode: session.ModeChat}
	if _, err := r.coord.Start(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	m := r.machine
	m.ctx = context.Background()
	m.finishing = true

	m.enterIdle(Submitting)

	if m.finishing || m.analyzing {
		t.Error("finish request survived a closed gate")
	}
	if m.cur != RecordingResponse || m.question != "Q1" {
		t.Errorf("state %s question %q", m.cur, m.question)
	}
	if _, rej := r.obs.errs(); len(rej) != 1 || !errors.Is(rej[0], session.ErrFinishEarlyLocked) {
		t.Errorf("rejections = %v", rej)
	}
}

// A reschedule reply asks the replacement question and records nothing.
func TestRescheduleAsksReplacement(t *testing.T) {
	dir := t.TempDir()
	log.SetDir(dir)
	if err := log.Init(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(log.Close)

	r := newRig(t, Chat)
	r.start(t)
	r.waitState(t, RecordingResponse)

	r.svc.Reschedule("Let's come back to that. Who signs off on invoices?")
	r.machine.Submit("rather not say")
	waitUntil(t, "replacement question", func() bool {
		r.obs.mu.Lock()
		defer r.obs.mu.Unlock()
		return len(r.obs.questions) == 2
	})
	r.waitState(t, RecordingResponse)
	r.obs.mu.Lock()
	asked := append([]string(nil), r.obs.questions...)
	r.obs.mu.Unlock()
	if q := asked[1]; q != "Let's come back to that. Who signs off on invoices?" {
		t.Errorf("asked %q", q)
	}
	if r.coord.ExchangeCount() != 0 {
		t.Errorf("exchanges = %d", r.coord.ExchangeCount())
	}
	if got := testutil.ToFloat64(r.metrics.Exchanges); got != 0 {
		t.Errorf("exchange metric = %v", got)
	}

	r.machine.Submit("the controller")
	waitUntil(t, "exchange", func() bool { return r.coord.ExchangeCount() == 1 })
	if got := r.coord.Exchanges()[0].Question; got != "Let's come back to that. Who signs off on invoices?" {
		t.Errorf("recorded question %q", got)
	}
	waitUntil(t, "exchange metric", func() bool { return testutil.ToFloat64(r.metrics.Exchanges) == 1 })

	data, err := os.ReadFile(filepath.Join(dir, "interview_log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "\tQ\t"); n != 1 {
		t.Errorf("interview log has %d questions:\n%s", n, data)
	}
	if strings.Contains(string(data), "rather not say") {
		t.Error("rescheduled answer was logged")
	}
}

func TestExchangesMatchSubmissions(t *testing.T) {
	r := newRig(t, Direct, func(c *Config) { c.AutoSubmit = true })
	r.svc.EndAfter(5)
	r.start(t)

	if err := r.wait(t); err != nil {
		t.Fatalf("Run = %v", err)
	}

	n := r.coord.ExchangeCount()
	if n != 5 {
		t.Errorf("exchanges = %d, want 5", n)
	}
	submitted := r.obs.count(Submitting, Idle) + r.obs.count(Submitting, Completed)
	if submitted != n {
		t.Errorf("completed submissions = %d, exchanges = %d", submitted, n)
	}
	r.obs.mu.Lock()
	wrapUps := append([]int(nil), r.obs.wrapUps...)
	r.obs.mu.Unlock()
	if len(wrapUps) == 0 || wrapUps[0] != session.WrapUpAfter {
		t.Errorf("wrap-ups = %v", wrapUps)
	}
	if r.mgr.Held() {
		t.Error("microphone held after Run returned")
	}
	if r.machine.Analysis() == nil {
		t.Error("no analysis after the service ended the interview")
	}
}

func TestMicrophoneDenied(t *testing.T) {
	r := newRig(t, Direct)
	r.dev.Deny(errors.New("permission denied"))
	r.start(t)

	r.waitState(t, Error)
	failed, _ := r.obs.errs()
	var perr *audio.MediaPermissionError
	if len(failed) != 1 || !errors.As(failed[0], &perr) {
		t.Fatalf("failed = %v", failed)
	}

	r.dev.Deny(nil)
	r.machine.Ack()
	r.waitState(t, ResponseReady)

	r.obs.mu.Lock()
	questions := append([]string(nil), r.obs.questions...)
	r.obs.mu.Unlock()
	if len(questions) != 2 || questions[0] != "Q1" || questions[1] != "Q1" {
		t.Errorf("questions = %v, want Q1 asked twice", questions)
	}
}

func TestTranscriptionFailureReleasesMicrophone(t *testing.T) {
	r := newRig(t, Direct)
	r.stt.SetError(errors.New("503"))
	r.start(t)

	r.waitState(t, Error)
	var te *transcriber.TranscriptionError
	failed, _ := r.obs.errs()
	if len(failed) != 1 || !errors.As(failed[0], &te) {
		t.Fatalf("failed = %v", failed)
	}
	if r.mgr.Held() {
		t.Error("microphone held in error state")
	}
	if r.coord.ExchangeCount() != 0 {
		t.Error("exchange recorded for failed turn")
	}
}

func TestSessionExpiry(t *testing.T) {
	r := newRig(t, Chat)
	r.start(t)
	r.waitState(t, RecordingResponse)

	r.svc.Expire()
	r.machine.Submit("hello")

	if err := r.wait(t); !errors.Is(err, session.ErrSessionExpired) {
		t.Fatalf("Run = %v", err)
	}
	if r.coord.Status() != session.StatusNone {
		t.Errorf("coordinator status = %s", r.coord.Status())
	}
	if r.obs.count(Submitting, Error) != 1 {
		t.Error("expected submitting -> error")
	}
}

func TestStaleEventsDropped(t *testing.T) {
	r := newRig(t, Voice)
	m := r.machine
	m.cur = SpeakingQuestion
	m.turn = uuid.New()

	m.handle(Event{Kind: EvPlaybackDone, Turn: uuid.New()})
	if m.cur != SpeakingQuestion {
		t.Fatalf("stale playback moved state to %s", m.cur)
	}
	m.handle(Event{Kind: EvFailed, Turn: uuid.New(), Err: errors.New("late")})
	if m.cur != SpeakingQuestion {
		t.Fatalf("stale failure moved state to %s", m.cur)
	}
}

func TestNewRequiresCapabilities(t *testing.T) {
	coord := session.NewCoordinator(session.NewFakeService(), nil)
	if _, err := New(Config{Mode: Voice}, Deps{Session: coord}); err == nil {
		t.Error("voice without synthesizer accepted")
	}
	if _, err := New(Config{Mode: Direct}, Deps{Session: coord}); err == nil {
		t.Error("direct without microphone accepted")
	}
	if _, err := New(Config{Mode: Chat}, Deps{Session: coord}); err != nil {
		t.Errorf("chat: %v", err)
	}
}
