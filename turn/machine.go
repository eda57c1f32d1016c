package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"intervox/audio"
	"intervox/log"
	"intervox/metrics"
	"intervox/session"
	"intervox/synth"
	"intervox/transcriber"
	"intervox/vad"
)

const (
	DefaultSynthesisTimeout     = 20 * time.Second
	DefaultTranscriptionTimeout = 30 * time.Second
	DefaultSubmitTimeout        = 60 * time.Second
	DefaultExpiryGrace          = 2 * time.Second

	eventBuffer = 32
)

// Session is the part of session.Coordinator the machine drives.
type Session interface {
	CurrentQuestion() string
	ExchangeCount() int
	ShouldOfferWrapUp() bool
	SubmitResponse(ctx context.Context, text string) (session.Outcome, error)
	RequestAnalysis(ctx context.Context) (*session.Analysis, error)
	Reset()
}

type Microphone interface {
	Start() (*audio.Recording, error)
}

// Cues are audible markers around a recording. beep.Cues satisfies it.
type Cues interface {
	RecordingStarted()
	RecordingStopped()
	Failed()
}

type Config struct {
	Mode       Mode
	Voice      string
	Speed      float64
	AutoSubmit bool
	VAD        vad.Config

	SynthesisTimeout     time.Duration
	TranscriptionTimeout time.Duration
	SubmitTimeout        time.Duration
	// ExpiryGrace is how long the error stays visible after the service
	// forgot the session, before Run returns.
	ExpiryGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.SynthesisTimeout <= 0 {
		c.SynthesisTimeout = DefaultSynthesisTimeout
	}
	if c.TranscriptionTimeout <= 0 {
		c.TranscriptionTimeout = DefaultTranscriptionTimeout
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = DefaultSubmitTimeout
	}
	if c.ExpiryGrace <= 0 {
		c.ExpiryGrace = DefaultExpiryGrace
	}
	if c.Speed == 0 {
		c.Speed = 1
	}
	c.VAD = c.VAD.WithDefaults()
	return c
}

type Deps struct {
	Session     Session
	Mic         Microphone
	Player      audio.Player
	Synth       synth.Synthesizer
	Transcriber transcriber.Transcriber
	Observer    Observer
	Cues        Cues
	Metrics     *metrics.Metrics
}

// Event is a one-way message into the machine. Effects stamp the turn they
// belong to; user commands leave Turn zero and always apply to the current
// turn.
type Event struct {
	Kind     EventKind
	Turn     uuid.UUID
	Text     string
	Result   *transcriber.Result
	Analysis *session.Analysis
	Err      error

	// Rescheduled marks a next question that replaced the current one
	// without recording an answer.
	Rescheduled bool
}

// Machine applies every state change from a single goroutine, the one
// running Run. Everything else talks to it through events.
type Machine struct {
	cfg     Config
	sess    Session
	mic     Microphone
	player  audio.Player
	synth   synth.Synthesizer
	stt     transcriber.Transcriber
	obs     Observer
	cues    Cues
	metrics *metrics.Metrics

	events chan Event
	done   chan struct{}
	state  atomic.Int32

	// Owned by the Run goroutine.
	ctx          context.Context
	cur          State
	turn         uuid.UUID
	question     string
	response     string
	rec          *audio.Recording
	speechCancel context.CancelFunc
	listenCancel context.CancelFunc
	finishing    bool
	analyzing    bool
	expired      bool
	analysis     *session.Analysis
}

func New(cfg Config, deps Deps) (*Machine, error) {
	cfg = cfg.withDefaults()
	if deps.Session == nil {
		return nil, errors.New("turn: session is required")
	}
	if cfg.Mode.Synthesis && (deps.Synth == nil || deps.Player == nil) {
		return nil, errors.New("turn: spoken questions need a synthesizer and a player")
	}
	if cfg.Mode.Capture && (deps.Mic == nil || deps.Transcriber == nil) {
		return nil, errors.New("turn: spoken answers need a microphone and a transcriber")
	}
	obs := deps.Observer
	if obs == nil {
		obs = NopObserver{}
	}
	cues := deps.Cues
	if cues == nil {
		cues = nopCues{}
	}
	return &Machine{
		cfg:     cfg,
		sess:    deps.Session,
		mic:     deps.Mic,
		player:  deps.Player,
		synth:   deps.Synth,
		stt:     deps.Transcriber,
		obs:     obs,
		cues:    cues,
		metrics: deps.Metrics,
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
	}, nil
}

// State is safe to call from any goroutine.
func (m *Machine) State() State { return State(m.state.Load()) }

func (m *Machine) Mode() Mode { return m.cfg.Mode }

// Skip ends question playback early.
func (m *Machine) Skip() { m.send(Event{Kind: EvSkip}) }

// Stop ends a spoken answer without waiting for silence.
func (m *Machine) Stop() { m.send(Event{Kind: EvStop}) }

// Submit confirms the answer. In chat mode text is the typed answer; after
// a transcription a non-empty text replaces the transcript.
func (m *Machine) Submit(text string) { m.send(Event{Kind: EvSubmit, Text: text}) }

// Finish ends the interview early and asks for the analysis. A captured
// answer is submitted first; a question still being asked or answered is
// dropped.
func (m *Machine) Finish() { m.send(Event{Kind: EvFinish}) }

// Ack clears an error and retries the current question.
func (m *Machine) Ack() { m.send(Event{Kind: EvAck}) }

func (m *Machine) send(ev Event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

// Run asks the session's current question and loops until the interview
// completes, the session expires or ctx ends.
func (m *Machine) Run(ctx context.Context) error {
	m.ctx = ctx
	defer close(m.done)
	defer m.teardown()

	m.enterIdle(Idle)

	var expiry <-chan time.Time
	for {
		if m.cur == Completed {
			return nil
		}
		if m.expired && expiry == nil {
			t := time.NewTimer(m.cfg.ExpiryGrace)
			defer t.Stop()
			expiry = t.C
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-expiry:
			m.sess.Reset()
			m.metrics.SessionEnd(session.StatusExpired.String())
			return session.ErrSessionExpired
		case ev := <-m.events:
			m.handle(ev)
		}
	}
}

// Analysis is set once Run has returned nil.
func (m *Machine) Analysis() *session.Analysis {
	select {
	case <-m.done:
		return m.analysis
	default:
		return nil
	}
}

func (m *Machine) post(ev Event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

func (m *Machine) handle(ev Event) {
	if ev.Turn != uuid.Nil && ev.Turn != m.turn {
		log.Info("stale_event: " + ev.Kind.String())
		return
	}

	switch ev.Kind {
	case EvFinish:
		m.finish()
		return
	case EvStop:
		if m.cfg.Mode.Typed() {
			return
		}
	case EvSubmit:
		text := strings.TrimSpace(ev.Text)
		if m.cur == RecordingResponse && m.cfg.Mode.Typed() {
			if text == "" {
				m.obs.Rejected(emptyResponse())
				return
			}
			m.response = text
			ev = Event{Kind: EvStop, Turn: ev.Turn}
		} else if m.cur == ResponseReady && text != "" {
			m.response = text
		}
	}

	next, ok := Next(m.cur, ev.Kind, m.cfg.Mode)
	if !ok {
		return
	}
	m.transition(next, ev)
}

func emptyResponse() error {
	return &session.ValidationError{Problems: []session.FieldProblem{{Field: "response", Message: "required"}}}
}

func (m *Machine) transition(to State, ev Event) {
	from := m.cur
	m.cur = to
	m.state.Store(int32(to))
	log.Transition(from.String(), to.String(), m.turn.String())
	m.metrics.Transition(from.String(), to.String())
	m.obs.StateChanged(from, to)

	if from == Submitting && (to == Idle || ev.Kind == EvEnded) && !ev.Rescheduled {
		log.Exchange(m.question, m.response)
		m.metrics.Exchange()
		m.response = ""
	}

	switch to {
	case Idle:
		m.enterIdle(from)
	case SpeakingQuestion:
		m.speak()
	case RecordingResponse:
		m.listen()
	case Transcribing:
		m.transcribe()
	case ResponseReady:
		m.ready(ev)
	case Submitting:
		m.submit()
	case Completed:
		m.complete(ev)
	case Error:
		m.fail(ev.Err)
	}
}

func (m *Machine) enterIdle(from State) {
	if m.expired {
		return
	}
	if from == Submitting && m.sess.ShouldOfferWrapUp() {
		m.obs.WrapUp(m.sess.ExchangeCount())
	}
	if m.finishing {
		if m.sess.ExchangeCount() >= session.MinExchangesToFinish {
			m.requestAnalysis()
			return
		}
		m.finishing = false
		m.obs.Rejected(session.ErrFinishEarlyLocked)
	}
	q := m.sess.CurrentQuestion()
	if q == "" {
		return
	}
	m.turn = uuid.New()
	m.question = q
	m.response = ""
	m.obs.Question(q, m.sess.ExchangeCount()+1)
	m.handle(Event{Kind: EvQuestion, Turn: m.turn})
}

func (m *Machine) speak() {
	ctx, cancel := context.WithCancel(m.ctx)
	m.speechCancel = cancel
	turn, text := m.turn, m.question
	go func() {
		err := m.sayQuestion(ctx, text)
		if ctx.Err() != nil {
			// skipped, superseded or shutting down
			return
		}
		if err != nil {
			m.post(Event{Kind: EvFailed, Turn: turn, Err: err})
			return
		}
		m.post(Event{Kind: EvPlaybackDone, Turn: turn})
	}()
}

func (m *Machine) sayQuestion(ctx context.Context, text string) error {
	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, m.cfg.SynthesisTimeout)
	p, err := m.synth.Synthesize(sctx, synth.Request{Text: text, Voice: m.cfg.Voice, Speed: m.cfg.Speed})
	cancel()
	m.metrics.Call("synthesize", m.synth.Name(), start, err)
	if err != nil {
		return err
	}
	clip, err := p.Clip()
	if err != nil {
		return &synth.SynthesisError{Provider: m.synth.Name(), Code: synth.CodeDecode, Message: "unplayable audio", Cause: err}
	}
	log.SynthesisMetrics(m.synth.Name(), m.cfg.Voice, len(text), clip.Duration().Seconds(), float64(time.Since(start).Milliseconds()))
	if err := m.player.Play(ctx, clip); err != nil && ctx.Err() == nil {
		return fmt.Errorf("playback: %w", err)
	}
	return nil
}

func (m *Machine) listen() {
	m.cancelSpeech()
	if !m.cfg.Mode.Capture {
		return
	}
	rec, err := m.mic.Start()
	if err != nil {
		m.handle(Event{Kind: EvFailed, Turn: m.turn, Err: err})
		return
	}
	m.rec = rec
	m.cues.RecordingStarted()

	if !m.cfg.Mode.VAD {
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.listenCancel = cancel
	turn := m.turn
	fired := vad.Run(ctx, rec, m.cfg.VAD, m.obs.Level)
	go func() {
		if _, ok := <-fired; ok {
			log.Info("silence_auto_stop")
			m.post(Event{Kind: EvStop, Turn: turn})
		}
	}()
}

func (m *Machine) transcribe() {
	m.cancelListen()
	turn := m.turn

	if !m.cfg.Mode.Capture {
		m.handle(Event{Kind: EvTranscribed, Turn: turn, Text: m.response})
		return
	}

	rec := m.rec
	m.rec = nil
	m.cues.RecordingStopped()
	go func() {
		res, err := m.recognize(rec)
		if err != nil {
			m.post(Event{Kind: EvFailed, Turn: turn, Err: err})
			return
		}
		m.post(Event{Kind: EvTranscribed, Turn: turn, Text: res.Text, Result: res})
	}()
}

// recognize runs under its own deadline. Later events never cancel it.
func (m *Machine) recognize(rec *audio.Recording) (*transcriber.Result, error) {
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.TranscriptionTimeout)
	defer cancel()

	buf, err := rec.Stop(ctx)
	if err != nil {
		return nil, err
	}
	m.metrics.Recording(buf.Duration())

	encStart := time.Now()
	payload, err := buf.Encode()
	if err != nil {
		return nil, err
	}
	encodeMs := float64(time.Since(encStart).Microseconds()) / 1000

	start := time.Now()
	res, err := m.stt.Transcribe(ctx, payload)
	m.metrics.Call("transcribe", m.stt.Name(), start, err)
	if err != nil {
		return nil, err
	}

	lm := log.Metrics{
		AudioLengthS: payload.Duration().Seconds(),
		WAVSizeKB:    float64(len(payload.Bytes)) / 1024,
		EncodeTimeMs: encodeMs,
		TotalTimeMs:  float64(time.Since(start).Microseconds()) / 1000,
	}
	var reused bool
	var proto string
	if nm := res.Metrics; nm != nil {
		lm.DNSTimeMs = float64(nm.DNS.Microseconds()) / 1000
		lm.TLSTimeMs = float64(nm.TLS.Microseconds()) / 1000
		lm.TTFBMs = float64(nm.TTFB.Microseconds()) / 1000
		reused, proto = nm.ConnReused, nm.TLSProtocol
	}
	log.TranscriptionMetrics(lm, m.stt.Name(), reused, proto)
	if res.HasConfidence {
		log.Confidence(res.Confidence)
	}
	if res.RateLimit != "" {
		log.Info("rate_limit: " + res.RateLimit)
	}
	return res, nil
}

func (m *Machine) ready(ev Event) {
	m.response = ev.Text
	m.obs.Transcript(ev.Text, ev.Result)
	if m.cfg.AutoSubmit || m.cfg.Mode.Typed() || m.finishing {
		m.handle(Event{Kind: EvSubmit, Turn: m.turn})
	}
}

func (m *Machine) submit() {
	turn, text := m.turn, m.response
	go func() {
		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.SubmitTimeout)
		defer cancel()
		start := time.Now()
		out, err := m.sess.SubmitResponse(ctx, text)
		m.metrics.Call("submit", "session", start, err)
		switch {
		case err != nil:
			m.post(Event{Kind: EvFailed, Turn: turn, Err: err})
		case out.Completed:
			m.post(Event{Kind: EvEnded, Turn: turn, Analysis: out.Analysis})
		default:
			m.post(Event{Kind: EvNextQuestion, Turn: turn, Text: out.Question, Rescheduled: out.Rescheduled})
		}
	}()
}

func (m *Machine) finish() {
	if m.finishing || m.analyzing {
		return
	}
	switch m.cur {
	case Completed, Error:
		return
	}
	if m.sess.ExchangeCount() < session.MinExchangesToFinish {
		m.obs.Rejected(session.ErrFinishEarlyLocked)
		return
	}
	m.finishing = true
	log.Info("finish_requested")
	switch m.cur {
	case Idle:
		m.requestAnalysis()
	case SpeakingQuestion, RecordingResponse:
		m.abandon()
		if next, ok := Next(m.cur, EvFinish, m.cfg.Mode); ok {
			m.transition(next, Event{Kind: EvFinish})
		}
	case ResponseReady:
		m.handle(Event{Kind: EvSubmit, Turn: m.turn})
	}
}

// abandon drops the open question. Whatever its playback or capture still
// delivers is stale.
func (m *Machine) abandon() {
	m.cancelSpeech()
	m.cancelListen()
	if m.rec != nil {
		m.rec.Discard()
		m.rec = nil
		m.cues.RecordingStopped()
	}
	m.turn = uuid.New()
	m.response = ""
}

func (m *Machine) requestAnalysis() {
	if m.analyzing {
		return
	}
	m.analyzing = true
	turn := m.turn
	go func() {
		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.SubmitTimeout)
		defer cancel()
		start := time.Now()
		a, err := m.sess.RequestAnalysis(ctx)
		m.metrics.Call("analyze", "session", start, err)
		if err != nil {
			m.post(Event{Kind: EvFailed, Turn: turn, Err: err})
			return
		}
		m.post(Event{Kind: EvAnalysis, Turn: turn, Analysis: a})
	}()
}

func (m *Machine) complete(ev Event) {
	m.cancelSpeech()
	m.cancelListen()
	m.analysis = ev.Analysis
	m.metrics.SessionEnd(session.StatusCompleted.String())
	m.obs.Finished(ev.Analysis)
}

func (m *Machine) fail(err error) {
	m.cancelSpeech()
	m.cancelListen()
	if m.rec != nil {
		m.rec.Discard()
		m.rec = nil
	}
	// In-flight effects of the failed turn become stale.
	m.turn = uuid.New()
	m.analyzing = false
	m.finishing = false
	if errors.Is(err, session.ErrSessionExpired) {
		m.expired = true
	}
	log.Errorf("turn failed: %v", err)
	m.cues.Failed()
	m.obs.Failed(err)
}

func (m *Machine) cancelSpeech() {
	if m.speechCancel != nil {
		m.speechCancel()
		m.speechCancel = nil
	}
}

func (m *Machine) cancelListen() {
	if m.listenCancel != nil {
		m.listenCancel()
		m.listenCancel = nil
	}
}

func (m *Machine) teardown() {
	m.cancelSpeech()
	m.cancelListen()
	if m.rec != nil {
		m.rec.Discard()
		m.rec = nil
	}
}

type nopCues struct{}

func (nopCues) RecordingStarted() {}
func (nopCues) RecordingStopped() {}
func (nopCues) Failed() {}
