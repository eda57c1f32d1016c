package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

type Status int

const (
	StatusNone Status = iota
	StatusActive
	StatusExpired
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusExpired:
		return "expired"
	case StatusCompleted:
		return "completed"
	}
	return "none"
}

const (
	// MinExchangesToFinish is how many answered questions unlock analysis.
	MinExchangesToFinish = 2
	// WrapUpAfter is when the UI starts suggesting the user wrap up.
	WrapUpAfter = 4
)

// KeyWriter receives the provider key a session start hands out.
type KeyWriter interface {
	Set(value string) error
}

// Outcome is what a submitted response led to.
type Outcome struct {
	Question    string
	CanFinish   bool
	Rescheduled bool
	Completed   bool
	Analysis    *Analysis
}

// Coordinator owns one interview session and serializes every service call
// it makes. A second call waits for the first to resolve.
type Coordinator struct {
	svc  Service
	keys KeyWriter
	sem  *semaphore.Weighted
	now  func() time.Time

	mu        sync.Mutex
	project   ProjectConfig
	sessionID string
	status    Status
	question  string
	exchanges []QAPair
	analysis  *Analysis
}

func NewCoordinator(svc Service, keys KeyWriter) *Coordinator {
	return &Coordinator{
		svc:  svc,
		keys: keys,
		sem:  semaphore.NewWeighted(1),
		now:  time.Now,
	}
}

// Start validates cfg and opens a session. Validation failures never reach
// the service.
func (c *Coordinator) Start(ctx context.Context, cfg ProjectConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.sem.Release(1)

	c.mu.Lock()
	if c.status == StatusActive {
		c.mu.Unlock()
		return "", ErrSessionActive
	}
	c.mu.Unlock()

	reply, err := c.svc.StartProject(ctx, cfg)
	if err != nil {
		return "", err
	}
	if reply.APIKey != "" && c.keys != nil {
		if err := c.keys.Set(reply.APIKey); err != nil {
			return "", err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.project = cfg
	c.sessionID = reply.SessionID
	c.status = StatusActive
	c.question = reply.Question
	c.exchanges = nil
	c.analysis = nil
	return reply.Question, nil
}

// SubmitResponse sends the answer to the current question. On success the
// pair is recorded and the next question becomes current.
func (c *Coordinator) SubmitResponse(ctx context.Context, text string) (Outcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		verr := &ValidationError{}
		verr.add("response", "required")
		return Outcome{}, verr
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return Outcome{}, err
	}
	defer c.sem.Release(1)

	id, question, err := c.active()
	if err != nil {
		return Outcome{}, err
	}

	reply, err := c.svc.SubmitResponse(ctx, id, text)
	if err != nil {
		c.noteExpiry(err)
		return Outcome{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if reply.Status == StatusReschedule {
		c.question = reply.Question
		return Outcome{Question: reply.Question, Rescheduled: true, CanFinish: len(c.exchanges) >= MinExchangesToFinish}, nil
	}

	c.exchanges = append(c.exchanges, QAPair{Question: question, Response: text, CreatedAt: c.now()})
	if reply.Status == StatusEnded {
		c.status = StatusCompleted
		c.question = ""
		c.analysis = reply.Analysis
		return Outcome{Completed: true, Analysis: reply.Analysis, CanFinish: true}, nil
	}
	c.question = reply.Question
	return Outcome{Question: reply.Question, CanFinish: len(c.exchanges) >= MinExchangesToFinish}, nil
}

// RequestAnalysis ends the interview and returns the service's analysis.
func (c *Coordinator) RequestAnalysis(ctx context.Context) (*Analysis, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	c.mu.Lock()
	if c.status == StatusCompleted && c.analysis != nil {
		a := c.analysis
		c.mu.Unlock()
		return a, nil
	}
	n := len(c.exchanges)
	c.mu.Unlock()

	id, _, err := c.active()
	if err != nil {
		return nil, err
	}
	if n < MinExchangesToFinish {
		return nil, ErrFinishEarlyLocked
	}

	a, err := c.svc.Analyze(ctx, id)
	if err != nil {
		c.noteExpiry(err)
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = StatusCompleted
	c.question = ""
	c.analysis = a
	return a, nil
}

func (c *Coordinator) active() (id, question string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.status {
	case StatusActive:
		return c.sessionID, c.question, nil
	case StatusExpired:
		return "", "", ErrSessionExpired
	case StatusNone:
		return "", "", ErrNoSession
	}
	return "", "", ErrSessionClosed
}

func (c *Coordinator) noteExpiry(err error) {
	if !errors.Is(err, ErrSessionExpired) {
		return
	}
	c.mu.Lock()
	if c.status == StatusActive {
		c.status = StatusExpired
	}
	c.mu.Unlock()
}

// Reset drops the session so a new one can start from setup.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.project = ProjectConfig{}
	c.sessionID = ""
	c.status = StatusNone
	c.question = ""
	c.exchanges = nil
	c.analysis = nil
}

func (c *Coordinator) CanFinishEarly() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == StatusActive && len(c.exchanges) >= MinExchangesToFinish
}

func (c *Coordinator) ShouldOfferWrapUp() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == StatusActive && len(c.exchanges) >= WrapUpAfter
}

// Exchanges returns a copy of the recorded pairs in order.
func (c *Coordinator) Exchanges() []QAPair {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]QAPair(nil), c.exchanges...)
}

func (c *Coordinator) ExchangeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.exchanges)
}

func (c *Coordinator) CurrentQuestion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.question
}

func (c *Coordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Coordinator) Project() ProjectConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.project
}

func (c *Coordinator) Analysis() *Analysis {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.analysis
}

// Results snapshots the session for saving.
func (c *Coordinator) Results() Results {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Results{
		SessionID:           c.sessionID,
		ProjectInfo:         c.project,
		ConversationHistory: append([]QAPair(nil), c.exchanges...),
		Analysis:            c.analysis,
		SavedAt:             c.now(),
	}
}
