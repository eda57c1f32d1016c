package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// FakeService is an in-memory interview backend for tests and -fake runs.
type FakeService struct {
	mu        sync.Mutex
	questions []string
	sessions  map[string]*fakeSession
	nextID    int
	apiKey    string
	delay     time.Duration
	err       error
	endAfter  int
	resched   []string
	inFlight  int
	maxFlight int
	calls     []string
}

type fakeSession struct {
	history []QAPair
	asked   int
}

func NewFakeService(questions ...string) *FakeService {
	if len(questions) == 0 {
		questions = []string{
			"What problem were you trying to solve when you last looked for a tool like this?",
			"Walk me through how you handle that today.",
			"What is the most frustrating part of that process?",
			"If you could change one thing about it, what would it be?",
			"How would you know that change had worked?",
		}
	}
	return &FakeService{questions: questions, sessions: map[string]*fakeSession{}}
}

// SetAPIKey makes StartProject hand out key.
func (f *FakeService) SetAPIKey(key string) {
	f.mu.Lock()
	f.apiKey = key
	f.mu.Unlock()
}

func (f *FakeService) SetDelay(d time.Duration) {
	f.mu.Lock()
	f.delay = d
	f.mu.Unlock()
}

// SetError fails every following call with err.
func (f *FakeService) SetError(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// EndAfter makes the nth submission end the interview.
func (f *FakeService) EndAfter(n int) {
	f.mu.Lock()
	f.endAfter = n
	f.mu.Unlock()
}

// Reschedule makes the next submission come back with status reschedule
// and question in place of the current one. Nothing is recorded for it.
func (f *FakeService) Reschedule(question string) {
	f.mu.Lock()
	f.resched = append(f.resched, question)
	f.mu.Unlock()
}

// Expire forgets every session, as a restarted backend would.
func (f *FakeService) Expire() {
	f.mu.Lock()
	f.sessions = map[string]*fakeSession{}
	f.mu.Unlock()
}

// MaxConcurrent is the most calls that were ever in flight at once.
func (f *FakeService) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxFlight
}

// Calls lists operations in the order they were received.
func (f *FakeService) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *FakeService) enter(ctx context.Context, call string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.inFlight++
	if f.inFlight > f.maxFlight {
		f.maxFlight = f.inFlight
	}
	delay, err := f.delay, f.err
	f.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			f.leave()
			return &NetworkError{Op: call, Err: ctx.Err()}
		}
	}
	if err != nil {
		f.leave()
		return err
	}
	return nil
}

func (f *FakeService) leave() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *FakeService) question(i int) string {
	return f.questions[i%len(f.questions)]
}

func (f *FakeService) StartProject(ctx context.Context, cfg ProjectConfig) (*StartReply, error) {
	if err := f.enter(ctx, "start-project"); err != nil {
		return nil, err
	}
	defer f.leave()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("fake-%d", f.nextID)
	f.sessions[id] = &fakeSession{asked: 1}
	return &StartReply{SessionID: id, Question: f.question(0), APIKey: f.apiKey}, nil
}

func (f *FakeService) SubmitResponse(ctx context.Context, sessionID, response string) (*SubmitReply, error) {
	if err := f.enter(ctx, "submit-response:"+response); err != nil {
		return nil, err
	}
	defer f.leave()

	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("submit-response: %w", ErrSessionExpired)
	}
	if len(f.resched) > 0 {
		q := f.resched[0]
		f.resched = f.resched[1:]
		return &SubmitReply{Question: q, Status: StatusReschedule, CanFinish: len(s.history) >= MinExchangesToFinish}, nil
	}
	s.history = append(s.history, QAPair{Question: f.question(s.asked - 1), Response: response})
	if f.endAfter > 0 && len(s.history) >= f.endAfter {
		a := fakeAnalysis(s.history)
		delete(f.sessions, sessionID)
		return &SubmitReply{Status: StatusEnded, Analysis: a, CanFinish: true}, nil
	}
	q := f.question(s.asked)
	s.asked++
	return &SubmitReply{Question: q, CanFinish: len(s.history) >= MinExchangesToFinish}, nil
}

func (f *FakeService) Analyze(ctx context.Context, sessionID string) (*Analysis, error) {
	if err := f.enter(ctx, "analyze"); err != nil {
		return nil, err
	}
	defer f.leave()

	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("analyze: %w", ErrSessionExpired)
	}
	delete(f.sessions, sessionID)
	return fakeAnalysis(s.history), nil
}

func fakeAnalysis(history []QAPair) *Analysis {
	raw, _ := json.Marshal(fmt.Sprintf("Interview covered %d questions.", len(history)))
	return &Analysis{Raw: raw}
}
