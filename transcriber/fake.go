package transcriber

import (
	"context"
	"strings"
	"sync"
	"time"

	"intervox/encoder"
)

// FakeTranscriber returns canned text. Queued texts are used in order and
// the last one repeats.
type FakeTranscriber struct {
	mu       sync.Mutex
	texts    []string
	err      error
	delay    time.Duration
	lang     string
	payloads []encoder.Payload
}

func NewFake(text string, err error) *FakeTranscriber {
	return &FakeTranscriber{texts: []string{text}, err: err}
}

func (f *FakeTranscriber) Name() string { return "fake" }

func (f *FakeTranscriber) SetLanguage(lang string) {
	f.mu.Lock()
	f.lang = lang
	f.mu.Unlock()
}

func (f *FakeTranscriber) GetLanguage() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lang
}

func (f *FakeTranscriber) Queue(texts ...string) {
	f.mu.Lock()
	f.texts = append(f.texts[:0], texts...)
	f.mu.Unlock()
}

func (f *FakeTranscriber) SetError(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *FakeTranscriber) SetDelay(d time.Duration) {
	f.mu.Lock()
	f.delay = d
	f.mu.Unlock()
}

// Payloads returns everything that reached the fake after the size check.
func (f *FakeTranscriber) Payloads() []encoder.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]encoder.Payload(nil), f.payloads...)
}

func (f *FakeTranscriber) Transcribe(ctx context.Context, p encoder.Payload) (*Result, error) {
	if err := CheckPayload(p); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.payloads = append(f.payloads, p)
	delay, err := f.delay, f.err
	text := ""
	if len(f.texts) > 0 {
		text = f.texts[0]
		if len(f.texts) > 1 {
			f.texts = f.texts[1:]
		}
	}
	f.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, transportError("fake", ctx.Err())
		}
	}
	if err != nil {
		return nil, &TranscriptionError{Provider: "fake", Code: CodeHTTP, Message: err.Error(), Cause: err}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &TranscriptionError{Provider: "fake", Code: CodeEmpty, Message: "no speech recognized"}
	}
	return &Result{
		Text:     text,
		Metrics:  nil,
		Duration: p.Duration().Seconds(),
	}, nil
}
