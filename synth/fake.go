package synth

import (
	"context"
	"math"
	"sync"
	"time"

	"intervox/encoder"
)

// Fake returns a short tone for every request.
type Fake struct {
	mu       sync.Mutex
	err      error
	delay    time.Duration
	duration time.Duration
	requests []Request
}

func NewFake() *Fake {
	return &Fake{duration: 200 * time.Millisecond}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) SetError(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// SetDelay makes Synthesize block for d, like a slow provider.
func (f *Fake) SetDelay(d time.Duration) {
	f.mu.Lock()
	f.delay = d
	f.mu.Unlock()
}

func (f *Fake) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}

func (f *Fake) Synthesize(ctx context.Context, req Request) (*Payload, error) {
	if err := validate(f.Name(), &req); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	err, delay, dur := f.err, f.delay, f.duration
	f.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, transportError(f.Name(), ctx.Err())
		}
	}
	if err != nil {
		return nil, &SynthesisError{Provider: f.Name(), Code: CodeHTTP, Message: "provider error", Cause: err}
	}

	const rate = 24000
	n := int(int64(dur) * rate / int64(time.Second))
	tone := make([]float64, n)
	for i := range tone {
		tone[i] = 0.3 * math.Sin(2*math.Pi*440*float64(i)/rate)
	}
	p, encErr := encoder.EncodeWAV([][]float64{tone}, rate)
	if encErr != nil {
		return nil, &SynthesisError{Provider: f.Name(), Code: CodeDecode, Message: "tone", Cause: encErr}
	}
	return &Payload{Bytes: p.Bytes, Format: "wav", SampleRate: rate, Channels: 1, Speed: 1}, nil
}
