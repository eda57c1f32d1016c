package synth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"intervox/credentials"
	"intervox/encoder"
)

func TestOpenAISpeechRequest(t *testing.T) {
	wav := encoder.WrapPCM16([]int16{0, 1000, -1000, 0}, 24000, 1).Bytes
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		want := map[string]any{"model": "tts-1", "voice": "alloy", "input": "What tools do you use?", "speed": 1.25, "response_format": "wav"}
		for k, v := range want {
			if body[k] != v {
				t.Errorf("%s = %v, want %v", k, body[k], v)
			}
		}
		w.Write(wav)
	}))
	defer srv.Close()

	s := NewOpenAI(credentials.Static("sk-test"), Options{BaseURL: srv.URL})
	p, err := s.Synthesize(context.Background(), Request{Text: "What tools do you use?", Speed: 1.25})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if p.SampleRate != 24000 || p.Channels != 1 || p.Speed != 1 || p.Format != "wav" {
		t.Errorf("payload = %+v", p)
	}

	clip, err := p.Clip()
	if err != nil {
		t.Fatalf("Clip: %v", err)
	}
	if len(clip.Samples) != 4 || clip.Samples[1] != 1000 || clip.Samples[2] != -1000 {
		t.Errorf("samples = %v", clip.Samples)
	}
}

func TestOpenAIErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantCode  string
		retryable bool
	}{
		{"quota", 429, `{"error":{"message":"quota"}}`, CodeHTTP, true},
		{"auth", 401, `{"error":{"message":"bad key"}}`, CodeHTTP, false},
		{"not audio", 200, `hello`, CodeDecode, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewOpenAI(credentials.Static("k"), Options{BaseURL: srv.URL}).
				Synthesize(context.Background(), Request{Text: "hi"})
			var se *SynthesisError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want *SynthesisError", err)
			}
			if se.Code != tt.wantCode || se.Retryable != tt.retryable {
				t.Errorf("code %q retryable %v", se.Code, se.Retryable)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	s := NewOpenAI(credentials.Static("k"), Options{BaseURL: "http://127.0.0.1:1"})
	tests := []struct {
		name string
		req  Request
		is   error
	}{
		{"empty", Request{}, ErrEmptyText},
		{"too slow", Request{Text: "x", Speed: 0.1}, ErrInvalidSpeed},
		{"too fast", Request{Text: "x", Speed: 5}, ErrInvalidSpeed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Synthesize(context.Background(), tt.req)
			if !errors.Is(err, tt.is) {
				t.Fatalf("err = %v, want %v", err, tt.is)
			}
		})
	}
}

func TestSynthesizeCancelled(t *testing.T) {
	f := NewFake()
	f.SetDelay(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := f.Synthesize(ctx, Request{Text: "hello"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want canceled", err)
	}
}

func TestFakeTone(t *testing.T) {
	f := NewFake()
	p, err := f.Synthesize(context.Background(), Request{Text: "hello", Voice: "nova"})
	if err != nil {
		t.Fatal(err)
	}
	clip, err := p.Clip()
	if err != nil {
		t.Fatal(err)
	}
	if clip.Duration() != 200*time.Millisecond {
		t.Errorf("duration = %v", clip.Duration())
	}
	if reqs := f.Requests(); len(reqs) != 1 || reqs[0].Voice != "nova" || reqs[0].Speed != 1 {
		t.Errorf("requests = %+v", reqs)
	}
}

func TestClipRejectsUnknownFormat(t *testing.T) {
	p := &Payload{Bytes: []byte("ID3"), Format: "mp3"}
	if _, err := p.Clip(); err == nil {
		t.Fatal("expected error for mp3 payload")
	}
}
