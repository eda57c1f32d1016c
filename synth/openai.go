package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"intervox/credentials"
	"intervox/encoder"
	"intervox/internal/traced"
)

const openAISpeechURL = "https://api.openai.com/v1/audio/speech"

type OpenAI struct {
	client *traced.Client
	apiURL string
	model  string
	keys   credentials.KeySource
}

type Options struct {
	BaseURL string
	Model   string
	Client  *traced.Client
}

func NewOpenAI(keys credentials.KeySource, opts Options) *OpenAI {
	s := &OpenAI{client: opts.Client, apiURL: openAISpeechURL, model: DefaultModel, keys: keys}
	if s.client == nil {
		s.client = traced.New()
	}
	if opts.BaseURL != "" {
		s.apiURL = opts.BaseURL
	}
	if opts.Model != "" {
		s.model = opts.Model
	}
	return s
}

func (s *OpenAI) Name() string { return "openai" }

type speechRequest struct {
	Model          string  `json:"model"`
	Voice          string  `json:"voice"`
	Input          string  `json:"input"`
	Speed          float64 `json:"speed"`
	ResponseFormat string  `json:"response_format"`
}

func (s *OpenAI) Synthesize(ctx context.Context, req Request) (*Payload, error) {
	if err := validate(s.Name(), &req); err != nil {
		return nil, err
	}

	lease, err := s.keys.Acquire(ctx)
	if err != nil {
		return nil, &SynthesisError{Provider: s.Name(), Code: CodeCredentials, Message: "api key unavailable", Cause: err}
	}
	defer lease.Release()

	body, err := json.Marshal(speechRequest{
		Model:          s.model,
		Voice:          req.Voice,
		Input:          req.Text,
		Speed:          req.Speed,
		ResponseFormat: "wav",
	})
	if err != nil {
		return nil, &SynthesisError{Provider: s.Name(), Code: CodeInvalid, Message: "encoding request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, &SynthesisError{Provider: s.Name(), Code: CodeInvalid, Message: "building request", Cause: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+lease.Value)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, transportError(s.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &SynthesisError{
			Provider:   s.Name(),
			Code:       CodeHTTP,
			Message:    fmt.Sprintf("API error %d: %s", resp.StatusCode, apiMessage(resp.Body)),
			StatusCode: resp.StatusCode,
			Retryable:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
	}

	_, f, err := encoder.DecodeWAV(resp.Body)
	if err != nil {
		return nil, &SynthesisError{Provider: s.Name(), Code: CodeDecode, Message: "unplayable audio", Cause: err}
	}
	return &Payload{
		Bytes:      resp.Body,
		Format:     "wav",
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		Speed:      1,
		Metrics:    resp.Metrics,
	}, nil
}

// apiMessage pulls error.message out of an OpenAI error body.
func apiMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	return s
}
