package transcriber

import (
	"context"
	"fmt"
	"math"
	"strings"

	"intervox/credentials"
	"intervox/encoder"
	"intervox/internal/traced"
)

// MaxPayloadBytes is the largest upload accepted by the providers.
const MaxPayloadBytes = 10 << 20

type Segment struct {
	Text             string
	NoSpeechProb     float64
	AvgLogProb       float64
	CompressionRatio float64
	Temperature      float64
	Start            float64
	End              float64
}

type Result struct {
	Text          string
	Confidence    float64
	HasConfidence bool
	Metrics       *traced.Metrics
	RateLimit     string
	NoSpeechProb  float64
	AvgLogProb    float64
	Duration      float64
	Segments      []Segment
}

type Transcriber interface {
	Name() string
	SetLanguage(lang string)
	GetLanguage() string
	Transcribe(ctx context.Context, p encoder.Payload) (*Result, error)
}

type Options struct {
	// BaseURL replaces the provider endpoint, mostly for tests.
	BaseURL  string
	Model    string
	Language string
	// MinConfidence rejects results whose provider confidence is below it.
	// Zero accepts any non-empty text.
	MinConfidence float64
	Client        *traced.Client
}

type baseTranscriber struct {
	name          string
	client        *traced.Client
	apiURL        string
	model         string
	lang          string
	keys          credentials.KeySource
	minConfidence float64
}

func newBase(name, defaultURL, defaultModel string, keys credentials.KeySource, opts Options) baseTranscriber {
	b := baseTranscriber{
		name:          name,
		client:        opts.Client,
		apiURL:        defaultURL,
		model:         defaultModel,
		lang:          opts.Language,
		keys:          keys,
		minConfidence: opts.MinConfidence,
	}
	if b.client == nil {
		b.client = traced.New()
	}
	if opts.BaseURL != "" {
		b.apiURL = opts.BaseURL
	}
	if opts.Model != "" {
		b.model = opts.Model
	}
	return b
}

func (b *baseTranscriber) Name() string { return b.name }

func (b *baseTranscriber) SetLanguage(lang string) { b.lang = lang }

func (b *baseTranscriber) GetLanguage() string { return b.lang }

// begin rejects oversized payloads before anything touches the network and
// then leases the API key for the duration of the call.
func (b *baseTranscriber) begin(ctx context.Context, p encoder.Payload) (*credentials.Lease, error) {
	if err := CheckPayload(p); err != nil {
		return nil, err
	}
	lease, err := b.keys.Acquire(ctx)
	if err != nil {
		return nil, &TranscriptionError{Provider: b.name, Code: CodeCredentials, Message: "api key unavailable", Cause: err}
	}
	return lease, nil
}

// accept turns empty and low-confidence results into errors so a turn never
// advances on nothing.
func (b *baseTranscriber) accept(r *Result) (*Result, error) {
	r.Text = strings.TrimSpace(r.Text)
	if r.Text == "" {
		return r, &TranscriptionError{Provider: b.name, Code: CodeEmpty, Message: "no speech recognized"}
	}
	if r.HasConfidence && r.Confidence < b.minConfidence {
		return r, &TranscriptionError{
			Provider: b.name,
			Code:     CodeLowConfidence,
			Message:  fmt.Sprintf("confidence %.2f below %.2f", r.Confidence, b.minConfidence),
		}
	}
	return r, nil
}

// CheckPayload enforces the upload ceiling.
func CheckPayload(p encoder.Payload) error {
	if len(p.Bytes) > MaxPayloadBytes {
		return &PayloadTooLargeError{Size: len(p.Bytes), Limit: MaxPayloadBytes}
	}
	if len(p.Bytes) <= encoder.HeaderSize {
		return &TranscriptionError{Code: CodeEmpty, Message: "payload has no audio", Cause: ErrEmptyAudio}
	}
	return nil
}

// confidenceFromLogProb maps a mean token log-probability to (0, 1].
func confidenceFromLogProb(lp float64) float64 {
	return math.Exp(min(lp, 0))
}

// New builds the named provider.
func New(provider string, keys credentials.KeySource, opts Options) (Transcriber, error) {
	switch provider {
	case "", "openai":
		return NewOpenAI(keys, opts), nil
	case "groq":
		return NewGroq(keys, opts), nil
	case "deepgram":
		return NewDeepgram(keys, opts), nil
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", provider)
	}
}
