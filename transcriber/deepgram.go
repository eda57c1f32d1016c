package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"intervox/credentials"
	"intervox/encoder"
	"intervox/internal/traced"
)

const deepgramURL = "https://api.deepgram.com/v1/listen"

// Deepgram uploads the WAV body directly rather than as a form.
type Deepgram struct {
	baseTranscriber
}

func NewDeepgram(keys credentials.KeySource, opts Options) *Deepgram {
	return &Deepgram{baseTranscriber: newBase("deepgram", deepgramURL, "nova-3", keys, opts)}
}

type deepgramResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
		Channels int     `json:"channels"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (d *Deepgram) endpoint() string {
	q := url.Values{}
	q.Set("model", d.model)
	q.Set("smart_format", "true")
	if d.lang != "" {
		q.Set("language", d.lang)
	} else {
		q.Set("detect_language", "true")
	}
	return d.apiURL + "?" + q.Encode()
}

func (d *Deepgram) Transcribe(ctx context.Context, p encoder.Payload) (*Result, error) {
	lease, err := d.begin(ctx, p)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	req, err := http.NewRequestWithContext(ctx, "POST", d.endpoint(), bytes.NewReader(p.Bytes))
	if err != nil {
		return nil, &TranscriptionError{Provider: d.name, Message: "building request", Cause: err}
	}
	req.Header.Set("Authorization", "Token "+lease.Value)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, transportError(d.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(d.name, resp.StatusCode, resp.Body)
	}

	var dgResp deepgramResponse
	if err := json.Unmarshal(resp.Body, &dgResp); err != nil {
		return nil, decodeError(d.name, err)
	}

	r := &Result{
		Metrics:  resp.Metrics,
		Duration: dgResp.Metadata.Duration,
	}
	if len(dgResp.Results.Channels) > 0 && len(dgResp.Results.Channels[0].Alternatives) > 0 {
		alt := dgResp.Results.Channels[0].Alternatives[0]
		r.Text = alt.Transcript
		r.Confidence = alt.Confidence
		r.HasConfidence = true
	}

	remaining := traced.FirstHeader(resp.Header,
		"x-dg-ratelimit-remaining", "x-ratelimit-remaining", "ratelimit-remaining")
	limit := traced.FirstHeader(resp.Header,
		"x-dg-ratelimit-limit", "x-ratelimit-limit", "ratelimit-limit")
	r.RateLimit = formatRateLimit(remaining, limit)

	return d.accept(r)
}
