package transcriber

import (
	"context"
	"encoding/json"
	"net/http"

	"intervox/credentials"
	"intervox/encoder"
)

const groqURL = "https://api.groq.com/openai/v1/audio/transcriptions"

type Groq struct {
	baseTranscriber
}

func NewGroq(keys credentials.KeySource, opts Options) *Groq {
	return &Groq{baseTranscriber: newBase("groq", groqURL, "whisper-large-v3-turbo", keys, opts)}
}

type groqResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Text             string  `json:"text"`
		Start            float64 `json:"start"`
		End              float64 `json:"end"`
		NoSpeechProb     float64 `json:"no_speech_prob"`
		AvgLogProb       float64 `json:"avg_logprob"`
		CompressionRatio float64 `json:"compression_ratio"`
		Temperature      float64 `json:"temperature"`
	} `json:"segments"`
}

func (g *Groq) Transcribe(ctx context.Context, p encoder.Payload) (*Result, error) {
	lease, err := g.begin(ctx, p)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	req, err := multipartRequest(ctx, g.apiURL, p.Bytes, g.model, "verbose_json", g.lang)
	if err != nil {
		return nil, &TranscriptionError{Provider: g.name, Message: "building request", Cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+lease.Value)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, transportError(g.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(g.name, resp.StatusCode, resp.Body)
	}

	var gResp groqResponse
	if err := json.Unmarshal(resp.Body, &gResp); err != nil {
		return nil, decodeError(g.name, err)
	}

	r := &Result{
		Text:      gResp.Text,
		Metrics:   resp.Metrics,
		RateLimit: rateLimit(resp),
		Duration:  gResp.Duration,
	}
	if len(gResp.Segments) > 0 {
		var logProbSum float64
		for _, seg := range gResp.Segments {
			if seg.NoSpeechProb > r.NoSpeechProb {
				r.NoSpeechProb = seg.NoSpeechProb
			}
			logProbSum += seg.AvgLogProb
			r.Segments = append(r.Segments, Segment{
				Text:             seg.Text,
				NoSpeechProb:     seg.NoSpeechProb,
				AvgLogProb:       seg.AvgLogProb,
				CompressionRatio: seg.CompressionRatio,
				Temperature:      seg.Temperature,
				Start:            seg.Start,
				End:              seg.End,
			})
		}
		r.AvgLogProb = logProbSum / float64(len(gResp.Segments))
		r.Confidence = confidenceFromLogProb(r.AvgLogProb)
		r.HasConfidence = true
	}
	return g.accept(r)
}
