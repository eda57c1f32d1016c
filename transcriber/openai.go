package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"

	"intervox/credentials"
	"intervox/encoder"
	"intervox/internal/traced"
)

const openAIURL = "https://api.openai.com/v1/audio/transcriptions"

type OpenAI struct {
	baseTranscriber
}

func NewOpenAI(keys credentials.KeySource, opts Options) *OpenAI {
	return &OpenAI{baseTranscriber: newBase("openai", openAIURL, "gpt-4o-transcribe", keys, opts)}
}

func (o *OpenAI) Transcribe(ctx context.Context, p encoder.Payload) (*Result, error) {
	lease, err := o.begin(ctx, p)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	req, err := multipartRequest(ctx, o.apiURL, p.Bytes, o.model, "json", o.lang)
	if err != nil {
		return nil, &TranscriptionError{Provider: o.name, Message: "building request", Cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+lease.Value)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, transportError(o.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(o.name, resp.StatusCode, resp.Body)
	}

	var oResp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(resp.Body, &oResp); err != nil {
		return nil, decodeError(o.name, err)
	}

	return o.accept(&Result{
		Text:      oResp.Text,
		Metrics:   resp.Metrics,
		RateLimit: rateLimit(resp),
	})
}

// multipartRequest builds the upload shared by the OpenAI-compatible
// providers.
func multipartRequest(ctx context.Context, url string, wav []byte, model, format, lang string) (*http.Request, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(wav); err != nil {
		return nil, err
	}

	writer.WriteField("model", model)
	writer.WriteField("response_format", format)
	if lang != "" {
		writer.WriteField("language", lang)
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req, nil
}

func rateLimit(resp *traced.Response) string {
	return formatRateLimit(
		traced.FirstHeader(resp.Header, "x-ratelimit-remaining-requests"),
		traced.FirstHeader(resp.Header, "x-ratelimit-limit-requests"))
}

// formatRateLimit is "remaining/limit", or empty when the provider sent
// neither.
func formatRateLimit(remaining, limit string) string {
	if remaining == "" && limit == "" {
		return ""
	}
	return remaining + "/" + limit
}
