package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"intervox/internal/traced"
)

const (
	StatusReschedule = "reschedule"
	StatusEnded      = "ended"
)

type StartReply struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
	APIKey    string `json:"api_key"`
}

type SubmitReply struct {
	Question  string    `json:"question"`
	CanFinish bool      `json:"can_finish"`
	Status    string    `json:"status"`
	Analysis  *Analysis `json:"analysis"`
}

// Service is the remote interview backend.
type Service interface {
	StartProject(ctx context.Context, cfg ProjectConfig) (*StartReply, error)
	SubmitResponse(ctx context.Context, sessionID, response string) (*SubmitReply, error)
	Analyze(ctx context.Context, sessionID string) (*Analysis, error)
}

// Client talks to the session service over HTTP.
type Client struct {
	baseURL string
	http    *traced.Client
}

func NewClient(baseURL string, c *traced.Client) *Client {
	if c == nil {
		c = traced.New()
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: c}
}

func (c *Client) StartProject(ctx context.Context, cfg ProjectConfig) (*StartReply, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := []struct{ k, v string }{
		{"project_name", cfg.ProjectName},
		{"goal", cfg.Goal},
		{"target_audience", cfg.TargetAudience},
		{"mode", string(cfg.Mode)},
		{"current_solution", cfg.CurrentSolution},
		{"problem_area", cfg.ProblemArea},
	}
	for _, f := range fields {
		if f.v == "" {
			continue
		}
		if err := w.WriteField(f.k, f.v); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	var reply StartReply
	if err := c.post(ctx, "start-project", "/api/start-project", w.FormDataContentType(), &body, &reply); err != nil {
		return nil, err
	}
	if reply.SessionID == "" {
		return nil, &ServiceError{Op: "start-project", StatusCode: http.StatusOK, Detail: "reply has no session_id"}
	}
	return &reply, nil
}

func (c *Client) SubmitResponse(ctx context.Context, sessionID, response string) (*SubmitReply, error) {
	payload, err := json.Marshal(map[string]string{"response": response})
	if err != nil {
		return nil, err
	}
	var reply SubmitReply
	path := "/api/submit-response/" + url.PathEscape(sessionID)
	if err := c.post(ctx, "submit-response", path, "application/json", bytes.NewReader(payload), &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *Client) Analyze(ctx context.Context, sessionID string) (*Analysis, error) {
	var reply struct {
		Analysis *Analysis `json:"analysis"`
	}
	path := "/api/analyze/" + url.PathEscape(sessionID)
	if err := c.post(ctx, "analyze", path, "", nil, &reply); err != nil {
		return nil, err
	}
	if reply.Analysis == nil {
		return nil, &ServiceError{Op: "analyze", StatusCode: http.StatusOK, Detail: "reply has no analysis"}
	}
	return reply.Analysis, nil
}

func (c *Client) post(ctx context.Context, op, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, body)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := errorDetail(resp.Body)
		// The reference backend wraps its 404 inside a generic 500 handler,
		// so the detail text is checked as well as the status.
		if resp.StatusCode == http.StatusNotFound || strings.Contains(strings.ToLower(detail), "session not found") {
			return fmt.Errorf("%s: %w", op, ErrSessionExpired)
		}
		return &ServiceError{Op: op, StatusCode: resp.StatusCode, Detail: detail}
	}

	if err := json.Unmarshal(resp.Body, out); err != nil {
		return &ServiceError{Op: op, StatusCode: resp.StatusCode, Detail: "malformed reply: " + err.Error()}
	}
	return nil
}

func errorDetail(body []byte) string {
	var e struct {
		Detail any `json:"detail"`
	}
	if json.Unmarshal(body, &e) == nil && e.Detail != nil {
		if s, ok := e.Detail.(string); ok {
			return s
		}
		b, _ := json.Marshal(e.Detail)
		return string(b)
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
