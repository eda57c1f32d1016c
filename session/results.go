package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Results struct {
	SessionID           string        `json:"session_id,omitempty"`
	ProjectInfo         ProjectConfig `json:"project_info"`
	ConversationHistory []QAPair      `json:"conversation_history"`
	Analysis            *Analysis     `json:"analysis"`
	SavedAt             time.Time     `json:"saved_at"`
}

// SaveResults writes r to dir as interview_YYYYMMDD_HHMMSS.json and returns
// the path.
func SaveResults(dir string, r Results) (string, error) {
	if r.SavedAt.IsZero() {
		r.SavedAt = time.Now()
	}
	if r.ConversationHistory == nil {
		r.ConversationHistory = []QAPair{}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("results dir: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	name := "interview_" + r.SavedAt.Format("20060102_150405") + ".json"
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write results: %w", err)
	}
	return path, nil
}
