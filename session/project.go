package session

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

type Mode string

const (
	ModeChat   Mode = "chat"
	ModeVoice  Mode = "voice"
	ModeDirect Mode = "direct"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeChat, ModeVoice, ModeDirect:
		return true
	}
	return false
}

const (
	GoalDiscovery   = "discovery"
	GoalImprovement = "improvement"
	GoalDiagnostic  = "diagnostic"
)

// ProjectConfig is what the user fills in before an interview starts.
type ProjectConfig struct {
	ProjectName     string `json:"project_name" yaml:"project_name"`
	Goal            string `json:"goal" yaml:"goal"`
	TargetAudience  string `json:"target_audience" yaml:"target_audience"`
	Mode            Mode   `json:"mode,omitempty" yaml:"mode"`
	CurrentSolution string `json:"current_solution,omitempty" yaml:"current_solution"`
	ProblemArea     string `json:"problem_area,omitempty" yaml:"problem_area"`
}

// Validate trims every field in place and reports all missing ones at once.
func (p *ProjectConfig) Validate() error {
	p.ProjectName = strings.TrimSpace(p.ProjectName)
	p.Goal = strings.ToLower(strings.TrimSpace(p.Goal))
	p.TargetAudience = strings.TrimSpace(p.TargetAudience)
	p.CurrentSolution = strings.TrimSpace(p.CurrentSolution)
	p.ProblemArea = strings.TrimSpace(p.ProblemArea)
	if p.Mode == "" {
		p.Mode = ModeVoice
	}

	verr := &ValidationError{}
	if p.ProjectName == "" {
		verr.add("project_name", "required")
	}
	switch p.Goal {
	case "":
		verr.add("goal", "required")
	case GoalDiscovery:
	case GoalImprovement:
		if p.CurrentSolution == "" {
			verr.add("current_solution", "required when goal is improvement")
		}
	case GoalDiagnostic:
		if p.ProblemArea == "" {
			verr.add("problem_area", "required when goal is diagnostic")
		}
	default:
		verr.add("goal", "must be discovery, improvement or diagnostic")
	}
	if p.TargetAudience == "" {
		verr.add("target_audience", "required")
	}
	if !p.Mode.Valid() {
		verr.add("mode", "must be chat, voice or direct")
	}
	if len(verr.Problems) > 0 {
		return verr
	}
	return nil
}

type QAPair struct {
	Question  string    `json:"question"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}

// Analysis is the service's verdict, kept as the JSON it arrived in.
type Analysis struct {
	Raw json.RawMessage
}

func (a *Analysis) UnmarshalJSON(b []byte) error {
	a.Raw = append(json.RawMessage(nil), b...)
	return nil
}

func (a Analysis) MarshalJSON() ([]byte, error) {
	if len(a.Raw) == 0 {
		return []byte("null"), nil
	}
	return a.Raw, nil
}

// Text renders a string analysis as-is and anything else as indented JSON.
func (a *Analysis) Text() string {
	if a == nil || len(a.Raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(a.Raw, &s) == nil {
		return s
	}
	var buf bytes.Buffer
	if json.Indent(&buf, a.Raw, "", "  ") != nil {
		return string(a.Raw)
	}
	return buf.String()
}
