package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"intervox/session"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultsValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	data := `
service_url: https://research.example.com
provider: groq
speed: 1.25
auto_submit: true
project:
  project_name: Billing
  goal: diagnostic
  target_audience: finance leads
  problem_area: month-end close
  mode: direct
vad:
  threshold: 0.02
  timeout: 2s
timeouts:
  transcription: 45s
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("INTERVOX_VOICE", "nova")

	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.ServiceURL != "https://research.example.com" || c.Provider != "groq" || c.Speed != 1.25 || !c.AutoSubmit {
		t.Errorf("top level = %+v", c)
	}
	if c.Project.Goal != "diagnostic" || c.Project.ProblemArea != "month-end close" || c.Project.Mode != session.ModeDirect {
		t.Errorf("project = %+v", c.Project)
	}
	if c.VAD.Timeout != 2*time.Second || c.VAD.Threshold != 0.02 {
		t.Errorf("vad = %+v", c.VAD)
	}
	if c.Timeouts.Transcription != 45*time.Second || c.Timeouts.Submit != 60*time.Second {
		t.Errorf("timeouts = %+v", c.Timeouts)
	}
	if c.Voice != "nova" {
		t.Errorf("voice = %q, env should win", c.Voice)
	}
}

func TestLoadMissing(t *testing.T) {
	wd, _ := os.Getwd()
	t.Cleanup(func() { os.Chdir(wd) })
	os.Chdir(t.TempDir())

	if _, err := Load(""); err != nil {
		t.Errorf("absent default file: %v", err)
	}
	if _, err := Load("nope.yaml"); err == nil {
		t.Error("expected error for missing explicit file")
	}
}

func TestLoadUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("provder: groq\n"), 0o644)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "provder") {
		t.Errorf("err = %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	c := Default()
	err := c.ApplyEnv(env(map[string]string{
		"INTERVOX_MODE":       "chat",
		"INTERVOX_SPEED":      "0.75",
		"INTERVOX_AUTOSUBMIT": "true",
		"GROQ_API_KEY":        "gsk",
		"INTERVOX_PROVIDER":   "groq",
		"INTERVOX_LANG":       "",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if c.Project.Mode != session.ModeChat || c.Speed != 0.75 || !c.AutoSubmit {
		t.Errorf("config = %+v", c)
	}
	if c.Language != "en" {
		t.Errorf("empty variable overrode language: %q", c.Language)
	}
	if c.ProviderKey() != "gsk" {
		t.Errorf("provider key = %q", c.ProviderKey())
	}

	if err := c.ApplyEnv(env(map[string]string{"INTERVOX_SPEED": "fast"})); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Config)
		want string
	}{
		{"provider", func(c *Config) { c.Provider = "whisper.cpp" }, "provider"},
		{"speed", func(c *Config) { c.Speed = 9 }, "speed"},
		{"mode", func(c *Config) { c.Project.Mode = "video" }, "mode"},
		{"confidence", func(c *Config) { c.MinConfidence = 2 }, "min_confidence"},
		{"service", func(c *Config) { c.ServiceURL = "" }, "service_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.edit(c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %s", err, tt.want)
			}
		})
	}
}
