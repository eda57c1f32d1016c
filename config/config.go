// Package config loads intervox settings: built-in defaults, then an
// optional YAML file, then environment variables. Command-line flags are
// applied last by main.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"intervox/session"
	"intervox/synth"
)

const DefaultFile = "intervox.yaml"

type VAD struct {
	Threshold float64       `yaml:"threshold"`
	Timeout   time.Duration `yaml:"timeout"`
	LeadIn    time.Duration `yaml:"lead_in"`
}

type Timeouts struct {
	Synthesis     time.Duration `yaml:"synthesis"`
	Transcription time.Duration `yaml:"transcription"`
	Submit        time.Duration `yaml:"submit"`
	ExpiryGrace   time.Duration `yaml:"expiry_grace"`
}

// Keys never come from the YAML file.
type Keys struct {
	OpenAI   string `yaml:"-"`
	Groq     string `yaml:"-"`
	Deepgram string `yaml:"-"`
}

type Config struct {
	ServiceURL string                `yaml:"service_url"`
	Project    session.ProjectConfig `yaml:"project"`

	Provider      string  `yaml:"provider"`
	Model         string  `yaml:"model"`
	Language      string  `yaml:"language"`
	MinConfidence float64 `yaml:"min_confidence"`

	Voice      string  `yaml:"voice"`
	Speed      float64 `yaml:"speed"`
	TTSModel   string  `yaml:"tts_model"`
	NoPlayback bool    `yaml:"no_playback"`
	AutoSubmit bool    `yaml:"auto_submit"`
	Beep       bool    `yaml:"beep"`

	Device     string `yaml:"device"`
	ResultsDir string `yaml:"results_dir"`
	ArchiveDir string `yaml:"archive_dir"`
	LogPath    string `yaml:"log_path"`
	Metrics    string `yaml:"metrics"`

	VAD      VAD      `yaml:"vad"`
	Timeouts Timeouts `yaml:"timeouts"`
	Keys     Keys     `yaml:"-"`
}

var Providers = []string{"openai", "groq", "deepgram", "fake"}

func Default() *Config {
	return &Config{
		ServiceURL: "http://localhost:8000",
		Project:    session.ProjectConfig{Mode: session.ModeVoice},
		Provider:   "openai",
		Language:   "en",
		Voice:      synth.DefaultVoice,
		Speed:      1,
		TTSModel:   synth.DefaultModel,
		Beep:       true,
		ResultsDir: "results",
		VAD: VAD{
			Threshold: 0.01,
			Timeout:   1500 * time.Millisecond,
		},
		Timeouts: Timeouts{
			Synthesis:     20 * time.Second,
			Transcription: 30 * time.Second,
			Submit:        60 * time.Second,
			ExpiryGrace:   2 * time.Second,
		},
	}
}

// Load reads path over the defaults and applies the environment. An empty
// path means DefaultFile in the working directory, which may be absent.
func Load(path string) (*Config, error) {
	c := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := c.parse(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, err
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) parse(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from INTERVOX_* variables and the provider key
// variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"INTERVOX_SERVICE_URL": &c.ServiceURL,
		"INTERVOX_PROVIDER":    &c.Provider,
		"INTERVOX_MODEL":       &c.Model,
		"INTERVOX_LANG":        &c.Language,
		"INTERVOX_VOICE":       &c.Voice,
		"INTERVOX_DEVICE":      &c.Device,
		"INTERVOX_RESULTS_DIR": &c.ResultsDir,
		"INTERVOX_ARCHIVE_DIR": &c.ArchiveDir,
		"INTERVOX_METRICS":     &c.Metrics,
		"OPENAI_API_KEY":       &c.Keys.OpenAI,
		"GROQ_API_KEY":         &c.Keys.Groq,
		"DEEPGRAM_API_KEY":     &c.Keys.Deepgram,
	}
	for name, dst := range str {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("INTERVOX_MODE"); ok && v != "" {
		c.Project.Mode = session.Mode(v)
	}
	if v, ok := lookup("INTERVOX_SPEED"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("INTERVOX_SPEED: %w", err)
		}
		c.Speed = f
	}
	for name, dst := range map[string]*bool{
		"INTERVOX_AUTOSUBMIT":  &c.AutoSubmit,
		"INTERVOX_NO_PLAYBACK": &c.NoPlayback,
	} {
		if v, ok := lookup(name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = b
		}
	}
	return nil
}

// Validate checks everything except the project block, which is validated
// when the interview starts so the user can be prompted for missing fields.
func (c *Config) Validate() error {
	var problems []string
	if !slices.Contains(Providers, c.Provider) {
		problems = append(problems, fmt.Sprintf("provider %q is not one of %s", c.Provider, strings.Join(Providers, ", ")))
	}
	if c.Project.Mode != "" && !c.Project.Mode.Valid() {
		problems = append(problems, fmt.Sprintf("mode %q is not chat, voice or direct", c.Project.Mode))
	}
	if c.Speed < synth.MinSpeed || c.Speed > synth.MaxSpeed {
		problems = append(problems, fmt.Sprintf("speed %.2f outside %.2f..%.2f", c.Speed, synth.MinSpeed, synth.MaxSpeed))
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		problems = append(problems, "min_confidence must be between 0 and 1")
	}
	if c.VAD.Threshold < 0 || c.VAD.Threshold > 1 {
		problems = append(problems, "vad.threshold must be between 0 and 1")
	}
	if c.VAD.Timeout < 0 || c.Timeouts.Synthesis < 0 || c.Timeouts.Transcription < 0 || c.Timeouts.Submit < 0 {
		problems = append(problems, "durations must not be negative")
	}
	if c.ServiceURL == "" && c.Provider != "fake" {
		problems = append(problems, "service_url is required")
	}
	if len(problems) > 0 {
		return errors.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// ProviderKey is the environment key for the configured transcription
// provider. OpenAI keys may also arrive from the session service.
func (c *Config) ProviderKey() string {
	switch c.Provider {
	case "groq":
		return c.Keys.Groq
	case "deepgram":
		return c.Keys.Deepgram
	}
	return c.Keys.OpenAI
}
