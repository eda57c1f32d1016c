package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const EnvLogPath = "INTERVOX_LOG_PATH"

var (
	diagLog       zerolog.Logger
	diagFile      *os.File
	interviewFile *os.File
	logMu         sync.Mutex
	logReady      bool
	pid           int
	dir           string
)

// Metrics describes one transcription round trip.
type Metrics struct {
	AudioLengthS float64
	WAVSizeKB    float64
	EncodeTimeMs float64
	DNSTimeMs    float64
	TLSTimeMs    float64
	TTFBMs       float64
	TotalTimeMs  float64
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absolute(flagPath)
	}

	// Priority 2: INTERVOX_LOG_PATH environment variable
	if envPath := os.Getenv(EnvLogPath); envPath != "" {
		return absolute(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	interviewPath := filepath.Join(dir, "interview_log.txt")
	interviewFile, err = os.OpenFile(interviewPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if interviewFile != nil {
		interviewFile.Close()
		interviewFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func Transition(from, to, turn string) {
	if !logReady {
		return
	}
	diagLog.Debug().
		Str("from", from).
		Str("to", to).
		Str("turn", turn).
		Msg("transition")
}

func TranscriptionMetrics(m Metrics, provider string, connReused bool, tlsProto string) {
	if !logReady {
		return
	}

	connStatus := "new"
	if connReused {
		connStatus = "reused"
	}

	ev := diagLog.Info().
		Str("provider", provider).
		Str("conn", connStatus)
	if tlsProto != "" {
		ev = ev.Str("tls_proto", tlsProto)
	}
	ev.Float64("audio_s", m.AudioLengthS).
		Float64("wav_kb", m.WAVSizeKB).
		Float64("encode_ms", m.EncodeTimeMs).
		Float64("dns_ms", m.DNSTimeMs).
		Float64("tls_ms", m.TLSTimeMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalTimeMs).
		Msg("transcription")
}

func SynthesisMetrics(provider, voice string, chars int, audioS, totalMs float64) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("provider", provider).
		Str("voice", voice).
		Int("chars", chars).
		Float64("audio_s", audioS).
		Float64("total_ms", totalMs).
		Msg("synthesis")
}

// Exchange appends one answered question to interview_log.txt.
func Exchange(question, response string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if interviewFile == nil {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(interviewFile, "%s\t[%d]\tQ\t%s\n", ts, pid, oneLine(question))
	fmt.Fprintf(interviewFile, "%s\t[%d]\tA\t%s\n", ts, pid, oneLine(response))
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func Confidence(confidence float64) {
	if !logReady {
		return
	}
	if confidence > 0 {
		diagLog.Info().Float64("confidence", confidence).Msg("api_confidence")
	}
}

func SessionStart(sessionID, mode, provider string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Str("mode", mode).
		Str("provider", provider).
		Msg("session_start")
}

func SessionEnd(exchanges int, status string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("exchanges", exchanges).
		Str("status", status).
		Msg("session_end")
}
