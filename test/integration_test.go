//go:build integration

package test_test

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

var testBinary string

func TestMain(m *testing.M) {
	testBinary = os.Getenv("INTERVOX_TEST_BIN")
	if testBinary == "" {
		fmt.Fprintln(os.Stderr, "INTERVOX_TEST_BIN not set; build the binary and point the variable at it")
		os.Exit(1)
	}

	if err := os.MkdirAll("data", 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "creating data dir: %v\n", err)
		os.Exit(1)
	}
	silencePath := filepath.Join("data", "silence.wav")
	tonePath := filepath.Join("data", "tone.wav")
	if err := writeWAV(silencePath, 16000, 1.0, 0); err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate silence.wav: %v\n", err)
		os.Exit(1)
	}
	if err := writeWAV(tonePath, 16000, 1.0, 440); err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate tone.wav: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	os.Remove(silencePath)
	os.Remove(tonePath)
	os.Exit(code)
}

// writeWAV writes 16-bit mono PCM. freq 0 is silence.
func writeWAV(path string, sampleRate int, durationS float64, freq float64) error {
	const headerSize = 44
	numSamples := int(float64(sampleRate) * durationS)
	dataSize := numSamples * 2

	buf := make([]byte, headerSize+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(headerSize-8+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)  // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16) // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	for i := 0; i < numSamples; i++ {
		v := int16(0.5 * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(buf[headerSize+i*2:], uint16(v))
	}
	return os.WriteFile(path, buf, 0644)
}

const projectYAML = `project:
  project_name: Checkout
  goal: discovery
  target_audience: shop owners
`

func cmds(parts ...string) string {
	return strings.Join(parts, "\n") + "\n"
}

type run struct {
	logDir     string
	resultsDir string
	output     string
}

func runIntervox(t *testing.T, stdin string, args ...string) run {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "intervox.yaml")
	if err := os.WriteFile(cfgPath, []byte(projectYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	r := run{logDir: filepath.Join(dir, "logs"), resultsDir: filepath.Join(dir, "results")}
	cmdArgs := append([]string{"-logpath", r.logDir, "-config", cfgPath, "-results", r.resultsDir}, args...)

	cmd := exec.Command(testBinary, cmdArgs...)
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Env = append(os.Environ(), "XDG_CONFIG_HOME="+dir)

	out, err := cmd.CombinedOutput()
	r.output = string(out)
	if err != nil {
		t.Fatalf("intervox exited with error: %v\noutput: %s", err, out)
	}
	return r
}

func readLog(t *testing.T, logDir, filename string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(logDir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return ""
		}
		t.Fatalf("failed to read %s: %v", filename, err)
	}
	return string(data)
}

func TestDirectInterviewFinishesEarly(t *testing.T) {
	r := runIntervox(t, cmds(
		"WAIT recording_response", "SLEEP 100", "STOP", "WAIT response_ready", "SUBMIT",
		"WAIT recording_response", "SLEEP 100", "STOP", "WAIT response_ready", "SUBMIT",
		"WAIT recording_response", "FINISH",
		"WAIT completed", "QUIT",
	), "-fake", "-provider", "fake", "-mode", "direct", "-test", "data/tone.wav")

	if !strings.Contains(r.output, "ANALYSIS: Interview covered 2 questions.") {
		t.Errorf("no analysis in output:\n%s", r.output)
	}
	transcript := readLog(t, r.logDir, "interview_log.txt")
	if n := strings.Count(transcript, "\tQ\t"); n != 2 {
		t.Errorf("interview_log.txt has %d questions, want 2:\n%s", n, transcript)
	}
	diag := readLog(t, r.logDir, "diagnostics_log.txt")
	for _, want := range []string{"session_start", "transition", "session_end"} {
		if !strings.Contains(diag, want) {
			t.Errorf("diagnostics missing %q", want)
		}
	}
	results, _ := filepath.Glob(filepath.Join(r.resultsDir, "interview_*.json"))
	if len(results) != 1 {
		t.Errorf("results files: %v", results)
	}
}

func TestVoiceSilenceEndsAnswer(t *testing.T) {
	r := runIntervox(t, cmds(
		"WAIT speaking_question", "WAIT recording_response", "WAIT response_ready", "QUIT",
	), "-fake", "-provider", "fake", "-mode", "voice", "-test", "data/tone.wav")

	diag := readLog(t, r.logDir, "diagnostics_log.txt")
	if !strings.Contains(diag, "silence_auto_stop") {
		t.Errorf("expected the silence detector to end the answer:\n%s", diag)
	}
}

func TestChatRejectsFinishBeforeTwoAnswers(t *testing.T) {
	r := runIntervox(t, cmds(
		"WAIT recording_response", "FINISH", "SUBMIT", "SUBMIT first", "WAIT idle", "QUIT",
	), "-fake", "-provider", "fake", "-mode", "chat", "-test", "data/silence.wav")

	if strings.Count(r.output, "REJECTED:") != 2 {
		t.Errorf("expected two rejections:\n%s", r.output)
	}
}

func TestArchiveKeepsAnswers(t *testing.T) {
	archive := t.TempDir()
	runIntervox(t, cmds(
		"WAIT recording_response", "SLEEP 100", "STOP", "WAIT response_ready", "SUBMIT", "WAIT idle", "QUIT",
	), "-fake", "-provider", "fake", "-mode", "direct", "-archive", archive, "-test", "data/tone.wav")

	files, _ := filepath.Glob(filepath.Join(archive, "answer_*.flac"))
	if len(files) != 1 {
		t.Errorf("archived files: %v", files)
	}
}

func TestOpenAITranscription(t *testing.T) {
	if os.Getenv("OPENAI_API_KEY") == "" {
		t.Skip("OPENAI_API_KEY not set")
	}
	r := runIntervox(t, cmds(
		"WAIT recording_response", "SLEEP 100", "STOP", "WAIT transcribing", "SLEEP 15000", "QUIT",
	), "-fake", "-mode", "direct", "-provider", "openai", "-test", "data/tone.wav")
	_ = readLog(t, r.logDir, "diagnostics_log.txt")
}
