package doctor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"golang.org/x/sync/errgroup"

	"intervox/audio"
	"intervox/internal/traced"
	"intervox/synth"
	"intervox/transcriber"
)

const checkTimeout = 20 * time.Second

type Options struct {
	Audio       audio.Context
	Device      *audio.DeviceInfo
	Synth       synth.Synthesizer
	Transcriber transcriber.Transcriber
	ServiceURL  string
	HTTP        *traced.Client
	// RecordFor is how long the microphone check listens. Default 3s.
	RecordFor time.Duration

	In  io.Reader
	Out io.Writer

	// Clipboard hooks; nil uses the system clipboard.
	WriteClipboard func(string) error
	ReadClipboard  func() (string, error)
}

// Run executes interactive diagnostic checks on the terminal and returns an
// exit code (0=all pass, 1=any fail).
func Run(opts Options) int {
	resetTerminal()
	ctx, stop := interruptContext(context.Background())
	defer stop()
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	ok := Check(ctx, opts)
	if ctx.Err() != nil {
		fmt.Fprintln(opts.Out, "\nInterrupted")
		return 1
	}
	if ok {
		return 0
	}
	return 1
}

// Check runs the unattended checks in parallel, then the ones that need a
// person at the microphone.
func Check(ctx context.Context, opts Options) bool {
	if opts.RecordFor <= 0 {
		opts.RecordFor = 3 * time.Second
	}
	if opts.WriteClipboard == nil {
		opts.WriteClipboard = clipboard.WriteAll
	}
	if opts.ReadClipboard == nil {
		opts.ReadClipboard = clipboard.ReadAll
	}
	if opts.HTTP == nil {
		opts.HTTP = traced.New()
	}
	out := opts.Out
	reader := bufio.NewReader(opts.In)

	fmt.Fprintln(out, "intervox doctor - interactive system diagnostics")
	fmt.Fprintln(out, "================================================")

	fmt.Fprintln(out)
	fmt.Fprintln(out, "[1/3] Session service, speech synthesis and clipboard")
	var clip audio.Clip
	results := make([]string, 3)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := checkService(gctx, opts.HTTP, opts.ServiceURL)
		results[0] = report("session service", err)
		return err
	})
	g.Go(func() error {
		var err error
		clip, err = checkSynthesis(gctx, opts.Synth)
		results[1] = report("speech synthesis", err)
		return err
	})
	g.Go(func() error {
		err := checkClipboard(opts.WriteClipboard, opts.ReadClipboard)
		results[2] = report("clipboard", err)
		return nil // a missing clipboard only disables copying the analysis
	})
	err := g.Wait()
	for _, r := range results {
		if r != "" {
			fmt.Fprintln(out, r)
		}
	}
	allPass := err == nil

	if allPass && !checkPlayback(ctx, opts, reader, clip) {
		allPass = false
	}
	if allPass && !checkMicAndTranscription(ctx, opts, reader) {
		allPass = false
	}

	fmt.Fprintln(out)
	if allPass {
		fmt.Fprintln(out, "All checks passed!")
	} else {
		fmt.Fprintln(out, "Some checks failed. See details above.")
	}
	return allPass
}

func report(name string, err error) string {
	switch {
	case err == nil:
		return "  PASS: " + name
	case errors.Is(err, context.Canceled):
		return ""
	}
	return fmt.Sprintf("  FAIL: %s: %v", name, err)
}

func checkService(ctx context.Context, c *traced.Client, url string) error {
	if url == "" {
		return errors.New("no service URL configured")
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", strings.TrimRight(url, "/")+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func checkSynthesis(ctx context.Context, s synth.Synthesizer) (audio.Clip, error) {
	if s == nil {
		return audio.Clip{}, errors.New("no synthesizer configured")
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	p, err := s.Synthesize(ctx, synth.Request{Text: "This is the intervox voice check."})
	if err != nil {
		return audio.Clip{}, err
	}
	return p.Clip()
}

func checkClipboard(write func(string) error, read func() (string, error)) error {
	const sample = "intervox-doctor-test"
	if err := write(sample); err != nil {
		return err
	}
	got, err := read()
	if err != nil {
		return err
	}
	if got != sample {
		return fmt.Errorf("read back %q", got)
	}
	return nil
}

func checkPlayback(ctx context.Context, opts Options, reader *bufio.Reader, clip audio.Clip) bool {
	out := opts.Out
	fmt.Fprintln(out)
	fmt.Fprintln(out, "[2/3] Question playback")
	fmt.Fprint(out, "Press Enter to hear a test question...")
	reader.ReadString('\n')

	pctx, cancel := context.WithTimeout(ctx, clip.Duration()+5*time.Second)
	defer cancel()
	if err := opts.Audio.Play(pctx, clip); err != nil {
		fmt.Fprintf(out, "  FAIL: playback error: %v\n", err)
		return false
	}
	if !confirm(out, reader, "Did you hear the voice? [y/n]: ") {
		fmt.Fprintln(out, "  FAIL: playback not confirmed")
		return false
	}
	fmt.Fprintln(out, "  PASS: playback verified by user")
	return true
}

func checkMicAndTranscription(ctx context.Context, opts Options, reader *bufio.Reader) bool {
	out := opts.Out
	fmt.Fprintln(out)
	fmt.Fprintln(out, "[3/3] Microphone and transcription")

	if opts.Device != nil {
		fmt.Fprintf(out, "Using device: %s\n", opts.Device.Name)
	}
	fmt.Fprintf(out, "Press Enter and answer for %.0f seconds: what did you have for breakfast?", opts.RecordFor.Seconds())
	reader.ReadString('\n')

	mgr := audio.NewManager(opts.Audio, opts.Device, audio.CaptureConfig{})
	rec, err := mgr.Start()
	if err != nil {
		fmt.Fprintf(out, "  FAIL: cannot open microphone: %v\n", err)
		return false
	}

	fmt.Fprint(out, "  Recording")
	ticker := time.NewTicker(500 * time.Millisecond)
	deadline := time.After(opts.RecordFor)
wait:
	for {
		select {
		case <-ticker.C:
			fmt.Fprint(out, ".")
		case <-deadline:
			break wait
		case <-ctx.Done():
			ticker.Stop()
			rec.Discard()
			return false
		}
	}
	ticker.Stop()
	fmt.Fprintln(out, " done")

	sctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	buf, err := rec.Stop(sctx)
	if err != nil {
		fmt.Fprintf(out, "  FAIL: recording error: %v\n", err)
		return false
	}
	payload, err := buf.Encode()
	if err != nil {
		fmt.Fprintf(out, "  FAIL: no audio captured: %v\n", err)
		return false
	}
	fmt.Fprintf(out, "  Recorded %.1f KB (peak level %.3f), transcribing...\n", float64(len(payload.Bytes))/1024, rec.Peak())

	res, err := opts.Transcriber.Transcribe(sctx, payload)
	if err != nil {
		fmt.Fprintf(out, "  FAIL: transcription error: %v\n", err)
		return false
	}

	fmt.Fprintf(out, "\n  Transcribed text: %s\n\n", strings.TrimSpace(res.Text))
	if !confirm(out, reader, "Is this correct? [y/n]: ") {
		fmt.Fprintln(out, "  FAIL: transcription not confirmed")
		return false
	}
	fmt.Fprintln(out, "  PASS: transcription verified by user")
	return true
}

func confirm(out io.Writer, reader *bufio.Reader, prompt string) bool {
	fmt.Fprint(out, prompt)
	answer, _ := reader.ReadString('\n')
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes"
}
