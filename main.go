package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"

	"intervox/audio"
	"intervox/beep"
	"intervox/config"
	"intervox/credentials"
	"intervox/doctor"
	"intervox/internal/traced"
	"intervox/log"
	"intervox/metrics"
	"intervox/session"
	"intervox/shutdown"
	"intervox/synth"
	"intervox/transcriber"
	"intervox/turn"
	"intervox/vad"
)

var version = "dev"

var fakeQuestions = []string{
	"Tell me about the last time you ran into this problem.",
	"What did you try first?",
	"What made that hard?",
	"How do you handle it today?",
	"If you could change one thing, what would it be?",
	"Is there anything else we should know?",
}

// app holds everything one interview needs besides the session itself.
type app struct {
	cfg     *config.Config
	audio   audio.Context
	device  *audio.DeviceInfo
	synth   synth.Synthesizer
	stt     transcriber.Transcriber
	service session.Service
	keys    *credentials.Vault
	metrics *metrics.Metrics
}

func main() {
	os.Exit(run())
}

func run() int {
	configFlag := flag.String("config", "", "YAML config file (default: ./"+config.DefaultFile+" if present)")
	modeFlag := flag.String("mode", "", "Interview mode: voice, direct or chat")
	providerFlag := flag.String("provider", "", "Transcription provider: openai, groq, deepgram or fake")
	voiceFlag := flag.String("voice", "", "Voice for spoken questions")
	speedFlag := flag.Float64("speed", 0, "Speech speed (0.25 to 4.0)")
	langFlag := flag.String("lang", "", "Language code for transcription (e.g., en, es, fr). Empty = auto-detect")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	autoSubmitFlag := flag.Bool("autosubmit", false, "Submit transcripts without confirmation")
	noPlaybackFlag := flag.Bool("no-playback", false, "Show questions without speaking them")
	resultsFlag := flag.String("results", "", "Directory for interview results")
	archiveFlag := flag.String("archive", "", "Keep a FLAC copy of every answer in this directory")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	metricsFlag := flag.String("metrics", "", "Serve Prometheus metrics on this address (e.g., :9090)")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	testFlag := flag.String("test", "", "Headless stdin-driven run replaying this WAV file as the microphone")
	fakeFlag := flag.Bool("fake", false, "Use the in-memory session service (and fake speech providers when no key is set)")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("intervox %s\n", version)
		return 0
	}

	// Resolve log directory early
	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	if crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Project.Mode = session.Mode(*modeFlag)
		case "provider":
			cfg.Provider = *providerFlag
		case "voice":
			cfg.Voice = *voiceFlag
		case "speed":
			cfg.Speed = *speedFlag
		case "lang":
			cfg.Language = *langFlag
		case "device":
			cfg.Device = *deviceFlag
		case "autosubmit":
			cfg.AutoSubmit = *autoSubmitFlag
		case "no-playback":
			cfg.NoPlayback = *noPlaybackFlag
		case "results":
			cfg.ResultsDir = *resultsFlag
		case "archive":
			cfg.ArchiveDir = *archiveFlag
		case "metrics":
			cfg.Metrics = *metricsFlag
		}
	})
	if (*fakeFlag || *testFlag != "") && cfg.ProviderKey() == "" {
		cfg.Provider = "fake"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	a, err := newApp(cfg, *fakeFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if cfg.Metrics != "" {
		go func() {
			if err := a.metrics.Serve(ctx, cfg.Metrics); err != nil {
				log.Errorf("metrics server: %v", err)
			}
		}()
	}

	if *testFlag != "" {
		fakeCtx, err := audio.NewFakeContext(*testFlag, true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
			return 1
		}
		a.audio = fakeCtx
		return a.runHeadless(ctx)
	}

	audioCtx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Printf("Error initializing audio context: %v\n", err)
		return 1
	}
	defer audioCtx.Close()
	a.audio = audioCtx
	a.device = pickDevice(audioCtx, cfg.Device, *setupFlag)

	if *doctorFlag {
		return doctor.Run(doctor.Options{
			Audio:       a.audio,
			Device:      a.device,
			Synth:       a.synth,
			Transcriber: a.stt,
			ServiceURL:  cfg.ServiceURL,
		})
	}

	return a.runInteractive(ctx)
}

func newApp(cfg *config.Config, fake bool) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.New("intervox")}
	httpc := traced.New()

	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}
	a.keys = credentials.NewVault(credentials.NewFileStore(filepath.Join(dir, "intervox")), credentials.OpenAIKey, cfg.Keys.OpenAI)

	if cfg.Provider == "fake" {
		a.stt = transcriber.NewFake("This is a simulated answer.", nil)
	} else {
		var keys credentials.KeySource = a.keys
		if cfg.Provider != "openai" {
			keys = credentials.Static(cfg.ProviderKey())
		}
		a.stt, err = transcriber.New(cfg.Provider, keys, transcriber.Options{
			Model:         cfg.Model,
			Language:      cfg.Language,
			MinConfidence: cfg.MinConfidence,
			Client:        httpc,
		})
		if err != nil {
			return nil, err
		}
	}
	if cfg.Language != "" {
		a.stt.SetLanguage(cfg.Language)
	}
	if cfg.ArchiveDir != "" {
		a.stt = newArchiver(a.stt, cfg.ArchiveDir)
	}

	if cfg.Provider == "fake" {
		a.synth = synth.NewFake()
	} else {
		a.synth = synth.NewOpenAI(a.keys, synth.Options{Model: cfg.TTSModel, Client: httpc})
	}

	if fake {
		a.service = session.NewFakeService(fakeQuestions...)
	} else {
		a.service = session.NewClient(cfg.ServiceURL, httpc)
	}
	return a, nil
}

func pickDevice(ctx audio.Context, name string, setup bool) *audio.DeviceInfo {
	if name != "" {
		if devices, err := ctx.Devices(); err == nil {
			for i := range devices {
				if devices[i].Name == name {
					return &devices[i]
				}
			}
		}
		log.Warnf("device not found: %s", name)
		fmt.Printf("Warning: device %q not found, using the system default\n", name)
		return nil
	}
	if !setup {
		return nil
	}
	dev, err := audio.SelectDevice(ctx)
	if err != nil {
		log.Warnf("device selection failed: %v", err)
		fmt.Printf("Warning: device selection failed: %v\n", err)
		fmt.Println("Falling back to default device")
		return nil
	}
	return dev
}

func (a *app) machineConfig(mode turn.Mode) turn.Config {
	c := a.cfg
	return turn.Config{
		Mode:       mode,
		Voice:      c.Voice,
		Speed:      c.Speed,
		AutoSubmit: c.AutoSubmit,
		VAD: vad.Config{
			Threshold: c.VAD.Threshold,
			Timeout:   c.VAD.Timeout,
			LeadIn:    c.VAD.LeadIn,
		},
		SynthesisTimeout:     c.Timeouts.Synthesis,
		TranscriptionTimeout: c.Timeouts.Transcription,
		SubmitTimeout:        c.Timeouts.Submit,
		ExpiryGrace:          c.Timeouts.ExpiryGrace,
	}
}

func (a *app) deps(coord *session.Coordinator, obs turn.Observer) turn.Deps {
	d := turn.Deps{
		Session:     coord,
		Mic:         audio.NewManager(a.audio, a.device, audio.CaptureConfig{}),
		Player:      a.audio,
		Synth:       a.synth,
		Transcriber: a.stt,
		Observer:    obs,
		Metrics:     a.metrics,
	}
	if a.cfg.Beep {
		d.Cues = beep.New(a.audio)
	}
	return d
}

func (a *app) modeLine(mode turn.Mode) string {
	label := a.stt.Name()
	if lang := a.stt.GetLanguage(); lang != "" {
		label += " (" + lang + ")"
	}
	return fmt.Sprintf("[%s | %s]", mode.Name, label)
}

func deviceLineText(dev *audio.DeviceInfo) string {
	name := "system default"
	suffix := ""
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			suffix = " (BT!)"
		}
	}
	return "mic: " + name + suffix
}

// runInteractive loops setup -> interview until an interview ends for a
// reason other than an expired session.
func (a *app) runInteractive(ctx context.Context) int {
	in := bufio.NewReader(os.Stdin)
	coord := session.NewCoordinator(a.service, a.keys)
	project := a.cfg.Project

	for {
		var err error
		project, err = promptProject(in, os.Stdout, project)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return 1
		}
		mode, err := turn.ModeFor(project.Mode, !a.cfg.NoPlayback)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return 1
		}

		fmt.Println("Starting interview...")
		if _, err := coord.Start(ctx, project); err != nil {
			log.Errorf("start interview: %v", err)
			fmt.Printf("Error: could not start the interview: %v\n", err)
			return 1
		}
		log.SessionStart(coord.SessionID(), string(mode.Name), a.stt.Name())

		err = a.interview(ctx, coord, mode)
		a.finishSession(coord)

		switch {
		case errors.Is(err, session.ErrSessionExpired):
			fmt.Println("The interview session expired.")
			if !confirm(in, os.Stdout, "Start a new interview for the same project? [Y/n]: ") {
				return 0
			}
		case err == nil, errors.Is(err, context.Canceled):
			return 0
		default:
			fmt.Printf("Error: %v\n", err)
			return 1
		}
	}
}

// interview runs one machine under the TUI. It returns when the user leaves
// the TUI; the machine is stopped at that point if it is still running.
func (a *app) interview(ctx context.Context, coord *session.Coordinator, mode turn.Mode) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var program *tea.Program
	obs := teaObserver{send: func(msg tea.Msg) { program.Send(msg) }}
	m, err := turn.New(a.machineConfig(mode), a.deps(coord, obs))
	if err != nil {
		return err
	}
	program = NewTUIProgram(newTUIModel(m, clipboard.WriteAll, a.modeLine(mode), deviceLineText(a.device)))

	result := make(chan error, 1)
	go func() {
		err := m.Run(ctx)
		result <- err
		program.Send(DoneMsg{Err: err})
	}()

	go func() {
		<-ctx.Done()
		program.Quit()
	}()

	if _, err := program.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
	}
	cancel()
	return <-result
}

func (a *app) finishSession(coord *session.Coordinator) {
	log.SessionEnd(coord.ExchangeCount(), coord.Status().String())
	if coord.ExchangeCount() == 0 {
		return
	}
	path, err := session.SaveResults(a.cfg.ResultsDir, coord.Results())
	if err != nil {
		log.Errorf("saving results: %v", err)
		fmt.Printf("Warning: could not save results: %v\n", err)
		return
	}
	fmt.Printf("Results saved to %s\n", path)
}

// runHeadless starts the configured project without prompting and drives
// the machine from stdin. State lines go to stdout.
func (a *app) runHeadless(ctx context.Context) int {
	coord := session.NewCoordinator(a.service, a.keys)
	project := a.cfg.Project
	if err := project.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: headless mode needs a complete project block: %v\n", err)
		return 1
	}
	mode, err := turn.ModeFor(project.Mode, !a.cfg.NoPlayback)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if _, err := coord.Start(ctx, project); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	log.SessionStart(coord.SessionID(), string(mode.Name), a.stt.Name())

	obs := newScriptObserver(os.Stdout)
	m, err := turn.New(a.machineConfig(mode), a.deps(coord, obs))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	err = runScript(ctx, m, obs, os.Stdin)
	a.finishSession(coord)
	if err != nil {
		fmt.Printf("DONE %s\n", strings.ReplaceAll(err.Error(), "\n", " "))
		return 1
	}
	fmt.Println("DONE ok")
	return 0
}
