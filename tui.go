package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"intervox/session"
	"intervox/turn"
)

// controller is the part of turn.Machine the TUI drives.
type controller interface {
	Mode() turn.Mode
	Skip()
	Stop()
	Submit(text string)
	Finish()
	Ack()
}

type tickMsg time.Time

type tuiModel struct {
	ctl  controller
	copy func(string) error

	state     turn.State
	frame     int
	question  string
	number    int
	level     float64
	peak      float64
	recStart  time.Time
	recording float64

	transcript string
	confidence float64
	known      bool
	metrics    []string

	input   []rune
	editing bool

	notice   string
	err      error
	analysis *session.Analysis
	done     bool
	doneErr  error

	width, height int
	modeLine      string
	deviceLine    string
}

var (
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	keyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	questionSty  = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Bold(true)
	answerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	inputStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("231"))
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
)

var stateLabels = map[turn.State]struct {
	text  string
	color string
}{
	turn.Idle:              {"○ WAITING", "241"},
	turn.SpeakingQuestion:  {"♪ ASKING", "81"},
	turn.RecordingResponse: {"● REC", "196"},
	turn.Transcribing:      {"… TRANSCRIBING", "220"},
	turn.ResponseReady:     {"✓ READY", "42"},
	turn.Submitting:        {"↑ SUBMITTING", "220"},
	turn.Completed:         {"★ COMPLETE", "42"},
	turn.Error:             {"✗ ERROR", "196"},
}

func newTUIModel(ctl controller, copy func(string) error, modeLine, deviceLine string) tuiModel {
	return tuiModel{ctl: ctl, copy: copy, modeLine: modeLine, deviceLine: deviceLine}
}

func NewTUIProgram(m tuiModel) *tea.Program {
	return tea.NewProgram(m, tea.WithAltScreen())
}

func tuiTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) typing() bool {
	if m.editing {
		return true
	}
	return m.ctl.Mode().Typed() && m.state == turn.RecordingResponse
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.frame++
		if m.state == turn.RecordingResponse && !m.recStart.IsZero() {
			m.recording = time.Since(m.recStart).Seconds()
		}
		return m, tuiTick()

	case StateMsg:
		m.state = msg.To
		switch msg.To {
		case turn.RecordingResponse:
			m.recStart = time.Now()
			m.recording = 0
			m.level, m.peak = 0, 0
		case turn.Idle:
			m.transcript, m.metrics, m.known = "", nil, false
			m.editing = false
			m.err = nil
		}

	case QuestionMsg:
		m.question = msg.Text
		m.number = msg.Number
		m.input = nil

	case LevelMsg:
		if m.state == turn.RecordingResponse {
			m.level = m.level*0.6 + msg.Level*0.4
			m.peak = max(m.peak, msg.Level)
		}

	case TranscriptMsg:
		m.transcript = msg.Text
		m.confidence = msg.Confidence
		m.known = msg.Known
		m.metrics = msg.Metrics

	case FailedMsg:
		m.err = msg.Err
		m.editing = false

	case RejectedMsg:
		m.notice = rejectionText(msg.Err)

	case WrapUpMsg:
		key := "f"
		if m.ctl.Mode().Typed() {
			key = "ctrl+f"
		}
		m.notice = fmt.Sprintf("%d answers so far. Press %s to finish and get the analysis.", msg.Exchanges, key)

	case FinishedMsg:
		m.analysis = msg.Analysis
		m.notice = ""

	case DoneMsg:
		m.done = true
		m.doneErr = msg.Err
	}
	return m, nil
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m, tea.Quit
	}
	if m.done || m.state == turn.Completed {
		switch key {
		case "q", "enter", "esc":
			return m, tea.Quit
		case "y":
			m.copyAnalysis()
		}
		return m, nil
	}

	if key == "ctrl+f" {
		m.ctl.Finish()
		return m, nil
	}

	if m.typing() {
		switch msg.Type {
		case tea.KeyEnter:
			text := strings.TrimSpace(string(m.input))
			m.ctl.Submit(text)
			m.input = nil
			m.editing = false
			m.notice = ""
		case tea.KeyEsc:
			m.input = nil
			m.editing = false
		case tea.KeyBackspace:
			if len(m.input) > 0 {
				m.input = m.input[:len(m.input)-1]
			}
		case tea.KeySpace:
			m.input = append(m.input, ' ')
		case tea.KeyRunes:
			m.input = append(m.input, msg.Runes...)
		}
		return m, nil
	}

	switch key {
	case " ":
		switch m.state {
		case turn.SpeakingQuestion:
			m.ctl.Skip()
		case turn.RecordingResponse:
			m.ctl.Stop()
		}
	case "enter":
		if m.state == turn.ResponseReady {
			m.ctl.Submit("")
			m.notice = ""
		}
	case "e":
		if m.state == turn.ResponseReady {
			m.editing = true
			m.input = []rune(m.transcript)
		}
	case "f":
		m.ctl.Finish()
	case "a":
		if m.state == turn.Error {
			m.ctl.Ack()
		}
	}
	return m, nil
}

func (m *tuiModel) copyAnalysis() {
	if m.analysis == nil || m.copy == nil {
		return
	}
	if err := m.copy(m.analysis.Text()); err != nil {
		m.notice = "copy failed: " + err.Error()
		return
	}
	m.notice = "analysis copied to clipboard"
}

func rejectionText(err error) string {
	var verr *session.ValidationError
	switch {
	case errors.Is(err, session.ErrFinishEarlyLocked):
		return fmt.Sprintf("Answer at least %d questions before finishing.", session.MinExchangesToFinish)
	case errors.As(err, &verr):
		return "Please type an answer first."
	}
	return err.Error()
}

func (m tuiModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	wrapWidth := max(m.width-4, 20)
	var b strings.Builder

	b.WriteString(titleStyle.Render("intervox") + " " + dimStyle.Render(m.modeLine) + "\n")
	if m.deviceLine != "" {
		b.WriteString(dimStyle.Render(m.deviceLine) + "\n")
	}
	b.WriteString("\n")

	if m.analysis != nil {
		b.WriteString(successStyle.Render("Interview complete") + "\n\n")
		for _, line := range strings.Split(m.analysis.Text(), "\n") {
			for _, w := range wrapText(line, wrapWidth) {
				b.WriteString(w + "\n")
			}
		}
		b.WriteString("\n")
		if m.notice != "" {
			b.WriteString(noticeStyle.Render(m.notice) + "\n")
		}
		b.WriteString(keyStyle.Render("y") + helpStyle.Render(" copy  ") + keyStyle.Render("q") + helpStyle.Render(" quit"))
		return b.String()
	}

	if m.question != "" {
		b.WriteString(dimStyle.Render(fmt.Sprintf("Question %d", m.number)) + "\n")
		for _, line := range wrapText(m.question, wrapWidth) {
			b.WriteString(questionSty.Render(line) + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(m.statusLine() + "\n")
	if m.state == turn.RecordingResponse && m.ctl.Mode().Capture && m.recording > 1.0 && m.peak < 0.02 {
		b.WriteString(warnStyle.Render("  ⚠ no voice detected") + "\n")
	}
	b.WriteString("\n")

	switch {
	case m.typing():
		b.WriteString(dimStyle.Render("Your answer:") + "\n")
		for _, line := range wrapText(string(m.input)+"█", wrapWidth) {
			b.WriteString(inputStyle.Render(line) + "\n")
		}
	case m.transcript != "":
		b.WriteString(dimStyle.Render("Transcript:") + "\n")
		for _, line := range wrapText(m.transcript, wrapWidth) {
			b.WriteString(answerStyle.Render(line) + "\n")
		}
		if m.known {
			b.WriteString(dimStyle.Render(fmt.Sprintf("confidence %.2f", m.confidence)) + "\n")
		}
		for _, metric := range m.metrics {
			b.WriteString(dimStyle.Render(metric) + "\n")
		}
	}

	if m.notice != "" {
		b.WriteString("\n" + noticeStyle.Render(m.notice) + "\n")
	}
	if m.err != nil {
		b.WriteString("\n" + errorStyle.Render(m.err.Error()) + "\n")
	}
	if m.done && m.doneErr != nil && !errors.Is(m.doneErr, context.Canceled) {
		b.WriteString("\n" + errorStyle.Render(doneText(m.doneErr)) + "\n")
	}

	b.WriteString("\n" + m.helpLine())
	return b.String()
}

func (m tuiModel) statusLine() string {
	label, ok := stateLabels[m.state]
	if !ok {
		return ""
	}
	style := lipgloss.NewStyle().Foreground(lipgloss.Color(label.color)).Bold(true)
	text := label.text
	if m.state == turn.RecordingResponse && m.ctl.Mode().Capture {
		text = fmt.Sprintf("%s %.1fs %s", text, m.recording, levelBar(m.level, 12))
	}
	return style.Render(text)
}

func levelBar(level float64, width int) string {
	n := min(int(level*float64(width)*10), width)
	return strings.Repeat("▮", n) + strings.Repeat("▯", width-n)
}

func doneText(err error) string {
	if errors.Is(err, session.ErrSessionExpired) {
		return "The session expired. Press q to start a new one."
	}
	return "Stopped: " + err.Error()
}

func (m tuiModel) helpLine() string {
	k := func(key, what string) string {
		return keyStyle.Render(key) + helpStyle.Render(" "+what+"  ")
	}
	var parts []string
	switch {
	case m.done:
		parts = append(parts, k("q", "quit"))
	case m.typing():
		parts = append(parts, k("enter", "submit"), k("esc", "clear"), k("ctrl+f", "finish"))
	case m.state == turn.SpeakingQuestion:
		parts = append(parts, k("space", "skip"), k("f", "finish"))
	case m.state == turn.RecordingResponse:
		parts = append(parts, k("space", "stop"), k("f", "finish"))
	case m.state == turn.ResponseReady:
		parts = append(parts, k("enter", "submit"), k("e", "edit"), k("f", "finish"))
	case m.state == turn.Error:
		parts = append(parts, k("a", "retry"))
	default:
		parts = append(parts, k("f", "finish"))
	}
	parts = append(parts, k("ctrl+c", "quit"))
	return strings.Join(parts, "") + helpStyle.Render(version)
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	runes := []rune(text)
	for len(runes) > width {
		// Find last space within width
		splitAt := width
		for i := width; i > 0; i-- {
			if runes[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, string(runes[:splitAt]))
		runes = []rune(strings.TrimLeft(string(runes[splitAt:]), " "))
	}
	if len(runes) > 0 {
		lines = append(lines, string(runes))
	}
	return lines
}
