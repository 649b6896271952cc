// Package tui is the terminal client: it renders a session's conversation and
// turns keystrokes into session actions.
package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/Sadiq-Teslim/kula-website/internal/agent"
	"github.com/Sadiq-Teslim/kula-website/internal/capability"
	"github.com/Sadiq-Teslim/kula-website/internal/conversation"
	"github.com/Sadiq-Teslim/kula-website/internal/vision"
)

// Greeting is shown while the conversation is empty.
const Greeting = "Hello Mama! I'm Kula. Tap the mic to talk, type a message, or use the camera icon to analyze a photo."

// Controller is the part of agent.Session the client drives.
type Controller interface {
	Snapshot() agent.Snapshot
	Changes() <-chan struct{}
	SetText(text string) error
	Submit(ctx context.Context) error
	ToggleVoice() error
	StageImage(att agent.Attachment) error
	RemoveImage() error
}

// Camera captures one still image.
type Camera interface {
	Capture(ctx context.Context) ([]byte, error)
}

type changedMsg struct{}

type actionDoneMsg struct {
	action string
	err    error
}

type Model struct {
	ctx    context.Context
	ctrl   Controller
	camera Camera
	log    zerolog.Logger
	theme  uiTheme

	input    textinput.Model
	timeline viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	snap       agent.Snapshot
	statusLine string
	width      int
	height     int
	ready      bool
}

// New builds the client model. camera may be nil when no capture command is
// configured.
func New(ctx context.Context, ctrl Controller, camera Camera, log zerolog.Logger) Model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 2000
	input.Placeholder = "Type a message, or press enter on an empty line to talk"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#e86a92"))

	timeline := viewport.New(0, 0)
	timeline.MouseWheelEnabled = true
	timeline.MouseWheelDelta = 3

	return Model{
		ctx:        ctx,
		ctrl:       ctrl,
		camera:     camera,
		log:        log,
		theme:      newTheme(),
		input:      input,
		timeline:   timeline,
		spinner:    sp,
		snap:       ctrl.Snapshot(),
		statusLine: "ready",
	}
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitForChange(m.ctrl.Changes()))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.renderTimeline()
	case changedMsg:
		m.snap = m.ctrl.Snapshot()
		m.renderTimeline()
		cmds = append(cmds, waitForChange(m.ctrl.Changes()))
	case actionDoneMsg:
		m.snap = m.ctrl.Snapshot()
		if msg.action == "submit" && m.input.Value() == "" {
			m.input.SetValue(m.snap.Text)
			m.input.CursorEnd()
		}
		m.statusLine = describe(msg.action, msg.err)
		if msg.err != nil && !errors.Is(msg.err, agent.ErrInputRejected) {
			m.log.Warn().Err(msg.err).Str("action", msg.action).Msg("action failed")
		}
		m.renderTimeline()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.snap.Awaiting || m.snap.Capturing {
			m.renderTimeline()
		}
		cmds = append(cmds, cmd)
	case tea.MouseMsg:
		var cmd tea.Cmd
		m.timeline, cmd = m.timeline.Update(msg)
		cmds = append(cmds, cmd)
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "ctrl+r":
			return m, m.run("voice", func(context.Context) error { return m.ctrl.ToggleVoice() })
		case "enter":
			return m.handleEnter()
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.timeline, cmd = m.timeline.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// handleEnter is the single send/voice control: it sends when there is
// something to send and otherwise toggles voice capture.
func (m Model) handleEnter() (tea.Model, tea.Cmd) {
	value := m.input.Value()
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "/") {
		m.input.SetValue("")
		return m.command(trimmed)
	}
	if trimmed == "" && m.snap.Attachment == nil {
		return m, m.run("voice", func(context.Context) error { return m.ctrl.ToggleVoice() })
	}
	if err := m.ctrl.SetText(value); err != nil {
		m.statusLine = describe("send", err)
		return m, nil
	}
	m.input.SetValue("")
	m.snap = m.ctrl.Snapshot()
	m.renderTimeline()
	return m, m.run("submit", func(ctx context.Context) error { return m.ctrl.Submit(ctx) })
}

func (m Model) command(line string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/photo", "/upload":
		if len(fields) < 2 {
			m.statusLine = "usage: /photo <path to image>"
			return m, nil
		}
		path := strings.Join(fields[1:], " ")
		return m, m.run("photo", func(ctx context.Context) error { return m.stageFile(path) })
	case "/camera":
		if m.camera == nil {
			m.statusLine = "camera capture is not configured"
			return m, nil
		}
		return m, m.run("camera", func(ctx context.Context) error {
			data, err := m.camera.Capture(ctx)
			if err != nil {
				return err
			}
			ref := "camera-" + time.Now().Format("150405")
			return m.ctrl.StageImage(agent.Attachment{Source: agent.SourceCamera, Ref: ref, Data: data})
		})
	case "/remove":
		return m, m.run("remove", func(ctx context.Context) error { return m.ctrl.RemoveImage() })
	case "/voice":
		return m, m.run("voice", func(context.Context) error { return m.ctrl.ToggleVoice() })
	case "/quit", "/exit":
		return m, tea.Quit
	default:
		m.statusLine = fmt.Sprintf("unknown command %s", fields[0])
		return m, nil
	}
}

func (m Model) stageFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if _, _, err := vision.Decode(data); err != nil {
		return err
	}
	return m.ctrl.StageImage(agent.Attachment{Source: agent.SourceUpload, Ref: filepath.Base(path), Data: data})
}

// run performs a session action off the update loop.
func (m Model) run(action string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionDoneMsg{action: action, err: fn(ctx)}
	}
}

func describe(action string, err error) string {
	switch {
	case err == nil:
		switch action {
		case "photo", "camera":
			return "photo attached · press enter to analyze"
		case "remove":
			return "photo removed"
		}
		return "ready"
	case errors.Is(err, agent.ErrInputRejected):
		return "not now · Kula is busy with another input"
	case errors.Is(err, capability.ErrCapabilityUnavailable):
		return action + " unavailable"
	default:
		return fmt.Sprintf("%s failed: %v", action, err)
	}
}

func (m *Model) resize() {
	w := m.width - 4
	if w < 20 {
		w = 20
	}
	h := m.height - 10
	if h < 3 {
		h = 3
	}
	m.timeline.Width = w
	m.timeline.Height = h
	m.input.Width = w - 4
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(w-4))
	if err != nil {
		m.log.Warn().Err(err).Msg("markdown renderer unavailable")
		r = nil
	}
	m.renderer = r
	m.ready = true
}

func (m *Model) renderTimeline() {
	m.timeline.SetContent(m.renderTurns())
	m.timeline.GotoBottom()
}

func (m Model) renderTurns() string {
	if len(m.snap.Turns) == 0 {
		return m.theme.greeting.Render(Greeting)
	}
	var b strings.Builder
	for i, t := range m.snap.Turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.renderTurn(t))
	}
	return b.String()
}

func (m Model) renderTurn(t conversation.Turn) string {
	switch t.Speaker {
	case conversation.SpeakerUser:
		var lines []string
		for _, line := range strings.Split(t.Text, "\n") {
			if strings.HasPrefix(line, "Analysis Result:") {
				line = m.theme.analysis.Render(line)
			}
			lines = append(lines, line)
		}
		head := m.theme.you.Render("You")
		if t.Attachment != "" {
			head += " " + m.theme.chip.Render("photo: "+t.Attachment)
		}
		return head + "\n" + strings.Join(lines, "\n")
	case conversation.SpeakerPending:
		return m.theme.kula.Render("Kula") + "\n" + m.spinner.View() + m.theme.pending.Render(" typing "+t.Text)
	default:
		body := t.Text
		if t.Text == agent.ApologyText || t.Text == agent.AnalysisFailedText {
			body = m.theme.apology.Render(t.Text)
		} else if m.renderer != nil {
			if out, err := m.renderer.Render(t.Text); err == nil {
				body = strings.Trim(out, "\n")
			}
		}
		return m.theme.kula.Render("Kula") + "\n" + body
	}
}

func (m Model) View() string {
	if !m.ready {
		return "starting kula..."
	}
	header := m.theme.header.Width(m.width - 2).Render(
		m.theme.title.Render("Kula") + "  " + m.theme.status.Render(m.capabilityLine()),
	)
	timeline := m.theme.panel.Render(m.timeline.View())

	var extras []string
	if a := m.snap.Attachment; a != nil {
		extras = append(extras, m.theme.chip.Render(fmt.Sprintf("photo: %s (%s)", a.Ref, a.Source))+
			m.theme.muted.Render("  /remove to discard"))
	}
	if m.snap.Capturing {
		extras = append(extras, m.spinner.View()+m.theme.listening.Render(" Listening... press enter to stop"))
	}
	if m.snap.Notice != "" {
		extras = append(extras, m.theme.warn.Render(m.snap.Notice))
	}
	input := m.theme.inputPanel.Render(m.input.View())
	footer := m.theme.footer.Render(m.statusLine + " · enter send/talk · ctrl+r voice · /photo <path> · /camera · /remove · ctrl+c quit")

	parts := []string{header, timeline}
	parts = append(parts, extras...)
	parts = append(parts, input, footer)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) capabilityLine() string {
	photo := "photos " + m.snap.Model.String()
	voice := "voice off"
	if m.snap.VoiceReady {
		voice = "voice on"
	}
	state := "idle"
	switch {
	case m.snap.Awaiting:
		state = "waiting for Kula"
	case m.snap.Capturing:
		state = "listening"
	}
	return strings.Join([]string{state, photo, voice}, " · ")
}

// Run starts the full screen program and blocks until the user quits.
func Run(m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(m.ctx))
	_, err := p.Run()
	return err
}
