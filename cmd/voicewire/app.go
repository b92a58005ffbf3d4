package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/voicewire/voicewire/pkg/client"
	"github.com/voicewire/voicewire/pkg/core/state"
	"github.com/voicewire/voicewire/pkg/core/visual"
)

const frameInterval = 33 * time.Millisecond

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7aa2f7"))
	badgeStyle     = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("#1a1b26"))
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ece6a"))
	agentStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#7aa2f7"))
	partialStyle   = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#565f89"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#565f89"))
	errStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#f7768e"))
	localBarStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ece6a"))
	remoteBarStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7aa2f7"))
	checkedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ece6a"))
)

var barRunes = []rune("▁▂▃▄▅▆▇█")

type tickMsg time.Time

type connectResultMsg struct{ err error }

type serverFaultMsg struct{ code, message string }

// app is the root Bubble Tea model. It reads the two stores each animation
// tick and never mutates them; all mutation flows through the lifecycle
// manager's event pump.
type app struct {
	manager *client.Manager
	store   *state.Store
	driver  *visual.Driver
	visCfg  visual.VisualConfig

	faults chan serverFaultMsg

	mode       visual.Mode
	width      int
	height     int
	connecting bool
	input      string
	status     string
}

func newApp(manager *client.Manager, store *state.Store, driver *visual.Driver, visCfg visual.VisualConfig, faults chan serverFaultMsg) app {
	return app{
		manager: manager,
		store:   store,
		driver:  driver,
		visCfg:  visCfg,
		faults:  faults,
		status:  "press ctrl+r to connect",
	}
}

func (a app) Init() tea.Cmd {
	return tea.Batch(tick(), a.waitFault())
}

func tick() tea.Cmd {
	return tea.Tick(frameInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (a app) waitFault() tea.Cmd {
	return func() tea.Msg {
		fault, ok := <-a.faults
		if !ok {
			return nil
		}
		return fault
	}
}

func (a app) connectCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		return connectResultMsg{err: a.manager.Connect(ctx)}
	}
}

func (a app) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case tickMsg:
		a.driver.SetConnected(a.manager.State() == client.StateReady)
		a.driver.SetInteractionMode(a.store.Mode())
		return a, tick()

	case connectResultMsg:
		a.connecting = false
		if msg.err != nil {
			a.status = "connect failed: " + msg.err.Error()
		} else {
			a.status = "connected"
		}
		return a, nil

	case serverFaultMsg:
		a.status = fmt.Sprintf("server error [%s]: %s", msg.code, msg.message)
		return a, a.waitFault()

	case tea.KeyMsg:
		return a.handleKey(msg)
	}
	return a, nil
}

func (a app) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return a, tea.Quit

	case tea.KeyCtrlR:
		if a.connecting {
			return a, nil
		}
		a.connecting = true
		a.status = "connecting..."
		return a, a.connectCmd()

	case tea.KeyCtrlD:
		_ = a.manager.Disconnect()
		a.status = "disconnected"
		return a, nil

	case tea.KeyCtrlB:
		return a.toggleMode(), nil

	case tea.KeyEnter:
		text := strings.TrimSpace(a.input)
		a.input = ""
		if text == "" {
			return a, nil
		}
		if ch := a.manager.Channel(); ch != nil {
			if err := ch.SendText(text); err != nil {
				a.status = "send failed: " + err.Error()
			}
		} else {
			a.status = "not connected"
		}
		return a, nil

	case tea.KeyBackspace:
		if len(a.input) > 0 {
			runes := []rune(a.input)
			a.input = string(runes[:len(runes)-1])
		}
		return a, nil

	case tea.KeySpace:
		a.input += " "
		return a, nil

	case tea.KeyRunes:
		a.input += string(msg.Runes)
		return a, nil
	}
	return a, nil
}

func (a app) toggleMode() app {
	if a.mode == visual.ModeBars {
		a.mode = visual.ModeAmbient
	} else {
		a.mode = visual.ModeBars
	}
	a.driver.SetMode(a.mode)
	return a
}

func (a app) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("voicewire"))
	b.WriteString("  ")
	b.WriteString(a.stateBadge())
	b.WriteString("  ")
	b.WriteString(a.modeBadge())
	b.WriteString("\n\n")

	if a.mode == visual.ModeBars {
		local, remote := a.driver.Frames()
		b.WriteString(dimStyle.Render("you    "))
		b.WriteString(localBarStyle.Render(renderBars(local, a.visCfg)))
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("agent  "))
		b.WriteString(remoteBarStyle.Render(renderBars(remote, a.visCfg)))
		b.WriteString("\n\n")
	} else {
		b.WriteString(renderAmbient(a.driver.Ambient()))
		b.WriteString("\n\n")
	}

	b.WriteString(a.renderTopics())
	b.WriteString("\n")
	b.WriteString(a.renderTranscript())
	b.WriteString("\n")

	b.WriteString(dimStyle.Render("> "))
	b.WriteString(a.input)
	b.WriteString("\n")
	if a.status != "" {
		if strings.Contains(a.status, "failed") || strings.Contains(a.status, "error") {
			b.WriteString(errStyle.Render(a.status))
		} else {
			b.WriteString(dimStyle.Render(a.status))
		}
		b.WriteString("\n")
	}
	b.WriteString(dimStyle.Render("ctrl+r connect · ctrl+d disconnect · ctrl+b visual mode · enter send · ctrl+c quit"))
	return b.String()
}

func (a app) stateBadge() string {
	st := a.manager.State()
	colors := map[client.ChannelState]string{
		client.StateDisconnected: "#565f89",
		client.StateConnecting:   "#e0af68",
		client.StateReady:        "#9ece6a",
		client.StateClosing:      "#e0af68",
	}
	return badgeStyle.Background(lipgloss.Color(colors[st])).Render(st.String())
}

func (a app) modeBadge() string {
	mode := a.store.Mode()
	colors := map[state.InteractionMode]string{
		state.ModeIdle:      "#7aa2f7",
		state.ModeListening: "#9ece6a",
		state.ModeThinking:  "#e0af68",
	}
	return badgeStyle.Background(lipgloss.Color(colors[mode])).Render(mode.String())
}

// renderBars maps one EnergyFrame onto block runes.
func renderBars(frame visual.EnergyFrame, cfg visual.VisualConfig) string {
	span := cfg.MaxBar - cfg.MinBar
	if span <= 0 {
		span = 1
	}
	runes := make([]rune, len(frame))
	for i, v := range frame {
		level := (v - cfg.MinBar) / span
		idx := int(level * float64(len(barRunes)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(barRunes) {
			idx = len(barRunes) - 1
		}
		runes[i] = barRunes[idx]
	}
	return string(runes)
}

// renderAmbient draws the preset as a block whose width follows the eased
// intensity.
func renderAmbient(view visual.AmbientView) string {
	width := int(view.Intensity * 40)
	if width < 1 {
		width = 1
	}
	block := strings.Repeat("█", width)
	style := lipgloss.NewStyle().Foreground(lipgloss.Color(view.Preset.Color))
	return style.Render(block) + "  " + dimStyle.Render(view.Preset.Name)
}

func (a app) renderTopics() string {
	conv := a.store.Conversation()
	if len(conv.AllTopics) == 0 {
		return dimStyle.Render("no topics yet")
	}

	discussed := make(map[string]struct{}, len(conv.DiscussedTopics))
	for _, t := range conv.DiscussedTopics {
		discussed[t] = struct{}{}
	}
	current := make(map[string]struct{}, len(conv.CurrentTopics))
	for _, t := range conv.CurrentTopics {
		current[t] = struct{}{}
	}

	var b strings.Builder
	b.WriteString(dimStyle.Render(fmt.Sprintf("topics %s · node %s", conv.Progress, conv.CurrentNode)))
	b.WriteString("\n")
	for _, topic := range conv.AllTopics {
		mark := "[ ]"
		line := topic
		if _, ok := discussed[topic]; ok {
			mark = checkedStyle.Render("[x]")
		}
		if _, ok := current[topic]; ok {
			line += " ←"
		}
		b.WriteString(fmt.Sprintf("  %s %s\n", mark, line))
	}
	return b.String()
}

func (a app) renderTranscript() string {
	entries := a.store.Transcript()
	streaming := a.store.Streaming()

	tail := entries
	if len(tail) > 6 {
		tail = tail[len(tail)-6:]
	}

	var b strings.Builder
	for _, entry := range tail {
		switch entry.Speaker {
		case state.SpeakerUser:
			b.WriteString(userStyle.Render("you   "))
		default:
			b.WriteString(agentStyle.Render("agent "))
		}
		b.WriteString(entry.Text)
		b.WriteString("\n")
	}
	if streaming.Speaking && streaming.Text != "" {
		b.WriteString(partialStyle.Render("you   " + streaming.Text + "…"))
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return dimStyle.Render("transcript empty") + "\n"
	}
	return b.String()
}
