package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cbegin/stepseq-go"
	"github.com/cbegin/stepseq-go/internal/config"
)

const grooveStep = 5.0

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	onStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	playStyle   = lipgloss.NewStyle().Background(lipgloss.Color("57")).Foreground(lipgloss.Color("230"))
	cursorStyle = lipgloss.NewStyle().Reverse(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("238")).Strikethrough(true)
)

type stepMsg stepseq.StepEvent

type model struct {
	engine   *stepseq.Engine
	events   <-chan stepseq.StepEvent
	ctx      context.Context
	playhead int
	bar      int
	row      int
	col      int
	status   string
	quitting bool
}

func listenForSteps(events <-chan stepseq.StepEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return stepMsg(ev)
	}
}

func (m model) Init() tea.Cmd {
	return listenForSteps(m.events)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		tracks := m.engine.Tracks()
		var id string
		if m.row < len(tracks) {
			id = tracks[m.row].ID
		}
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			m.engine.Stop()
			return m, tea.Quit
		case "p":
			if m.engine.IsPlaying() {
				m.engine.Stop()
				m.status = "stopped"
			} else if err := m.engine.Start(m.ctx); err != nil {
				m.status = err.Error()
			} else {
				m.status = "playing"
			}
		case "left", "h":
			m.col = (m.col + stepseq.NumSteps - 1) % stepseq.NumSteps
		case "right", "l":
			m.col = (m.col + 1) % stepseq.NumSteps
		case "up", "k":
			if m.row > 0 {
				m.row--
			}
		case "down", "j":
			if m.row < len(tracks)-1 {
				m.row++
			}
		case " ":
			m.engine.ToggleStep(id, m.col)
		case "m":
			if m.row < len(tracks) {
				m.engine.SetMuted(id, !tracks[m.row].Muted)
			}
		case "+", "=":
			m.status = fmt.Sprintf("tempo %d", m.engine.SetBPM(m.engine.BPM()+5))
		case "-", "_":
			m.status = fmt.Sprintf("tempo %d", m.engine.SetBPM(m.engine.BPM()-5))
		case "]":
			if m.row < len(tracks) {
				m.engine.SetVolume(id, tracks[m.row].Volume+0.1)
			}
		case "[":
			if m.row < len(tracks) {
				m.engine.SetVolume(id, tracks[m.row].Volume-0.1)
			}
		case ">", ".":
			if m.row < len(tracks) {
				m.engine.SetGroove(id, m.col, tracks[m.row].Groove[m.col].OffsetPercent+grooveStep)
			}
		case "<", ",":
			if m.row < len(tracks) {
				m.engine.SetGroove(id, m.col, tracks[m.row].Groove[m.col].OffsetPercent-grooveStep)
			}
		}
	case stepMsg:
		m.playhead = msg.Step
		m.bar = msg.Bar
		return m, listenForSteps(m.events)
	}
	return m, nil
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	state := "STOP"
	if m.engine.IsPlaying() {
		state = "PLAY"
	}
	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(headerStyle.Render(fmt.Sprintf("stepseq  %s  %3dbpm  bar:%03d step:%02d", state, m.engine.BPM(), m.bar+1, m.playhead)))
	out.WriteString("\n\n")

	tracks := m.engine.Tracks()
	for r, t := range tracks {
		name := fmt.Sprintf("%-8s", truncate(t.Name, 8))
		if t.Muted {
			name = mutedStyle.Render(name)
		}
		out.WriteString(name)
		out.WriteString(" ")
		for c, on := range t.Steps {
			cell := "·"
			if on {
				cell = "●"
			}
			switch {
			case r == m.row && c == m.col:
				cell = cursorStyle.Render(cell)
			case c == m.playhead && m.engine.IsPlaying():
				cell = playStyle.Render(cell)
			case on:
				cell = onStyle.Render(cell)
			}
			out.WriteString(cell)
			if c%4 == 3 {
				out.WriteString(" ")
			}
		}
		out.WriteString(dimStyle.Render(fmt.Sprintf(" vol %.1f", t.Volume)))
		out.WriteString("\n")
	}

	if m.row < len(tracks) {
		g := tracks[m.row].Groove[m.col]
		out.WriteString("\n")
		out.WriteString(dimStyle.Render(fmt.Sprintf("groove step %02d: %+.0f%% (%+.1f ms)", m.col+1, g.OffsetPercent, g.OffsetMs)))
	}
	st := m.engine.CacheStats()
	out.WriteString("\n")
	out.WriteString(dimStyle.Render(fmt.Sprintf("samples %d/%d cached, %d loading, %d failed  voices %d",
		st.Entries, st.Limit, st.InFlight, st.Failures, m.engine.ActiveVoices())))
	if m.status != "" {
		out.WriteString("\n")
		out.WriteString(m.status)
	}
	out.WriteString("\n\n")
	out.WriteString(dimStyle.Render("hjkl:nav  space:toggle  m:mute  [ ]:volume  < >:groove  p:play  +/-:tempo  q:quit"))
	return out.String()
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML engine/kit file")
		samplesDir = flag.String("samples", "", "directory relative sample ids resolve under")
		logPath    = flag.String("log", "", "write engine diagnostics to this file")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatal(err)
		}
	}
	if *samplesDir != "" {
		cfg.Samples.Root = *samplesDir
	}
	if len(cfg.Kit) == 0 {
		cfg.Kit = []config.Track{{ID: "kick"}, {ID: "snare"}, {ID: "hat"}, {ID: "clap"}}
		for i := range cfg.Kit {
			cfg.Kit[i].Sample = cfg.Kit[i].ID + ".wav"
		}
	}

	opts, err := stepseq.ConfigOptions(cfg)
	if err != nil {
		log.Fatal(err)
	}
	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		opts = append(opts, stepseq.WithLogger(slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))))
	}

	engine, err := stepseq.NewEngine(opts...)
	if err != nil {
		log.Fatal(err)
	}
	defer engine.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, unsubscribe := engine.Subscribe()
	defer unsubscribe()

	m := model{engine: engine, events: events, ctx: ctx}
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		log.Fatal(err)
	}
}
