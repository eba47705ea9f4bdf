// ABOUTME: Bubbletea model for the intercom TUI
// ABOUTME: Defines display state, key handling and rendering
package ui

import (
	"fmt"
	"time"

	"github.com/Resonate-Protocol/audioc/internal/player"
	tea "github.com/charmbracelet/bubbletea"
)

const volumeStep = 5

// Model represents the TUI state
type Model struct {
	// Session
	instance string
	group    string
	ssrc     uint32
	format   string
	packetMs int
	peer     string

	// Playback
	volume int
	muted  bool

	// Stats
	stats player.Stats

	// Debug
	showDebug  bool
	goroutines int

	// Dimensions
	width  int
	height int

	volumeCtrl *VolumeControl
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := ""
	s += m.renderHeader()
	s += m.renderControls()
	s += m.renderStats()

	if m.showDebug {
		s += m.renderDebug()
	}

	s += m.renderHelp()

	return s
}

// renderHeader renders the session line
func (m Model) renderHeader() string {
	group := m.group
	if group == "" {
		group = "(none)"
	}
	peer := m.peer
	if peer == "" {
		peer = "-"
	}

	return fmt.Sprintf(`┌─ Intercom ───────────────────────────────────────────┐
│ Name:   %-44s │
│ Group:  %-44s │
│ Format: %-44s │
│ Peer:   %-44s │
├──────────────────────────────────────────────────────┤
`, truncate(m.instance, 44), truncate(group, 44),
		truncate(fmt.Sprintf("%s, %dms packets", m.format, m.packetMs), 44),
		truncate(peer, 44))
}

// renderControls renders volume and buffer status
func (m Model) renderControls() string {
	muteText := ""
	if m.muted {
		muteText = " (muted)"
	}

	volumeBar := renderBar(m.volume, 100, 10)

	return fmt.Sprintf("│ Volume: [%s] %3d%%%-29s │\n"+
		"│ Buffer: %-44s │\n",
		volumeBar, m.volume, muteText,
		fmt.Sprintf("%s, %dms (%d blocks)", m.stats.State, m.stats.Depth*m.packetMs, m.stats.Depth))
}

// renderStats renders traffic statistics
func (m Model) renderStats() string {
	st := m.stats
	return fmt.Sprintf(`├──────────────────────────────────────────────────────┤
│ TX: %-48s │
│ RX: %-48s │
│ Lost: %-46s │
│ Out: %-47s │
│                                                      │
`,
		fmt.Sprintf("%d sent, %d silent, %d errors", st.Sent, st.LocalSilences, st.SendErrors),
		fmt.Sprintf("%d received, %d accepted, %d stale", st.Received, st.Accepted, st.Stale),
		fmt.Sprintf("%d noise, %d repeated, %d remote silence", st.LostNoise, st.LostRepeated, st.RemoteSilences),
		fmt.Sprintf("%d played, drift %s", st.Played, formatDrift(st.Drift())))
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return `│ ↑/↓:Volume  m:Mute  d:Debug  q:Quit                  │
└──────────────────────────────────────────────────────┘
`
}

// renderDebug renders the less common counters
func (m Model) renderDebug() string {
	st := m.stats
	return fmt.Sprintf(`│ DEBUG:                                               │
│   SSRC: %08x%-36s │
│   Malformed: %-6d Foreign: %-6d Queue full: %-6d │
│   Clamped: %-8d Timer fillers: %-8d           │
│   Short reads: %-6d Short writes: %-6d           │
│   Goroutines: %-38d │
`, m.ssrc, "", st.Malformed, st.ForeignSSRC, st.QueueFull,
		st.ClampedFillers, st.TimerFillers, st.ShortReads, st.ShortWrites, m.goroutines)
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.volumeCtrl != nil {
			select {
			case m.volumeCtrl.Quit <- QuitMsg{}:
			default:
			}
		}
		return m, tea.Quit
	case "up":
		if m.volume < 100 {
			m.volume += volumeStep
			if m.volume > 100 {
				m.volume = 100
			}
			m.sendVolume()
		}
	case "down":
		if m.volume > 0 {
			m.volume -= volumeStep
			if m.volume < 0 {
				m.volume = 0
			}
			m.sendVolume()
		}
	case "m":
		m.muted = !m.muted
		m.sendVolume()
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// sendVolume reports the current volume without blocking the UI
func (m Model) sendVolume() {
	if m.volumeCtrl == nil {
		return
	}
	select {
	case m.volumeCtrl.Changes <- VolumeChangeMsg{Volume: m.volume, Muted: m.muted}:
	default:
	}
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Instance != "" {
		m.instance = msg.Instance
	}
	if msg.Group != "" {
		m.group = msg.Group
	}
	if msg.SSRC != 0 {
		m.ssrc = msg.SSRC
	}
	if msg.Format != "" {
		m.format = msg.Format
		m.packetMs = msg.PacketMs
	}
	if msg.Peer != "" {
		m.peer = msg.Peer
	}
	if msg.Volume != nil {
		m.volume = *msg.Volume
	}
	if msg.Muted != nil {
		m.muted = *msg.Muted
	}
	if msg.Stats != nil {
		m.stats = *msg.Stats
	}
	if msg.Goroutines != 0 {
		m.goroutines = msg.Goroutines
	}
}

// StatusMsg updates TUI state. Zero fields leave the current value.
type StatusMsg struct {
	Instance   string
	Group      string
	SSRC       uint32
	Format     string
	PacketMs   int
	Peer       string
	Volume     *int
	Muted      *bool
	Stats      *player.Stats
	Goroutines int
}

// Utility functions
func renderBar(value, max, width int) string {
	filled := (value * width) / max
	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += "█"
		} else {
			bar += "░"
		}
	}
	return bar
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func formatDrift(d time.Duration) string {
	return fmt.Sprintf("%+.1fms", float64(d)/float64(time.Millisecond))
}
