// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and its volume channel
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// VolumeChangeMsg carries a volume or mute change made in the TUI
type VolumeChangeMsg struct {
	Volume int
	Muted  bool
}

// QuitMsg is sent when the user quits from the TUI
type QuitMsg struct{}

// VolumeControl holds channels for volume control communication
type VolumeControl struct {
	Changes chan VolumeChangeMsg
	Quit    chan QuitMsg
}

// NewVolumeControl creates a new volume control handler
func NewVolumeControl() *VolumeControl {
	return &VolumeControl{
		Changes: make(chan VolumeChangeMsg, 10),
		Quit:    make(chan QuitMsg, 1),
	}
}

// NewModel creates a new TUI model starting at volume
func NewModel(volCtrl *VolumeControl, volume int) Model {
	return Model{
		volume:     volume,
		volumeCtrl: volCtrl,
	}
}

// Run creates the TUI program; the caller starts it
func Run(volCtrl *VolumeControl, volume int) (*tea.Program, error) {
	p := tea.NewProgram(NewModel(volCtrl, volume), tea.WithAltScreen())
	return p, nil
}
