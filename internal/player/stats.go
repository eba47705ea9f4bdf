// ABOUTME: Jitter buffer statistics
// ABOUTME: Counters published as value snapshots from the event loop
package player

import (
	"time"
)

// State is the playout state of the receive direction
type State int

const (
	// PreRoll buffers incoming audio before playout starts
	PreRoll State = iota
	// Steady releases blocks to the output device
	Steady
)

func (s State) String() string {
	switch s {
	case PreRoll:
		return "pre-roll"
	case Steady:
		return "steady"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of scheduler counters
type Stats struct {
	// Send direction
	Sent          int64
	LocalSilences int64
	SendErrors    int64
	ShortReads    int64

	// Receive direction
	Received       int64
	Accepted       int64
	Malformed      int64
	Stale          int64
	ForeignSSRC    int64
	QueueFull      int64
	RemoteSilences int64
	LostRepeated   int64
	LostNoise      int64
	ClampedFillers int64
	TimerFillers   int64

	// Playout
	Played      int64
	ShortWrites int64
	WriteErrors int64

	State State
	Depth int

	// Theoretical is the playout time of every block written to the device.
	// Actual is the wall time since playout started.
	Theoretical time.Duration
	Actual      time.Duration
}

// Lost returns the number of filler blocks inserted for in-transit loss
func (s Stats) Lost() int64 {
	return s.LostRepeated + s.LostNoise
}

// Drift returns how far actual playout time has run ahead of the audio played
func (s Stats) Drift() time.Duration {
	return s.Actual - s.Theoretical
}
