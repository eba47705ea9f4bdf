// ABOUTME: Monitor feed message types
// ABOUTME: JSON envelopes for statistics snapshots and remote control
package monitor

import (
	"encoding/json"
	"time"

	"github.com/Resonate-Protocol/audioc/internal/player"
)

// Message types
const (
	TypeHello   = "monitor/hello"
	TypeStats   = "monitor/stats"
	TypeControl = "monitor/control"
)

// Message is the envelope for every websocket frame
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Info describes the local endpoint, sent once on connect
type Info struct {
	Instance string `json:"instance"`
	Group    string `json:"group"`
	SSRC     uint32 `json:"ssrc"`
	Format   string `json:"format"`
	PacketMs int    `json:"packet_ms"`
	Version  string `json:"version"`
}

// StatsPayload is a statistics snapshot in wire form
type StatsPayload struct {
	Timestamp int64  `json:"timestamp"`
	State     string `json:"state"`
	Depth     int    `json:"depth"`

	Sent          int64 `json:"sent"`
	LocalSilences int64 `json:"local_silences"`
	SendErrors    int64 `json:"send_errors"`

	Received       int64 `json:"received"`
	Accepted       int64 `json:"accepted"`
	Malformed      int64 `json:"malformed"`
	Stale          int64 `json:"stale"`
	ForeignSSRC    int64 `json:"foreign_ssrc"`
	QueueFull      int64 `json:"queue_full"`
	RemoteSilences int64 `json:"remote_silences"`
	LostRepeated   int64 `json:"lost_repeated"`
	LostNoise      int64 `json:"lost_noise"`
	ClampedFillers int64 `json:"clamped_fillers"`
	TimerFillers   int64 `json:"timer_fillers"`

	Played      int64 `json:"played"`
	ShortReads  int64 `json:"short_reads"`
	ShortWrites int64 `json:"short_writes"`

	TheoreticalMs int64 `json:"theoretical_ms"`
	ActualMs      int64 `json:"actual_ms"`
}

// NewStatsPayload converts a scheduler snapshot
func NewStatsPayload(st player.Stats, now time.Time) StatsPayload {
	return StatsPayload{
		Timestamp:      now.UnixMilli(),
		State:          st.State.String(),
		Depth:          st.Depth,
		Sent:           st.Sent,
		LocalSilences:  st.LocalSilences,
		SendErrors:     st.SendErrors,
		Received:       st.Received,
		Accepted:       st.Accepted,
		Malformed:      st.Malformed,
		Stale:          st.Stale,
		ForeignSSRC:    st.ForeignSSRC,
		QueueFull:      st.QueueFull,
		RemoteSilences: st.RemoteSilences,
		LostRepeated:   st.LostRepeated,
		LostNoise:      st.LostNoise,
		ClampedFillers: st.ClampedFillers,
		TimerFillers:   st.TimerFillers,
		Played:         st.Played,
		ShortReads:     st.ShortReads,
		ShortWrites:    st.ShortWrites,
		TheoreticalMs:  st.Theoretical.Milliseconds(),
		ActualMs:       st.Actual.Milliseconds(),
	}
}

// Control is a remote volume or mute request. Nil fields are left unchanged.
type Control struct {
	Volume *int  `json:"volume,omitempty"`
	Muted  *bool `json:"muted,omitempty"`
}

// inbound is used to decode client frames before the payload type is known
type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}
