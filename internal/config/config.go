// ABOUTME: Intercom configuration with defaults, validation and derived sizes
// ABOUTME: Materialized from command-line flags in main
package config

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/Resonate-Protocol/audioc/pkg/audio"
	"github.com/Resonate-Protocol/audioc/pkg/protocol"
	"github.com/google/uuid"
)

const (
	// DefaultPort is the standard RTP audio port
	DefaultPort = 5004
	// DefaultPacketMs is the audio duration carried by one packet
	DefaultPacketMs = 20
	// DefaultBufferingMs is the pre-roll before playout starts
	DefaultBufferingMs = 100
	// DefaultVolume is the initial playback volume (0-100)
	DefaultVolume = 90
	// MarginMs is the queue space kept beyond the pre-roll
	MarginMs = 200
	// MaxDatagram is the largest UDP payload over IPv4
	MaxDatagram = 65507
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Config holds intercom configuration
type Config struct {
	// Group is the IPv4 multicast group. It may be empty when Discover is set.
	Group     string
	Port      int
	Interface string
	TTL       int

	// SSRC identifies this sender. Zero means pick one at random.
	SSRC    uint32
	Payload audio.PayloadType

	PacketMs    int
	BufferingMs int
	Volume      int

	SuppressSilence bool
	Verbose         bool

	// Capture is "mic", "tone" or an audio file path
	Capture string
	// Output is "oto", "malgo", "null" or "file:<path>"
	Output string

	// Name is the instance name advertised over mDNS
	Name      string
	Advertise bool
	Discover  bool

	// MonitorAddr serves the statistics feed when set
	MonitorAddr string
}

// Defaults returns the configuration used when no flags are given
func Defaults() Config {
	return Config{
		Port:            DefaultPort,
		Payload:         audio.PayloadPCMU,
		PacketMs:        DefaultPacketMs,
		BufferingMs:     DefaultBufferingMs,
		Volume:          DefaultVolume,
		SuppressSilence: true,
		Capture:         "mic",
		Output:          "oto",
	}
}

// Validate checks the configuration for consistency
func (c Config) Validate() error {
	if c.Group == "" {
		if !c.Discover {
			return fmt.Errorf("%w: multicast group is required", ErrInvalid)
		}
	} else if ip := net.ParseIP(c.Group).To4(); ip == nil || !ip.IsMulticast() {
		return fmt.Errorf("%w: %q is not an IPv4 multicast group", ErrInvalid, c.Group)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalid, c.Port)
	}
	if _, err := c.Payload.Format(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.PacketMs <= 0 {
		return fmt.Errorf("%w: packet duration %d ms", ErrInvalid, c.PacketMs)
	}
	if c.FragmentSize() <= 0 {
		return fmt.Errorf("%w: packet duration %d ms holds no whole frame", ErrInvalid, c.PacketMs)
	}
	if size := protocol.HeaderSize + c.FragmentSize(); size > MaxDatagram {
		return fmt.Errorf("%w: packet duration %d ms makes %d-byte datagrams (max %d)",
			ErrInvalid, c.PacketMs, size, MaxDatagram)
	}
	if c.BufferingMs < 0 {
		return fmt.Errorf("%w: buffering time %d ms", ErrInvalid, c.BufferingMs)
	}
	if c.Volume < 0 || c.Volume > 100 {
		return fmt.Errorf("%w: volume %d (range 0-100)", ErrInvalid, c.Volume)
	}
	if c.TTL < 0 || c.TTL > 255 {
		return fmt.Errorf("%w: TTL %d", ErrInvalid, c.TTL)
	}
	return nil
}

// Format returns the stream format implied by the payload type
func (c Config) Format() audio.Format {
	f, _ := c.Payload.Format()
	return f
}

// FragmentSize returns the payload size of one packet in bytes
func (c Config) FragmentSize() int {
	return c.Format().MsToBytes(c.PacketMs)
}

// PreRollBlocks returns the queue depth that starts playout, at least one
func (c Config) PreRollBlocks() int {
	n := c.BufferingMs / c.PacketMs
	if n < 1 {
		n = 1
	}
	return n
}

// Capacity returns the queue size: the pre-roll plus MarginMs worth of blocks
func (c Config) Capacity() int {
	margin := (MarginMs + c.PacketMs - 1) / c.PacketMs
	return c.PreRollBlocks() + margin
}

// ParseSSRC reads a source id in decimal or 0x-prefixed hex. Zero means pick one at random.
func ParseSSRC(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: ssrc %q must fit in 32 bits", ErrInvalid, s)
	}
	return uint32(v), nil
}

// EnsureSSRC picks a random SSRC when none was configured
func (c *Config) EnsureSSRC() {
	for c.SSRC == 0 {
		id := uuid.New()
		c.SSRC = binary.BigEndian.Uint32(id[:4])
	}
}

func (c Config) String() string {
	return fmt.Sprintf("group=%s:%d payload=%d (%s) packet=%dms buffering=%dms ssrc=%08x",
		c.Group, c.Port, c.Payload, c.Format(), c.PacketMs, c.BufferingMs, c.SSRC)
}
