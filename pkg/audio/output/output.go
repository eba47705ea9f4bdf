// ABOUTME: Audio output interface definition
// ABOUTME: Common interface for non-blocking playback backends
package output

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Resonate-Protocol/audioc/pkg/audio"
)

var (
	// ErrNotOpen is returned when writing to a device that is not open
	ErrNotOpen = errors.New("output not open")
	// ErrUnknownBackend is returned by New for unrecognised backend names
	ErrUnknownBackend = errors.New("unknown output backend")
)

// DeviceBlocks is how many blocks each backend buffers ahead of the device
const DeviceBlocks = 3

// Output represents an audio output device
type Output interface {
	// Open initializes the device for format, writing blockSize-byte blocks
	Open(format audio.Format, blockSize int) error

	// Write queues a block without blocking and returns the bytes accepted
	Write(block []byte) (int, error)

	// Writable signals when at least one more block fits
	Writable() <-chan struct{}

	// Buffered returns the bytes accepted but not yet played
	Buffered() int

	// SetVolume sets the software volume (0-100)
	SetVolume(volume int)

	// SetMuted sets mute state
	SetMuted(muted bool)

	// Volume returns the current volume
	Volume() int

	// Muted returns mute state
	Muted() bool

	// Close releases output resources
	Close() error
}

// New creates an output backend by name: "oto", "malgo", "null" or "file:<path>"
func New(name string) (Output, error) {
	if path, ok := strings.CutPrefix(name, "file:"); ok {
		return NewFile(path), nil
	}

	switch name {
	case "oto", "":
		return NewOto(), nil
	case "malgo":
		return NewMalgo(), nil
	case "null":
		return NewNull(), nil
	default:
		return nil, fmt.Errorf("%w: %q (supported: oto, malgo, null, file:<path>)", ErrUnknownBackend, name)
	}
}
