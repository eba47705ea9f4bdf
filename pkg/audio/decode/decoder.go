// ABOUTME: Decoder interface definition
// ABOUTME: Common interface for audio file readers and extension dispatch
package decode

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Resonate-Protocol/audioc/pkg/audio"
)

// ErrUnsupportedFile is returned by Open for unknown file extensions
var ErrUnsupportedFile = errors.New("unsupported audio file")

// Reader reads decoded audio as interleaved int16 samples
type Reader interface {
	// ReadSamples fills dst and returns the number of samples read.
	// It returns io.EOF once the file is exhausted.
	ReadSamples(dst []int16) (int, error)

	// SampleRate returns the native sample rate
	SampleRate() int

	// Channels returns the native channel count
	Channels() int

	// Close releases decoder resources
	Close() error
}

// Open picks a reader by extension. Files without a compressed extension
// (.raw, .pcm, .u8, .s16) are read as raw PCM in rawFormat.
func Open(path string, rawFormat audio.Format) (Reader, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		return OpenMP3(path)
	case ".flac":
		return OpenFLAC(path)
	case ".raw", ".pcm", ".u8", ".s16":
		return OpenPCM(path, rawFormat)
	default:
		return nil, fmt.Errorf("%w: %s (supported: .mp3, .flac, .raw, .pcm, .u8, .s16)", ErrUnsupportedFile, ext)
	}
}
