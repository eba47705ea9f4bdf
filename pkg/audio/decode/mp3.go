// ABOUTME: MP3 file reader
// ABOUTME: Decodes MP3 files to interleaved stereo int16 samples
package decode

import (
	"fmt"
	"io"
	"os"

	"github.com/Resonate-Protocol/audioc/pkg/audio"
	"github.com/hajimehoshi/go-mp3"
	"github.com/sirupsen/logrus"
)

// MP3Reader decodes an MP3 file
type MP3Reader struct {
	file    *os.File
	decoder *mp3.Decoder
	buf     []byte
}

// OpenMP3 opens an MP3 file
func OpenMP3(path string) (*MP3Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "OpenMP3",
		"path":        path,
		"sample_rate": decoder.SampleRate(),
	}).Info("Loaded MP3")

	return &MP3Reader{file: f, decoder: decoder}, nil
}

// ReadSamples reads interleaved stereo samples
func (r *MP3Reader) ReadSamples(dst []int16) (int, error) {
	// go-mp3 always produces 16-bit stereo
	need := (len(dst) / 2) * 4
	if cap(r.buf) < need {
		r.buf = make([]byte, need)
	}
	buf := r.buf[:need]

	n, err := io.ReadFull(r.decoder, buf)
	n -= n % 4
	samples := audio.DecodeSamples(buf[:n], audio.S16LE)
	copy(dst, samples)

	if err == io.ErrUnexpectedEOF {
		err = nil
	}
	return len(samples), err
}

// SampleRate returns the native sample rate
func (r *MP3Reader) SampleRate() int { return r.decoder.SampleRate() }

// Channels returns 2; the decoder always outputs stereo
func (r *MP3Reader) Channels() int { return 2 }

// Close releases the file
func (r *MP3Reader) Close() error {
	return r.file.Close()
}
