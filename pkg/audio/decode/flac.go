// ABOUTME: FLAC file reader
// ABOUTME: Decodes FLAC frames to interleaved int16 samples
package decode

import (
	"fmt"
	"io"

	"github.com/mewkiz/flac"
	"github.com/sirupsen/logrus"
)

// FLACReader decodes a FLAC file frame by frame
type FLACReader struct {
	stream   *flac.Stream
	channels int
	bitDepth int
	pending  []int16
}

// OpenFLAC opens a FLAC file
func OpenFLAC(path string) (*FLACReader, error) {
	stream, err := flac.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	info := stream.Info
	logrus.WithFields(logrus.Fields{
		"function":    "OpenFLAC",
		"path":        path,
		"sample_rate": info.SampleRate,
		"channels":    info.NChannels,
		"bit_depth":   info.BitsPerSample,
	}).Info("Loaded FLAC")

	return &FLACReader{
		stream:   stream,
		channels: int(info.NChannels),
		bitDepth: int(info.BitsPerSample),
	}, nil
}

// ReadSamples reads interleaved samples, parsing frames as needed
func (r *FLACReader) ReadSamples(dst []int16) (int, error) {
	for len(r.pending) < len(dst) {
		frame, err := r.stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to parse FLAC frame: %w", err)
		}

		for i := 0; i < int(frame.BlockSize); i++ {
			for ch := 0; ch < r.channels; ch++ {
				r.pending = append(r.pending, r.toInt16(frame.Subframes[ch].Samples[i]))
			}
		}
	}

	if len(r.pending) == 0 {
		return 0, io.EOF
	}

	n := copy(dst, r.pending)
	r.pending = append(r.pending[:0], r.pending[n:]...)
	return n, nil
}

// toInt16 scales a sample of the stream's bit depth to 16 bits
func (r *FLACReader) toInt16(sample int32) int16 {
	shift := r.bitDepth - 16
	if shift > 0 {
		return int16(sample >> shift)
	}
	return int16(sample << -shift)
}

// SampleRate returns the native sample rate
func (r *FLACReader) SampleRate() int { return int(r.stream.Info.SampleRate) }

// Channels returns the native channel count
func (r *FLACReader) Channels() int { return r.channels }

// Close releases the file
func (r *FLACReader) Close() error {
	return r.stream.Close()
}
