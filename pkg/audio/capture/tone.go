// ABOUTME: Test tone capture source
// ABOUTME: Generates a paced sine wave in the stream format
package capture

import (
	"fmt"
	"math"

	"github.com/Resonate-Protocol/audioc/pkg/audio"
)

// DefaultToneFrequency is the A4 note
const DefaultToneFrequency = 440.0

// Tone generates a sine wave at half scale
type Tone struct {
	frequency   float64
	format      audio.Format
	sampleIndex uint64
	pacer       *pacer
	samples     []int16
}

// NewTone creates a tone source
func NewTone(frequency float64) *Tone {
	return &Tone{frequency: frequency}
}

// Open prepares the generator for format
func (s *Tone) Open(format audio.Format, fragmentSize int) error {
	if err := format.Validate(); err != nil {
		return err
	}
	if fragmentSize <= 0 {
		return fmt.Errorf("invalid fragment size: %d", fragmentSize)
	}
	s.format = format
	s.pacer = newPacer(format.BytesToDuration(fragmentSize))
	return nil
}

// Read fills p with the next stretch of the tone at real-time pace
func (s *Tone) Read(p []byte) (int, error) {
	if s.pacer == nil {
		return 0, ErrClosed
	}
	if !s.pacer.wait() {
		return 0, ErrClosed
	}
	return s.generate(p), nil
}

// generate writes whole frames of the tone into p
func (s *Tone) generate(p []byte) int {
	frames := s.format.FramesIn(len(p))
	n := frames * s.format.Channels
	if cap(s.samples) < n {
		s.samples = make([]int16, n)
	}
	samples := s.samples[:n]

	for i := 0; i < frames; i++ {
		t := float64(s.sampleIndex+uint64(i)) / float64(s.format.SampleRate)
		v := int16(math.Sin(2*math.Pi*s.frequency*t) * 32767.0 * 0.5)
		for ch := 0; ch < s.format.Channels; ch++ {
			samples[i*s.format.Channels+ch] = v
		}
	}
	s.sampleIndex += uint64(frames)

	return len(audio.EncodeSamples(p[:0], samples, s.format.Sample))
}

// Close stops the generator
func (s *Tone) Close() error {
	if s.pacer != nil {
		s.pacer.stop()
	}
	return nil
}
