// ABOUTME: File capture source
// ABOUTME: Decodes raw PCM, MP3 or FLAC files and converts them to the stream format
package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Resonate-Protocol/audioc/pkg/audio"
	"github.com/Resonate-Protocol/audioc/pkg/audio/decode"
	"github.com/Resonate-Protocol/audioc/pkg/audio/resample"
	"github.com/sirupsen/logrus"
)

// File plays an audio file into the intercom as if it were a microphone
type File struct {
	path      string
	rawFormat audio.Format
	loop      bool
	paced     bool

	reader    decode.Reader
	resampler *resample.Resampler
	format    audio.Format
	pacer     *pacer

	in      []int16
	mixed   []int16
	out     []int16
	pending []int16
	// samples decoded since the file was last opened
	sinceRewind int

	mu     sync.Mutex
	closed bool
}

// NewFile creates a file source. Headerless PCM files are read in rawFormat;
// when rawFormat is zero they are assumed to be in the stream format.
func NewFile(path string, rawFormat audio.Format, loop bool) *File {
	return &File{path: path, rawFormat: rawFormat, loop: loop, paced: true}
}

// SetPaced controls real-time pacing; unpaced reads return as fast as the file decodes
func (f *File) SetPaced(paced bool) {
	f.paced = paced
}

// Open decodes the file header and prepares conversion to format
func (f *File) Open(format audio.Format, fragmentSize int) error {
	if err := format.Validate(); err != nil {
		return err
	}
	if fragmentSize <= 0 {
		return fmt.Errorf("invalid fragment size: %d", fragmentSize)
	}
	if f.rawFormat == (audio.Format{}) {
		f.rawFormat = format
	}
	f.format = format

	if err := f.open(); err != nil {
		return err
	}
	if f.paced {
		f.pacer = newPacer(format.BytesToDuration(fragmentSize))
	}

	logrus.WithFields(logrus.Fields{
		"function": "Open",
		"path":     f.path,
		"source":   fmt.Sprintf("%dHz %dch", f.reader.SampleRate(), f.reader.Channels()),
		"format":   format.String(),
		"loop":     f.loop,
	}).Info("File capture opened")

	return nil
}

func (f *File) open() error {
	reader, err := decode.Open(f.path, f.rawFormat)
	if err != nil {
		return err
	}
	f.reader = reader
	f.resampler = nil
	if reader.SampleRate() != f.format.SampleRate {
		f.resampler = resample.New(reader.SampleRate(), f.format.SampleRate, f.format.Channels)
	}
	return nil
}

// Read fills p with converted audio at real-time pace
func (f *File) Read(p []byte) (int, error) {
	need := f.format.FramesIn(len(p)) * f.format.Channels

	f.mu.Lock()
	err := f.fill(need)
	f.mu.Unlock()
	if err != nil {
		return 0, err
	}

	if f.pacer != nil && !f.pacer.wait() {
		return 0, ErrClosed
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrClosed
	}

	take := need
	if take > len(f.pending) {
		take = len(f.pending)
	}
	n := len(audio.EncodeSamples(p[:0], f.pending[:take], f.format.Sample))
	f.pending = append(f.pending[:0], f.pending[take:]...)
	return n, nil
}

// fill decodes until need samples are pending or the file ends (must hold f.mu)
func (f *File) fill(need int) error {
	if f.closed || f.reader == nil {
		return ErrClosed
	}

	for len(f.pending) < need {
		before := len(f.pending)
		err := f.decodeMore(need)
		f.sinceRewind += len(f.pending) - before
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			return err
		}
		// An empty file would otherwise loop forever
		if f.loop && f.sinceRewind > 0 {
			if err := f.rewind(); err != nil {
				return err
			}
			f.sinceRewind = 0
			continue
		}
		if len(f.pending) == 0 {
			return io.EOF
		}
		break
	}
	return nil
}

// decodeMore converts one chunk of the file into pending samples
func (f *File) decodeMore(need int) error {
	srcCh := f.reader.Channels()
	chunk := need * srcCh
	if chunk < 1024 {
		chunk = 1024
	}
	if cap(f.in) < chunk {
		f.in = make([]int16, chunk)
	}

	n, err := f.reader.ReadSamples(f.in[:chunk])
	if n > 0 {
		f.mixed = remix(f.mixed[:0], f.in[:n], srcCh, f.format.Channels)
		if f.resampler == nil {
			f.pending = append(f.pending, f.mixed...)
		} else {
			size := f.resampler.OutputSamplesNeeded(len(f.mixed)) + 2*f.format.Channels
			if cap(f.out) < size {
				f.out = make([]int16, size)
			}
			m := f.resampler.Resample(f.mixed, f.out[:size])
			f.pending = append(f.pending, f.out[:m]...)
		}
	}
	if n == 0 && err == nil {
		return io.EOF
	}
	return err
}

func (f *File) rewind() error {
	if err := f.reader.Close(); err != nil {
		return fmt.Errorf("failed to close file for looping: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "rewind",
		"path":     f.path,
	}).Debug("Looping capture file")
	return f.open()
}

// Close releases the file, unblocking a pending Read
func (f *File) Close() error {
	if f.pacer != nil {
		f.pacer.stop()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.reader != nil {
		return f.reader.Close()
	}
	return nil
}

// remix converts interleaved samples between channel counts, appending to dst.
// Extra source channels are averaged; missing ones are duplicated.
func remix(dst, src []int16, srcCh, dstCh int) []int16 {
	if srcCh == dstCh {
		return append(dst, src...)
	}

	frames := len(src) / srcCh
	for i := 0; i < frames; i++ {
		frame := src[i*srcCh : (i+1)*srcCh]
		if dstCh < srcCh {
			sum := 0
			for _, s := range frame {
				sum += int(s)
			}
			v := int16(sum / srcCh)
			for ch := 0; ch < dstCh; ch++ {
				dst = append(dst, v)
			}
			continue
		}
		for ch := 0; ch < dstCh; ch++ {
			dst = append(dst, frame[ch%srcCh])
		}
	}
	return dst
}
