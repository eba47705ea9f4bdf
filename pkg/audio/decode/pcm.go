// ABOUTME: Raw PCM file reader
// ABOUTME: Reads headerless U8 or S16LE files in a caller-supplied format
package decode

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/Resonate-Protocol/audioc/pkg/audio"
)

// PCMReader reads headerless PCM
type PCMReader struct {
	closer io.Closer
	r      *bufio.Reader
	format audio.Format
	buf    []byte
}

// OpenPCM opens a raw PCM file holding audio in format
func OpenPCM(path string, format audio.Format) (*PCMReader, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCM file: %w", err)
	}
	return NewPCMReader(f, format), nil
}

// NewPCMReader reads raw PCM in format from r
func NewPCMReader(r io.Reader, format audio.Format) *PCMReader {
	p := &PCMReader{r: bufio.NewReader(r), format: format}
	if c, ok := r.(io.Closer); ok {
		p.closer = c
	}
	return p
}

// ReadSamples reads whole samples; a trailing partial sample is dropped
func (p *PCMReader) ReadSamples(dst []int16) (int, error) {
	bps := p.format.Sample.BytesPerSample()
	need := len(dst) * bps
	if cap(p.buf) < need {
		p.buf = make([]byte, need)
	}

	n, err := io.ReadFull(p.r, p.buf[:need])
	n -= n % bps
	if n == 0 {
		if err == nil || err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return 0, err
	}
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return 0, err
	}

	return copy(dst, audio.DecodeSamples(p.buf[:n], p.format.Sample)), nil
}

// SampleRate returns the configured sample rate
func (p *PCMReader) SampleRate() int { return p.format.SampleRate }

// Channels returns the configured channel count
func (p *PCMReader) Channels() int { return p.format.Channels }

// Close closes the underlying file
func (p *PCMReader) Close() error {
	if p.closer != nil {
		return p.closer.Close()
	}
	return nil
}
