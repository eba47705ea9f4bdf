// ABOUTME: Capture source interface and factory
// ABOUTME: Pumps fragments from a blocking source into the event loop channel
package capture

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/Resonate-Protocol/audioc/pkg/audio"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by Read after Close
var ErrClosed = errors.New("capture source closed")

// Source represents an audio capture device
type Source interface {
	// Open starts capturing format audio in fragmentSize-byte reads
	Open(format audio.Format, fragmentSize int) error

	// Read blocks until p is filled or the source ends
	Read(p []byte) (int, error)

	// Close releases capture resources
	Close() error
}

// New creates a source by name: "mic", "tone", or a file path.
// rawFormat describes headerless PCM files and is ignored otherwise.
func New(name string, rawFormat audio.Format) Source {
	switch name {
	case "mic", "":
		return NewMalgo()
	case "tone":
		return NewTone(DefaultToneFrequency)
	default:
		return NewFile(name, rawFormat, true)
	}
}

// Pump reads fragments from src and sends them to out until ctx ends or
// the source fails. out is closed on return. Each fragment is a fresh slice.
func Pump(ctx context.Context, src Source, fragmentSize int, out chan<- []byte) error {
	defer close(out)

	for {
		fragment := make([]byte, fragmentSize)
		n, err := src.Read(fragment)
		if n > 0 {
			select {
			case out <- fragment[:n]:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrClosed) {
				return nil
			}
			logrus.WithFields(logrus.Fields{
				"function": "Pump",
				"error":    err.Error(),
			}).Error("Capture failed")
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// pacer releases one fragment per fragment duration
type pacer struct {
	period time.Duration
	next   time.Time
	done   chan struct{}
}

func newPacer(period time.Duration) *pacer {
	return &pacer{period: period, done: make(chan struct{})}
}

// wait blocks until the next fragment is due. It returns false once stopped.
func (p *pacer) wait() bool {
	now := time.Now()
	if p.next.IsZero() {
		p.next = now
	}
	p.next = p.next.Add(p.period)

	d := p.next.Sub(now)
	if d <= 0 {
		// Resynchronize after a long stall instead of bursting
		if -d > p.period {
			p.next = now
		}
		select {
		case <-p.done:
			return false
		default:
			return true
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-p.done:
		return false
	}
}

func (p *pacer) stop() {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
}
