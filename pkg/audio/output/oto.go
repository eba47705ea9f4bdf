// ABOUTME: Oto-based audio output implementation
// ABOUTME: Feeds a persistent oto player from the shared ring buffer
package output

import (
	"fmt"
	"sync"

	"github.com/Resonate-Protocol/audioc/pkg/audio"
	"github.com/ebitengine/oto/v3"
	"github.com/sirupsen/logrus"
)

// oto only allows one context per process
var (
	otoOnce    sync.Once
	otoContext *oto.Context
	otoFormat  audio.Format
	otoErr     error
)

// Oto output implementation using oto library
type Oto struct {
	*stream
	player *oto.Player
}

// NewOto creates a new Oto output
func NewOto() *Oto {
	return &Oto{stream: newStream()}
}

// Open initializes the output device
func (o *Oto) Open(format audio.Format, blockSize int) error {
	if err := o.setup(format, blockSize); err != nil {
		return err
	}

	otoOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       otoSampleFormat(format.Sample),
			BufferSize:   format.BytesToDuration(blockSize),
		}

		ctx, readyChan, err := oto.NewContext(op)
		if err != nil {
			otoErr = fmt.Errorf("failed to create oto context: %w", err)
			return
		}
		<-readyChan

		otoContext = ctx
		otoFormat = format
	})
	if otoErr != nil {
		return otoErr
	}
	if otoFormat != format {
		return fmt.Errorf("oto context already running as %s, cannot open %s", otoFormat, format)
	}

	o.player = otoContext.NewPlayer(&ringReader{s: o.stream})
	o.player.SetBufferSize(blockSize)
	o.player.Play()

	logrus.WithFields(logrus.Fields{
		"function": "Open",
		"backend":  "oto",
		"format":   format.String(),
		"block":    blockSize,
	}).Info("Audio output initialized")

	return nil
}

// Buffered returns bytes in the ring plus those held by the oto player
func (o *Oto) Buffered() int {
	n := o.stream.Buffered()
	if o.player != nil {
		n += o.player.BufferedSize()
	}
	return n
}

// Close releases output resources
func (o *Oto) Close() error {
	o.shutdown()
	if o.player != nil {
		if err := o.player.Close(); err != nil {
			return fmt.Errorf("failed to close oto player: %w", err)
		}
		o.player = nil
	}
	return nil
}

// ringReader lets the oto player pull from the stream. It never blocks;
// underruns are played as silence.
type ringReader struct {
	s *stream
}

func (r *ringReader) Read(p []byte) (int, error) {
	r.s.pull(p)
	return len(p), nil
}

func otoSampleFormat(sample audio.SampleFormat) oto.Format {
	if sample == audio.U8 {
		return oto.FormatUnsignedInt8
	}
	return oto.FormatSignedInt16LE
}
