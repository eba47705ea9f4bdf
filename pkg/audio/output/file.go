// ABOUTME: Paced file and null output implementations
// ABOUTME: Drains the ring at the stream byte rate into an io.Writer
package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/Resonate-Protocol/audioc/pkg/audio"
	"github.com/sirupsen/logrus"
)

// File plays audio into a writer at real-time speed, one block per block duration
type File struct {
	*stream
	path   string
	w      io.Writer
	closer io.Closer
	cancel context.CancelFunc
	wg     sync.WaitGroup

	errMu sync.Mutex
	err   error
}

// NewFile creates an output that writes raw PCM to path
func NewFile(path string) *File {
	return &File{stream: newStream(), path: path}
}

// NewNull creates an output that discards audio at real-time speed
func NewNull() *File {
	return NewWriter(io.Discard)
}

// NewWriter creates an output that writes raw PCM to w
func NewWriter(w io.Writer) *File {
	return &File{stream: newStream(), w: w}
}

// Open starts the pacing goroutine
func (f *File) Open(format audio.Format, blockSize int) error {
	if err := f.setup(format, blockSize); err != nil {
		return err
	}

	if f.w == nil {
		file, err := os.Create(f.path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		f.w, f.closer = file, file
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel

	f.wg.Add(1)
	go f.drain(ctx, format.BytesToDuration(blockSize))

	logrus.WithFields(logrus.Fields{
		"function": "Open",
		"backend":  "file",
		"path":     f.path,
		"format":   format.String(),
	}).Info("Audio output initialized")

	return nil
}

func (f *File) drain(ctx context.Context, period time.Duration) {
	defer f.wg.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	block := make([]byte, f.blockSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.pull(block)
			if _, err := f.w.Write(block); err != nil {
				f.errMu.Lock()
				f.err = err
				f.errMu.Unlock()
				return
			}
		}
	}
}

// Err returns the first error hit while writing to the underlying writer
func (f *File) Err() error {
	f.errMu.Lock()
	defer f.errMu.Unlock()
	return f.err
}

// Close stops pacing and closes the file
func (f *File) Close() error {
	f.shutdown()
	if f.cancel != nil {
		f.cancel()
		f.wg.Wait()
		f.cancel = nil
	}
	if f.closer != nil {
		if err := f.closer.Close(); err != nil {
			return fmt.Errorf("failed to close output file: %w", err)
		}
		f.closer = nil
	}
	return nil
}
