// ABOUTME: Shared playback state for every output backend
// ABOUTME: Owns the ring buffer, volume and the writable signal
package output

import (
	"fmt"
	"sync"

	"github.com/Resonate-Protocol/audioc/pkg/audio"
	"github.com/sirupsen/logrus"
)

// stream is embedded by the backends. The device side drains it with pull.
type stream struct {
	mu        sync.Mutex
	ring      *RingBuffer
	format    audio.Format
	blockSize int
	scratch   []byte
	volume    int
	muted     bool
	open      bool

	writable chan struct{}
}

func newStream() *stream {
	return &stream{
		volume:   100,
		writable: make(chan struct{}, 1),
	}
}

func (s *stream) setup(format audio.Format, blockSize int) error {
	if err := format.Validate(); err != nil {
		return err
	}
	if blockSize <= 0 || blockSize%format.BytesPerFrame() != 0 {
		return fmt.Errorf("invalid block size %d for %s", blockSize, format)
	}

	s.mu.Lock()
	s.format = format
	s.blockSize = blockSize
	s.ring = NewRingBuffer(blockSize * DeviceBlocks)
	s.scratch = make([]byte, blockSize*DeviceBlocks)
	s.open = true
	s.mu.Unlock()

	s.signal()
	return nil
}

// Write queues as much of block as fits, in whole frames
func (s *stream) Write(block []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return 0, ErrNotOpen
	}

	n := len(block)
	if free := s.ring.Free(); n > free {
		n = free
	}
	n -= n % s.format.BytesPerFrame()
	if n == 0 {
		return 0, nil
	}

	scaled := s.scratch[:n]
	applyVolume(scaled, block[:n], s.format.Sample, s.volume, s.muted)
	n = s.ring.Write(scaled)

	if s.ring.Free() >= s.blockSize {
		s.signal()
	}
	return n, nil
}

// pull fills p for the device, padding underruns with silence
func (s *stream) pull(p []byte) int {
	if s.ring == nil {
		return 0
	}
	n := s.ring.Read(p, zeroLevel(s.format.Sample))
	if s.ring.Free() >= s.blockSize {
		s.signal()
	}
	return n
}

func (s *stream) signal() {
	select {
	case s.writable <- struct{}{}:
	default:
	}
}

// Writable signals when at least one more block fits
func (s *stream) Writable() <-chan struct{} {
	return s.writable
}

// Buffered returns the bytes waiting in the ring
func (s *stream) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ring == nil {
		return 0
	}
	return s.ring.Available()
}

// SetVolume sets the volume (0-100)
func (s *stream) SetVolume(volume int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = clamp(volume, 0, 100)
	logrus.WithFields(logrus.Fields{
		"function": "SetVolume",
		"volume":   s.volume,
	}).Debug("Volume changed")
}

// SetMuted sets mute state
func (s *stream) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
	logrus.WithFields(logrus.Fields{
		"function": "SetMuted",
		"muted":    muted,
	}).Debug("Mute changed")
}

// Volume returns current volume
func (s *stream) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Muted returns mute state
func (s *stream) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *stream) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	if s.ring != nil {
		s.ring.Reset()
	}
}
