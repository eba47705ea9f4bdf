// ABOUTME: Malgo-based microphone capture
// ABOUTME: Collects miniaudio capture callbacks into blocking fragment reads
package capture

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Resonate-Protocol/audioc/pkg/audio"
	"github.com/Resonate-Protocol/audioc/pkg/audio/output"
	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"
)

// chunkBacklog is how many device callbacks may queue before audio is dropped
const chunkBacklog = 64

// Malgo captures from the default input device
type Malgo struct {
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device

	chunks   chan []byte
	leftover []byte
	done     chan struct{}
	once     sync.Once
	mu       sync.Mutex

	overruns atomic.Int64
}

// NewMalgo creates a microphone source
func NewMalgo() *Malgo {
	return &Malgo{
		chunks: make(chan []byte, chunkBacklog),
		done:   make(chan struct{}),
	}
}

// Open initializes and starts the capture device
func (m *Malgo) Open(format audio.Format, fragmentSize int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := format.Validate(); err != nil {
		return err
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	m.malgoCtx = ctx

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = output.MalgoFormat(format.Sample)
	deviceConfig.Capture.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(format.FramesIn(fragmentSize))
	deviceConfig.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutputSample, pInputSamples []byte, frameCount uint32) {
			n := int(frameCount) * format.BytesPerFrame()
			if n > len(pInputSamples) {
				n = len(pInputSamples)
			}
			chunk := append([]byte(nil), pInputSamples[:n]...)
			select {
			case m.chunks <- chunk:
			default:
				m.overruns.Add(1)
			}
		},
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		m.freeContext()
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		m.freeContext()
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	m.device = device

	logrus.WithFields(logrus.Fields{
		"function": "Open",
		"backend":  "malgo",
		"format":   format.String(),
		"fragment": fragmentSize,
	}).Info("Audio capture initialized")

	return nil
}

// Read blocks until p is full of captured audio
func (m *Malgo) Read(p []byte) (int, error) {
	n := copy(p, m.leftover)
	m.leftover = m.leftover[n:]

	for n < len(p) {
		select {
		case chunk := <-m.chunks:
			c := copy(p[n:], chunk)
			n += c
			m.leftover = chunk[c:]
		case <-m.done:
			return n, ErrClosed
		}
	}
	return n, nil
}

// Overruns returns how many device callbacks were dropped because reads fell behind
func (m *Malgo) Overruns() int64 {
	return m.overruns.Load()
}

// Close stops the device and unblocks Read
func (m *Malgo) Close() error {
	m.once.Do(func() { close(m.done) })

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		if err := m.device.Stop(); err != nil {
			logrus.WithField("function", "Close").Warnf("Capture device stop error: %v", err)
		}
		m.device.Uninit()
		m.device = nil
	}
	m.freeContext()
	return nil
}

// freeContext releases the malgo context (must hold m.mu)
func (m *Malgo) freeContext() {
	if m.malgoCtx == nil {
		return
	}
	if err := m.malgoCtx.Uninit(); err != nil {
		logrus.WithField("function", "Close").Warnf("Malgo context uninit error: %v", err)
	}
	m.malgoCtx.Free()
	m.malgoCtx = nil
}
