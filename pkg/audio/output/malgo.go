// ABOUTME: Malgo-based audio output implementation
// ABOUTME: Uses miniaudio via malgo with a callback draining the shared ring
package output

import (
	"fmt"
	"sync"

	"github.com/Resonate-Protocol/audioc/pkg/audio"
	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"
)

// Malgo output implementation using malgo/miniaudio library
type Malgo struct {
	*stream
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	mu       sync.Mutex
}

// NewMalgo creates a new Malgo output
func NewMalgo() *Malgo {
	return &Malgo{stream: newStream()}
}

// Open initializes the output device with specified format
func (m *Malgo) Open(format audio.Format, blockSize int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.setup(format, blockSize); err != nil {
		return err
	}

	if m.malgoCtx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return fmt.Errorf("failed to initialize malgo context: %w", err)
		}
		m.malgoCtx = ctx
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = MalgoFormat(format.Sample)
	deviceConfig.Playback.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(format.FramesIn(blockSize))
	deviceConfig.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutputSample, pInputSamples []byte, frameCount uint32) {
			m.pull(pOutputSample[:int(frameCount)*format.BytesPerFrame()])
		},
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start device: %w", err)
	}
	m.device = device

	logrus.WithFields(logrus.Fields{
		"function": "Open",
		"backend":  "malgo",
		"format":   format.String(),
		"block":    blockSize,
	}).Info("Audio output initialized")

	return nil
}

// Close releases output resources
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shutdown()
	if m.device != nil {
		if err := m.device.Stop(); err != nil {
			logrus.WithField("function", "Close").Warnf("Device stop error: %v", err)
		}
		m.device.Uninit()
		m.device = nil
	}

	if m.malgoCtx != nil {
		if err := m.malgoCtx.Uninit(); err != nil {
			logrus.WithField("function", "Close").Warnf("Malgo context uninit error: %v", err)
		}
		m.malgoCtx.Free()
		m.malgoCtx = nil
	}
	return nil
}

// MalgoFormat maps a sample format to the miniaudio format
func MalgoFormat(sample audio.SampleFormat) malgo.FormatType {
	if sample == audio.U8 {
		return malgo.FormatU8
	}
	return malgo.FormatS16
}
