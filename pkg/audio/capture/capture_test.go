// ABOUTME: Tests for capture sources
// ABOUTME: Covers the tone generator, file conversion and the capture pump
package capture

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Resonate-Protocol/audioc/pkg/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pcmu = audio.Format{SampleRate: 8000, Channels: 1, Sample: audio.U8}
	l16  = audio.Format{SampleRate: 44100, Channels: 1, Sample: audio.S16LE}
)

func TestNewSelectsSource(t *testing.T) {
	assert.IsType(t, &Malgo{}, New("mic", audio.Format{}))
	assert.IsType(t, &Tone{}, New("tone", audio.Format{}))
	assert.IsType(t, &File{}, New("speech.flac", audio.Format{}))
}

func TestToneGenerate(t *testing.T) {
	tone := NewTone(DefaultToneFrequency)
	require.NoError(t, tone.Open(l16, 1764))

	p := make([]byte, 1764)
	n := tone.generate(p)
	assert.Equal(t, 1764, n)

	samples := audio.DecodeSamples(p, audio.S16LE)
	assert.Equal(t, int16(0), samples[0])

	peak := int16(0)
	for _, s := range samples {
		if s > peak {
			peak = s
		}
	}
	assert.InDelta(t, 16383, peak, 50)
	assert.Equal(t, uint64(882), tone.sampleIndex)
}

func TestToneU8Centered(t *testing.T) {
	tone := NewTone(DefaultToneFrequency)
	require.NoError(t, tone.Open(pcmu, 160))

	p := make([]byte, 160)
	tone.generate(p)
	assert.Equal(t, byte(128), p[0])
	for _, b := range p {
		assert.InDelta(t, 128, int(b), 65)
	}
}

func TestToneReadAfterClose(t *testing.T) {
	tone := NewTone(DefaultToneFrequency)
	require.NoError(t, tone.Open(pcmu, 160))
	require.NoError(t, tone.Close())

	_, err := tone.Read(make([]byte, 160))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTonePaced(t *testing.T) {
	tone := NewTone(DefaultToneFrequency)
	// 80 bytes at 8000 B/s is 10 ms per fragment
	require.NoError(t, tone.Open(pcmu, 80))
	defer tone.Close()

	start := time.Now()
	for i := 0; i < 3; i++ {
		n, err := tone.Read(make([]byte, 80))
		require.NoError(t, err)
		assert.Equal(t, 80, n)
	}
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func writeRaw(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voice.raw")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestFileSameFormat(t *testing.T) {
	path := writeRaw(t, []byte{1, 2, 3, 4, 5, 6})
	src := NewFile(path, audio.Format{}, false)
	src.SetPaced(false)
	require.NoError(t, src.Open(pcmu, 4))
	defer src.Close()

	p := make([]byte, 4)
	n, err := src.Read(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, p[:n])

	n, err = src.Read(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 6}, p[:n])

	_, err = src.Read(p)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFileLoops(t *testing.T) {
	path := writeRaw(t, []byte{10, 20, 30})
	src := NewFile(path, audio.Format{}, true)
	src.SetPaced(false)
	require.NoError(t, src.Open(pcmu, 4))
	defer src.Close()

	p := make([]byte, 4)
	n, err := src.Read(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 20, 30, 10}, p[:n])

	n, err = src.Read(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{20, 30, 10, 20}, p[:n])
}

func TestFileEmptyLoopEnds(t *testing.T) {
	path := writeRaw(t, nil)
	src := NewFile(path, audio.Format{}, true)
	src.SetPaced(false)
	require.NoError(t, src.Open(pcmu, 4))
	defer src.Close()

	_, err := src.Read(make([]byte, 4))
	assert.ErrorIs(t, err, io.EOF)
}

func TestFileConvertsFormat(t *testing.T) {
	// 16 kHz stereo S16 file into an 8 kHz mono U8 stream
	raw := audio.Format{SampleRate: 16000, Channels: 2, Sample: audio.S16LE}
	var samples []int16
	for i := 0; i < 400; i++ {
		samples = append(samples, 64<<8, 0)
	}
	path := writeRaw(t, audio.EncodeSamples(nil, samples, audio.S16LE))

	src := NewFile(path, raw, false)
	src.SetPaced(false)
	require.NoError(t, src.Open(pcmu, 100))
	defer src.Close()

	p := make([]byte, 100)
	n, err := src.Read(p)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	// Stereo average of 64<<8 and 0 is 32<<8, which is 160 in U8
	for _, b := range p[:n] {
		assert.Equal(t, byte(160), b)
	}
}

func TestFileReadAfterClose(t *testing.T) {
	path := writeRaw(t, []byte{1, 2, 3, 4})
	src := NewFile(path, audio.Format{}, false)
	require.NoError(t, src.Open(pcmu, 4))
	require.NoError(t, src.Close())

	_, err := src.Read(make([]byte, 4))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRemix(t *testing.T) {
	assert.Equal(t, []int16{15, 35}, remix(nil, []int16{10, 20, 30, 40}, 2, 1))
	assert.Equal(t, []int16{7, 7, -3, -3}, remix(nil, []int16{7, -3}, 1, 2))
	assert.Equal(t, []int16{1, 2}, remix(nil, []int16{1, 2}, 1, 1))
}

type scriptedSource struct {
	reads [][]byte
	err   error
}

func (s *scriptedSource) Open(audio.Format, int) error { return nil }
func (s *scriptedSource) Close() error                 { return nil }

func (s *scriptedSource) Read(p []byte) (int, error) {
	if len(s.reads) == 0 {
		return 0, s.err
	}
	n := copy(p, s.reads[0])
	s.reads = s.reads[1:]
	return n, nil
}

func TestPumpDeliversFragments(t *testing.T) {
	src := &scriptedSource{
		reads: [][]byte{{1, 2, 3, 4}, {5, 6}},
		err:   io.EOF,
	}
	out := make(chan []byte, 4)

	err := Pump(context.Background(), src, 4, out)
	require.NoError(t, err)

	var got [][]byte
	for f := range out {
		got = append(got, f)
	}
	assert.Equal(t, [][]byte{{1, 2, 3, 4}, {5, 6}}, got)
}

func TestPumpReturnsDeviceError(t *testing.T) {
	src := &scriptedSource{err: assert.AnError}
	out := make(chan []byte, 1)

	err := Pump(context.Background(), src, 4, out)
	assert.ErrorIs(t, err, assert.AnError)
	_, open := <-out
	assert.False(t, open)
}

func TestPumpStopsOnCancel(t *testing.T) {
	tone := NewTone(DefaultToneFrequency)
	require.NoError(t, tone.Open(pcmu, 80))
	defer tone.Close()

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan []byte)
	done := make(chan error, 1)
	go func() { done <- Pump(ctx, tone, 80, out) }()

	<-out
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("pump did not stop")
	}
}
