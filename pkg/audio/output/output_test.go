// ABOUTME: Audio output tests
// ABOUTME: Verifies ring buffering, volume scaling, writable signalling and the paced writer
package output

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/audioc/pkg/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pcmu = audio.Format{SampleRate: 8000, Channels: 1, Sample: audio.U8}

func TestBackendsImplementOutput(t *testing.T) {
	var _ Output = (*Oto)(nil)
	var _ Output = (*Malgo)(nil)
	var _ Output = (*File)(nil)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"oto", false},
		{"malgo", false},
		{"null", false},
		{"file:/tmp/out.raw", false},
		{"portaudio", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := New(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownBackend)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, out)
		})
	}
}

func TestRingBufferWrap(t *testing.T) {
	rb := NewRingBuffer(5)

	assert.Equal(t, 3, rb.Write([]byte{1, 2, 3}))
	p := make([]byte, 2)
	assert.Equal(t, 2, rb.Read(p, 0))
	assert.Equal(t, []byte{1, 2}, p)

	// Wraps around the end
	assert.Equal(t, 4, rb.Write([]byte{4, 5, 6, 7, 8}))
	assert.Equal(t, 0, rb.Free())

	p = make([]byte, 5)
	assert.Equal(t, 5, rb.Read(p, 0))
	assert.Equal(t, []byte{3, 4, 5, 6, 7}, p)
}

func TestRingBufferUnderrunFill(t *testing.T) {
	rb := NewRingBuffer(8)
	rb.Write([]byte{9, 9})

	p := make([]byte, 4)
	assert.Equal(t, 2, rb.Read(p, 128))
	assert.Equal(t, []byte{9, 9, 128, 128}, p)
	assert.Equal(t, 0, rb.Available())
}

func TestApplyVolume(t *testing.T) {
	tests := []struct {
		name     string
		sample   audio.SampleFormat
		in       []int16
		volume   int
		muted    bool
		expected []int16
	}{
		{"s16 full", audio.S16LE, []int16{1000, -1000}, 100, false, []int16{1000, -1000}},
		{"s16 half", audio.S16LE, []int16{1000, -1000, 32767}, 50, false, []int16{500, -500, 16384}},
		{"s16 muted", audio.S16LE, []int16{1000, -32768}, 100, true, []int16{0, 0}},
		{"u8 half", audio.U8, []int16{256 * 64, -256 * 64}, 50, false, []int16{256 * 32, -256 * 32}},
		{"u8 muted", audio.U8, []int16{256 * 100}, 80, true, []int16{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := audio.EncodeSamples(nil, tt.in, tt.sample)
			dst := make([]byte, len(src))
			applyVolume(dst, src, tt.sample, tt.volume, tt.muted)
			assert.Equal(t, tt.expected, audio.DecodeSamples(dst, tt.sample))
		})
	}
}

func TestGetVolumeMultiplier(t *testing.T) {
	assert.Equal(t, 0.9, getVolumeMultiplier(90, false))
	assert.Equal(t, 0.0, getVolumeMultiplier(90, true))
}

func TestStreamWriteNotOpen(t *testing.T) {
	s := newStream()
	_, err := s.Write([]byte{1})
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestStreamWritableSignalling(t *testing.T) {
	s := newStream()
	require.NoError(t, s.setup(pcmu, 10))

	select {
	case <-s.Writable():
	default:
		t.Fatal("expected writable after open")
	}

	block := bytes.Repeat([]byte{200}, 10)
	for i := 0; i < DeviceBlocks-1; i++ {
		n, err := s.Write(block)
		require.NoError(t, err)
		assert.Equal(t, 10, n)
	}
	// Still room for one more block
	select {
	case <-s.Writable():
	default:
		t.Fatal("expected writable with one block free")
	}

	n, err := s.Write(block)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	select {
	case <-s.Writable():
		t.Fatal("ring is full")
	default:
	}
	assert.Equal(t, 30, s.Buffered())

	// Full ring takes nothing
	n, err = s.Write(block)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Device pulls a block, freeing room
	p := make([]byte, 10)
	assert.Equal(t, 10, s.pull(p))
	select {
	case <-s.Writable():
	default:
		t.Fatal("expected writable after pull")
	}
}

func TestStreamShortWriteWholeFrames(t *testing.T) {
	s := newStream()
	stereo := audio.Format{SampleRate: 8000, Channels: 2, Sample: audio.S16LE}
	require.NoError(t, s.setup(stereo, 8))

	_, err := s.Write(make([]byte, 20))
	require.NoError(t, err)

	// 4 bytes free, a 6-byte write is cut to one whole frame
	n, err := s.Write(make([]byte, 6))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestStreamVolumeApplied(t *testing.T) {
	s := newStream()
	require.NoError(t, s.setup(pcmu, 2))
	s.SetVolume(150)
	assert.Equal(t, 100, s.Volume())
	s.SetMuted(true)
	assert.True(t, s.Muted())

	_, err := s.Write([]byte{255, 0})
	require.NoError(t, err)

	p := make([]byte, 2)
	s.pull(p)
	assert.Equal(t, []byte{128, 128}, p)
}

func TestStreamSetupValidation(t *testing.T) {
	s := newStream()
	assert.Error(t, s.setup(pcmu, 0))
	assert.Error(t, s.setup(audio.Format{SampleRate: 8000, Channels: 1, Sample: audio.S16LE}, 3))
	assert.Error(t, s.setup(audio.Format{}, 10))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func TestWriterOutputPacesBlocks(t *testing.T) {
	var sink syncBuffer
	out := NewWriter(&sink)
	// 8 bytes at 8000 B/s is one block per millisecond
	require.NoError(t, out.Open(pcmu, 8))

	n, err := out.Write(bytes.Repeat([]byte{200}, 8))
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	played := bytes.Repeat([]byte{200}, 8)
	silence := bytes.Repeat([]byte{128}, 8)
	require.Eventually(t, func() bool {
		data := sink.Bytes()
		// Underruns play silence
		return bytes.Contains(data, played) && bytes.Contains(data, silence)
	}, time.Second, time.Millisecond)
	require.NoError(t, out.Close())

	assert.Zero(t, len(sink.Bytes())%8)
	assert.NoError(t, out.Err())
	assert.Equal(t, 0, out.Buffered())
}
