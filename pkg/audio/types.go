// ABOUTME: Audio type definitions
// ABOUTME: Defines sample formats, stream formats, payload types and size conversions
package audio

import (
	"errors"
	"fmt"
	"time"
)

// SampleFormat is the PCM encoding of a single sample. Its value is the bit width.
type SampleFormat int

const (
	// U8 is unsigned 8-bit PCM centred on 128
	U8 SampleFormat = 8
	// S16LE is signed 16-bit little-endian PCM centred on 0
	S16LE SampleFormat = 16
)

// ErrUnsupportedFormat is returned for sample formats or payloads the intercom cannot carry
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// ParseSampleFormat maps a bit depth to a sample format
func ParseSampleFormat(bits int) (SampleFormat, error) {
	switch bits {
	case 8:
		return U8, nil
	case 16:
		return S16LE, nil
	default:
		return 0, fmt.Errorf("%w: %d-bit samples (supported: 8, 16)", ErrUnsupportedFormat, bits)
	}
}

// BytesPerSample returns the storage size of one sample
func (f SampleFormat) BytesPerSample() int {
	return int(f) / 8
}

func (f SampleFormat) String() string {
	switch f {
	case U8:
		return "U8"
	case S16LE:
		return "S16_LE"
	default:
		return fmt.Sprintf("Unknown(%d)", int(f))
	}
}

// PayloadType is the payload number carried in the packet header
type PayloadType uint8

const (
	// PayloadL16Mono carries 16-bit signed mono at 44.1 kHz
	PayloadL16Mono PayloadType = 11
	// PayloadPCMU carries 8-bit unsigned mono at 8 kHz
	PayloadPCMU PayloadType = 100
)

// Format returns the stream format implied by the payload type
func (p PayloadType) Format() (Format, error) {
	switch p {
	case PayloadPCMU:
		return Format{SampleRate: 8000, Channels: 1, Sample: U8}, nil
	case PayloadL16Mono:
		return Format{SampleRate: 44100, Channels: 1, Sample: S16LE}, nil
	default:
		return Format{}, fmt.Errorf("%w: payload %d (supported: %d, %d)",
			ErrUnsupportedFormat, p, PayloadL16Mono, PayloadPCMU)
	}
}

// Format describes an uncompressed PCM stream
type Format struct {
	SampleRate int
	Channels   int
	Sample     SampleFormat
}

// Validate checks that the format can be carried by the intercom
func (f Format) Validate() error {
	if f.Sample != U8 && f.Sample != S16LE {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, f.Sample)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrUnsupportedFormat, f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("%w: %d channels (supported: 1, 2)", ErrUnsupportedFormat, f.Channels)
	}
	return nil
}

// BytesPerFrame returns the size of one sample for every channel
func (f Format) BytesPerFrame() int {
	return f.Channels * f.Sample.BytesPerSample()
}

// BytesPerSecond returns the data rate of the stream
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.BytesPerFrame()
}

// MsToBytes converts a duration in milliseconds to a whole number of frames, in bytes
func (f Format) MsToBytes(ms int) int {
	frames := ms * f.SampleRate / 1000
	return frames * f.BytesPerFrame()
}

// FramesIn returns the number of whole frames held in n bytes
func (f Format) FramesIn(n int) int {
	bpf := f.BytesPerFrame()
	if bpf == 0 {
		return 0
	}
	return n / bpf
}

// BytesToDuration returns the playout duration of n bytes
func (f Format) BytesToDuration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz %dch %s", f.SampleRate, f.Channels, f.Sample)
}

// SampleToInt16 widens an unsigned 8-bit sample to the int16 range
func SampleToInt16(sample byte) int16 {
	return int16(int(sample)-128) << 8
}

// SampleFromInt16 narrows an int16 sample to unsigned 8-bit
func SampleFromInt16(sample int16) byte {
	return byte((int(sample) >> 8) + 128)
}

// DecodeSamples converts wire bytes to int16 working samples
func DecodeSamples(data []byte, sample SampleFormat) []int16 {
	if sample == U8 {
		out := make([]int16, len(data))
		for i, b := range data {
			out[i] = SampleToInt16(b)
		}
		return out
	}

	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
	}
	return out
}

// EncodeSamples converts int16 working samples to wire bytes, appending to dst
func EncodeSamples(dst []byte, samples []int16, sample SampleFormat) []byte {
	if sample == U8 {
		for _, s := range samples {
			dst = append(dst, SampleFromInt16(s))
		}
		return dst
	}

	for _, s := range samples {
		dst = append(dst, byte(s), byte(uint16(s)>>8))
	}
	return dst
}
