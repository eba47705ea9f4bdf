// ABOUTME: Packet loss concealment helpers
// ABOUTME: Builds comfort noise filler blocks and classifies blocks as silence
package conceal

import (
	"github.com/Resonate-Protocol/audioc/pkg/audio"
)

const (
	// U8DeadZone is the distance from 128 at which a sample stops counting as silent
	U8DeadZone = 4
	// S16DeadZone is the distance from 0 at which a sample stops counting as silent
	S16DeadZone = 150
	// SilentFraction is the share of silent samples above which a block is silence
	SilentFraction = 0.70
)

// Low-level patterns repeated across a comfort noise block. Both stay inside
// the dead zone so comfort noise is itself classified as silence.
var (
	u8Pattern  = []byte{128, 130, 129, 127, 126, 128, 131, 127}
	s16Pattern = []int16{0, 60, 25, -40, -70, 10, 55, -30}
)

// BuildComfortNoise returns a fragmentSize-byte filler block for the format.
// The output depends only on its arguments.
func BuildComfortNoise(fragmentSize int, format audio.SampleFormat) []byte {
	block := make([]byte, fragmentSize)

	switch format {
	case audio.S16LE:
		for i := 0; i+1 < fragmentSize; i += 2 {
			s := s16Pattern[(i/2)%len(s16Pattern)]
			block[i] = byte(s)
			block[i+1] = byte(uint16(s) >> 8)
		}
	default:
		for i := range block {
			block[i] = u8Pattern[i%len(u8Pattern)]
		}
	}

	return block
}

// Silence returns a fragmentSize-byte block holding the format's zero level
func Silence(fragmentSize int, format audio.SampleFormat) []byte {
	block := make([]byte, fragmentSize)
	if format == audio.U8 {
		for i := range block {
			block[i] = 128
		}
	}
	return block
}

// IsSilence reports whether more than SilentFraction of the block's samples
// fall within the format's dead zone. Quiet speech may be misclassified.
func IsSilence(block []byte, format audio.SampleFormat) bool {
	silent, total := 0, 0

	switch format {
	case audio.S16LE:
		for i := 0; i+1 < len(block); i += 2 {
			s := int(int16(uint16(block[i]) | uint16(block[i+1])<<8))
			if abs(s) < S16DeadZone {
				silent++
			}
			total++
		}
	default:
		for _, b := range block {
			if abs(int(b)-128) < U8DeadZone {
				silent++
			}
			total++
		}
	}

	if total == 0 {
		return false
	}
	return float64(silent)/float64(total) > SilentFraction
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
