// ABOUTME: Software volume control
// ABOUTME: Scales U8 and S16 samples with clipping protection
package output

import (
	"math"

	"github.com/Resonate-Protocol/audioc/pkg/audio"
)

// applyVolume scales src into dst (which must be as long as src)
func applyVolume(dst, src []byte, sample audio.SampleFormat, volume int, muted bool) {
	multiplier := getVolumeMultiplier(volume, muted)
	if multiplier == 1.0 {
		copy(dst, src)
		return
	}

	switch sample {
	case audio.U8:
		for i, s := range src {
			scaled := float64(int(s)-128) * multiplier
			dst[i] = byte(clamp(int(math.Round(scaled)), -128, 127) + 128)
		}
	case audio.S16LE:
		for i := 0; i+1 < len(src); i += 2 {
			s := int16(uint16(src[i]) | uint16(src[i+1])<<8)
			v := int16(clamp(int(math.Round(float64(s)*multiplier)), math.MinInt16, math.MaxInt16))
			dst[i] = byte(v)
			dst[i+1] = byte(uint16(v) >> 8)
		}
	}
}

// getVolumeMultiplier calculates volume multiplier
func getVolumeMultiplier(volume int, muted bool) float64 {
	if muted {
		return 0.0
	}
	return float64(volume) / 100.0
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// zeroLevel returns the byte that encodes silence for the sample format
func zeroLevel(sample audio.SampleFormat) byte {
	if sample == audio.U8 {
		return 128
	}
	return 0
}
