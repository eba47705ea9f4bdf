// ABOUTME: Audio resampling package using linear interpolation
// ABOUTME: Converts audio between different sample rates
// Package resample provides audio sample rate conversion.
//
// Uses linear interpolation for converting between sample rates and keeps
// the last input frame between calls so chunk boundaries stay continuous.
//
// Example:
//
//	r := resample.New(44100, 8000, 1)
//	n := r.Resample(inputSamples, outputSamples)
package resample
