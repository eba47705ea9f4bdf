// ABOUTME: Audio file decoder package
// ABOUTME: Provides the Reader interface and implementations for raw PCM, FLAC, MP3
// Package decode reads audio files as interleaved int16 samples.
//
// Supports: raw PCM (U8 or S16LE), FLAC, MP3
//
// Readers report their native rate and channel count; converting to the
// intercom stream format is the caller's job.
//
// Example:
//
//	r, err := decode.Open("speech.flac", audio.Format{})
//	n, err := r.ReadSamples(buf)
package decode
