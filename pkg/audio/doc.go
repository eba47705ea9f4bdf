// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines sample formats, stream Format and payload types
// Package audio provides the fundamental audio types shared by the intercom.
//
// This package defines:
//   - SampleFormat: 8-bit unsigned or 16-bit signed little-endian PCM
//   - Format: sample rate, channel count and sample format of a stream
//   - PayloadType: the payload numbers carried in the packet header
//
// It also provides utilities for converting between durations and byte counts
// and between the wire sample formats and int16 working samples.
//
// Example:
//
//	format, _ := audio.PayloadPCMU.Format() // 8000 Hz, mono, U8
//	fragment := format.MsToBytes(20)        // 160 bytes
//	duration := format.BytesToDuration(fragment)
package audio
