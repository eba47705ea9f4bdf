// ABOUTME: Audio capture package for the intercom send direction
// ABOUTME: Provides the Source interface, device and synthetic sources, and the capture pump
// Package capture provides blocking audio sources.
//
// A Source delivers audio in the stream format one fragment at a time.
// File and tone sources are paced to real time so they behave like a
// microphone.
//
// Example:
//
//	src, err := capture.New("mic", audio.Format{})
//	err = src.Open(format, fragmentSize)
//	go capture.Pump(ctx, src, fragmentSize, fragments)
package capture
