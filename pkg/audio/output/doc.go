// ABOUTME: Audio output package for playing intercom audio
// ABOUTME: Provides the non-blocking Output interface and its device backends
// Package output provides non-blocking audio playback devices.
//
// Every backend keeps a small byte ring between the caller and the device.
// Write never blocks; Writable signals when the ring has room for another
// block and Buffered reports how much audio is still waiting to be heard.
//
// Example:
//
//	out := output.NewOto()
//	err := out.Open(format, fragmentSize)
//	<-out.Writable()
//	n, err := out.Write(block)
package output
