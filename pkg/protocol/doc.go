// ABOUTME: Intercom wire protocol package
// ABOUTME: Defines the datagram layout and its codec
// Package protocol implements the intercom wire format.
//
// Every datagram is a 12-byte RTP fixed header (version 2, no CSRC list, no
// extension, no padding) followed by exactly one fragment of raw PCM.
//
// Example:
//
//	codec, err := protocol.NewCodec(160, audio.PayloadPCMU)
//	datagram, err := codec.Encode(seq, timestamp, ssrc, fragment)
//	pkt, err := codec.Decode(datagram)
package protocol
