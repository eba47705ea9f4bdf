// ABOUTME: Wire packet codec for the intercom stream
// ABOUTME: Wraps fixed-size PCM fragments in a 12-byte RTP fixed header
package protocol

import (
	"errors"
	"fmt"

	"github.com/Resonate-Protocol/audioc/pkg/audio"
	"github.com/pion/rtp"
)

const (
	// HeaderSize is the size of the fixed header (no CSRC list, no extension)
	HeaderSize = 12

	// Version is the only protocol version accepted on the wire
	Version = 2
)

var (
	// ErrMalformedPacket is returned for datagrams that are not exactly one header plus one fragment
	ErrMalformedPacket = errors.New("malformed packet")
	// ErrPayloadSize is returned when encoding a payload that is not exactly one fragment
	ErrPayloadSize = errors.New("payload size mismatch")
)

// Packet is a decoded datagram. Payload aliases the datagram it was decoded from.
type Packet struct {
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	PayloadType    audio.PayloadType
	Payload        []byte
}

// Codec encodes and decodes datagrams carrying fragmentSize bytes of audio
type Codec struct {
	fragmentSize int
	payloadType  audio.PayloadType
}

// NewCodec creates a codec for fragments of fragmentSize bytes
func NewCodec(fragmentSize int, payloadType audio.PayloadType) (*Codec, error) {
	if fragmentSize <= 0 {
		return nil, fmt.Errorf("invalid fragment size: %d", fragmentSize)
	}
	if payloadType > 127 {
		return nil, fmt.Errorf("invalid payload type: %d", payloadType)
	}

	return &Codec{
		fragmentSize: fragmentSize,
		payloadType:  payloadType,
	}, nil
}

// FragmentSize returns the payload size in bytes
func (c *Codec) FragmentSize() int { return c.fragmentSize }

// DatagramSize returns the exact size of every valid datagram
func (c *Codec) DatagramSize() int { return HeaderSize + c.fragmentSize }

// Encode builds a datagram from the header fields and one fragment of payload
func (c *Codec) Encode(seq uint16, timestamp, ssrc uint32, payload []byte) ([]byte, error) {
	if len(payload) != c.fragmentSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrPayloadSize, len(payload), c.fragmentSize)
	}

	header := rtp.Header{
		Version:        Version,
		PayloadType:    uint8(c.payloadType),
		SequenceNumber: seq,
		Timestamp:      timestamp,
		SSRC:           ssrc,
	}

	buf := make([]byte, c.DatagramSize())
	n, err := header.MarshalTo(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}
	copy(buf[n:], payload)

	return buf, nil
}

// Decode parses a datagram. The returned payload aliases datagram.
func (c *Codec) Decode(datagram []byte) (Packet, error) {
	if len(datagram) != c.DatagramSize() {
		return Packet{}, fmt.Errorf("%w: %d bytes, want %d", ErrMalformedPacket, len(datagram), c.DatagramSize())
	}

	var header rtp.Header
	n, err := header.Unmarshal(datagram)
	if err != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}
	if header.Version != Version {
		return Packet{}, fmt.Errorf("%w: version %d", ErrMalformedPacket, header.Version)
	}
	if n != HeaderSize || header.Padding {
		return Packet{}, fmt.Errorf("%w: unexpected header layout", ErrMalformedPacket)
	}

	return Packet{
		SequenceNumber: header.SequenceNumber,
		Timestamp:      header.Timestamp,
		SSRC:           header.SSRC,
		PayloadType:    audio.PayloadType(header.PayloadType),
		Payload:        datagram[HeaderSize:],
	}, nil
}
