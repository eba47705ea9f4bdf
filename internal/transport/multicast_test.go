// ABOUTME: Tests for the multicast transport
// ABOUTME: Uses loopback unicast sockets to exercise send and receive paths
package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGroup(t *testing.T) {
	tests := []struct {
		name    string
		group   string
		port    int
		wantErr error
	}{
		{"valid", "239.0.0.1", 5004, nil},
		{"unicast", "192.168.1.1", 5004, ErrNotMulticast},
		{"ipv6", "ff02::1", 5004, ErrNotMulticast},
		{"garbage", "not-an-ip", 5004, ErrNotMulticast},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := ParseGroup(tt.group, tt.port)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "239.0.0.1:5004", addr.String())
		})
	}

	_, err := ParseGroup("239.0.0.1", 0)
	assert.Error(t, err)
}

func loopbackPair(t *testing.T, maxDatagram int) (*Multicast, net.PacketConn) {
	t.Helper()
	local, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	peer, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })

	return New(local, peer.LocalAddr(), maxDatagram), peer
}

func TestSend(t *testing.T) {
	m, peer := loopbackPair(t, 16)
	defer m.Close()

	require.NoError(t, m.Send([]byte("hello")))

	buf := make([]byte, 32)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(time.Second)))
	n, _, err := peer.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestRunDeliversCopies(t *testing.T) {
	m, peer := loopbackPair(t, 4)
	defer m.Close()

	out := make(chan []byte, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, out) }()

	_, err := peer.WriteTo([]byte{1, 2, 3, 4}, m.LocalAddr())
	require.NoError(t, err)
	_, err = peer.WriteTo([]byte{9, 9, 9, 9, 9, 9}, m.LocalAddr())
	require.NoError(t, err)

	select {
	case d := <-out:
		assert.Equal(t, []byte{1, 2, 3, 4}, d)
	case <-time.After(time.Second):
		t.Fatal("no datagram")
	}
	select {
	case d := <-out:
		// Oversized datagrams arrive one byte longer than the limit
		assert.Len(t, d, 5)
	case <-time.After(time.Second):
		t.Fatal("no datagram")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
	_, open := <-out
	assert.False(t, open)
}

func TestRunEndsOnClose(t *testing.T) {
	m, _ := loopbackPair(t, 4)

	out := make(chan []byte)
	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background(), out) }()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, m.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
	assert.ErrorIs(t, m.Send([]byte{1}), ErrClosed)
	assert.NoError(t, m.Close())
}
