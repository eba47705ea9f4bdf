// ABOUTME: Multicast UDP transport for the intercom stream
// ABOUTME: Joins a group, sends datagrams to it and feeds received datagrams to a channel
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

// DefaultTTL keeps the stream on the local network
const DefaultTTL = 1

var (
	// ErrNotMulticast is returned for group addresses outside 224.0.0.0/4
	ErrNotMulticast = errors.New("not an IPv4 multicast address")
	// ErrClosed is returned by Send after Close
	ErrClosed = errors.New("transport closed")
)

// Config describes the multicast group to join
type Config struct {
	Group     string
	Port      int
	Interface string // empty for the system default
	TTL       int
	Loopback  bool
}

// Multicast sends to and receives from one multicast group
type Multicast struct {
	conn        net.PacketConn
	dest        net.Addr
	maxDatagram int

	mu     sync.Mutex
	closed bool
}

// ParseGroup resolves an IPv4 multicast group address
func ParseGroup(group string, port int) (*net.UDPAddr, error) {
	ip := net.ParseIP(group).To4()
	if ip == nil || !ip.IsMulticast() {
		return nil, fmt.Errorf("%w: %q", ErrNotMulticast, group)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", port)
	}
	return &net.UDPAddr{IP: ip, Port: port}, nil
}

// Join binds to the group port with address reuse, joins the group and
// configures loopback and TTL. Datagrams longer than maxDatagram are
// delivered truncated to maxDatagram+1 bytes so the receiver can reject them.
func Join(cfg Config, maxDatagram int) (*Multicast, error) {
	group, err := ParseGroup(cfg.Group, cfg.Port)
	if err != nil {
		return nil, err
	}

	var ifi *net.Interface
	if cfg.Interface != "" {
		ifi, err = net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("failed to find interface %q: %w", cfg.Interface, err)
		}
	}

	conn, err := net.ListenMulticastUDP("udp4", ifi, group)
	if err != nil {
		return nil, fmt.Errorf("failed to join multicast group %s: %w", group, err)
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastLoopback(cfg.Loopback); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set multicast loopback: %w", err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := pc.SetMulticastTTL(ttl); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set multicast TTL: %w", err)
	}
	if ifi != nil {
		if err := pc.SetMulticastInterface(ifi); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set multicast interface: %w", err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Join",
		"group":     group.String(),
		"interface": cfg.Interface,
		"ttl":       ttl,
		"loopback":  cfg.Loopback,
	}).Info("Joined multicast group")

	return New(conn, group, maxDatagram), nil
}

// New wraps an already bound connection that sends to dest
func New(conn net.PacketConn, dest net.Addr, maxDatagram int) *Multicast {
	return &Multicast{
		conn:        conn,
		dest:        dest,
		maxDatagram: maxDatagram,
	}
}

// LocalAddr returns the bound address
func (m *Multicast) LocalAddr() net.Addr {
	return m.conn.LocalAddr()
}

// Send writes one datagram to the group
func (m *Multicast) Send(datagram []byte) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}

	n, err := m.conn.WriteTo(datagram, m.dest)
	if err != nil {
		return fmt.Errorf("failed to send datagram: %w", err)
	}
	if n != len(datagram) {
		return fmt.Errorf("short send: %d of %d bytes", n, len(datagram))
	}
	return nil
}

// Run reads datagrams and sends a copy of each to out until ctx ends or
// the connection is closed. out is closed on return.
func (m *Multicast) Run(ctx context.Context, out chan<- []byte) error {
	defer close(out)

	stop := context.AfterFunc(ctx, func() {
		m.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, m.maxDatagram+1)
	for {
		n, from, err := m.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if m.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to receive datagram: %w", err)
		}

		logrus.WithFields(logrus.Fields{
			"function": "Run",
			"from":     from.String(),
			"size":     n,
		}).Trace("Datagram received")

		datagram := append([]byte(nil), buf[:n]...)
		select {
		case out <- datagram:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Multicast) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close leaves the group and releases the socket
func (m *Multicast) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	return m.conn.Close()
}
