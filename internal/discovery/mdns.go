// ABOUTME: mDNS service discovery for intercom peers
// ABOUTME: Advertises this endpoint's multicast group and browses for others
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/Resonate-Protocol/audioc/pkg/audio"
	"github.com/hashicorp/mdns"
	"github.com/sirupsen/logrus"
)

// ServiceType is the mDNS service advertised by every intercom endpoint
const ServiceType = "_audioc._udp"

// ErrNoPeers is returned by FindGroup when nothing answers before the deadline
var ErrNoPeers = errors.New("no intercom peers found")

// Config holds discovery configuration
type Config struct {
	InstanceName string
	Group        string
	Port         int
	Payload      audio.PayloadType
	PacketMs     int
	SSRC         uint32
	// QueryTimeout bounds each browse round
	QueryTimeout time.Duration
}

// Manager handles mDNS operations
type Manager struct {
	config Config
	ctx    context.Context
	cancel context.CancelFunc
	peers  chan *Peer
	server *mdns.Server
}

// Peer describes a discovered intercom endpoint
type Peer struct {
	Name     string
	Host     string
	Port     int
	Group    string
	Payload  audio.PayloadType
	PacketMs int
	SSRC     uint32
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = 3 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config: config,
		ctx:    ctx,
		cancel: cancel,
		peers:  make(chan *Peer, 10),
	}
}

// Advertise announces this endpoint via mDNS
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.InstanceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		buildTXT(m.config),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}
	m.server = server

	logrus.WithFields(logrus.Fields{
		"function": "Advertise",
		"instance": m.config.InstanceName,
		"group":    m.config.Group,
		"port":     m.config.Port,
	}).Info("Advertising mDNS service")

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for other endpoints until Stop
func (m *Manager) Browse() {
	go m.browseLoop()
}

// browseLoop continuously browses for peers
func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)
		done := make(chan struct{})

		go func() {
			defer close(done)
			for entry := range entries {
				peer, err := parsePeer(entry)
				if err != nil {
					logrus.WithFields(logrus.Fields{
						"function": "browseLoop",
						"name":     entry.Name,
						"error":    err.Error(),
					}).Debug("Ignoring mDNS entry")
					continue
				}
				if peer.SSRC != 0 && peer.SSRC == m.config.SSRC {
					continue
				}

				logrus.WithFields(logrus.Fields{
					"function": "browseLoop",
					"name":     peer.Name,
					"host":     peer.Host,
					"group":    peer.Group,
				}).Info("Discovered peer")

				select {
				case m.peers <- peer:
				case <-m.ctx.Done():
				}
			}
		}()

		params := &mdns.QueryParam{
			Service:     ServiceType,
			Domain:      "local",
			Timeout:     m.config.QueryTimeout,
			Entries:     entries,
			DisableIPv6: true,
		}

		if err := mdns.Query(params); err != nil {
			logrus.WithField("function", "browseLoop").Debugf("mDNS query failed: %v", err)
		}
		close(entries)
		<-done
	}
}

// Peers returns the channel of discovered peers
func (m *Manager) Peers() <-chan *Peer {
	return m.peers
}

// FindGroup browses until a peer advertising a multicast group answers or timeout passes
func (m *Manager) FindGroup(ctx context.Context, timeout time.Duration) (*Peer, error) {
	m.Browse()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		select {
		case peer := <-m.peers:
			if peer.Group != "" {
				return peer, nil
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("%w within %s", ErrNoPeers, timeout)
		}
	}
}

// Stop stops the discovery manager
func (m *Manager) Stop() {
	m.cancel()
}

func buildTXT(c Config) []string {
	return []string{
		"group=" + c.Group,
		"payload=" + strconv.Itoa(int(c.Payload)),
		"ptime=" + strconv.Itoa(c.PacketMs),
		"ssrc=" + strconv.FormatUint(uint64(c.SSRC), 16),
	}
}

// parsePeer reads the TXT fields written by buildTXT
func parsePeer(entry *mdns.ServiceEntry) (*Peer, error) {
	peer := &Peer{
		Name: strings.TrimSuffix(entry.Name, "."+ServiceType+".local."),
		Port: entry.Port,
	}
	if entry.AddrV4 != nil {
		peer.Host = entry.AddrV4.String()
	}

	for _, field := range entry.InfoFields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "group":
			peer.Group = value
		case "payload":
			pt, err := strconv.ParseUint(value, 10, 7)
			if err != nil {
				return nil, fmt.Errorf("bad payload %q: %w", value, err)
			}
			peer.Payload = audio.PayloadType(pt)
		case "ptime":
			ms, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("bad ptime %q: %w", value, err)
			}
			peer.PacketMs = ms
		case "ssrc":
			ssrc, err := strconv.ParseUint(value, 16, 32)
			if err != nil {
				return nil, fmt.Errorf("bad ssrc %q: %w", value, err)
			}
			peer.SSRC = uint32(ssrc)
		}
	}

	if peer.Group != "" {
		if ip := net.ParseIP(peer.Group).To4(); ip == nil || !ip.IsMulticast() {
			return nil, fmt.Errorf("advertised group %q is not multicast", peer.Group)
		}
	}
	return peer, nil
}

// getLocalIPs returns local IPv4 addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
