// ABOUTME: Intercom application orchestration
// ABOUTME: Wires discovery, transport, audio devices, scheduler and monitor together
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/Resonate-Protocol/audioc/internal/config"
	"github.com/Resonate-Protocol/audioc/internal/discovery"
	"github.com/Resonate-Protocol/audioc/internal/monitor"
	"github.com/Resonate-Protocol/audioc/internal/player"
	"github.com/Resonate-Protocol/audioc/internal/transport"
	"github.com/Resonate-Protocol/audioc/internal/version"
	"github.com/Resonate-Protocol/audioc/pkg/audio/capture"
	"github.com/Resonate-Protocol/audioc/pkg/audio/output"
	"github.com/Resonate-Protocol/audioc/pkg/protocol"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultStatsInterval is how often statistics reach the callbacks
	DefaultStatsInterval = time.Second
	// DefaultDiscoverTimeout bounds the wait for a peer when no group is given
	DefaultDiscoverTimeout = 10 * time.Second

	channelBacklog = 64
)

// ErrAlreadyStarted is returned by a second call to Start
var ErrAlreadyStarted = errors.New("intercom already started")

// Network is the datagram transport used by the intercom
type Network interface {
	Send(datagram []byte) error
	Run(ctx context.Context, out chan<- []byte) error
	Close() error
}

// Config holds application configuration
type Config struct {
	Intercom config.Config

	StatsInterval   time.Duration
	DiscoverTimeout time.Duration

	// OnStats receives periodic snapshots from the event loop goroutine
	OnStats func(player.Stats)
	// OnPeer is called for every endpoint seen by discovery
	OnPeer func(discovery.Peer)

	// Dial opens the network transport. Defaults to joining the multicast group.
	Dial func(cfg config.Config, maxDatagram int) (Network, error)

	// Source replaces the capture source named in Intercom.Capture
	Source capture.Source
}

// Intercom represents the running application
type Intercom struct {
	config Config

	network   Network
	output    output.Output
	capture   capture.Source
	scheduler *player.Scheduler
	discovery *discovery.Manager
	monitor   *monitor.Server

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
	runErr  error
	started bool
}

// New validates the configuration and creates an intercom
func New(cfg Config) (*Intercom, error) {
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = DefaultStatsInterval
	}
	if cfg.DiscoverTimeout <= 0 {
		cfg.DiscoverTimeout = DefaultDiscoverTimeout
	}
	if cfg.Dial == nil {
		cfg.Dial = joinGroup
	}
	if err := cfg.Intercom.Validate(); err != nil {
		return nil, err
	}
	cfg.Intercom.EnsureSSRC()

	return &Intercom{
		config: cfg,
		done:   make(chan struct{}),
	}, nil
}

func joinGroup(cfg config.Config, maxDatagram int) (Network, error) {
	m, err := transport.Join(transport.Config{
		Group:     cfg.Group,
		Port:      cfg.Port,
		Interface: cfg.Interface,
		TTL:       cfg.TTL,
		Loopback:  false,
	}, maxDatagram)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Config returns the effective configuration, including a discovered group
func (a *Intercom) Config() config.Config {
	return a.config.Intercom
}

// Start opens every component and launches the event loop
func (a *Intercom) Start(ctx context.Context) error {
	if a.started {
		return ErrAlreadyStarted
	}
	a.started = true

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.startDiscovery(ctx); err != nil {
		a.shutdown()
		return err
	}
	if err := a.open(); err != nil {
		a.shutdown()
		return err
	}

	cfg := a.config.Intercom
	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"version":  version.String(),
		"config":   cfg.String(),
	}).Info("Intercom starting")

	datagrams := make(chan []byte, channelBacklog)
	captured := make(chan []byte, channelBacklog)

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := a.network.Run(ctx, datagrams); err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithField("function", "Start").Errorf("Network receive failed: %v", err)
		}
	}()
	go func() {
		defer a.wg.Done()
		if err := capture.Pump(ctx, a.capture, cfg.FragmentSize(), captured); err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithField("function", "Start").Errorf("Capture stopped: %v", err)
		}
	}()

	go func() {
		defer close(a.done)
		a.runErr = a.scheduler.Run(ctx, player.Inputs{
			Capture:   captured,
			Datagrams: datagrams,
		})
	}()

	return nil
}

// startDiscovery resolves the group from a peer when none is configured and
// starts advertising
func (a *Intercom) startDiscovery(ctx context.Context) error {
	cfg := &a.config.Intercom
	if !cfg.Discover && !cfg.Advertise {
		return nil
	}

	mgr := discovery.NewManager(a.discoveryConfig())
	a.discovery = mgr

	if cfg.Group == "" {
		logrus.WithField("function", "startDiscovery").Info("Looking for an intercom group")
		peer, err := mgr.FindGroup(ctx, a.config.DiscoverTimeout)
		if err != nil {
			return fmt.Errorf("discovery failed: %w", err)
		}
		if err := a.adopt(*peer); err != nil {
			return err
		}
		mgr = discovery.NewManager(a.discoveryConfig())
		a.discovery.Stop()
		a.discovery = mgr
	}

	if cfg.Advertise {
		if err := mgr.Advertise(); err != nil {
			return fmt.Errorf("failed to advertise: %w", err)
		}
	}
	if cfg.Discover {
		mgr.Browse()
		go a.watchPeers(ctx, mgr)
	}
	return nil
}

func (a *Intercom) discoveryConfig() discovery.Config {
	cfg := a.config.Intercom
	return discovery.Config{
		InstanceName: cfg.Name,
		Group:        cfg.Group,
		Port:         cfg.Port,
		Payload:      cfg.Payload,
		PacketMs:     cfg.PacketMs,
		SSRC:         cfg.SSRC,
	}
}

// adopt takes the stream parameters advertised by peer
func (a *Intercom) adopt(peer discovery.Peer) error {
	cfg := a.config.Intercom
	cfg.Group = peer.Group
	if peer.Port > 0 {
		cfg.Port = peer.Port
	}
	if peer.PacketMs > 0 {
		cfg.PacketMs = peer.PacketMs
	}
	if _, err := peer.Payload.Format(); err == nil {
		cfg.Payload = peer.Payload
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("peer %s advertised unusable stream: %w", peer.Name, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "adopt",
		"peer":     peer.Name,
		"group":    cfg.Group,
		"port":     cfg.Port,
	}).Info("Joining discovered group")

	a.config.Intercom = cfg
	if a.config.OnPeer != nil {
		a.config.OnPeer(peer)
	}
	return nil
}

// watchPeers reports discovered endpoints until discovery stops
func (a *Intercom) watchPeers(ctx context.Context, mgr *discovery.Manager) {
	for {
		var peer *discovery.Peer
		select {
		case <-ctx.Done():
			return
		case peer = <-mgr.Peers():
		}

		cfg := a.config.Intercom
		if peer.Group != "" && (peer.Group != cfg.Group || peer.Port != cfg.Port) {
			logrus.WithFields(logrus.Fields{
				"function": "watchPeers",
				"peer":     peer.Name,
				"group":    peer.Group,
				"port":     peer.Port,
			}).Warn("Peer is on a different group")
		}
		if a.config.OnPeer != nil {
			a.config.OnPeer(*peer)
		}
	}
}

// open creates the network, devices, scheduler and monitor
func (a *Intercom) open() error {
	cfg := a.config.Intercom
	format := cfg.Format()
	fragment := cfg.FragmentSize()

	var err error
	a.network, err = a.config.Dial(cfg, protocol.HeaderSize+fragment)
	if err != nil {
		return err
	}

	a.output, err = output.New(cfg.Output)
	if err != nil {
		return err
	}
	if err := a.output.Open(format, fragment); err != nil {
		return fmt.Errorf("failed to open output %q: %w", cfg.Output, err)
	}
	a.output.SetVolume(cfg.Volume)

	a.capture = a.config.Source
	if a.capture == nil {
		a.capture = capture.New(cfg.Capture, format)
	}
	if err := a.capture.Open(format, fragment); err != nil {
		return fmt.Errorf("failed to open capture %q: %w", cfg.Capture, err)
	}

	if cfg.MonitorAddr != "" {
		a.monitor = monitor.New(monitor.Config{
			Addr: cfg.MonitorAddr,
			Info: monitor.Info{
				Instance: cfg.Name,
				Group:    net.JoinHostPort(cfg.Group, strconv.Itoa(cfg.Port)),
				SSRC:     cfg.SSRC,
				Format:   format.String(),
				PacketMs: cfg.PacketMs,
				Version:  version.Version,
			},
			OnControl: a.control,
		})
		if err := a.monitor.Start(); err != nil {
			return err
		}
	}

	a.scheduler, err = player.New(player.Config{
		Format:          format,
		PayloadType:     cfg.Payload,
		FragmentSize:    fragment,
		SSRC:            cfg.SSRC,
		PreRollBlocks:   cfg.PreRollBlocks(),
		Capacity:        cfg.Capacity(),
		SuppressSilence: cfg.SuppressSilence,
		StatsInterval:   a.config.StatsInterval,
		OnStats:         a.publish,
	}, a.network, a.output)
	return err
}

func (a *Intercom) publish(st player.Stats) {
	if a.monitor != nil {
		a.monitor.Publish(st)
	}
	if a.config.OnStats != nil {
		a.config.OnStats(st)
	}
}

func (a *Intercom) control(c monitor.Control) {
	if c.Volume != nil {
		a.SetVolume(*c.Volume)
	}
	if c.Muted != nil {
		a.SetMuted(*c.Muted)
	}
}

// SetVolume sets the playback volume (0-100)
func (a *Intercom) SetVolume(volume int) {
	if a.output != nil {
		a.output.SetVolume(volume)
	}
}

// SetMuted sets the playback mute state
func (a *Intercom) SetMuted(muted bool) {
	if a.output != nil {
		a.output.SetMuted(muted)
	}
}

// MonitorAddr returns the bound monitor address, empty when disabled
func (a *Intercom) MonitorAddr() string {
	if a.monitor == nil {
		return ""
	}
	return a.monitor.Addr()
}

// Err returns why the event loop exited, once Done is closed
func (a *Intercom) Err() error {
	select {
	case <-a.done:
		return a.runErr
	default:
		return nil
	}
}

// Done is closed when the event loop exits
func (a *Intercom) Done() <-chan struct{} {
	return a.done
}

// Stop ends the event loop, releases every component and returns the final
// statistics
func (a *Intercom) Stop() player.Stats {
	if a.cancel != nil {
		a.cancel()
	}
	// Unblock readers parked in the capture device or socket
	if a.capture != nil {
		a.capture.Close()
	}
	if a.network != nil {
		a.network.Close()
	}
	if a.scheduler != nil && a.started {
		<-a.done
	}
	a.wg.Wait()

	var stats player.Stats
	if a.scheduler != nil {
		stats = a.scheduler.Close()
		a.publish(stats)
	}
	a.shutdown()

	logrus.WithField("function", "Stop").Info("Intercom stopped")
	return stats
}

// shutdown releases whatever was opened
func (a *Intercom) shutdown() {
	if a.output != nil {
		if err := a.output.Close(); err != nil {
			logrus.WithField("function", "shutdown").Warnf("Failed to close output: %v", err)
		}
	}
	if a.capture != nil {
		a.capture.Close()
	}
	if a.network != nil {
		a.network.Close()
	}
	if a.discovery != nil {
		a.discovery.Stop()
	}
	if a.monitor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.monitor.Stop(ctx); err != nil {
			logrus.WithField("function", "shutdown").Warnf("Failed to stop monitor: %v", err)
		}
	}
}
