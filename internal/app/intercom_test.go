// ABOUTME: Tests for intercom orchestration
// ABOUTME: Runs real endpoints over loopback UDP with tone capture and null output
package app

import (
	"context"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/audioc/internal/config"
	"github.com/Resonate-Protocol/audioc/internal/discovery"
	"github.com/Resonate-Protocol/audioc/internal/monitor"
	"github.com/Resonate-Protocol/audioc/internal/player"
	"github.com/Resonate-Protocol/audioc/internal/transport"
	"github.com/Resonate-Protocol/audioc/pkg/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statsBox struct {
	mu   sync.Mutex
	last player.Stats
}

func (b *statsBox) set(st player.Stats) {
	b.mu.Lock()
	b.last = st
	b.mu.Unlock()
}

func (b *statsBox) get() player.Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

func testIntercomConfig() config.Config {
	cfg := config.Defaults()
	cfg.Group = "239.255.0.1"
	cfg.Capture = "tone"
	cfg.Output = "null"
	cfg.SuppressSilence = false
	return cfg
}

func listen(t *testing.T) net.PacketConn {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// dialTo returns a Dial func that sends from conn to dest
func dialTo(conn net.PacketConn, dest net.Addr) func(config.Config, int) (Network, error) {
	return func(_ config.Config, maxDatagram int) (Network, error) {
		return transport.New(conn, dest, maxDatagram), nil
	}
}

func TestNewValidates(t *testing.T) {
	cfg := testIntercomConfig()
	cfg.Group = ""

	_, err := New(Config{Intercom: cfg})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestNewAssignsSSRC(t *testing.T) {
	a, err := New(Config{Intercom: testIntercomConfig()})
	require.NoError(t, err)
	assert.NotZero(t, a.Config().SSRC)
	assert.Equal(t, DefaultStatsInterval, a.config.StatsInterval)
}

func TestTwoEndpointsExchangeAudio(t *testing.T) {
	connA, connB := listen(t), listen(t)

	var statsA, statsB statsBox
	cfgA := testIntercomConfig()
	cfgA.SSRC = 1
	cfgB := testIntercomConfig()
	cfgB.SSRC = 2

	a, err := New(Config{
		Intercom:      cfgA,
		StatsInterval: 20 * time.Millisecond,
		OnStats:       statsA.set,
		Dial:          dialTo(connA, connB.LocalAddr()),
	})
	require.NoError(t, err)
	b, err := New(Config{
		Intercom:      cfgB,
		StatsInterval: 20 * time.Millisecond,
		OnStats:       statsB.set,
		Dial:          dialTo(connB, connA.LocalAddr()),
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))

	require.Eventually(t, func() bool {
		st := statsB.get()
		return st.State == player.Steady && st.Played > 0
	}, 5*time.Second, 20*time.Millisecond)

	finalA := a.Stop()
	finalB := b.Stop()

	assert.Positive(t, finalA.Sent)
	assert.Positive(t, finalB.Accepted)
	assert.Positive(t, finalB.Played)
	assert.Zero(t, finalB.Malformed)
	assert.Zero(t, finalB.ForeignSSRC)

	<-a.Done()
	assert.ErrorIs(t, a.Err(), context.Canceled)

	// The final snapshot is published after the loop exits
	assert.Equal(t, finalA, statsA.get())
}

func TestOwnPacketsIgnored(t *testing.T) {
	conn := listen(t)

	var stats statsBox
	a, err := New(Config{
		Intercom:      testIntercomConfig(),
		StatsInterval: 20 * time.Millisecond,
		OnStats:       stats.set,
		Dial:          dialTo(conn, conn.LocalAddr()),
	})
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	require.Eventually(t, func() bool {
		return stats.get().ForeignSSRC > 2
	}, 5*time.Second, 20*time.Millisecond)

	final := a.Stop()
	assert.Zero(t, final.Accepted)
	assert.Equal(t, player.PreRoll, final.State)
}

func TestStartTwice(t *testing.T) {
	conn := listen(t)
	a, err := New(Config{
		Intercom: testIntercomConfig(),
		Dial:     dialTo(conn, conn.LocalAddr()),
	})
	require.NoError(t, err)

	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	assert.ErrorIs(t, a.Start(context.Background()), ErrAlreadyStarted)
}

func TestDialFailure(t *testing.T) {
	dialErr := assert.AnError
	a, err := New(Config{
		Intercom: testIntercomConfig(),
		Dial: func(config.Config, int) (Network, error) {
			return nil, dialErr
		},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, a.Start(context.Background()), dialErr)

	// Stop after a failed start must not block
	done := make(chan struct{})
	go func() {
		a.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked after failed start")
	}
}

func TestUnknownOutput(t *testing.T) {
	conn := listen(t)
	cfg := testIntercomConfig()
	cfg.Output = "speakerphone"

	a, err := New(Config{Intercom: cfg, Dial: dialTo(conn, conn.LocalAddr())})
	require.NoError(t, err)
	assert.Error(t, a.Start(context.Background()))
	a.Stop()
}

func TestMonitorWiring(t *testing.T) {
	conn := listen(t)
	cfg := testIntercomConfig()
	cfg.MonitorAddr = "127.0.0.1:0"
	cfg.Volume = 40

	a, err := New(Config{
		Intercom:      cfg,
		StatsInterval: 20 * time.Millisecond,
		Dial:          dialTo(conn, conn.LocalAddr()),
	})
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	addr := a.MonitorAddr()
	require.NotEmpty(t, addr)

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/stats")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 40, a.output.Volume())

	volume, muted := 70, true
	a.control(monitor.Control{Volume: &volume, Muted: &muted})
	assert.Equal(t, 70, a.output.Volume())
	assert.True(t, a.output.Muted())
}

func TestAdoptPeer(t *testing.T) {
	cfg := testIntercomConfig()
	cfg.Group = ""
	cfg.Discover = true

	var seen []discovery.Peer
	a, err := New(Config{Intercom: cfg, OnPeer: func(p discovery.Peer) { seen = append(seen, p) }})
	require.NoError(t, err)

	err = a.adopt(discovery.Peer{
		Name:     "hall",
		Group:    "239.9.9.9",
		Port:     6000,
		Payload:  audio.PayloadL16Mono,
		PacketMs: 40,
	})
	require.NoError(t, err)

	got := a.Config()
	assert.Equal(t, "239.9.9.9", got.Group)
	assert.Equal(t, 6000, got.Port)
	assert.Equal(t, audio.PayloadL16Mono, got.Payload)
	assert.Equal(t, 40, got.PacketMs)
	require.Len(t, seen, 1)
	assert.Equal(t, "hall", seen[0].Name)
}

func TestAdoptRejectsBadPeer(t *testing.T) {
	cfg := testIntercomConfig()
	a, err := New(Config{Intercom: cfg})
	require.NoError(t, err)

	err = a.adopt(discovery.Peer{Name: "odd", Group: "10.0.0.1", Port: 5004})
	assert.ErrorIs(t, err, config.ErrInvalid)
	assert.Equal(t, "239.255.0.1", a.Config().Group)
}
