// ABOUTME: Entry point for the audioc multicast intercom
// ABOUTME: Parses CLI flags and runs the intercom with an optional TUI
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/audioc/internal/app"
	"github.com/Resonate-Protocol/audioc/internal/config"
	"github.com/Resonate-Protocol/audioc/internal/discovery"
	"github.com/Resonate-Protocol/audioc/internal/player"
	"github.com/Resonate-Protocol/audioc/internal/ui"
	"github.com/Resonate-Protocol/audioc/internal/version"
	"github.com/Resonate-Protocol/audioc/pkg/audio"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
)

var (
	group       = flag.String("group", "", "IPv4 multicast group (empty with -discover to join a peer's group)")
	port        = flag.Int("port", config.DefaultPort, "UDP port of the multicast group")
	iface       = flag.String("iface", "", "Network interface for multicast (default: system choice)")
	ttl         = flag.Int("ttl", 1, "Multicast TTL")
	ssrc        = flag.String("ssrc", "", "Stream source id, decimal or 0x hex (default: random)")
	payload     = flag.Int("payload", int(audio.PayloadPCMU), "Payload type: 100 (8 kHz U8) or 11 (44.1 kHz S16LE)")
	packetMs    = flag.Int("packet-ms", config.DefaultPacketMs, "Audio per packet in milliseconds")
	bufferMs    = flag.Int("buffer-ms", config.DefaultBufferingMs, "Startup buffering in milliseconds")
	volume      = flag.Int("volume", config.DefaultVolume, "Playback volume 0-100")
	suppress    = flag.Bool("suppress-silence", true, "Skip sending silent packets")
	captureName = flag.String("capture", "mic", "Capture source: mic, tone or an audio file")
	outputName  = flag.String("output", "oto", "Output device: oto, malgo, null or file:<path>")
	name        = flag.String("name", "", "Friendly name (default: hostname-audioc)")
	advertise   = flag.Bool("advertise", false, "Advertise this endpoint via mDNS")
	discover    = flag.Bool("discover", false, "Browse for peers via mDNS")
	monitorAddr = flag.String("monitor", "", "Serve the statistics feed on this address (e.g. :8080)")
	logFile     = flag.String("log-file", "audioc.log", "Log file path")
	noTUI       = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	verbose     = flag.Bool("verbose", false, "Debug logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	useTUI := !*noTUI

	// Set up logging
	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		logrus.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if useTUI {
		// TUI mode: log only to file
		logrus.SetOutput(f)
	} else {
		// Streaming logs mode: log to both stdout and file
		logrus.SetOutput(io.MultiWriter(os.Stdout, f))
	}
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	instanceName := *name
	if instanceName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		instanceName = fmt.Sprintf("%s-audioc", hostname)
	}

	ssrcValue, err := config.ParseSSRC(*ssrc)
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	cfg := config.Defaults()
	cfg.Group = *group
	cfg.Port = *port
	cfg.Interface = *iface
	cfg.TTL = *ttl
	cfg.SSRC = ssrcValue
	cfg.Payload = audio.PayloadType(*payload)
	cfg.PacketMs = *packetMs
	cfg.BufferingMs = *bufferMs
	cfg.Volume = *volume
	cfg.SuppressSilence = *suppress
	cfg.Verbose = *verbose
	cfg.Capture = *captureName
	cfg.Output = *outputName
	cfg.Name = instanceName
	cfg.Advertise = *advertise
	cfg.Discover = *discover
	cfg.MonitorAddr = *monitorAddr

	// TUI setup
	var tuiProg *tea.Program
	var volumeCtrl *ui.VolumeControl

	if useTUI {
		volumeCtrl = ui.NewVolumeControl()
		tuiProg, err = ui.Run(volumeCtrl, cfg.Volume)
		if err != nil {
			logrus.Fatalf("Failed to start TUI: %v", err)
		}
		go tuiProg.Run()
	}

	// Helper to update TUI
	updateTUI := func(msg ui.StatusMsg) {
		if tuiProg != nil {
			tuiProg.Send(msg)
		}
	}

	intercom, err := app.New(app.Config{
		Intercom: cfg,
		OnStats: func(st player.Stats) {
			updateTUI(ui.StatusMsg{Stats: &st})
		},
		OnPeer: func(peer discovery.Peer) {
			updateTUI(ui.StatusMsg{Peer: fmt.Sprintf("%s (%s)", peer.Name, peer.Host)})
		},
	})
	if err != nil {
		quitTUI(tuiProg)
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := intercom.Start(ctx); err != nil {
		quitTUI(tuiProg)
		logrus.Fatalf("Failed to start intercom: %v", err)
	}

	effective := intercom.Config()
	updateTUI(ui.StatusMsg{
		Instance: effective.Name,
		Group:    fmt.Sprintf("%s:%d", effective.Group, effective.Port),
		SSRC:     effective.SSRC,
		Format:   effective.Format().String(),
		PacketMs: effective.PacketMs,
	})

	if volumeCtrl != nil {
		go handleVolumeControl(ctx, intercom, volumeCtrl)
	}
	if tuiProg != nil {
		go runtimeStatsLoop(ctx, updateTUI)
	}

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var quit <-chan ui.QuitMsg
	if volumeCtrl != nil {
		quit = volumeCtrl.Quit
	}

	select {
	case <-quit:
		logrus.Info("Received quit signal from TUI")
	case <-sigChan:
		logrus.Info("Shutdown signal received")
	case <-intercom.Done():
		logrus.Warnf("Event loop exited: %v", intercom.Err())
	}

	stats := intercom.Stop()
	quitTUI(tuiProg)

	fmt.Printf("Sent %d, received %d, accepted %d, lost %d, played %d, drift %s\n",
		stats.Sent, stats.Received, stats.Accepted, stats.Lost(), stats.Played, stats.Drift())
}

func quitTUI(p *tea.Program) {
	if p != nil {
		p.Quit()
		p.Wait()
	}
}

// handleVolumeControl processes volume changes from TUI
func handleVolumeControl(ctx context.Context, intercom *app.Intercom, volumeCtrl *ui.VolumeControl) {
	for {
		select {
		case vol := <-volumeCtrl.Changes:
			logrus.Debugf("Volume change: %d%%, muted=%v", vol.Volume, vol.Muted)
			intercom.SetVolume(vol.Volume)
			intercom.SetMuted(vol.Muted)
		case <-ctx.Done():
			return
		}
	}
}

// runtimeStatsLoop reports goroutine count to the TUI debug panel
func runtimeStatsLoop(ctx context.Context, updateTUI func(ui.StatusMsg)) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			updateTUI(ui.StatusMsg{Goroutines: runtime.NumGoroutine()})
		case <-ctx.Done():
			return
		}
	}
}
