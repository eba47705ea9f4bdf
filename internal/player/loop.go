// ABOUTME: Single-goroutine event loop driving the scheduler
// ABOUTME: Multiplexes capture, network, output readiness and the adaptive timer
package player

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Events is the set of events ready at one wake-up of the loop
type Events struct {
	Captured  [][]byte
	Datagrams [][]byte
	Writable  bool
	TimedOut  bool
}

func (e Events) empty() bool {
	return len(e.Captured) == 0 && len(e.Datagrams) == 0 && !e.Writable
}

// Step handles one batch of ready events in fixed priority order:
// capture, then network, then device write. The timer path only runs
// when nothing else was ready.
func (s *Scheduler) Step(ev Events) {
	if ev.empty() {
		if ev.TimedOut {
			s.HandleTimeout()
		}
		return
	}

	for _, fragment := range ev.Captured {
		s.HandleCapture(fragment)
	}
	for _, datagram := range ev.Datagrams {
		s.HandlePacket(datagram)
	}
	if ev.Writable {
		s.HandleWritable()
	}
}

// Inputs are the channels fed by the device and socket reader goroutines.
// A nil channel disables that direction.
type Inputs struct {
	Capture   <-chan []byte
	Datagrams <-chan []byte
}

// Run drives the scheduler until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context, in Inputs) error {
	capture, datagrams := in.Capture, in.Datagrams

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	var statsC <-chan time.Time
	if s.cfg.StatsInterval > 0 && s.cfg.OnStats != nil {
		ticker := time.NewTicker(s.cfg.StatsInterval)
		defer ticker.Stop()
		statsC = ticker.C
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Run",
		"fragment":  s.cfg.FragmentSize,
		"pre_roll":  s.cfg.PreRollBlocks,
		"capacity":  s.cfg.Capacity,
		"format":    s.cfg.Format.String(),
		"silence":   s.cfg.SuppressSilence,
		"timestamp": s.step,
	}).Info("Event loop started")

	for {
		var writable <-chan struct{}
		if s.state == Steady && s.queue.HasBlock() {
			writable = s.sink.Writable()
		}

		var timeout <-chan time.Time
		if d, ok := s.Timeout(); ok {
			timer.Reset(d)
			timeout = timer.C
		}

		var ev Events
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fragment, ok := <-capture:
			if !ok {
				capture = nil
				logrus.WithField("function", "Run").Info("Capture ended")
				break
			}
			ev.Captured = append(ev.Captured, fragment)
		case datagram, ok := <-datagrams:
			if !ok {
				datagrams = nil
				logrus.WithField("function", "Run").Info("Network receive ended")
				break
			}
			ev.Datagrams = append(ev.Datagrams, datagram)
		case <-writable:
			ev.Writable = true
		case <-timeout:
			ev.TimedOut = true
		case <-statsC:
			s.cfg.OnStats(s.Stats())
		}
		timer.Stop()

		// Pick up anything else that became ready at the same time.
		if ev.TimedOut || !ev.empty() {
			capture, datagrams = s.gather(&ev, capture, datagrams, writable)
		}
		s.Step(ev)
	}
}

// gather polls every other input once without blocking
func (s *Scheduler) gather(ev *Events, capture, datagrams <-chan []byte, writable <-chan struct{}) (<-chan []byte, <-chan []byte) {
	if len(ev.Captured) == 0 {
		select {
		case fragment, ok := <-capture:
			if ok {
				ev.Captured = append(ev.Captured, fragment)
			} else {
				capture = nil
			}
		default:
		}
	}
	if len(ev.Datagrams) == 0 {
		select {
		case datagram, ok := <-datagrams:
			if ok {
				ev.Datagrams = append(ev.Datagrams, datagram)
			} else {
				datagrams = nil
			}
		default:
		}
	}
	if !ev.Writable {
		select {
		case <-writable:
			ev.Writable = true
		default:
		}
	}
	return capture, datagrams
}
