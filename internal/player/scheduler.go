// ABOUTME: Jitter buffer scheduler for the intercom
// ABOUTME: Decides what enters the playout queue and when blocks reach the output
package player

import (
	"errors"
	"fmt"
	"time"

	"github.com/Resonate-Protocol/audioc/internal/blockqueue"
	"github.com/Resonate-Protocol/audioc/internal/conceal"
	"github.com/Resonate-Protocol/audioc/pkg/audio"
	"github.com/Resonate-Protocol/audioc/pkg/protocol"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultSilenceCeiling bounds how long local silence may go unsent
	DefaultSilenceCeiling = 10 * time.Second
	// DefaultSafetyMargin is subtracted from the outstanding audio when arming the timer
	DefaultSafetyMargin = 10 * time.Millisecond
	// repeatLimit is the gap length below which lost fragments are repeated instead of noise-filled
	repeatLimit = 4
)

// ErrInvalidConfig is returned by New for inconsistent scheduler settings
var ErrInvalidConfig = errors.New("invalid scheduler config")

// Sender transmits encoded datagrams
type Sender interface {
	Send(datagram []byte) error
}

// Sink is the output device as seen by the scheduler
type Sink interface {
	// Write hands one block to the device without blocking
	Write(block []byte) (int, error)
	// Writable signals when the device can take another block
	Writable() <-chan struct{}
	// Buffered returns the bytes accepted but not yet played
	Buffered() int
}

// Config holds scheduler settings
type Config struct {
	Format       audio.Format
	PayloadType  audio.PayloadType
	FragmentSize int
	SSRC         uint32

	// PreRollBlocks is the queue depth that starts playout
	PreRollBlocks int
	// Capacity is the queue size in blocks
	Capacity int

	SuppressSilence bool
	SilenceCeiling  time.Duration
	SafetyMargin    time.Duration

	// StatsInterval is how often OnStats is called from the loop. Zero disables it.
	StatsInterval time.Duration
	OnStats       func(Stats)

	// Now is the clock used for silence suppression and playout timing
	Now func() time.Time
}

// Scheduler is the jitter buffer. It is not safe for concurrent use; every
// method must be called from the goroutine running the event loop.
type Scheduler struct {
	cfg    Config
	codec  *protocol.Codec
	queue  *blockqueue.Queue
	sender Sender
	sink   Sink

	noise   []byte
	silence []byte
	step    uint32
	state   State

	// receive direction
	locked       bool
	remoteSSRC   uint32
	lastSeq      uint16
	lastTS       uint32
	prevPayload  []byte
	timerFillers int
	playStart    time.Time
	playedBytes  int64

	// send direction
	sendSeq  uint16
	sendTS   uint32
	lastSent time.Time
	haveSent bool
	scratch  []byte

	stats Stats
}

// New creates a scheduler sending through sender and playing into sink
func New(cfg Config, sender Sender, sink Sink) (*Scheduler, error) {
	if err := cfg.Format.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	bpf := cfg.Format.BytesPerFrame()
	if cfg.FragmentSize <= 0 || cfg.FragmentSize%bpf != 0 {
		return nil, fmt.Errorf("%w: fragment size %d is not a whole number of %d-byte frames",
			ErrInvalidConfig, cfg.FragmentSize, bpf)
	}
	if cfg.PreRollBlocks < 1 {
		cfg.PreRollBlocks = 1
	}
	if cfg.Capacity <= cfg.PreRollBlocks {
		return nil, fmt.Errorf("%w: capacity %d must exceed pre-roll %d",
			ErrInvalidConfig, cfg.Capacity, cfg.PreRollBlocks)
	}
	if cfg.SilenceCeiling <= 0 {
		cfg.SilenceCeiling = DefaultSilenceCeiling
	}
	if cfg.SafetyMargin <= 0 {
		cfg.SafetyMargin = DefaultSafetyMargin
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	codec, err := protocol.NewCodec(cfg.FragmentSize, cfg.PayloadType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	queue, err := blockqueue.New(cfg.Capacity, cfg.FragmentSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return &Scheduler{
		cfg:         cfg,
		codec:       codec,
		queue:       queue,
		sender:      sender,
		sink:        sink,
		noise:       conceal.BuildComfortNoise(cfg.FragmentSize, cfg.Format.Sample),
		silence:     conceal.Silence(cfg.FragmentSize, cfg.Format.Sample),
		step:        uint32(cfg.FragmentSize / bpf),
		state:       PreRoll,
		prevPayload: make([]byte, cfg.FragmentSize),
		scratch:     make([]byte, cfg.FragmentSize),
	}, nil
}

// State returns the current playout state
func (s *Scheduler) State() State {
	return s.state
}

// Depth returns the number of blocks waiting in the playout queue
func (s *Scheduler) Depth() int {
	return s.queue.Len()
}

// TimestampStep returns the timestamp advance of one fragment, in sample frames
func (s *Scheduler) TimestampStep() uint32 {
	return s.step
}

// HandleCapture sends one captured fragment unless it is suppressed as silence.
// Short fragments are padded with silence.
func (s *Scheduler) HandleCapture(fragment []byte) {
	if len(fragment) != s.cfg.FragmentSize {
		s.stats.ShortReads++
		n := copy(s.scratch, fragment)
		copy(s.scratch[n:], s.silence[n:])
		fragment = s.scratch
	}

	ts := s.sendTS
	s.sendTS += s.step

	now := s.cfg.Now()
	if s.cfg.SuppressSilence && s.haveSent &&
		now.Sub(s.lastSent) < s.cfg.SilenceCeiling &&
		conceal.IsSilence(fragment, s.cfg.Format.Sample) {
		s.stats.LocalSilences++
		return
	}

	datagram, err := s.codec.Encode(s.sendSeq, ts, s.cfg.SSRC, fragment)
	if err != nil {
		// Cannot happen for a padded fragment; counted as a failed send.
		s.stats.SendErrors++
		return
	}
	s.sendSeq++
	s.lastSent = now
	s.haveSent = true

	if err := s.sender.Send(datagram); err != nil {
		s.stats.SendErrors++
		logrus.WithFields(logrus.Fields{
			"function": "HandleCapture",
			"error":    err.Error(),
		}).Debug("Send failed")
		return
	}
	s.stats.Sent++
}

// HandlePacket classifies one received datagram against the last accepted
// packet and enqueues it, inserting fillers for any gap.
func (s *Scheduler) HandlePacket(datagram []byte) {
	s.stats.Received++

	pkt, err := s.codec.Decode(datagram)
	if err != nil {
		s.stats.Malformed++
		logrus.WithFields(logrus.Fields{
			"function": "HandlePacket",
			"size":     len(datagram),
			"error":    err.Error(),
		}).Debug("Discarding datagram")
		return
	}

	if pkt.SSRC == s.cfg.SSRC || (s.locked && pkt.SSRC != s.remoteSSRC) {
		s.stats.ForeignSSRC++
		logrus.WithFields(logrus.Fields{
			"function": "HandlePacket",
			"ssrc":     pkt.SSRC,
			"locked":   s.remoteSSRC,
		}).Debug("Discarding packet from foreign source")
		return
	}

	if !s.locked {
		s.locked = true
		s.remoteSSRC = pkt.SSRC
		logrus.WithFields(logrus.Fields{
			"function": "HandlePacket",
			"ssrc":     pkt.SSRC,
			"sequence": pkt.SequenceNumber,
		}).Info("Receiving remote stream")
		s.accept(pkt)
		return
	}

	// Slots up to the watermark are already queued, real or timer filled
	watermark := s.lastTS + uint32(s.timerFillers)*s.step
	k := pkt.SequenceNumber - s.lastSeq
	dts := pkt.Timestamp - s.lastTS
	ahead := pkt.Timestamp - watermark
	if int16(k) <= 0 || int32(ahead) <= 0 || ahead < s.step {
		s.stats.Stale++
		logrus.WithFields(logrus.Fields{
			"function":  "HandlePacket",
			"sequence":  pkt.SequenceNumber,
			"timestamp": pkt.Timestamp,
			"last_seq":  s.lastSeq,
			"watermark": watermark,
		}).Debug("Discarding stale packet")
		return
	}
	kt := int(dts / s.step)

	if fillers := int(ahead/s.step) - 1; fillers > 0 {
		switch {
		case k == 1:
			s.stats.RemoteSilences += int64(s.insertFillers(s.noise, fillers))
		case int(k) == kt && kt < repeatLimit:
			s.stats.LostRepeated += int64(s.insertFillers(s.prevPayload, fillers))
		default:
			s.stats.LostNoise += int64(s.insertFillers(s.noise, fillers))
		}
		if k > 1 {
			logrus.WithFields(logrus.Fields{
				"function": "HandlePacket",
				"missing":  int(k) - 1,
				"fillers":  fillers,
			}).Debug("Packet loss")
		}
	}

	s.accept(pkt)
}

// HandleWritable writes the oldest queued block to the output device
func (s *Scheduler) HandleWritable() {
	if s.state != Steady {
		return
	}
	block, ok := s.queue.AcquireReadSlot()
	if !ok {
		return
	}

	n, err := s.sink.Write(block)
	s.playedBytes += int64(n)
	if err != nil {
		s.stats.WriteErrors++
		logrus.WithFields(logrus.Fields{
			"function": "HandleWritable",
			"error":    err.Error(),
		}).Debug("Output write failed")
		return
	}
	if n < len(block) {
		s.stats.ShortWrites++
		logrus.WithFields(logrus.Fields{
			"function": "HandleWritable",
			"written":  n,
			"size":     len(block),
		}).Debug("Short write")
	}
	s.stats.Played++
}

// HandleTimeout inserts one comfort noise block when nothing arrived in time
func (s *Scheduler) HandleTimeout() {
	if s.state != Steady {
		return
	}
	if s.insertFillers(s.noise, 1) == 1 {
		s.timerFillers++
		s.stats.TimerFillers++
	}
}

// Timeout returns how long the loop may wait for an event before the timer
// path runs. The second result is false while no timer should be armed.
func (s *Scheduler) Timeout() (time.Duration, bool) {
	if s.state != Steady {
		return 0, false
	}
	outstanding := s.sink.Buffered() + s.queue.Len()*s.cfg.FragmentSize
	d := s.cfg.Format.BytesToDuration(outstanding) - s.cfg.SafetyMargin
	if d < 0 {
		d = 0
	}
	return d, true
}

// Stats returns a snapshot of the scheduler counters
func (s *Scheduler) Stats() Stats {
	st := s.stats
	st.State = s.state
	st.Depth = s.queue.Len()
	st.Theoretical = s.cfg.Format.BytesToDuration(int(s.playedBytes))
	if !s.playStart.IsZero() {
		st.Actual = s.cfg.Now().Sub(s.playStart)
	}
	return st
}

// Close releases the playout queue and returns the final statistics
func (s *Scheduler) Close() Stats {
	st := s.Stats()
	s.queue.Close()

	logrus.WithFields(logrus.Fields{
		"function":        "Close",
		"sent":            st.Sent,
		"local_silences":  st.LocalSilences,
		"received":        st.Received,
		"remote_silences": st.RemoteSilences,
		"lost":            st.Lost(),
		"played":          st.Played,
		"theoretical":     st.Theoretical.String(),
		"actual":          st.Actual.String(),
	}).Info("Intercom statistics")

	return st
}

// insertFillers enqueues up to n copies of block, always leaving one slot free
func (s *Scheduler) insertFillers(block []byte, n int) int {
	headroom := s.queue.Free() - 1
	if headroom < 0 {
		headroom = 0
	}
	if n > headroom {
		s.stats.ClampedFillers += int64(n - headroom)
		n = headroom
	}
	for i := 0; i < n; i++ {
		slot, ok := s.queue.AcquireWriteSlot()
		if !ok {
			return i
		}
		copy(slot, block)
	}
	return n
}

func (s *Scheduler) accept(pkt protocol.Packet) {
	if err := s.queue.Push(pkt.Payload); err != nil {
		s.stats.QueueFull++
		logrus.WithFields(logrus.Fields{
			"function": "accept",
			"sequence": pkt.SequenceNumber,
			"error":    err.Error(),
		}).Debug("Dropping packet")
	}

	copy(s.prevPayload, pkt.Payload)
	s.lastSeq = pkt.SequenceNumber
	s.lastTS = pkt.Timestamp
	s.timerFillers = 0
	s.stats.Accepted++

	if s.state == PreRoll && s.queue.Len() >= s.cfg.PreRollBlocks {
		s.state = Steady
		s.playStart = s.cfg.Now()
		logrus.WithFields(logrus.Fields{
			"function": "accept",
			"blocks":   s.queue.Len(),
		}).Info("Startup buffering complete")
	}
}
