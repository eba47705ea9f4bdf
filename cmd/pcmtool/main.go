// ABOUTME: Records and plays raw PCM files through the intercom audio devices
// ABOUTME: Usage: pcmtool record|play [-b 8|16] [-stereo] [-v VOL] [-r RATE] [-s BLOCK] file
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/audioc/pkg/audio"
	"github.com/Resonate-Protocol/audioc/pkg/audio/capture"
	"github.com/Resonate-Protocol/audioc/pkg/audio/output"
	"github.com/sirupsen/logrus"
)

const (
	opRecord = "record"
	opPlay   = "play"
)

// options holds the parsed command line
type options struct {
	op        string
	format    audio.Format
	volume    int
	blockSize int
	source    string
	device    string
	path      string
	verbose   bool
}

func usage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "usage: pcmtool record|play [flags] file\n")
	fs.PrintDefaults()
}

// parseArgs parses args (without the program name)
func parseArgs(args []string) (options, error) {
	fs := flag.NewFlagSet("pcmtool", flag.ContinueOnError)
	bits := fs.Int("b", 8, "Bits per sample: 8 (unsigned) or 16 (signed little endian)")
	stereo := fs.Bool("stereo", false, "Two channels instead of one")
	volume := fs.Int("v", 90, "Playback volume 0-100")
	rate := fs.Int("r", 8000, "Sample rate in Hz (up to 44100)")
	blockSize := fs.Int("s", 4096, "Bytes per device transfer (16-65536)")
	source := fs.String("source", "mic", "Capture source for record: mic or tone")
	device := fs.String("device", "oto", "Output device for play: oto, malgo or null")
	verbose := fs.Bool("verbose", false, "Debug logging")

	if len(args) == 0 {
		usage(fs)
		return options{}, errors.New("an operation is required (record, play)")
	}
	op := args[0]
	if op != opRecord && op != opPlay {
		usage(fs)
		return options{}, fmt.Errorf("unknown operation %q", op)
	}
	err := fs.Parse(args[1:])
	if err != nil {
		return options{}, err
	}
	if fs.NArg() != 1 {
		usage(fs)
		return options{}, errors.New("exactly one file name is required")
	}

	opts := options{
		op:        op,
		volume:    *volume,
		blockSize: *blockSize,
		source:    *source,
		device:    *device,
		path:      fs.Arg(0),
		verbose:   *verbose,
		format: audio.Format{
			SampleRate: *rate,
			Channels:   1,
		},
	}
	if *stereo {
		opts.format.Channels = 2
	}

	if opts.format.Sample, err = audio.ParseSampleFormat(*bits); err != nil {
		return options{}, fmt.Errorf("-b: %w", err)
	}
	if opts.volume < 0 || opts.volume > 100 {
		return options{}, fmt.Errorf("-v must be in the range 0-100, got %d", opts.volume)
	}
	if *rate <= 0 || *rate > 44100 {
		return options{}, fmt.Errorf("-r must be in the range 1-44100, got %d", *rate)
	}
	if opts.blockSize < 16 || opts.blockSize > 65536 {
		return options{}, fmt.Errorf("-s must be in the range 16-65536, got %d", opts.blockSize)
	}
	// Device transfers are whole frames
	opts.blockSize -= opts.blockSize % opts.format.BytesPerFrame()

	return opts, nil
}

func main() {
	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if opts.verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	verb := "Recording"
	if opts.op == opPlay {
		verb = "Playing"
	}
	logrus.WithFields(logrus.Fields{
		"file":   opts.path,
		"format": opts.format.String(),
		"volume": opts.volume,
		"block":  opts.blockSize,
		"period": opts.format.BytesToDuration(opts.blockSize).String(),
	}).Info(verb)

	var n int64
	switch opts.op {
	case opRecord:
		n, err = record(ctx, opts)
	case opPlay:
		n, err = play(ctx, opts)
	}
	if err != nil {
		logrus.Fatalf("%s failed: %v", verb, err)
	}

	logrus.Infof("%s finished: %d bytes (%s)", verb, n, opts.format.BytesToDuration(int(n)))
}

// record copies capture blocks to the file until interrupted
func record(ctx context.Context, opts options) (int64, error) {
	f, err := os.Create(opts.path)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", opts.path, err)
	}
	defer f.Close()

	src := capture.New(opts.source, opts.format)
	if err := src.Open(opts.format, opts.blockSize); err != nil {
		return 0, fmt.Errorf("failed to open capture: %w", err)
	}
	defer src.Close()

	stop := context.AfterFunc(ctx, func() { src.Close() })
	defer stop()

	return copyBlocks(f, src, opts.blockSize)
}

// copyBlocks moves blockSize reads from src to w until src ends
func copyBlocks(w io.Writer, src io.Reader, blockSize int) (int64, error) {
	buf := make([]byte, blockSize)
	var total int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if n != blockSize {
				logrus.Debugf("Recorded %d bytes, expected %d", n, blockSize)
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, fmt.Errorf("failed to write: %w", werr)
			}
			total += int64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, capture.ErrClosed) {
				return total, nil
			}
			return total, err
		}
	}
}

// play streams the file to the output device and waits for it to drain
func play(ctx context.Context, opts options) (int64, error) {
	f, err := os.Open(opts.path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", opts.path, err)
	}
	defer f.Close()

	out, err := output.New(opts.device)
	if err != nil {
		return 0, err
	}
	if err := out.Open(opts.format, opts.blockSize); err != nil {
		return 0, fmt.Errorf("failed to open output: %w", err)
	}
	defer out.Close()
	out.SetVolume(opts.volume)

	total, err := feed(ctx, out, f, opts.blockSize, opts.format.BytesPerFrame())
	if err != nil {
		return total, err
	}

	// Let the device play what it holds
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for out.Buffered() > 0 {
		select {
		case <-ctx.Done():
			return total, nil
		case <-ticker.C:
		}
	}
	return total, nil
}

// feed writes r to out in blockSize pieces, waiting whenever the device is full
func feed(ctx context.Context, out output.Output, r io.Reader, blockSize, frameSize int) (int64, error) {
	buf := make([]byte, blockSize)
	var total int64
	for {
		n, err := io.ReadFull(r, buf)
		block := buf[:n-n%frameSize]
		for len(block) > 0 {
			w, werr := out.Write(block)
			if werr != nil {
				return total, werr
			}
			block = block[w:]
			total += int64(w)
			if len(block) > 0 {
				select {
				case <-out.Writable():
				case <-ctx.Done():
					return total, nil
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return total, nil
			}
			return total, fmt.Errorf("failed to read: %w", err)
		}
		if ctx.Err() != nil {
			return total, nil
		}
	}
}
