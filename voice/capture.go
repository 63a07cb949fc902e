package voice

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"webradio/audio"
)

const (
	// Exec is the default path to the ffmpeg executable
	Exec = "ffmpeg"
	// BufferSize is the read buffer on the ffmpeg stdout pipe
	BufferSize = 65307
	// frameDuration is how much audio each captured packet carries
	frameDuration = 20 * time.Millisecond
	// packetBacklog bounds how far capture may run ahead of the mixer
	packetBacklog = 10
)

// DefaultInput captures the default ALSA device
var DefaultInput = []string{"-thread_queue_size", "512", "-f", "alsa", "-i", "default"}

// Capture reads live voice from an ffmpeg process emitting s16le mono PCM.
// When capture lags behind the mixer the missing samples are filled with
// silence rather than blocking the mix.
type Capture struct {
	cmd    *exec.Cmd
	pipe   io.Closer
	reader *bufio.Reader
	logger *slog.Logger

	packets chan []int16
	pending []int16

	concealed atomic.Int64
	done      context.Context
	doneFunc  context.CancelFunc
	wg        sync.WaitGroup
}

var _ Source = (*Capture)(nil)

// NewCapture starts ffmpeg with the given input arguments. The output side is
// fixed to the mixer's sample format.
func NewCapture(ctx context.Context, exe string, input []string) (*Capture, error) {
	if exe == "" {
		exe = Exec
	}
	if len(input) == 0 {
		input = DefaultInput
	}

	args := append([]string{"-hide_banner", "-loglevel", "error"}, input...)
	args = append(args,
		"-ac", "1",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-f", "s16le",
		"pipe:1",
	)
	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Stderr = os.Stderr

	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	c := newCapture(pipe)
	c.cmd = cmd
	c.logger.Info("Voice capture started", slog.Int("pid", cmd.Process.Pid))
	return c, nil
}

func newCapture(pipe io.ReadCloser) *Capture {
	done, doneFunc := context.WithCancel(context.Background())
	c := &Capture{
		pipe:     pipe,
		reader:   bufio.NewReaderSize(pipe, BufferSize),
		logger:   slog.With("component", "voice-capture"),
		packets:  make(chan []int16, packetBacklog),
		done:     done,
		doneFunc: doneFunc,
	}
	c.wg.Add(1)
	go c.readLoop()
	return c
}

func (c *Capture) readLoop() {
	defer c.wg.Done()
	defer close(c.packets)

	buf := make([]byte, audio.FramesFor(frameDuration)*audio.SampleWidth)
	for {
		_, err := io.ReadFull(c.reader, buf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, os.ErrClosed) {
				c.logger.Info("Voice capture ended")
			} else {
				c.logger.Error("Error reading PCM data", slog.Any("error", err))
			}
			c.doneFunc()
			return
		}

		select {
		case c.packets <- audio.Decode(buf):
		case <-c.done.Done():
			return
		}
	}
}

// Read implements Source. It never blocks on the capture process.
func (c *Capture) Read(p []int16) error {
	n := 0
	for n < len(p) {
		if len(c.pending) == 0 {
			select {
			case packet, ok := <-c.packets:
				if !ok {
					c.conceal(p[n:])
					return nil
				}
				c.pending = packet
			default:
				c.conceal(p[n:])
				return nil
			}
		}
		copied := copy(p[n:], c.pending)
		c.pending = c.pending[copied:]
		n += copied
	}
	return nil
}

func (c *Capture) conceal(p []int16) {
	clear(p)
	if c.concealed.Add(int64(len(p))) == int64(len(p)) {
		c.logger.Warn("Voice capture lagging, inserting silence")
	}
}

// Concealed returns how many samples were replaced by silence
func (c *Capture) Concealed() int64 {
	return c.concealed.Load()
}

// Close stops the capture process
func (c *Capture) Close() error {
	c.doneFunc()
	_ = c.pipe.Close()
	c.wg.Wait()

	if c.cmd == nil {
		return nil
	}
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	// A killed process reports an error; that is the expected outcome here.
	_ = c.cmd.Wait()
	return nil
}
