package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"webradio/audio"
	"webradio/metrics"
	"webradio/session"
)

// DefaultPopTimeout is how long the distributor waits for a chunk before
// reporting an underrun
const DefaultPopTimeout = time.Second

// Flusher is implemented by sinks that buffer writes
type Flusher interface {
	Flush() error
}

// DistributorConfig tunes the consumer
type DistributorConfig struct {
	PopTimeout time.Duration
	// UnderrunSilence writes one chunk of silence to the live sink on every
	// underrun so downstream encoders keep their timing. The archive never
	// receives filler.
	UnderrunSilence bool
	ChunkDuration   time.Duration
}

// Distributor is the consumer: it drains the queue in order into the live
// sink and the archive.
type Distributor struct {
	session *session.Session
	queue   *Queue
	live    io.Writer
	archive io.Writer
	metrics *metrics.Metrics
	cfg     DistributorConfig
	logger  *slog.Logger

	silence   []byte
	delivered uint64
	underruns uint64
}

// DistributorOption configures a Distributor
type DistributorOption func(*Distributor)

// WithDistributorMetrics records delivered chunks and underruns
func WithDistributorMetrics(m *metrics.Metrics) DistributorOption {
	return func(d *Distributor) {
		d.metrics = m
	}
}

// NewDistributor creates a consumer writing to live and archive
func NewDistributor(s *session.Session, q *Queue, live, archive io.Writer, cfg DistributorConfig, opts ...DistributorOption) *Distributor {
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = DefaultPopTimeout
	}
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = DefaultChunkDuration
	}
	d := &Distributor{
		session: s,
		queue:   q,
		live:    live,
		archive: archive,
		cfg:     cfg,
		logger:  slog.With("component", "distributor", "session", s.ID()),
	}
	if cfg.UnderrunSilence {
		d.silence = make([]byte, audio.FramesFor(cfg.ChunkDuration)*audio.Channels*audio.SampleWidth)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run delivers chunks until the stream ends. A sink failure fails the
// session and is returned.
func (d *Distributor) Run(ctx context.Context) error {
	d.logger.Info("Distributor started", slog.Duration("pop_timeout", d.cfg.PopTimeout))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk, err := d.queue.Pop(d.cfg.PopTimeout)
		switch {
		case errors.Is(err, ErrEndOfStream):
			d.logger.Info("Stream ended",
				slog.Uint64("delivered", d.delivered),
				slog.Uint64("underruns", d.underruns))
			return nil
		case errors.Is(err, ErrUnderrun):
			d.underrun()
			if d.silence != nil {
				if err := d.writeLive(d.silence); err != nil {
					return d.fail(err)
				}
			}
			continue
		case err != nil:
			return d.fail(err)
		}

		if err := d.deliver(chunk); err != nil {
			return d.fail(err)
		}
	}
}

func (d *Distributor) deliver(c Chunk) error {
	if err := d.writeLive(c.Data); err != nil {
		return err
	}
	if _, err := d.archive.Write(c.Data); err != nil {
		return &StageError{Stage: StageSink, Err: fmt.Errorf("archive: %w", err)}
	}

	d.delivered++
	d.metrics.AddDelivered(len(c.Data))
	d.logger.Debug("Chunk delivered", slog.Uint64("seq", c.Seq), slog.Int("bytes", len(c.Data)))
	return nil
}

func (d *Distributor) writeLive(p []byte) error {
	if _, err := d.live.Write(p); err != nil {
		return &StageError{Stage: StageSink, Err: fmt.Errorf("live: %w", err)}
	}
	if f, ok := d.live.(Flusher); ok {
		if err := f.Flush(); err != nil {
			return &StageError{Stage: StageSink, Err: fmt.Errorf("live: %w", err)}
		}
	}
	return nil
}

func (d *Distributor) underrun() {
	d.underruns++
	d.metrics.IncUnderruns()
	d.logger.Warn("Buffer underrun, waiting for data",
		slog.Uint64("underruns", d.underruns),
		slog.Bool("silence", d.silence != nil))
}

func (d *Distributor) fail(err error) error {
	d.logger.Error("Output failed, stopping show", slog.Any("error", err))
	d.metrics.IncStageFailure(string(StageSink))
	d.session.Fail(err)
	return err
}

// Delivered returns how many chunks reached both sinks
func (d *Distributor) Delivered() uint64 {
	return d.delivered
}

// Underruns returns how many pops timed out while the show was playing
func (d *Distributor) Underruns() uint64 {
	return d.underruns
}
