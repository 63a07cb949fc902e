package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"webradio/annotation"
	"webradio/audio"
	"webradio/metrics"
	"webradio/session"
	"webradio/track"
	"webradio/voice"
)

// DefaultChunkDuration is the length of audio in one chunk
const DefaultChunkDuration = 20 * time.Millisecond

// Loudness range applied to tracks when no normalizer is configured
const (
	DefaultTargetMinDB = -20.0
	DefaultTargetMaxDB = 0.0
)

// Stage names a step of the mix loop
type Stage string

const (
	StageDecode  Stage = "decode"
	StageVoice   Stage = "voice"
	StageEnqueue Stage = "enqueue"
	StageSink    Stage = "sink"
)

// StageError is a fatal pipeline failure. It stops the show.
type StageError struct {
	Stage Stage
	Track string
	Err   error
}

func (e *StageError) Error() string {
	if e.Track == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Track, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Annotator records show events
type Annotator interface {
	LogEvent(kind annotation.Kind, payload map[string]string) (annotation.Event, error)
}

// MixerConfig tunes the producer
type MixerConfig struct {
	ChunkDuration time.Duration
	Normalizer    audio.Normalizer
}

// Mixer is the producer: it renders the current track and the live voice into
// fixed-size chunks, paced to wall-clock time.
type Mixer struct {
	session   *session.Session
	queue     *Queue
	decoder   track.Decoder
	voice     voice.Source
	annotator Annotator
	metrics   *metrics.Metrics
	cfg       MixerConfig
	logger    *slog.Logger
	now       func() time.Time

	seq      uint64
	start    time.Time
	produced time.Duration
}

// MixerOption configures a Mixer
type MixerOption func(*Mixer)

// WithMixerMetrics records produced chunks and failures
func WithMixerMetrics(m *metrics.Metrics) MixerOption {
	return func(mx *Mixer) {
		mx.metrics = m
	}
}

// WithAnnotator records genre changes
func WithAnnotator(a Annotator) MixerOption {
	return func(mx *Mixer) {
		mx.annotator = a
	}
}

// NewMixer creates a producer for s
func NewMixer(s *session.Session, q *Queue, decoder track.Decoder, src voice.Source, cfg MixerConfig, opts ...MixerOption) *Mixer {
	if audio.FramesFor(cfg.ChunkDuration) < 1 {
		cfg.ChunkDuration = DefaultChunkDuration
	}
	if cfg.Normalizer.Window < 1 {
		cfg.Normalizer, _ = audio.NewNormalizer(audio.DefaultNormalizeWindow, DefaultTargetMinDB, DefaultTargetMaxDB)
	}
	if src == nil {
		src = voice.Silence{}
	}
	m := &Mixer{
		session: s,
		queue:   q,
		decoder: decoder,
		voice:   src,
		cfg:     cfg,
		logger:  slog.With("component", "mixer", "session", s.ID()),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run mixes tracks until the playlist is exhausted, the show is stopped or a
// stage fails. A failure marks the session as failed and is returned.
func (m *Mixer) Run(ctx context.Context) error {
	defer m.queue.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.session.Stopped():
			cancel()
		case <-ctx.Done():
		}
	}()

	m.start = m.now()
	m.logger.Info("Mixer started", slog.Duration("chunk", m.cfg.ChunkDuration))

	for {
		t, index, ok := m.session.CurrentTrack()
		if !ok {
			if m.session.IsPlaying() {
				m.logger.Info("End of playlist")
				m.session.Stop()
			}
			return nil
		}

		if err := m.playTrack(ctx, t, index); err != nil {
			if isStop(err) || ctx.Err() != nil {
				m.logger.Info("Mixer stopped", slog.Uint64("chunks", m.seq))
				return nil
			}
			var se *StageError
			if errors.As(err, &se) {
				m.metrics.IncStageFailure(string(se.Stage))
			}
			m.logger.Error("Mixing failed, stopping show", slog.Any("error", err))
			m.session.Fail(err)
			return err
		}

		next, done := m.session.Advance()
		m.metrics.SetTrackIndex(next)
		if done {
			m.logger.Info("End of playlist", slog.Int("index", next), slog.Uint64("chunks", m.seq))
			return nil
		}
	}
}

func isStop(err error) bool {
	return errors.Is(err, ErrStopped) || errors.Is(err, context.Canceled)
}

func (m *Mixer) playTrack(ctx context.Context, t track.Track, index int) error {
	samples, err := m.decoder.Decode(ctx, t)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &StageError{Stage: StageDecode, Track: t.Name, Err: err}
	}

	if p, ok := m.decoder.(track.Prefetcher); ok {
		if next, ok := m.session.Playlist().At(index + 1); ok {
			p.Prefetch(next)
		}
	}

	samples = m.cfg.Normalizer.Normalize(samples)

	if m.session.SwapGenre(t.Genre) {
		m.announce(t)
	}
	m.logger.Info("Now playing",
		slog.String("track", t.Name),
		slog.Int("index", index),
		slog.String("genre", t.Genre),
		slog.Duration("duration", audio.DurationOf(len(samples))))

	frames := audio.FramesFor(m.cfg.ChunkDuration)
	live := make([]int16, frames)
	for off := 0; off < len(samples); off += frames {
		music := samples[off:min(off+frames, len(samples))]
		mic := live[:len(music)]
		if err := m.voice.Read(mic); err != nil {
			return &StageError{Stage: StageVoice, Track: t.Name, Err: err}
		}

		chunk := m.mix(music, mic)
		if err := m.queue.Push(ctx, chunk); err != nil {
			if isStop(err) || ctx.Err() != nil {
				return err
			}
			return &StageError{Stage: StageEnqueue, Track: t.Name, Err: err}
		}
		m.metrics.IncChunksProduced()

		m.produced += chunk.Duration
		if err := m.pace(ctx); err != nil {
			return err
		}
	}
	return nil
}

// mix applies the current gains to both slices and renders one chunk
func (m *Mixer) mix(music, mic []int16) Chunk {
	vol := m.session.Volumes()
	mixed := audio.Overlay(
		audio.ApplyGain(music, vol.MusicDB),
		audio.ApplyGain(mic, vol.MicDB),
	)

	c := Chunk{
		Seq:      m.seq,
		Data:     audio.Encode(audio.Expand(mixed, audio.Channels)),
		Duration: audio.DurationOf(len(mixed)),
	}
	m.seq++
	return c
}

// pace sleeps until the wall-clock time at which the audio produced so far
// finishes playing.
func (m *Mixer) pace(ctx context.Context) error {
	wait := m.start.Add(m.produced).Sub(m.now())
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Mixer) announce(t track.Track) {
	m.logger.Info("Genre changed", slog.String("genre", t.Genre), slog.String("track", t.Name))
	if m.annotator == nil {
		return
	}
	if _, err := m.annotator.LogEvent(annotation.KindMusic, map[string]string{"genre": t.Genre}); err != nil {
		// Annotation failures never stop the show.
		m.logger.Warn("Failed to annotate genre change", slog.Any("error", err))
		return
	}
	m.metrics.IncAnnotations(string(annotation.KindMusic))
}
