package crossfade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"webradio/audio"
	"webradio/session"
)

// StepInterval is the cadence at which gains are rewritten during a fade
const StepInterval = 100 * time.Millisecond

var (
	// ErrFading is returned when a transition is requested during a fade
	ErrFading = errors.New("crossfade already in progress")
	// ErrAlreadyInState is returned when the requested mode is already active
	ErrAlreadyInState = errors.New("already in requested mode")
)

// Direction is the target of a transition
type Direction int

const (
	ToVoice Direction = iota
	ToMusic
)

func (d Direction) String() string {
	if d == ToVoice {
		return "voice"
	}
	return "music"
}

func (d Direction) target() (State, session.VolumeState) {
	if d == ToVoice {
		return VoiceDominant, session.VoiceDominant
	}
	return MusicDominant, session.MusicDominant
}

// State is the controller state
type State string

const (
	MusicDominant State = "music"
	VoiceDominant State = "voice"
	FadingToVoice State = "fading-to-voice"
	FadingToMusic State = "fading-to-music"
)

// Volumes is the shared gain state the controller drives
type Volumes interface {
	Volumes() session.VolumeState
	SetVolumes(session.VolumeState)
}

// Controller serializes transitions between music and voice and ramps the
// shared gains on a fixed cadence.
type Controller struct {
	volumes  Volumes
	duration time.Duration
	step     time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	state State
}

// Option configures a Controller
type Option func(*Controller)

// WithStep overrides the step interval
func WithStep(step time.Duration) Option {
	return func(c *Controller) {
		if step > 0 {
			c.step = step
		}
	}
}

// New creates a controller in the music-dominant state
func New(volumes Volumes, duration time.Duration, opts ...Option) *Controller {
	c := &Controller{
		volumes:  volumes,
		duration: duration,
		step:     StepInterval,
		logger:   slog.With("component", "crossfade"),
		state:    MusicDominant,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current controller state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Begin accepts or rejects a transition. On acceptance the controller is in a
// fading state until the returned Fade has run.
func (c *Controller) Begin(dir Direction) (*Fade, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case FadingToVoice, FadingToMusic:
		return nil, ErrFading
	}
	stable, target := dir.target()
	if c.state == stable {
		return nil, fmt.Errorf("%s: %w", dir, ErrAlreadyInState)
	}

	if dir == ToVoice {
		c.state = FadingToVoice
	} else {
		c.state = FadingToMusic
	}
	return &Fade{
		controller: c,
		dir:        dir,
		from:       c.volumes.Volumes(),
		to:         target,
	}, nil
}

// Fade is one accepted transition
type Fade struct {
	controller *Controller
	dir        Direction
	from       session.VolumeState
	to         session.VolumeState
}

// Direction returns where the fade is heading
func (f *Fade) Direction() Direction {
	return f.dir
}

// Steps returns the gain pairs the fade writes, in order. The ramp is linear
// in amplitude and its last entry is the target.
func (f *Fade) Steps() []session.VolumeState {
	n := int(f.controller.duration / f.controller.step)
	if n < 1 {
		n = 1
	}

	mic := ramp(audio.DBToAmplitude(f.from.MicDB), audio.DBToAmplitude(f.to.MicDB), n)
	music := ramp(audio.DBToAmplitude(f.from.MusicDB), audio.DBToAmplitude(f.to.MusicDB), n)

	steps := make([]session.VolumeState, n)
	for i := range steps {
		steps[i] = session.VolumeState{
			MicDB:   audio.ClampDB(audio.AmplitudeToDB(mic[i])),
			MusicDB: audio.ClampDB(audio.AmplitudeToDB(music[i])),
		}
	}
	return steps
}

// Run writes every step under the session lock, sleeping one step between
// writes. If ctx ends early the target gains are written at once, so a fade
// never stops half-way.
func (f *Fade) Run(ctx context.Context) error {
	c := f.controller
	stable, _ := f.dir.target()
	defer func() {
		c.mu.Lock()
		c.state = stable
		c.mu.Unlock()
	}()

	steps := f.Steps()
	c.logger.Info("Crossfade started",
		slog.String("direction", f.dir.String()),
		slog.Int("steps", len(steps)),
		slog.Duration("duration", c.duration))

	for i, v := range steps {
		c.volumes.SetVolumes(v)
		c.logger.Debug("Crossfade step",
			slog.Int("step", i+1),
			slog.Float64("mic_db", v.MicDB),
			slog.Float64("music_db", v.MusicDB))

		select {
		case <-time.After(c.step):
		case <-ctx.Done():
			c.volumes.SetVolumes(steps[len(steps)-1])
			c.logger.Warn("Crossfade interrupted, jumped to target", slog.String("direction", f.dir.String()))
			return ctx.Err()
		}
	}

	c.logger.Info("Crossfade completed", slog.String("direction", f.dir.String()))
	return nil
}

// ramp returns n evenly spaced values from start to end inclusive. A single
// step lands on end.
func ramp(start, end float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = end
		return out
	}
	for i := range out {
		out[i] = start + (end-start)*float64(i)/float64(n-1)
	}
	out[n-1] = end
	return out
}
