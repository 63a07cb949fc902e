package session

import (
	"sync"
	"time"

	"webradio/audio"
	"webradio/track"

	"github.com/google/uuid"
)

// Status is the externally reported lifecycle state of a show
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
)

// VolumeState holds the crossfade gains in dBFS
type VolumeState struct {
	MicDB   float64 `json:"mic_db"`
	MusicDB float64 `json:"music_db"`
}

// MusicDominant is the gain pair a show starts with
var MusicDominant = VolumeState{MicDB: audio.FloorDB, MusicDB: audio.CeilingDB}

// VoiceDominant is the gain pair after a fade to voice
var VoiceDominant = VolumeState{MicDB: audio.CeilingDB, MusicDB: audio.FloorDB}

// Session is one broadcast run. A single mutex guards the playing flag, the
// track index, the current genre and the volumes; every goroutine of the show
// goes through it.
type Session struct {
	id       string
	playlist *track.Playlist

	mu         sync.Mutex
	playing    bool
	trackIndex int
	genre      string
	volumes    VolumeState
	startedAt  time.Time
	status     Status
	err        error

	stopped  chan struct{}
	stopOnce sync.Once
}

// New creates an idle session over playlist
func New(playlist *track.Playlist) *Session {
	return &Session{
		id:       uuid.NewString(),
		playlist: playlist,
		volumes:  MusicDominant,
		status:   StatusIdle,
		stopped:  make(chan struct{}),
	}
}

// ID returns the unique session identifier
func (s *Session) ID() string {
	return s.id
}

// Playlist returns the playlist the session plays
func (s *Session) Playlist() *track.Playlist {
	return s.playlist
}

// Start marks the session as playing from the first track. It returns false
// if the session was already started.
func (s *Session) Start(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusIdle {
		return false
	}
	s.playing = true
	s.status = StatusRunning
	s.startedAt = now
	return true
}

// StartedAt returns the show start time
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// IsPlaying reports whether the show is still running
func (s *Session) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Stopped is closed once the session stops playing, for any reason.
func (s *Session) Stopped() <-chan struct{} {
	return s.stopped
}

// CurrentTrack returns the track at the current index. ok is false when the
// session is not playing or the playlist is exhausted.
func (s *Session) CurrentTrack() (t track.Track, index int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.playing {
		return track.Track{}, s.trackIndex, false
	}
	t, ok = s.playlist.At(s.trackIndex)
	return t, s.trackIndex, ok
}

// TrackIndex returns the current track index
func (s *Session) TrackIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trackIndex
}

// Advance moves to the next track. Once the index reaches the end of the
// playlist the session stops; this is terminal.
func (s *Session) Advance() (next int, done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.trackIndex < s.playlist.Len() {
		s.trackIndex++
	}
	if s.trackIndex >= s.playlist.Len() {
		s.stopLocked(StatusStopped, nil)
		return s.trackIndex, true
	}
	return s.trackIndex, false
}

// Genre returns the last announced genre
func (s *Session) Genre() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.genre
}

// SwapGenre stores genre if it differs from the current one and reports
// whether it changed.
func (s *Session) SwapGenre(genre string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if track.SameGenre(s.genre, genre) {
		return false
	}
	s.genre = genre
	return true
}

// Volumes returns a snapshot of the crossfade gains
func (s *Session) Volumes() VolumeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volumes
}

// SetVolumes writes both gains at once, clamped to [FloorDB, CeilingDB].
func (s *Session) SetVolumes(v VolumeState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.volumes = VolumeState{
		MicDB:   audio.ClampDB(v.MicDB),
		MusicDB: audio.ClampDB(v.MusicDB),
	}
}

// Stop ends the show. Chunks already queued are still delivered.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(StatusStopped, nil)
}

// Fail ends the show with err. The first terminal state wins.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(StatusError, err)
}

func (s *Session) stopLocked(status Status, err error) {
	if s.status == StatusStopped || s.status == StatusError {
		return
	}
	s.playing = false
	s.status = status
	s.err = err
	s.stopOnce.Do(func() { close(s.stopped) })
}

// Snapshot is a consistent copy of the session state for reporting
type Snapshot struct {
	ID         string      `json:"id"`
	Status     Status      `json:"status"`
	Playing    bool        `json:"playing"`
	TrackIndex int         `json:"track_index"`
	Genre      string      `json:"genre,omitempty"`
	Volumes    VolumeState `json:"volumes"`
	StartedAt  time.Time   `json:"started_at"`
	Elapsed    string      `json:"elapsed"`
	Error      string      `json:"error,omitempty"`
}

// Snapshot returns the session state as of now
func (s *Session) Snapshot(now time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:         s.id,
		Status:     s.status,
		Playing:    s.playing,
		TrackIndex: s.trackIndex,
		Genre:      s.genre,
		Volumes:    s.volumes,
		StartedAt:  s.startedAt,
	}
	if !s.startedAt.IsZero() {
		snap.Elapsed = track.FormatDuration(now.Sub(s.startedAt))
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}

// Err returns the error that failed the session, if any
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
