package track

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

// Track is one playlist item. It is immutable once created.
type Track struct {
	Path     string        `json:"path"`
	Name     string        `json:"name"`
	Duration time.Duration `json:"-"`
	Genre    string        `json:"genre,omitempty"`
}

// New builds a Track from a file path and its probed metadata
func New(path string, meta Metadata) Track {
	return Track{
		Path:     path,
		Name:     filepath.Base(path),
		Duration: meta.Duration,
		Genre:    meta.Genre,
	}
}

// Playlist is an ordered, append-only list of tracks. It is safe for
// concurrent use; readers get copies.
type Playlist struct {
	mu     sync.RWMutex
	tracks []Track
	total  time.Duration
}

// NewPlaylist creates an empty playlist
func NewPlaylist() *Playlist {
	return &Playlist{}
}

// Add appends t unless a track with the same path is already present.
// It reports whether the track was added.
func (p *Playlist) Add(t Track) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, existing := range p.tracks {
		if existing.Path == t.Path {
			return false
		}
	}
	p.tracks = append(p.tracks, t)
	p.total += t.Duration
	return true
}

// Len returns the number of tracks
func (p *Playlist) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.tracks)
}

// At returns the track at index i.
func (p *Playlist) At(i int) (Track, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if i < 0 || i >= len(p.tracks) {
		return Track{}, false
	}
	return p.tracks[i], true
}

// Tracks returns a copy of the playlist contents
func (p *Playlist) Tracks() []Track {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Track, len(p.tracks))
	copy(out, p.tracks)
	return out
}

// TotalDuration returns the sum of all track durations
func (p *Playlist) TotalDuration() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.total
}

// FormatDuration renders d as HH:MM:SS, truncating fractions of a second.
func FormatDuration(d time.Duration) string {
	s := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}
