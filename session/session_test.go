package session

import (
	"errors"
	"testing"
	"time"

	"webradio/track"
)

func newPlaylist(n int) *track.Playlist {
	p := track.NewPlaylist()
	for i := 0; i < n; i++ {
		p.Add(track.Track{Path: string(rune('a' + i))})
	}
	return p
}

func TestAdvanceTerminatesAtPlaylistEnd(t *testing.T) {
	s := New(newPlaylist(2))
	s.Start(time.Now())

	if _, idx, ok := s.CurrentTrack(); !ok || idx != 0 {
		t.Fatalf("CurrentTrack() index = %d, ok = %v", idx, ok)
	}
	if next, done := s.Advance(); next != 1 || done {
		t.Fatalf("Advance() = %d, %v; want 1, false", next, done)
	}
	if next, done := s.Advance(); next != 2 || !done {
		t.Fatalf("Advance() = %d, %v; want 2, true", next, done)
	}
	if s.IsPlaying() {
		t.Error("session still playing after last track")
	}
	select {
	case <-s.Stopped():
	default:
		t.Error("Stopped() not closed")
	}

	// Index never moves past the playlist length.
	s.Advance()
	if got := s.TrackIndex(); got != 2 {
		t.Errorf("TrackIndex() = %d, want 2", got)
	}
}

func TestStartOnlyOnce(t *testing.T) {
	s := New(newPlaylist(1))
	if !s.Start(time.Now()) {
		t.Fatal("first Start() returned false")
	}
	if s.Start(time.Now()) {
		t.Fatal("second Start() returned true")
	}
	s.Stop()
	if s.Start(time.Now()) {
		t.Fatal("Start() after Stop() returned true")
	}
}

func TestSetVolumesClamps(t *testing.T) {
	s := New(newPlaylist(0))
	s.SetVolumes(VolumeState{MicDB: 3, MusicDB: -200})

	got := s.Volumes()
	if got.MicDB != 0 || got.MusicDB != -90 {
		t.Errorf("Volumes() = %+v, want {0 -90}", got)
	}
}

func TestFailKeepsFirstTerminalState(t *testing.T) {
	s := New(newPlaylist(1))
	s.Start(time.Now())

	boom := errors.New("boom")
	s.Fail(boom)
	s.Stop()

	snap := s.Snapshot(time.Now())
	if snap.Status != StatusError || snap.Error != "boom" {
		t.Errorf("Snapshot() = %+v", snap)
	}
	if !errors.Is(s.Err(), boom) {
		t.Errorf("Err() = %v", s.Err())
	}
}

func TestSwapGenre(t *testing.T) {
	s := New(newPlaylist(0))

	if s.SwapGenre("") {
		t.Error("empty genre should not count as a change")
	}
	if !s.SwapGenre("Rock") {
		t.Error("first genre not reported as a change")
	}
	if s.SwapGenre(" Rock ") {
		t.Error("whitespace-only difference reported as a change")
	}
	if !s.SwapGenre("rock") || s.Genre() != "rock" {
		t.Errorf("case-only difference not reported as a change, Genre() = %q", s.Genre())
	}
	if !s.SwapGenre("Jazz") || s.Genre() != "Jazz" {
		t.Errorf("Genre() = %q, want Jazz", s.Genre())
	}
}
