package pipeline

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"webradio/annotation"
	"webradio/audio"
	"webradio/session"
	"webradio/track"
)

// fakeDecoder serves generated PCM keyed by track path
type fakeDecoder struct {
	samples map[string][]int16
	fail    map[string]error
}

func (d *fakeDecoder) Decode(ctx context.Context, t track.Track) ([]int16, error) {
	if err := d.fail[t.Path]; err != nil {
		return nil, err
	}
	return d.samples[t.Path], nil
}

type recordingAnnotator struct {
	mu     sync.Mutex
	genres []string
}

func (a *recordingAnnotator) LogEvent(kind annotation.Kind, payload map[string]string) (annotation.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.genres = append(a.genres, payload["genre"])
	return annotation.Event{Kind: kind, Payload: payload}, nil
}

// ramp returns n samples with a recognizable, slowly rising level
func ramp(n int, base int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = base + int16(i%1000)
	}
	return out
}

func passThrough(t *testing.T) audio.Normalizer {
	t.Helper()
	// A range wide enough that the test signals are never touched.
	n, err := audio.NewNormalizer(audio.DefaultNormalizeWindow, -90, 0)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func startSession(tracks ...track.Track) *session.Session {
	p := track.NewPlaylist()
	for _, t := range tracks {
		p.Add(t)
	}
	s := session.New(p)
	s.Start(time.Now())
	return s
}

func drain(q *Queue) []Chunk {
	var out []Chunk
	for {
		c, err := q.Pop(10 * time.Millisecond)
		if err != nil {
			return out
		}
		out = append(out, c)
	}
}

func TestMixerSingleShortTrackEmitsOnePartialChunk(t *testing.T) {
	tr := track.Track{Path: "short.wav", Name: "short"}
	s := startSession(tr)
	q := NewQueue(DefaultCapacity, s)
	dec := &fakeDecoder{samples: map[string][]int16{"short.wav": ramp(audio.FramesFor(10*time.Millisecond), 100)}}

	m := NewMixer(s, q, dec, nil, MixerConfig{ChunkDuration: 20 * time.Millisecond, Normalizer: passThrough(t)})
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	chunks := drain(q)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Duration != 10*time.Millisecond {
		t.Errorf("chunk duration = %s, want 10ms", chunks[0].Duration)
	}
	if want := 441 * audio.Channels * audio.SampleWidth; len(chunks[0].Data) != want {
		t.Errorf("chunk size = %d, want %d", len(chunks[0].Data), want)
	}
	if s.IsPlaying() {
		t.Error("session still playing")
	}
	if got := s.TrackIndex(); got != 1 {
		t.Errorf("TrackIndex() = %d, want 1", got)
	}
}

func TestMixerDefaultsUnusableConfig(t *testing.T) {
	tr := track.Track{Path: "steady.wav", Name: "steady"}
	s := startSession(tr)
	q := NewQueue(DefaultCapacity, s)
	// About -12 dBFS: inside the default range, so it must pass untouched.
	steady := make([]int16, 2*audio.FramesFor(DefaultChunkDuration))
	for i := range steady {
		steady[i] = 8000
	}
	dec := &fakeDecoder{samples: map[string][]int16{"steady.wav": steady}}

	m := NewMixer(s, q, dec, nil, MixerConfig{ChunkDuration: 10 * time.Microsecond})
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	chunks := drain(q)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	for i, c := range chunks {
		if c.Duration != DefaultChunkDuration {
			t.Errorf("chunk %d duration = %s, want %s", i, c.Duration, DefaultChunkDuration)
		}
		for j, v := range audio.Decode(c.Data) {
			if v != 8000 {
				t.Fatalf("chunk %d sample %d = %d, want 8000", i, j, v)
			}
		}
	}
}

func TestMixerFailStopsOnDecodeError(t *testing.T) {
	good := track.Track{Path: "a.wav", Name: "a"}
	bad := track.Track{Path: "b.wav", Name: "b"}
	s := startSession(good, bad, track.Track{Path: "c.wav", Name: "c"})
	q := NewQueue(DefaultCapacity, s)
	dec := &fakeDecoder{
		samples: map[string][]int16{"a.wav": ramp(882, 0), "c.wav": ramp(882, 0)},
		fail:    map[string]error{"b.wav": errors.New("corrupt frame")},
	}

	err := NewMixer(s, q, dec, nil, MixerConfig{Normalizer: passThrough(t)}).Run(context.Background())

	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageDecode || se.Track != "b" {
		t.Fatalf("Run() error = %v, want decode StageError for b", err)
	}
	snap := s.Snapshot(time.Now())
	if snap.Status != session.StatusError || snap.TrackIndex != 1 {
		t.Errorf("Snapshot() = %+v, want error at index 1", snap)
	}
	if got := len(drain(q)); got != 1 {
		t.Errorf("queued %d chunks, want 1 from the first track", got)
	}
}

func TestMixerAnnotatesOnlyGenreChanges(t *testing.T) {
	tracks := []track.Track{
		{Path: "1", Name: "one", Genre: "Rock"},
		{Path: "2", Name: "two", Genre: " Rock "},
		{Path: "3", Name: "three", Genre: "rock"},
		{Path: "4", Name: "four", Genre: "Jazz"},
	}
	s := startSession(tracks...)
	q := NewQueue(DefaultCapacity, s)
	dec := &fakeDecoder{samples: map[string][]int16{"1": ramp(100, 0), "2": ramp(100, 0), "3": ramp(100, 0), "4": ramp(100, 0)}}
	ann := &recordingAnnotator{}

	m := NewMixer(s, q, dec, nil, MixerConfig{Normalizer: passThrough(t)}, WithAnnotator(ann))
	if err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(ann.genres) != 3 || ann.genres[0] != "Rock" || ann.genres[1] != "rock" || ann.genres[2] != "Jazz" {
		t.Errorf("annotated genres = %v, want [Rock rock Jazz]", ann.genres)
	}
}

func TestMixerAppliesGains(t *testing.T) {
	tr := track.Track{Path: "x", Name: "x"}
	s := startSession(tr)
	s.SetVolumes(session.VoiceDominant)
	q := NewQueue(DefaultCapacity, s)
	dec := &fakeDecoder{samples: map[string][]int16{"x": ramp(441, 10000)}}

	if err := NewMixer(s, q, dec, nil, MixerConfig{Normalizer: passThrough(t)}).Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Music at -90 dB rounds to silence and the voice source is silent.
	for _, c := range drain(q) {
		for i, v := range audio.Decode(c.Data) {
			if v != 0 {
				t.Fatalf("sample %d = %d, want 0", i, v)
			}
		}
	}
}

func TestMixerStopsWhenSessionStops(t *testing.T) {
	tr := track.Track{Path: "long", Name: "long"}
	s := startSession(tr)
	q := NewQueue(DefaultCapacity, s)
	dec := &fakeDecoder{samples: map[string][]int16{"long": ramp(audio.FramesFor(time.Minute), 0)}}

	done := make(chan error, 1)
	go func() {
		done <- NewMixer(s, q, dec, nil, MixerConfig{Normalizer: passThrough(t)}).Run(context.Background())
	}()

	time.Sleep(100 * time.Millisecond)
	s.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v, want nil on stop", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("mixer did not stop")
	}
	if s.Snapshot(time.Now()).Status != session.StatusStopped {
		t.Error("session not reported as stopped")
	}
}

func TestPipelineDeliversInOrderToBothSinks(t *testing.T) {
	tracks := []track.Track{{Path: "a", Name: "a"}, {Path: "b", Name: "b"}}
	s := startSession(tracks...)
	q := NewQueue(2, s)
	a, b := ramp(2000, 1000), ramp(1500, 5000)
	dec := &fakeDecoder{samples: map[string][]int16{"a": a, "b": b}}

	var live, archive bytes.Buffer
	mixer := NewMixer(s, q, dec, nil, MixerConfig{Normalizer: passThrough(t)})
	dist := NewDistributor(s, q, &live, &archive, DistributorConfig{PopTimeout: 100 * time.Millisecond})

	var wg sync.WaitGroup
	var mixErr, distErr error
	wg.Add(2)
	go func() { defer wg.Done(); mixErr = mixer.Run(context.Background()) }()
	go func() { defer wg.Done(); distErr = dist.Run(context.Background()) }()
	wg.Wait()

	if mixErr != nil || distErr != nil {
		t.Fatalf("mixer error = %v, distributor error = %v", mixErr, distErr)
	}
	if !bytes.Equal(live.Bytes(), archive.Bytes()) {
		t.Fatal("live and archive streams differ")
	}

	want := audio.Encode(audio.Expand(append(append([]int16{}, a...), b...), audio.Channels))
	if !bytes.Equal(live.Bytes(), want) {
		t.Fatalf("delivered %d bytes, not the produced stream of %d bytes", live.Len(), len(want))
	}
	// 2000 and 1500 samples at 882 per chunk: 3 + 2 chunks.
	if dist.Delivered() != 5 {
		t.Errorf("Delivered() = %d, want 5", dist.Delivered())
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestDistributorSinkFailureFailsSession(t *testing.T) {
	s := startSession(track.Track{Path: "a"})
	q := NewQueue(DefaultCapacity, s)
	q.Push(context.Background(), Chunk{Data: []byte{1, 2, 3, 4}})

	var live bytes.Buffer
	err := NewDistributor(s, q, &live, failingWriter{}, DistributorConfig{}).Run(context.Background())

	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageSink {
		t.Fatalf("Run() error = %v, want sink StageError", err)
	}
	if s.Snapshot(time.Now()).Status != session.StatusError {
		t.Error("session not failed")
	}
}

type flushCounter struct {
	bytes.Buffer
	flushes int
}

func (f *flushCounter) Flush() error {
	f.flushes++
	return nil
}

func TestDistributorUnderrunSilenceGoesToLiveOnly(t *testing.T) {
	s := startSession(track.Track{Path: "a"})
	q := NewQueue(DefaultCapacity, s)

	live := &flushCounter{}
	var archive bytes.Buffer
	d := NewDistributor(s, q, live, &archive, DistributorConfig{
		PopTimeout:      20 * time.Millisecond,
		UnderrunSilence: true,
		ChunkDuration:   20 * time.Millisecond,
	})

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()
	time.Sleep(110 * time.Millisecond)
	s.Stop()
	q.Close()

	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if d.Underruns() == 0 {
		t.Fatal("no underruns recorded")
	}
	if want := int(d.Underruns()) * 882 * audio.Channels * audio.SampleWidth; live.Len() != want {
		t.Errorf("live got %d bytes, want %d of silence", live.Len(), want)
	}
	if live.flushes != int(d.Underruns()) {
		t.Errorf("flushes = %d, want one per silence chunk", live.flushes)
	}
	if archive.Len() != 0 {
		t.Errorf("archive got %d bytes of filler", archive.Len())
	}
}
