package annotation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00.000"},
		{1500 * time.Millisecond, "00:00:01.500"},
		{time.Hour + 2*time.Minute + 3*time.Second + 4*time.Millisecond, "01:02:03.004"},
		{-time.Second, "00:00:00.000"},
	}
	for _, tt := range tests {
		if got := FormatElapsed(tt.in); got != tt.want {
			t.Errorf("FormatElapsed(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewWritesEmptyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "annotations.json")
	if _, err := New(path, time.Now()); err != nil {
		t.Fatalf("New() error = %v", err)
	}

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if doc.StartTime == "" || len(doc.Annotations) != 0 {
		t.Errorf("doc = %+v, want start time and no annotations", doc)
	}
}

func TestLogEventPersistsEveryUpdate(t *testing.T) {
	start := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	path := filepath.Join(t.TempDir(), "annotations.json")

	r, err := New(path, start, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := r.LogEventAt(KindMusic, map[string]string{"genre": "Jazz"}, 0); err != nil {
		t.Fatalf("LogEventAt() error = %v", err)
	}
	clock.Advance(90*time.Second + 250*time.Millisecond)
	if _, err := r.LogEvent(KindTransition, nil); err != nil {
		t.Fatalf("LogEvent() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw struct {
		StartTime   string                       `json:"start_time"`
		Annotations map[string]map[string]string `json:"annotations"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("persisted file is not valid JSON: %v", err)
	}

	if got := raw.Annotations["00:00:00.000"]; got["event"] != "music" || got["genre"] != "Jazz" {
		t.Errorf("first event = %v", got)
	}
	if got := raw.Annotations["00:01:30.250"]; got["event"] != "transition" {
		t.Errorf("second event = %v", got)
	}
}

func TestTimestampsAreNonDecreasingAndUnique(t *testing.T) {
	start := time.Now()
	clock := &fakeClock{now: start}
	r, err := New(filepath.Join(t.TempDir(), "a.json"), start, WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}

	clock.Advance(5 * time.Second)
	r.LogEvent(KindTransition, nil)
	r.LogEvent(KindSpeech, nil)
	// An explicit offset in the past is moved forward.
	r.LogEventAt(KindMusic, map[string]string{"genre": "Rock"}, time.Second)

	events := r.Events()
	want := []string{"00:00:05.000", "00:00:05.001", "00:00:05.002"}
	for i, e := range events {
		if e.Timestamp != want[i] {
			t.Errorf("events[%d].Timestamp = %s, want %s", i, e.Timestamp, want[i])
		}
	}
}

func TestConcurrentEventsSerialize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.json")
	r, err := New(path, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.LogEvent(KindTransition, nil)
		}()
	}
	wg.Wait()

	events := r.Events()
	if len(events) != 20 {
		t.Fatalf("got %d events, want 20", len(events))
	}
	keys := make([]string, len(events))
	for i, e := range events {
		keys[i] = e.Timestamp
		if i > 0 && e.Elapsed <= events[i-1].Elapsed {
			t.Errorf("event %d not after event %d", i, i-1)
		}
	}
	if !sort.StringsAreSorted(keys) {
		t.Errorf("timestamps out of order: %v", keys)
	}

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(doc.Annotations) != 20 {
		t.Errorf("persisted %d events, want 20", len(doc.Annotations))
	}
}

func TestPersistFailureKeepsEventInMemory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.json")
	r, err := New(path, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	r.path = filepath.Join(dir, "missing", "a.json")
	if _, err := r.LogEvent(KindSpeech, nil); err == nil {
		t.Fatal("expected persistence error")
	}

	r.path = path
	if _, err := r.LogEvent(KindMusic, nil); err != nil {
		t.Fatalf("LogEvent() error = %v", err)
	}
	doc, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Annotations) != 2 {
		t.Errorf("persisted %d events, want 2", len(doc.Annotations))
	}
}

func TestWebhookReceivesEvents(t *testing.T) {
	var (
		mu  sync.Mutex
		got []webhookPayload
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var p webhookPayload
		if err := json.Unmarshal(body, &p); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	r, err := New(filepath.Join(t.TempDir(), "a.json"), time.Now(), WithNotifier(NewWebhook(srv.URL)))
	if err != nil {
		t.Fatal(err)
	}
	r.LogEventAt(KindMusic, map[string]string{"genre": "Ambient"}, 0)
	r.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Event != KindMusic || got[0].Payload["genre"] != "Ambient" {
		t.Errorf("webhook got %+v", got)
	}
}

func TestWebhookReportsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL).Notify(context.Background(), Event{Timestamp: "00:00:00.000", Kind: KindSpeech})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}

var errFake = errors.New("notifier down")

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (n *recordingNotifier) Notify(ctx context.Context, e Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return n.err
}

func TestNotifiersFanOut(t *testing.T) {
	ok := &recordingNotifier{}
	failing := &recordingNotifier{err: errFake}

	r, err := New(filepath.Join(t.TempDir(), "a.json"), time.Now(), WithNotifier(Notifiers{failing, ok}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := r.LogEvent(KindMessage, map[string]string{"from": "+33600000000", "text": "hello"}); err != nil {
		t.Fatalf("LogEvent() error = %v", err)
	}
	r.Close()

	// A failing notifier does not starve the others.
	for _, n := range []*recordingNotifier{ok, failing} {
		if len(n.events) != 1 || n.events[0].Payload["text"] != "hello" {
			t.Errorf("notifier events = %+v", n.events)
		}
	}
	if err := (Notifiers{failing, ok}).Notify(context.Background(), Event{}); err == nil {
		t.Error("Notifiers.Notify() error = nil, want joined error")
	}
}

func TestCloseStopsNotifications(t *testing.T) {
	n := &recordingNotifier{}
	path := filepath.Join(t.TempDir(), "a.json")
	r, err := New(path, time.Now(), WithNotifier(n))
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.LogEvent(KindMessage, map[string]string{"from": "+100", "text": "hi"})
		}()
	}
	r.Close()
	wg.Wait()

	n.mu.Lock()
	notified := len(n.events)
	n.mu.Unlock()

	if _, err := r.LogEvent(KindSpeech, nil); err != nil {
		t.Fatalf("LogEvent() after Close error = %v", err)
	}
	r.Close()

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.events) != notified {
		t.Errorf("notified %d events after Close, want none", len(n.events)-notified)
	}
	doc, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Annotations) != 21 {
		t.Errorf("persisted %d events, want 21", len(doc.Annotations))
	}
}
