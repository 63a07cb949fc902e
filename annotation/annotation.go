package annotation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Kind is the type of a show event
type Kind string

const (
	KindMusic      Kind = "music"
	KindTransition Kind = "transition"
	KindSpeech     Kind = "speech"
	KindMessage    Kind = "message"
)

// Event is one logged show event. It is never mutated after it is recorded.
type Event struct {
	Timestamp string
	Elapsed   time.Duration
	Kind      Kind
	Payload   map[string]string
}

// MarshalJSON flattens the payload next to the event kind:
// {"event": "music", "genre": "Jazz"}
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(e.Payload)+1)
	for k, v := range e.Payload {
		out[k] = v
	}
	out["event"] = string(e.Kind)
	return json.Marshal(out)
}

// Document is the persisted annotation log
type Document struct {
	StartTime   string           `json:"start_time"`
	Annotations map[string]Event `json:"annotations"`
}

// Notifier is told about every event after it has been persisted
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Notifiers fans an event out to several notifiers
type Notifiers []Notifier

// Notify calls every notifier and joins their errors
func (ns Notifiers) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range ns {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FormatElapsed renders d as HH:MM:SS.mmm. Keys in this format sort
// chronologically for any show shorter than 100 hours.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	return fmt.Sprintf("%02d:%02d:%02d.%03d", ms/3600000, ms/60000%60, ms/1000%60, ms%1000)
}

// Recorder keeps the ordered event log of one show and rewrites the
// persisted document after every event.
type Recorder struct {
	path     string
	start    time.Time
	now      func() time.Time
	notifier Notifier
	logger   *slog.Logger

	mu     sync.Mutex
	events []Event
	last   time.Duration
	closed bool

	wg sync.WaitGroup
}

// Option configures a Recorder
type Option func(*Recorder)

// WithNotifier forwards every persisted event to n
func WithNotifier(n Notifier) Option {
	return func(r *Recorder) {
		r.notifier = n
	}
}

// WithClock overrides the wall clock used to stamp events
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// New creates the annotation document at path for a show started at start.
func New(path string, start time.Time, opts ...Option) (*Recorder, error) {
	r := &Recorder{
		path:   path,
		start:  start,
		now:    time.Now,
		logger: slog.With("component", "annotations"),
		last:   -time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.persistLocked(); err != nil {
		return nil, err
	}
	r.logger.Info("Annotations file created", slog.String("path", path))
	return r, nil
}

// LogEvent records kind at the current show time.
func (r *Recorder) LogEvent(kind Kind, payload map[string]string) (Event, error) {
	return r.record(kind, payload, nil)
}

// LogEventAt records kind at an explicit offset from the show start.
func (r *Recorder) LogEventAt(kind Kind, payload map[string]string, elapsed time.Duration) (Event, error) {
	return r.record(kind, payload, &elapsed)
}

// Events returns the recorded events in order
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Path returns where the document is written
func (r *Recorder) Path() string {
	return r.path
}

// Close waits for pending notifications. Events recorded afterwards are
// still persisted but no longer notified.
func (r *Recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Recorder) record(kind Kind, payload map[string]string, at *time.Duration) (Event, error) {
	r.mu.Lock()

	var elapsed time.Duration
	if at != nil {
		elapsed = *at
	} else {
		elapsed = r.now().Sub(r.start)
	}
	elapsed = elapsed.Truncate(time.Millisecond)
	// Keys must stay unique and ordered.
	if elapsed <= r.last {
		elapsed = r.last + time.Millisecond
	}
	r.last = elapsed

	copied := make(map[string]string, len(payload))
	for k, v := range payload {
		copied[k] = v
	}
	e := Event{
		Timestamp: FormatElapsed(elapsed),
		Elapsed:   elapsed,
		Kind:      kind,
		Payload:   copied,
	}
	r.events = append(r.events, e)

	err := r.persistLocked()
	notify := err == nil && r.notifier != nil && !r.closed
	if notify {
		r.wg.Add(1)
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("Failed to persist annotation",
			slog.String("timestamp", e.Timestamp),
			slog.String("event", string(kind)),
			slog.Any("error", err))
		return e, err
	}
	r.logger.Info("Annotation logged",
		slog.String("timestamp", e.Timestamp),
		slog.String("event", string(kind)),
		slog.Any("payload", copied))

	if notify {
		go func() {
			defer r.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			defer cancel()
			if err := r.notifier.Notify(ctx, e); err != nil {
				r.logger.Warn("Annotation notification failed",
					slog.String("timestamp", e.Timestamp),
					slog.Any("error", err))
			}
		}()
	}
	return e, nil
}

const notifyTimeout = 10 * time.Second

func (r *Recorder) persistLocked() error {
	doc := Document{
		StartTime:   r.start.Format("2006-01-02 15:04:05.000000"),
		Annotations: make(map[string]Event, len(r.events)),
	}
	for _, e := range r.events {
		doc.Annotations[e.Timestamp] = e
	}

	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal annotations: %w", err)
	}
	return writeFileAtomic(r.path, data)
}

// writeFileAtomic replaces path with data so readers only ever see a
// complete document.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}

// Load reads a persisted document
func Load(path string) (Document, error) {
	var raw struct {
		StartTime   string                       `json:"start_time"`
		Annotations map[string]map[string]string `json:"annotations"`
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Document{}, fmt.Errorf("parse %s: %w", path, err)
	}

	doc := Document{StartTime: raw.StartTime, Annotations: make(map[string]Event, len(raw.Annotations))}
	for ts, fields := range raw.Annotations {
		e := Event{Timestamp: ts, Kind: Kind(fields["event"]), Payload: map[string]string{}}
		for k, v := range fields {
			if k != "event" {
				e.Payload[k] = v
			}
		}
		doc.Annotations[ts] = e
	}
	return doc, nil
}
