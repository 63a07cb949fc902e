package track

import (
	"context"
	"log/slog"
	"sync"
)

// decoded holds a predecoded track, or the error decoding it produced
type decoded struct {
	done    chan struct{}
	samples []int16
	err     error
}

// Cache wraps a Decoder and decodes upcoming tracks in the background so the
// mixer does not stall between tracks. Each prefetched result is handed out
// once and then dropped, which keeps at most a couple of tracks in memory.
type Cache struct {
	decoder Decoder
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*decoded
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ Decoder = (*Cache)(nil)
var _ Prefetcher = (*Cache)(nil)

// NewCache creates a decode-ahead cache in front of decoder
func NewCache(decoder Decoder) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		decoder: decoder,
		logger:  slog.With("component", "track-cache"),
		entries: make(map[string]*decoded),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Prefetch starts decoding t unless it is already decoded or in flight
func (c *Cache) Prefetch(t Track) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[t.Path]; exists {
		return
	}
	entry := &decoded{done: make(chan struct{})}
	c.entries[t.Path] = entry

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(entry.done)

		entry.samples, entry.err = c.decoder.Decode(c.ctx, t)
		if entry.err != nil {
			c.logger.Warn("Prefetch failed", slog.String("track", t.Name), slog.Any("error", entry.err))
			return
		}
		c.logger.Debug("Prefetched track", slog.String("track", t.Name), slog.Int("samples", len(entry.samples)))
	}()
}

// Decode returns the prefetched samples for t, waiting for an in-flight
// decode if needed, or decodes t directly when it was never prefetched.
func (c *Cache) Decode(ctx context.Context, t Track) ([]int16, error) {
	c.mu.Lock()
	entry, exists := c.entries[t.Path]
	if exists {
		delete(c.entries, t.Path)
	}
	c.mu.Unlock()

	if !exists {
		return c.decoder.Decode(ctx, t)
	}

	select {
	case <-entry.done:
		return entry.samples, entry.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops in-flight decodes and drops everything cached
func (c *Cache) Close() {
	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	c.entries = make(map[string]*decoded)
	c.mu.Unlock()
}
