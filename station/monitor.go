package station

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// StatsMonitor periodically publishes the show state to the metrics gauges
// and the debug log.
type StatsMonitor struct {
	station     *Station
	interval    time.Duration
	logger      *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	wg          *sync.WaitGroup
	stopChannel chan struct{}
	stopOnce    sync.Once
}

// NewStatsMonitor creates a new StatsMonitor instance
func NewStatsMonitor(st *Station, interval time.Duration, wg *sync.WaitGroup) *StatsMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &StatsMonitor{
		station:     st,
		interval:    interval,
		logger:      slog.With("component", "stats-monitor"),
		ctx:         ctx,
		cancel:      cancel,
		wg:          wg,
		stopChannel: make(chan struct{}),
	}
}

// Start begins publishing stats
func (s *StatsMonitor) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.logger.Info("Starting stats monitoring", slog.Duration("interval", s.interval))

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				st := s.station.RefreshGauges()
				if st.Show != nil && st.Show.Playing {
					s.logger.Debug("Show stats",
						slog.Int("track_index", st.Show.TrackIndex),
						slog.Int("queue_depth", st.QueueDepth),
						slog.Float64("mic_db", st.Show.Volumes.MicDB),
						slog.Float64("music_db", st.Show.Volumes.MusicDB),
						slog.String("crossfade", st.Crossfade))
				}
			case <-s.ctx.Done():
				s.logger.Info("Stats monitoring stopped")
				return
			case <-s.stopChannel:
				s.logger.Info("Stats monitoring stopped via stop channel")
				return
			}
		}
	}()
}

// Stop stops stats monitoring
func (s *StatsMonitor) Stop() {
	s.cancel()
	s.stopOnce.Do(func() { close(s.stopChannel) })
}

// SetContext updates the context for cancellation
func (s *StatsMonitor) SetContext(ctx context.Context) {
	s.cancel() // Cancel the old context
	s.ctx, s.cancel = context.WithCancel(ctx)
}
