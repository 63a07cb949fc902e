package station

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"webradio/annotation"
	"webradio/audio"
	"webradio/config"
	"webradio/crossfade"
	"webradio/logger"
	"webradio/metrics"
	"webradio/pipeline"
	"webradio/session"
	"webradio/sink"
	"webradio/storage"
	"webradio/track"
	"webradio/voice"
)

var (
	// ErrShowRunning is returned when starting a show while one is active
	ErrShowRunning = errors.New("show is already running")
	// ErrNoShow is returned by show controls when no show is running
	ErrNoShow = errors.New("no show is running")
	// ErrTrackExists is returned when adding a track already in the playlist
	ErrTrackExists = errors.New("track already in playlist")
	// ErrInvalidFolder is returned when a folder cannot be listed
	ErrInvalidFolder = errors.New("invalid folder path")
	// ErrEmptyPlaylist is returned when starting a show with no tracks
	ErrEmptyPlaylist = errors.New("playlist is empty")
)

const statsInterval = time.Second

// Station represents the main application state: the playlist, the show
// currently on air and the processes consuming it.
type Station struct {
	config     *config.Config
	playlist   *track.Playlist
	probe      track.Probe
	newDecoder func() track.Decoder
	newVoice   func(ctx context.Context) (voice.Source, error)
	store      storage.ObjectStore
	notifiers  annotation.Notifiers
	metrics    *metrics.Metrics
	monitor    *StatsMonitor
	logger     *slog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	errorChan  chan error

	mu   sync.Mutex
	show *show
}

// Option configures a Station
type Option func(*Station)

// WithDecoder replaces the file decoder used for each show
func WithDecoder(newDecoder func() track.Decoder) Option {
	return func(s *Station) {
		s.newDecoder = newDecoder
	}
}

// WithVoice replaces the configured voice source
func WithVoice(newVoice func(ctx context.Context) (voice.Source, error)) Option {
	return func(s *Station) {
		s.newVoice = newVoice
	}
}

// WithProbe replaces the metadata providers used by AddTrack
func WithProbe(p track.Probe) Option {
	return func(s *Station) {
		s.probe = p
	}
}

// WithObjectStore uploads finished shows to store
func WithObjectStore(store storage.ObjectStore) Option {
	return func(s *Station) {
		s.store = store
	}
}

// WithNotifier forwards every annotation of every show to n
func WithNotifier(n annotation.Notifier) Option {
	return func(s *Station) {
		s.notifiers = append(s.notifiers, n)
	}
}

// WithMetrics records show metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Station) {
		s.metrics = m
	}
}

// New creates a new Station instance
func New(cfg *config.Config, opts ...Option) *Station {
	ctx, cancel := context.WithCancel(context.Background())

	fileDecoder := track.NewFileDecoder()
	s := &Station{
		config:    cfg,
		playlist:  track.NewPlaylist(),
		probe:     track.DefaultProbe(fileDecoder),
		logger:    logger.WithComponent("station"),
		ctx:       ctx,
		cancel:    cancel,
		errorChan: make(chan error, 10),
	}
	s.newDecoder = func() track.Decoder { return track.NewCache(fileDecoder) }
	s.newVoice = s.configuredVoice
	for _, opt := range opts {
		opt(s)
	}
	s.monitor = NewStatsMonitor(s, statsInterval, &s.wg)
	return s
}

// Initialize sets up the station components
func (s *Station) Initialize() error {
	s.logger.Info("Initializing station...")

	if s.config.Storage.Enabled && s.store == nil {
		store, err := storage.NewMinioStore(s.ctx, s.config.Storage)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		s.store = store
	}

	s.logger.Info("Station initialized successfully")
	return nil
}

// Start begins background operations
func (s *Station) Start() error {
	s.logger.Info("Starting station...")
	s.monitor.SetContext(s.ctx)
	s.monitor.Start()
	return nil
}

// Stop ends the running show, if any, and shuts the station down
func (s *Station) Stop() error {
	s.logger.Info("Stopping station...")

	s.mu.Lock()
	sh := s.show
	s.mu.Unlock()
	if sh != nil {
		sh.session.Stop()
		<-sh.done
	}

	s.monitor.Stop()
	s.cancel()
	s.wg.Wait()

	s.logger.Info("Station stopped")
	return nil
}

// Error returns the channel on which failed shows are reported
func (s *Station) Error() <-chan error {
	return s.errorChan
}

// Playlist returns the station playlist
func (s *Station) Playlist() *track.Playlist {
	return s.playlist
}

// AddTrack probes path once and appends it to the playlist
func (s *Station) AddTrack(path string) (track.Track, error) {
	path = filepath.Clean(path)
	if !s.probe.Supports(path) {
		return track.Track{}, fmt.Errorf("%s: %w", path, track.ErrUnsupportedFormat)
	}
	meta, err := s.probe.Probe(path)
	if err != nil {
		return track.Track{}, err
	}

	t := track.New(path, meta)
	if !s.playlist.Add(t) {
		return t, fmt.Errorf("%s: %w", path, ErrTrackExists)
	}
	s.logger.Info("Track added",
		slog.String("track", t.Name),
		slog.String("genre", t.Genre),
		slog.Duration("duration", t.Duration))
	return t, nil
}

// LoadFolder lists the playable files of dir
func (s *Station) LoadFolder(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", dir, ErrInvalidFolder)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && s.probe.Supports(e.Name()) {
			files = append(files, e.Name())
		}
	}
	return files, nil
}

// StartShow puts a new show on air
func (s *Station) StartShow() (session.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.show != nil && !s.show.finished() {
		return session.Snapshot{}, ErrShowRunning
	}
	if s.playlist.Len() == 0 {
		return session.Snapshot{}, ErrEmptyPlaylist
	}

	sh, err := s.newShow()
	if err != nil {
		return session.Snapshot{}, err
	}
	s.show = sh
	s.metrics.IncShows()
	s.metrics.SetShowRunning(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runShow(sh)
	}()

	return sh.session.Snapshot(time.Now()), nil
}

func (s *Station) newShow() (*show, error) {
	cfg := s.config

	normalizer, err := audio.NewNormalizer(cfg.Audio.NormalizeWindow, cfg.Audio.TargetMinDB, cfg.Audio.TargetMaxDB)
	if err != nil {
		return nil, err
	}
	if _, err := sink.EnsurePipe(cfg.Live.Path); err != nil {
		return nil, err
	}

	sess := session.New(s.playlist)
	ctx, cancel := context.WithCancel(s.ctx)
	sh := &show{
		session: sess,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  s.logger.With("session", sess.ID()),
		metrics: s.metrics,
	}

	start := time.Now()
	notifiers := append(annotation.Notifiers(nil), s.notifiers...)
	if cfg.Annotations.WebhookURL != "" {
		notifiers = append(notifiers, annotation.NewWebhook(cfg.Annotations.WebhookURL))
	}
	var recOpts []annotation.Option
	if len(notifiers) > 0 {
		recOpts = append(recOpts, annotation.WithNotifier(notifiers))
	}
	sh.recorder, err = annotation.New(cfg.Annotations.Path, start, recOpts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create annotations: %w", err)
	}
	sh.archive, err = sink.CreateWAV(cfg.Archive.Path)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}
	sh.voice, err = s.newVoice(ctx)
	if err != nil {
		sh.archive.Close()
		cancel()
		return nil, fmt.Errorf("failed to open voice source: %w", err)
	}

	sess.Start(start)
	sh.logger.Info("Show started, mixing audio")

	if first, ok := s.playlist.At(0); ok {
		sess.SwapGenre(first.Genre)
		sh.annotateAt(annotation.KindMusic, map[string]string{"genre": first.Genre}, 0)
	}

	sh.decoder = s.newDecoder()
	sh.queue = pipeline.NewQueue(cfg.Audio.QueueCapacity, sess)
	sh.crossfade = crossfade.New(sess, cfg.Crossfade.Duration)
	sh.mixer = pipeline.NewMixer(sess, sh.queue, sh.decoder, sh.voice,
		pipeline.MixerConfig{ChunkDuration: cfg.Audio.ChunkDuration, Normalizer: normalizer},
		pipeline.WithAnnotator(sh.recorder),
		pipeline.WithMixerMetrics(s.metrics))

	for _, p := range []struct {
		name string
		cfg  config.ProcessConfig
	}{
		{"encoder", cfg.Encoder},
		{"monitor", cfg.Monitor},
	} {
		if !p.cfg.Enabled {
			continue
		}
		proc := NewProcess(p.name, p.cfg, cfg.Live.Path)
		if err := proc.Start(ctx); err != nil {
			// A missing monitor or encoder does not stop the show.
			sh.logger.Error("Error starting process", slog.String("name", p.name), slog.Any("error", err))
			continue
		}
		sh.processes = append(sh.processes, proc)
	}
	return sh, nil
}

// runShow drives one show from the live sink opening to the upload
func (s *Station) runShow(sh *show) {
	defer close(sh.done)
	defer s.metrics.SetShowRunning(false)

	// Fades and the pipe open are released as soon as the show ends.
	go func() {
		select {
		case <-sh.session.Stopped():
		case <-sh.ctx.Done():
			sh.session.Stop()
		}
		sh.cancel()
	}()

	cfg := s.config
	live, err := sink.OpenStream(sh.ctx, cfg.Live.Path)
	if err != nil {
		if sh.session.IsPlaying() {
			sh.session.Fail(&pipeline.StageError{Stage: pipeline.StageSink, Err: err})
		}
	} else {
		dist := pipeline.NewDistributor(sh.session, sh.queue, live, sh.archive, pipeline.DistributorConfig{
			PopTimeout:      cfg.Audio.UnderrunTimeout,
			UnderrunSilence: cfg.Audio.UnderrunSilence,
			ChunkDuration:   cfg.Audio.ChunkDuration,
		}, pipeline.WithDistributorMetrics(s.metrics))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			sh.mixer.Run(context.Background())
		}()
		go func() {
			defer wg.Done()
			dist.Run(context.Background())
		}()
		wg.Wait()

		if err := live.Close(); err != nil {
			sh.logger.Warn("Failed to close live sink", slog.Any("error", err))
		}
	}

	sh.cancel()
	sh.fades.Wait()
	sh.close()

	if err := sh.session.Err(); err != nil {
		sh.logger.Error("Show failed", slog.Any("error", err))
		select {
		case s.errorChan <- err:
		default:
		}
	} else {
		sh.logger.Info("Show ended", slog.Int("track_index", sh.session.TrackIndex()))
	}

	if s.store != nil {
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
		defer cancel()
		err := storage.UploadShow(ctx, s.store, cfg.Storage.Prefix, sh.session.ID(),
			storage.Artifact{Path: cfg.Archive.Path, ContentType: "audio/wav"},
			storage.Artifact{Path: cfg.Annotations.Path, ContentType: "application/json"},
		)
		if err != nil {
			sh.logger.Error("Failed to upload show", slog.Any("error", err))
		}
	}
}

// StopShow stops the running show and waits for the queued audio to drain
func (s *Station) StopShow(ctx context.Context) error {
	sh, err := s.activeShow()
	if err != nil {
		return err
	}

	sh.logger.Info("Stopping show")
	sh.session.Stop()

	select {
	case <-sh.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SwitchToVoice crossfades from music to the live voice. It returns once the
// fade has completed.
func (s *Station) SwitchToVoice(ctx context.Context) error {
	return s.switchMode(ctx, crossfade.ToVoice)
}

// SwitchToMusic crossfades from the live voice back to music
func (s *Station) SwitchToMusic(ctx context.Context) error {
	return s.switchMode(ctx, crossfade.ToMusic)
}

func (s *Station) switchMode(ctx context.Context, dir crossfade.Direction) error {
	sh, err := s.activeShow()
	if err != nil {
		return err
	}

	fade, err := sh.crossfade.Begin(dir)
	if err != nil {
		return err
	}
	sh.annotate(annotation.KindTransition, nil)

	done := make(chan error, 1)
	sh.fades.Add(1)
	go func() {
		defer sh.fades.Done()
		err := fade.Run(sh.ctx)
		if dir == crossfade.ToVoice {
			sh.annotate(annotation.KindSpeech, nil)
		} else {
			sh.annotate(annotation.KindMusic, map[string]string{"genre": sh.currentGenre()})
		}
		sh.logger.Info("Switched mode", slog.String("mode", dir.String()))
		done <- err
	}()

	select {
	case err := <-done:
		if errors.Is(err, context.Canceled) {
			// The show ended mid-fade; the gains were set to the target.
			return nil
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AnnotateListenerMessage records a text message sent in by a listener
func (s *Station) AnnotateListenerMessage(from, text string) error {
	sh, err := s.activeShow()
	if err != nil {
		return err
	}
	if _, err := sh.recorder.LogEvent(annotation.KindMessage, map[string]string{"from": from, "text": text}); err != nil {
		return err
	}
	sh.metrics.IncAnnotations(string(annotation.KindMessage))
	return nil
}

// Wait blocks until the current show ends and returns its failure, if any
func (s *Station) Wait(ctx context.Context) error {
	s.mu.Lock()
	sh := s.show
	s.mu.Unlock()
	if sh == nil {
		return ErrNoShow
	}

	select {
	case <-sh.done:
		return sh.session.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Station) activeShow() (*show, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.show == nil || !s.show.session.IsPlaying() {
		return nil, ErrNoShow
	}
	return s.show, nil
}

// Status is a point-in-time view of the station
type Status struct {
	Show          *session.Snapshot `json:"show,omitempty"`
	Crossfade     string            `json:"crossfade,omitempty"`
	QueueDepth    int               `json:"queue_depth"`
	QueueCapacity int               `json:"queue_capacity"`
	Tracks        int               `json:"tracks"`
	TotalDuration string            `json:"total_duration"`
}

// Status reports the playlist and the state of the latest show
func (s *Station) Status() Status {
	st := Status{
		Tracks:        s.playlist.Len(),
		TotalDuration: track.FormatDuration(s.playlist.TotalDuration()),
	}

	s.mu.Lock()
	sh := s.show
	s.mu.Unlock()
	if sh == nil {
		return st
	}

	snap := sh.session.Snapshot(time.Now())
	st.Show = &snap
	st.Crossfade = string(sh.crossfade.State())
	st.QueueDepth = sh.queue.Len()
	st.QueueCapacity = sh.queue.Cap()
	return st
}

// RefreshGauges publishes the current status to the metrics gauges
func (s *Station) RefreshGauges() Status {
	st := s.Status()
	if st.Show != nil {
		s.metrics.SetQueueDepth(st.QueueDepth)
		s.metrics.SetGains(st.Show.Volumes.MicDB, st.Show.Volumes.MusicDB)
		s.metrics.SetTrackIndex(st.Show.TrackIndex)
	}
	return st
}

// show bundles everything one broadcast run owns
type show struct {
	session   *session.Session
	recorder  *annotation.Recorder
	crossfade *crossfade.Controller
	queue     *pipeline.Queue
	mixer     *pipeline.Mixer
	decoder   track.Decoder
	voice     voice.Source
	archive   *sink.WAV
	processes []*Process
	metrics   *metrics.Metrics
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	fades  sync.WaitGroup
	done   chan struct{}
}

func (sh *show) finished() bool {
	select {
	case <-sh.done:
		return true
	default:
		return false
	}
}

func (sh *show) annotate(kind annotation.Kind, payload map[string]string) {
	if _, err := sh.recorder.LogEvent(kind, payload); err == nil {
		sh.metrics.IncAnnotations(string(kind))
	}
}

func (sh *show) annotateAt(kind annotation.Kind, payload map[string]string, at time.Duration) {
	if _, err := sh.recorder.LogEventAt(kind, payload, at); err == nil {
		sh.metrics.IncAnnotations(string(kind))
	}
}

// currentGenre is the genre of the track on air, falling back to the last
// announced one once the playlist is exhausted.
func (sh *show) currentGenre() string {
	if t, _, ok := sh.session.CurrentTrack(); ok {
		return t.Genre
	}
	return sh.session.Genre()
}

func (sh *show) close() {
	if err := sh.archive.Close(); err != nil {
		sh.logger.Warn("Failed to close archive", slog.Any("error", err))
	}
	sh.recorder.Close()
	if c, ok := sh.decoder.(interface{ Close() }); ok {
		c.Close()
	}
	if c, ok := sh.voice.(io.Closer); ok {
		if err := c.Close(); err != nil {
			sh.logger.Warn("Failed to close voice source", slog.Any("error", err))
		}
	}
	for _, p := range sh.processes {
		p.Stop()
	}
}

func (s *Station) configuredVoice(ctx context.Context) (voice.Source, error) {
	v := s.config.Voice
	switch v.Source {
	case config.VoiceCapture:
		return voice.NewCapture(ctx, v.CaptureExec, v.CaptureArgs)
	case config.VoiceAnnouncement:
		return voice.NewAnnouncement(ctx, v.Announcement, v.Language, v.CacheDir, v.Gap, track.NewFileDecoder())
	case config.VoiceSilence:
		return voice.Silence{}, nil
	default:
		return voice.NewTone(v.ToneFrequency)
	}
}
