package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"webradio/api"
	"webradio/config"
	"webradio/logger"
	"webradio/metrics"
	"webradio/station"
	"webradio/textline"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "webradio",
	Short: "A live broadcast show mixer",
	Long: `Webradio mixes a playlist of tracks with a live voice source in real time,
streams the result to a named pipe for a monitor player and a broadcast encoder,
archives the show as a WAV file and records a timestamped annotation log.

The show is driven over an HTTP control API: start and stop the show, crossfade
between music and voice, and manage the playlist.`,
	RunE: runServer,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("live", "./stream_output.wav", "live stream path (named pipe or file)")
	rootCmd.PersistentFlags().String("archive", "./saved_show.wav", "archive WAV path")
	rootCmd.PersistentFlags().String("annotations", "./annotations.json", "annotation log path")
	rootCmd.PersistentFlags().Duration("crossfade", 5*time.Second, "crossfade duration")
	rootCmd.PersistentFlags().String("voice", config.VoiceTone, "voice source (tone, capture, silence)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().String("log-file", "", "also write logs to this rotated file")

	// Local flags for the server command
	rootCmd.Flags().String("addr", ":5000", "HTTP control API listen address")

	// Bind flags to viper
	viper.BindPFlag("live.path", rootCmd.PersistentFlags().Lookup("live"))
	viper.BindPFlag("archive.path", rootCmd.PersistentFlags().Lookup("archive"))
	viper.BindPFlag("annotations.path", rootCmd.PersistentFlags().Lookup("annotations"))
	viper.BindPFlag("crossfade.duration", rootCmd.PersistentFlags().Lookup("crossfade"))
	viper.BindPFlag("voice.source", rootCmd.PersistentFlags().Lookup("voice"))
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("logging.file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("http.addr", rootCmd.Flags().Lookup("addr"))
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if verbose {
		viper.Set("logging.level", "debug")
	}
}

// loadConfig loads, validates and applies the logging configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	l := cfg.Logging
	if err := logger.Setup(l.Level, l.Format, logger.WithFile(l.File, l.MaxSize, l.MaxBackups, l.MaxAge, l.Compress)); err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	return cfg, nil
}

// runServer starts the station and its HTTP control API
func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	met := metrics.New()
	opts := []station.Option{station.WithMetrics(met)}

	var bot *api.DiscordManager
	if cfg.Discord.Enabled {
		bot = api.NewDiscordManager(cfg.Discord)
		opts = append(opts, station.WithNotifier(bot))
	}

	st := station.New(cfg, opts...)
	if err := st.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize station: %w", err)
	}
	if err := st.Start(); err != nil {
		return fmt.Errorf("failed to start station: %w", err)
	}

	if bot != nil {
		if err := bot.Initialize(st); err != nil {
			return fmt.Errorf("failed to initialize Discord: %w", err)
		}
		if err := bot.Start(context.Background()); err != nil {
			return err
		}
		defer bot.Stop()
	}

	var modemClosed <-chan struct{}
	if cfg.Modem.Enabled {
		mm := textline.NewModemManager(cfg.Modem, st)
		if err := mm.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize modem: %w", err)
		}
		if err := mm.Start(context.Background()); err != nil {
			return err
		}
		defer mm.Stop()
		modemClosed = mm.Closed()
	}

	h := api.NewHandler(st, logger.WithComponent("api"), met)
	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: api.NewRouter(h)}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	slog.Info("Control API listening", slog.String("addr", cfg.HTTP.Addr))

	// Setup graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	// A failed show is reported but the station keeps serving.
	var runErr error
loop:
	for {
		select {
		case sig := <-signalChan:
			fmt.Printf("\nReceived %s, shutting down gracefully...\n", sig)
			break loop
		case err := <-st.Error():
			slog.Error("Show failed", slog.Any("error", err))
		case err := <-serverErr:
			runErr = fmt.Errorf("control API failed: %w", err)
			break loop
		case <-modemClosed:
			slog.Warn("Modem closed, listener messages disabled")
			modemClosed = nil
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Shutdown error", slog.Any("error", err))
	}

	// Graceful shutdown
	if err := st.Stop(); err != nil {
		return fmt.Errorf("failed to stop station gracefully: %w", err)
	}
	return runErr
}
