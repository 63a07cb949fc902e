package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"webradio/station"

	"github.com/spf13/cobra"
)

// playCmd runs a single show without the control API
var playCmd = &cobra.Command{
	Use:   "play <track>...",
	Short: "Play a show from the given tracks",
	Long: `Play a show made of the given tracks in order, without the control API.
The show ends after the last track or on SIGINT/SIGTERM, after the queued
audio has been delivered.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)
}

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st := station.New(cfg)
	if err := st.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize station: %w", err)
	}
	if err := st.Start(); err != nil {
		return fmt.Errorf("failed to start station: %w", err)
	}
	defer st.Stop()

	for _, path := range args {
		if _, err := st.AddTrack(path); err != nil {
			if errors.Is(err, station.ErrTrackExists) {
				slog.Warn("Skipping duplicate track", slog.String("path", path))
				continue
			}
			return fmt.Errorf("failed to add track: %w", err)
		}
	}

	snap, err := st.StartShow()
	if err != nil {
		return fmt.Errorf("failed to start show: %w", err)
	}
	slog.Info("Show on air",
		slog.String("session", snap.ID),
		slog.Int("tracks", st.Playlist().Len()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- st.Wait(context.Background()) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		fmt.Println("\nStopping show, draining queued audio...")
	}

	if err := st.StopShow(context.Background()); err != nil && !errors.Is(err, station.ErrNoShow) {
		return err
	}
	return <-done
}
