package cmd

import (
	"fmt"
	"log/slog"

	"webradio/config"
	"webradio/logger"

	"github.com/spf13/cobra"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  "Commands for managing and validating webradio configuration.",
}

// configValidateCmd validates the current configuration
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  "Validate the current configuration file and environment variables.",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Setup basic logging for validation
		if err := logger.Setup("info", "text"); err != nil {
			return fmt.Errorf("failed to setup logging: %w", err)
		}

		// Load configuration
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		// Validate configuration
		if err := cfg.Validate(); err != nil {
			slog.Error("Configuration validation failed", slog.Any("error", err))
			return err
		}

		slog.Info("Configuration is valid")
		fmt.Println("✅ Configuration is valid")
		return nil
	},
}

// configShowCmd shows the current configuration
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the current configuration values from file and environment variables.",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Setup basic logging
		if err := logger.Setup("info", "text"); err != nil {
			return fmt.Errorf("failed to setup logging: %w", err)
		}

		// Load configuration
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		fmt.Println("Current Configuration:")
		fmt.Printf("  Audio:\n")
		fmt.Printf("    Chunk: %s\n", cfg.Audio.ChunkDuration)
		fmt.Printf("    Queue capacity: %d\n", cfg.Audio.QueueCapacity)
		fmt.Printf("    Underrun timeout: %s (silence: %t)\n", cfg.Audio.UnderrunTimeout, cfg.Audio.UnderrunSilence)
		fmt.Printf("    Loudness target: %.1f to %.1f dBFS over %s\n", cfg.Audio.TargetMinDB, cfg.Audio.TargetMaxDB, cfg.Audio.NormalizeWindow)
		fmt.Printf("  Crossfade: %s\n", cfg.Crossfade.Duration)
		fmt.Printf("  Outputs:\n")
		fmt.Printf("    Live: %s\n", cfg.Live.Path)
		fmt.Printf("    Archive: %s\n", cfg.Archive.Path)
		fmt.Printf("    Annotations: %s\n", cfg.Annotations.Path)
		fmt.Printf("    Webhook URL: %s\n", maskURL(cfg.Annotations.WebhookURL))
		fmt.Printf("  Voice: %s\n", cfg.Voice.Source)
		if cfg.Voice.Source == config.VoiceAnnouncement {
			fmt.Printf("    Announcement: %q (%s, every %s)\n", cfg.Voice.Announcement, cfg.Voice.Language, cfg.Voice.Gap)
		}
		fmt.Printf("  Monitor: %s (enabled: %t)\n", cfg.Monitor.Command, cfg.Monitor.Enabled)
		fmt.Printf("  Encoder: %s (enabled: %t)\n", cfg.Encoder.Command, cfg.Encoder.Enabled)
		fmt.Printf("  HTTP: %s\n", cfg.HTTP.Addr)
		fmt.Printf("  Storage:\n")
		fmt.Printf("    Enabled: %t\n", cfg.Storage.Enabled)
		fmt.Printf("    Endpoint: %s\n", cfg.Storage.Endpoint)
		fmt.Printf("    Bucket: %s\n", cfg.Storage.Bucket)
		fmt.Printf("    Access key: %s\n", maskToken(cfg.Storage.AccessKey))
		fmt.Printf("    Secret key: %s\n", maskToken(cfg.Storage.SecretKey))
		fmt.Printf("  Discord:\n")
		fmt.Printf("    Enabled: %t\n", cfg.Discord.Enabled)
		fmt.Printf("    Token: %s\n", maskToken(cfg.Discord.Token))
		fmt.Printf("    Channel: %s\n", cfg.Discord.ChannelID)
		fmt.Printf("  Modem:\n")
		fmt.Printf("    Enabled: %t\n", cfg.Modem.Enabled)
		fmt.Printf("    Device: %s\n", cfg.Modem.Device)
		fmt.Printf("    Baud: %d\n", cfg.Modem.Baud)
		fmt.Printf("    Timeout: %s\n", cfg.Modem.Timeout)
		fmt.Printf("  Logging:\n")
		fmt.Printf("    Level: %s\n", cfg.Logging.Level)
		fmt.Printf("    Format: %s\n", cfg.Logging.Format)
		fmt.Printf("    File: %s\n", cfg.Logging.File)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}

// maskToken masks a credential for display
func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "***"
}

// maskURL masks a webhook URL for display
func maskURL(url string) string {
	if url == "" {
		return ""
	}
	if len(url) <= 20 {
		return "***"
	}
	return url[:20] + "***"
}
