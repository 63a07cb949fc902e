package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"webradio/audio"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Mixer and pipeline tuning
	Audio AudioConfig `mapstructure:"audio"`

	// Crossfade configuration
	Crossfade CrossfadeConfig `mapstructure:"crossfade"`

	// Live sink configuration
	Live LiveConfig `mapstructure:"live"`

	// Archive sink configuration
	Archive ArchiveConfig `mapstructure:"archive"`

	// Annotation log configuration
	Annotations AnnotationsConfig `mapstructure:"annotations"`

	// Live voice input configuration
	Voice VoiceConfig `mapstructure:"voice"`

	// External monitor player (ffplay)
	Monitor ProcessConfig `mapstructure:"monitor"`

	// External broadcast encoder (liquidsoap)
	Encoder ProcessConfig `mapstructure:"encoder"`

	// HTTP control surface
	HTTP HTTPConfig `mapstructure:"http"`

	// Object storage for finished shows
	Storage StorageConfig `mapstructure:"storage"`

	// Discord control bot
	Discord DiscordConfig `mapstructure:"discord"`

	// GSM modem receiving listener text messages
	Modem ModemConfig `mapstructure:"modem"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// AudioConfig holds mixer settings
type AudioConfig struct {
	ChunkDuration   time.Duration `mapstructure:"chunk_duration"`
	QueueCapacity   int           `mapstructure:"queue_capacity"`
	UnderrunTimeout time.Duration `mapstructure:"underrun_timeout"`
	UnderrunSilence bool          `mapstructure:"underrun_silence"`
	NormalizeWindow time.Duration `mapstructure:"normalize_window"`
	TargetMinDB     float64       `mapstructure:"target_min_db"`
	TargetMaxDB     float64       `mapstructure:"target_max_db"`
}

// CrossfadeConfig holds crossfade settings
type CrossfadeConfig struct {
	Duration time.Duration `mapstructure:"duration"`
}

// LiveConfig holds the live sink location
type LiveConfig struct {
	Path string `mapstructure:"path"`
}

// ArchiveConfig holds the archive location
type ArchiveConfig struct {
	Path string `mapstructure:"path"`
}

// AnnotationsConfig holds annotation log settings
type AnnotationsConfig struct {
	Path       string `mapstructure:"path"`
	WebhookURL string `mapstructure:"webhook_url"`
}

// VoiceConfig selects the live voice source
type VoiceConfig struct {
	Source        string        `mapstructure:"source"` // tone, capture, announcement or silence
	ToneFrequency float64       `mapstructure:"tone_frequency"`
	CaptureExec   string        `mapstructure:"capture_exec"`
	CaptureArgs   []string      `mapstructure:"capture_args"`
	Announcement  string        `mapstructure:"announcement"`
	Language      string        `mapstructure:"language"`
	CacheDir      string        `mapstructure:"cache_dir"`
	Gap           time.Duration `mapstructure:"gap"`
}

// ProcessConfig describes a supervised external process
type ProcessConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// HTTPConfig holds the control API settings
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// StorageConfig holds object storage settings
type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Prefix    string `mapstructure:"prefix"`
}

// DiscordConfig holds Discord-specific configuration
type DiscordConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Token     string `mapstructure:"token"`
	ChannelID string `mapstructure:"channel_id"`
}

// ModemConfig holds modem-specific configuration
type ModemConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Device  string        `mapstructure:"device"`
	Baud    int           `mapstructure:"baud"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or text
	File       string `mapstructure:"file"`   // optional rotating log file
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// Voice sources
const (
	VoiceTone         = "tone"
	VoiceCapture      = "capture"
	VoiceAnnouncement = "announcement"
	VoiceSilence      = "silence"
)

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("audio.chunk_duration", "20ms")
	v.SetDefault("audio.queue_capacity", 10)
	v.SetDefault("audio.underrun_timeout", "1s")
	v.SetDefault("audio.underrun_silence", false)
	v.SetDefault("audio.normalize_window", "100ms")
	v.SetDefault("audio.target_min_db", -20.0)
	v.SetDefault("audio.target_max_db", 0.0)
	v.SetDefault("crossfade.duration", "5s")
	v.SetDefault("live.path", "./stream_output.wav")
	v.SetDefault("archive.path", "./saved_show.wav")
	v.SetDefault("annotations.path", "./annotations.json")
	v.SetDefault("voice.source", VoiceTone)
	v.SetDefault("voice.tone_frequency", 440.0)
	v.SetDefault("voice.capture_exec", "ffmpeg")
	v.SetDefault("voice.language", "en")
	v.SetDefault("voice.cache_dir", "./assets/audio")
	v.SetDefault("voice.gap", "2s")
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.command", "ffplay")
	v.SetDefault("monitor.args", []string{"-autoexit", "-nodisp", "-f", "s16le", "-ar", "44100", "-ac", "2", "-i", "{live}"})
	v.SetDefault("encoder.enabled", true)
	v.SetDefault("encoder.command", "liquidsoap")
	v.SetDefault("encoder.args", []string{"./stream.liq"})
	v.SetDefault("http.addr", ":5000")
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.prefix", "shows")
	v.SetDefault("discord.enabled", false)
	v.SetDefault("modem.enabled", false)
	v.SetDefault("modem.device", "/dev/serial0")
	v.SetDefault("modem.baud", 115200)
	v.SetDefault("modem.timeout", "20s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	return Load(viper.GetViper())
}

// Load reads configuration through v
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	// Read config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.webradio")
	v.AddConfigPath("/etc/webradio")

	// Allow environment variables
	v.SetEnvPrefix("WEBRADIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		slog.Debug("No config file found, using defaults and environment variables")
	} else {
		slog.Info("Using config file", slog.String("file", v.ConfigFileUsed()))
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if audio.FramesFor(c.Audio.ChunkDuration) < 1 {
		return &ConfigError{Field: "audio.chunk_duration", Message: "must hold at least one sample frame"}
	}
	if c.Audio.QueueCapacity < 1 {
		return &ConfigError{Field: "audio.queue_capacity", Message: "must be at least 1"}
	}
	if c.Audio.UnderrunTimeout <= 0 {
		return &ConfigError{Field: "audio.underrun_timeout", Message: "must be positive"}
	}
	if c.Audio.NormalizeWindow <= 0 {
		return &ConfigError{Field: "audio.normalize_window", Message: "must be positive"}
	}
	if c.Audio.TargetMaxDB > 0 {
		return &ConfigError{Field: "audio.target_max_db", Message: "must not exceed 0 dBFS"}
	}
	if c.Audio.TargetMinDB >= c.Audio.TargetMaxDB {
		return &ConfigError{Field: "audio.target_min_db", Message: "must be below audio.target_max_db"}
	}
	if c.Crossfade.Duration < 0 {
		return &ConfigError{Field: "crossfade.duration", Message: "must not be negative"}
	}
	if c.Live.Path == "" {
		return &ConfigError{Field: "live.path", Message: "live sink path is required"}
	}
	if c.Archive.Path == "" {
		return &ConfigError{Field: "archive.path", Message: "archive path is required"}
	}
	if c.Annotations.Path == "" {
		return &ConfigError{Field: "annotations.path", Message: "annotations path is required"}
	}

	switch c.Voice.Source {
	case VoiceTone:
		if c.Voice.ToneFrequency <= 0 || c.Voice.ToneFrequency >= 22050 {
			return &ConfigError{Field: "voice.tone_frequency", Message: "must be between 0 and 22050 Hz"}
		}
	case VoiceAnnouncement:
		if c.Voice.Announcement == "" {
			return &ConfigError{Field: "voice.announcement", Message: "announcement text is required"}
		}
		if c.Voice.Gap < 0 {
			return &ConfigError{Field: "voice.gap", Message: "must not be negative"}
		}
	case VoiceCapture, VoiceSilence:
	default:
		return &ConfigError{Field: "voice.source", Message: fmt.Sprintf("unknown source %q", c.Voice.Source)}
	}

	if c.Monitor.Enabled && c.Monitor.Command == "" {
		return &ConfigError{Field: "monitor.command", Message: "command is required when enabled"}
	}
	if c.Encoder.Enabled && c.Encoder.Command == "" {
		return &ConfigError{Field: "encoder.command", Message: "command is required when enabled"}
	}
	if c.Storage.Enabled {
		if c.Storage.Endpoint == "" {
			return &ConfigError{Field: "storage.endpoint", Message: "endpoint is required when storage is enabled"}
		}
		if c.Storage.Bucket == "" {
			return &ConfigError{Field: "storage.bucket", Message: "bucket is required when storage is enabled"}
		}
	}
	if c.Discord.Enabled {
		if c.Discord.Token == "" {
			return &ConfigError{Field: "discord.token", Message: "Discord token is required"}
		}
		if c.Discord.ChannelID == "" {
			return &ConfigError{Field: "discord.channel_id", Message: "Discord channel ID is required"}
		}
	}
	if c.Modem.Enabled {
		if c.Modem.Device == "" {
			return &ConfigError{Field: "modem.device", Message: "modem device is required"}
		}
		if c.Modem.Baud <= 0 {
			return &ConfigError{Field: "modem.baud", Message: "must be positive"}
		}
	}
	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
