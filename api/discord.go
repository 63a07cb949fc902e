package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"webradio/annotation"
	"webradio/config"
	"webradio/track"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
)

// Slash command names
const (
	CommandStart  = "show-start"
	CommandStop   = "show-stop"
	CommandVoice  = "voice"
	CommandMusic  = "music"
	CommandStatus = "status"
	CommandAdd    = "add-track"
)

// commandTimeout bounds a crossfade or a stop requested from Discord
const commandTimeout = time.Minute

// DiscordManager drives the show with Discord slash commands and posts every
// annotation to a channel.
type DiscordManager struct {
	config    config.DiscordConfig
	ctl       Controller
	client    bot.Client
	channelID snowflake.ID
	logger    *slog.Logger
}

var _ annotation.Notifier = (*DiscordManager)(nil)

// NewDiscordManager creates a new DiscordManager instance
func NewDiscordManager(cfg config.DiscordConfig) *DiscordManager {
	return &DiscordManager{
		config: cfg,
		logger: slog.With("component", "discord"),
	}
}

// Initialize sets up the Discord bot client and registers the commands
func (d *DiscordManager) Initialize(ctl Controller) error {
	d.logger.Info("Initializing Discord client")

	channelID, err := snowflake.Parse(d.config.ChannelID)
	if err != nil {
		return fmt.Errorf("invalid channel ID: %w", err)
	}
	d.channelID = channelID
	d.ctl = ctl

	client, err := disgo.New(d.config.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(gateway.IntentGuilds),
		),
		bot.WithEventListenerFunc(d.commandListener),
	)
	if err != nil {
		return fmt.Errorf("failed to create Discord client: %w", err)
	}

	if _, err = client.Rest().SetGlobalCommands(client.ApplicationID(), d.getCommands()); err != nil {
		return fmt.Errorf("failed to register Discord commands: %w", err)
	}
	d.client = client

	d.logger.Info("Discord client initialized successfully")
	return nil
}

// Start opens the Discord gateway connection
func (d *DiscordManager) Start(ctx context.Context) error {
	if err := d.client.OpenGateway(ctx); err != nil {
		return fmt.Errorf("failed to connect to Discord gateway: %w", err)
	}
	return nil
}

// Stop closes the Discord connection
func (d *DiscordManager) Stop() {
	if d.client != nil {
		d.client.Close(context.Background())
	}
}

// getCommands returns the Discord slash commands
func (d *DiscordManager) getCommands() []discord.ApplicationCommandCreate {
	return []discord.ApplicationCommandCreate{
		discord.SlashCommandCreate{Name: CommandStart, Description: "Put the show on air"},
		discord.SlashCommandCreate{Name: CommandStop, Description: "End the show after the queued audio"},
		discord.SlashCommandCreate{Name: CommandVoice, Description: "Crossfade to the live voice"},
		discord.SlashCommandCreate{Name: CommandMusic, Description: "Crossfade back to music"},
		discord.SlashCommandCreate{Name: CommandStatus, Description: "Show the station status"},
		discord.SlashCommandCreate{
			Name:        CommandAdd,
			Description: "Append a track to the playlist",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionString{
					Name:        "path",
					Description: "Path of the MP3 or WAV file on the station host",
					Required:    true,
				},
			},
		},
	}
}

// commandListener handles Discord slash commands. Crossfades outlast the
// interaction deadline, so the reply is deferred and edited afterwards.
func (d *DiscordManager) commandListener(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	name := data.CommandName()
	args := map[string]string{}
	if path, ok := data.OptString("path"); ok {
		args["path"] = path
	}

	d.logger.Info("Received command from Discord",
		slog.String("command", name),
		slog.String("user", event.User().Username))

	if err := event.DeferCreateMessage(true); err != nil {
		d.logger.Error("Failed to acknowledge Discord command", slog.Any("error", err))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		reply, err := d.execute(ctx, name, args)
		if err != nil {
			d.logger.Warn("Discord command failed", slog.String("command", name), slog.Any("error", err))
			reply = fmt.Sprintf("Command **failed**: %v", err)
		}

		_, err = event.Client().Rest().UpdateInteractionResponse(event.ApplicationID(), event.Token(),
			discord.NewMessageUpdateBuilder().SetContent(reply).Build())
		if err != nil {
			d.logger.Error("Failed to send Discord response", slog.Any("error", err))
		}
	}()
}

// execute runs one command against the station and returns the reply text
func (d *DiscordManager) execute(ctx context.Context, name string, args map[string]string) (string, error) {
	if d.ctl == nil {
		return "", errors.New("station not ready")
	}

	switch name {
	case CommandStart:
		snap, err := d.ctl.StartShow()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Show started (session `%s`).", snap.ID), nil
	case CommandStop:
		if err := d.ctl.StopShow(ctx); err != nil {
			return "", err
		}
		return "Show stopped.", nil
	case CommandVoice:
		if err := d.ctl.SwitchToVoice(ctx); err != nil {
			return "", err
		}
		return "Switched to voice mode with crossfade.", nil
	case CommandMusic:
		if err := d.ctl.SwitchToMusic(ctx); err != nil {
			return "", err
		}
		return "Switched back to music mode with crossfade.", nil
	case CommandAdd:
		t, err := d.ctl.AddTrack(args["path"])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Added **%s** (%s).", t.Name, track.FormatDuration(t.Duration)), nil
	case CommandStatus:
		st := d.ctl.Status()
		if st.Show == nil {
			return fmt.Sprintf("Off air. %d tracks queued (%s).", st.Tracks, st.TotalDuration), nil
		}
		return fmt.Sprintf("Show `%s` is **%s** at track %d/%d, %s mode, elapsed %s.",
			st.Show.ID, st.Show.Status, st.Show.TrackIndex+1, st.Tracks, st.Crossfade, st.Show.Elapsed), nil
	default:
		return "", fmt.Errorf("unknown command %q", name)
	}
}

// Notify implements annotation.Notifier by posting an embed to the channel
func (d *DiscordManager) Notify(ctx context.Context, e annotation.Event) error {
	if d.client == nil {
		return nil
	}

	_, err := d.client.Rest().CreateMessage(d.channelID, discord.NewMessageCreateBuilder().
		SetEmbeds(eventEmbed(e, time.Now())).
		Build(), rest.WithCtx(ctx))
	if err != nil {
		return fmt.Errorf("failed to send Discord message: %w", err)
	}

	d.logger.Debug("Sent annotation to Discord",
		slog.String("timestamp", e.Timestamp),
		slog.String("event", string(e.Kind)))
	return nil
}

var eventStyles = map[annotation.Kind]struct {
	title string
	color int
}{
	annotation.KindMusic:      {"🎵 Music", 0x1db954},
	annotation.KindSpeech:     {"🎙️ Speech", 0xe91e63},
	annotation.KindTransition: {"🔀 Transition", 0xf1c40f},
	annotation.KindMessage:    {"📱 Listener message", 0x3498db},
}

// eventEmbed renders an annotation; payload fields are sorted by name
func eventEmbed(e annotation.Event, now time.Time) discord.Embed {
	style, ok := eventStyles[e.Kind]
	if !ok {
		style.title, style.color = string(e.Kind), 0x95a5a6
	}

	b := discord.NewEmbedBuilder().
		SetTitle(style.title).
		SetDescription("At " + e.Timestamp).
		SetColor(style.color).
		SetTimestamp(now)

	keys := make([]string, 0, len(e.Payload))
	for k := range e.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.AddField(k, e.Payload[k], true)
	}
	return b.Build()
}
