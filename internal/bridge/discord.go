package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// DiscordConfig configures a Discord ChatBridge.
type DiscordConfig struct {
	Token     string
	ChannelID string
	Logger    *slog.Logger
}

// Discord is a ChatBridge backed by a single Discord channel. Grounded on
// the teacher's internal/channels/discord adapter (session lifecycle via
// AddHandler/Open/Close), trimmed from its multi-channel registry,
// slash-command, and reconnect-backoff surface to the single inbound/
// outbound text stream ChatBridge needs.
type Discord struct {
	session   *discordgo.Session
	channelID string
	log       *slog.Logger
	inbound   chan string
}

// NewDiscord opens a Discord session and starts listening for messages in
// cfg.ChannelID.
func NewDiscord(cfg DiscordConfig) (*Discord, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("bridge: create discord session: %w", err)
	}

	d := &Discord{session: session, channelID: cfg.ChannelID, log: log, inbound: make(chan string, 64)}
	session.AddHandler(d.handleMessageCreate)
	session.Identify.Intents = discordgo.IntentsGuildMessages

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("bridge: open discord session: %w", err)
	}
	return d, nil
}

func (d *Discord) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author != nil && m.Author.Bot {
		return
	}
	if m.ChannelID != d.channelID {
		return
	}
	select {
	case d.inbound <- m.Content:
	default:
		d.log.Warn("bridge: dropping discord message, inbound buffer full")
	}
}

// Send posts text to the configured channel.
func (d *Discord) Send(ctx context.Context, text string) error {
	_, err := d.session.ChannelMessageSend(d.channelID, text)
	if err != nil {
		return fmt.Errorf("bridge: send discord message: %w", err)
	}
	return nil
}

// Inbound returns the stream of received message content.
func (d *Discord) Inbound() <-chan string {
	return d.inbound
}

// Close closes the Discord session.
func (d *Discord) Close() error {
	close(d.inbound)
	return d.session.Close()
}
