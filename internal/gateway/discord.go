package gateway

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// discordMaxMessage is the Discord limit on message content length.
const discordMaxMessage = 2000

// DiscordAdapter implements GatewayAdapter for Discord using the bot gateway.
type DiscordAdapter struct {
	token       string
	session     *discordgo.Session
	handler     MessageHandler
	connected   bool
	connectedAt time.Time
	lastError   string
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewDiscordAdapter creates a Discord gateway adapter.
func NewDiscordAdapter(token string, logger *zap.Logger) *DiscordAdapter {
	return &DiscordAdapter{
		token:  token,
		logger: logger,
	}
}

func (a *DiscordAdapter) Platform() string { return "discord" }

func (a *DiscordAdapter) OnMessage(h MessageHandler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// Connect opens the Discord gateway websocket.
func (a *DiscordAdapter) Connect(_ context.Context) error {
	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		a.setError(fmt.Sprintf("session create: %v", err))
		return fmt.Errorf("discord session: %w", err)
	}
	a.session = session

	a.session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	a.session.AddHandler(a.onMessageCreate)

	if err := a.session.Open(); err != nil {
		a.setError(fmt.Sprintf("open failed: %v", err))
		return fmt.Errorf("discord open: %w", err)
	}

	a.mu.Lock()
	a.connected = true
	a.connectedAt = time.Now()
	a.lastError = ""
	a.mu.Unlock()

	guildCount := len(a.session.State.Guilds)
	if guildCount == 0 {
		a.logger.Warn("discord bot is not a member of any server")
	}
	a.logger.Info("discord adapter connected",
		zap.String("user", a.session.State.User.Username),
		zap.Int("guilds", guildCount))
	return nil
}

func (a *DiscordAdapter) setError(msg string) {
	a.mu.Lock()
	a.lastError = msg
	a.connected = false
	a.mu.Unlock()
}

func (a *DiscordAdapter) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}
	a.mu.RLock()
	h := a.handler
	a.mu.RUnlock()
	if h == nil {
		return
	}

	h(&InboundMessage{
		Platform:  "discord",
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		ReplyTo:   m.ID,
	})
}

// Send posts a message to a Discord channel. Long content is split across
// several messages; the first answers ReplyTo and the last carries the image.
func (a *DiscordAdapter) Send(ctx context.Context, msg *OutboundMessage) error {
	if a.session == nil {
		return fmt.Errorf("discord send: not connected")
	}
	for _, part := range discordMessages(msg) {
		if _, err := a.session.ChannelMessageSendComplex(msg.ChannelID, part, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

func discordMessages(msg *OutboundMessage) []*discordgo.MessageSend {
	chunks := splitMessage(msg.Content, discordMaxMessage)
	out := make([]*discordgo.MessageSend, len(chunks))
	for i, chunk := range chunks {
		out[i] = &discordgo.MessageSend{Content: chunk}
	}
	if msg.ReplyTo != "" {
		out[0].Reference = &discordgo.MessageReference{
			MessageID: msg.ReplyTo,
			ChannelID: msg.ChannelID,
		}
	}
	if msg.Image != nil {
		out[len(out)-1].Files = []*discordgo.File{{
			Name:        msg.Image.Name,
			ContentType: msg.Image.ContentType,
			Reader:      bytes.NewReader(msg.Image.Data),
		}}
	}
	return out
}

// Close shuts down the Discord session.
func (a *DiscordAdapter) Close() error {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	if a.session != nil {
		return a.session.Close()
	}
	return nil
}

func (a *DiscordAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{
		Platform:  "discord",
		Connected: a.connected,
		Error:     a.lastError,
	}
	if a.connected && a.session != nil && a.session.State != nil {
		t := a.connectedAt
		s.ConnectedAt = &t
		name := ""
		if a.session.State.User != nil {
			name = a.session.State.User.Username
		}
		s.Details = fmt.Sprintf("bot=%s, guilds=%d", name, len(a.session.State.Guilds))
	}
	return s
}

// splitMessage breaks content into pieces of at most limit runes,
// preferring line boundaries. Empty content yields a single empty chunk.
func splitMessage(content string, limit int) []string {
	runes := []rune(content)
	if len(runes) <= limit {
		return []string{content}
	}
	var out []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
