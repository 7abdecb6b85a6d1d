package gateway

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
)

// leadingMention matches a "<@U123>" prefix addressing the bot.
var leadingMention = regexp.MustCompile(`^\s*<@[A-Z0-9]+>\s*`)

// SlackAdapter implements GatewayAdapter over Slack Socket Mode. Plain
// messages and native slash commands both reach the handler; a slash
// command arrives as "/name args" text.
type SlackAdapter struct {
	client *slack.Client
	socket *socketmode.Client
	logger *zap.Logger

	mu          sync.RWMutex
	handler     MessageHandler
	threads     map[string]string // channelID -> thread_ts of the running conversation
	cancel      context.CancelFunc
	connected   bool
	connectedAt time.Time
	lastError   string
}

// NewSlackAdapter creates a Slack gateway adapter from a bot token (xoxb-)
// and an app-level token (xapp-) with connections:write.
func NewSlackAdapter(botToken, appToken string, logger *zap.Logger) *SlackAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	return &SlackAdapter{
		client:  client,
		socket:  socketmode.New(client, socketmode.OptionLog(zap.NewStdLog(logger))),
		threads: make(map[string]string),
		logger:  logger,
	}
}

func (a *SlackAdapter) Platform() string { return "slack" }

func (a *SlackAdapter) OnMessage(h MessageHandler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// Connect runs the socket and its event pump until ctx ends or Close is called.
func (a *SlackAdapter) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	go a.pump(ctx)
	go func() {
		err := a.socket.RunContext(ctx)
		a.mu.Lock()
		a.connected = false
		if err != nil && ctx.Err() == nil {
			a.lastError = err.Error()
		}
		a.mu.Unlock()
		if err != nil && ctx.Err() == nil {
			a.logger.Error("slack socket mode stopped", zap.Error(err))
		}
	}()
	a.logger.Info("slack adapter started in socket mode")
	return nil
}

func (a *SlackAdapter) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				return
			}
			a.processEvent(evt)
		}
	}
}

func (a *SlackAdapter) setState(connected bool, lastErr string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if connected && !a.connected {
		a.connectedAt = time.Now()
	}
	a.connected = connected
	a.lastError = lastErr
}

func (a *SlackAdapter) processEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		a.setState(true, "")
	case socketmode.EventTypeConnectionError:
		a.setState(false, "connection error")
	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			return
		}
		a.socket.Ack(*evt.Request)
		a.dispatch(&InboundMessage{
			Platform:  "slack",
			ChannelID: cmd.ChannelID,
			UserID:    cmd.UserID,
			UserName:  cmd.UserName,
			Content:   strings.TrimSpace(cmd.Command + " " + cmd.Text),
			Timestamp: time.Now(),
		})
	case socketmode.EventTypeEventsAPI:
		outer, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		a.socket.Ack(*evt.Request)
		if outer.Type != slackevents.CallbackEvent {
			return
		}
		if ev, ok := outer.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			// bot messages would loop back through the router
			if ev.BotID != "" || ev.SubType != "" {
				return
			}
			a.onMessage(ev)
		}
	}
}

func (a *SlackAdapter) onMessage(ev *slackevents.MessageEvent) {
	thread := ev.ThreadTimeStamp
	if thread == "" {
		thread = ev.TimeStamp
	}
	a.mu.Lock()
	a.threads[ev.Channel] = thread
	a.mu.Unlock()

	a.dispatch(&InboundMessage{
		Platform:  "slack",
		ChannelID: ev.Channel,
		UserID:    ev.User,
		UserName:  ev.User,
		Content:   leadingMention.ReplaceAllString(ev.Text, ""),
		Timestamp: time.Now(),
		ReplyTo:   thread,
	})
}

func (a *SlackAdapter) dispatch(msg *InboundMessage) {
	a.mu.RLock()
	h := a.handler
	a.mu.RUnlock()
	if h != nil {
		h(msg)
	}
}

// Send posts to a channel, threading under the conversation last seen
// there. Images are named in the text; the bot token has no file scopes.
func (a *SlackAdapter) Send(ctx context.Context, msg *OutboundMessage) error {
	text := msg.Content
	if msg.Image != nil {
		text = fmt.Sprintf("%s\n_(image %s rendered, view it in the web console)_", text, msg.Image.Name)
	}
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}

	thread := msg.ReplyTo
	if thread == "" {
		a.mu.RLock()
		thread = a.threads[msg.ChannelID]
		a.mu.RUnlock()
	}
	if thread != "" {
		opts = append(opts, slack.MsgOptionTS(thread))
	}

	if _, _, err := a.client.PostMessageContext(ctx, msg.ChannelID, opts...); err != nil {
		return fmt.Errorf("slack send to %s: %w", msg.ChannelID, err)
	}
	return nil
}

func (a *SlackAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{
		Platform:  "slack",
		Connected: a.connected,
		Error:     a.lastError,
		Details:   fmt.Sprintf("threads=%d", len(a.threads)),
	}
	if a.connected {
		t := a.connectedAt
		s.ConnectedAt = &t
	}
	return s
}

// Close stops the socket started by Connect.
func (a *SlackAdapter) Close() error {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.connected = false
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}
