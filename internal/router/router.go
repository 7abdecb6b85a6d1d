// Package router bridges chat gateways and interview sessions.
package router

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"sync"

	"github.com/nidhogg/agent-interview/internal/command"
	"github.com/nidhogg/agent-interview/internal/gateway"
	"github.com/nidhogg/agent-interview/internal/imagegen"
	"github.com/nidhogg/agent-interview/internal/interview"
	"github.com/nidhogg/agent-interview/internal/queue"
	"github.com/nidhogg/agent-interview/internal/session"
	"go.uber.org/zap"
)

// Sender delivers outbound messages. *gateway.Gateway implements it.
type Sender interface {
	Send(ctx context.Context, msg *gateway.OutboundMessage) error
}

// Sessions is the part of the session manager the router needs.
type Sessions interface {
	ByChannel(platform, channelID string) (*session.Session, bool)
	Answer(id, text string) (*queue.Turn, error)
}

// MessageRouter routes inbound chat messages to commands or to the
// interview running in the channel, and mirrors session events back.
type MessageRouter struct {
	sessions Sessions
	out      Sender
	commands *command.Registry
	logger   *zap.Logger

	ctx      context.Context
	mu       sync.Mutex
	watching map[string]bool
	wg       sync.WaitGroup
}

// New creates a MessageRouter. ctx bounds outbound sends.
func New(ctx context.Context, sessions Sessions, out Sender, commands *command.Registry, logger *zap.Logger) *MessageRouter {
	return &MessageRouter{
		sessions: sessions,
		out:      out,
		commands: commands,
		logger:   logger,
		ctx:      ctx,
		watching: make(map[string]bool),
	}
}

// Handle routes an inbound message.
// Signature matches gateway.MessageHandler.
func (mr *MessageRouter) Handle(msg *gateway.InboundMessage) {
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return
	}
	mr.logger.Debug("routing message",
		zap.String("platform", msg.Platform),
		zap.String("channel", msg.ChannelID),
		zap.String("user", msg.UserName),
	)

	if command.IsCommand(content) {
		mr.handleCommand(msg, content)
		return
	}

	sess, ok := mr.sessions.ByChannel(msg.Platform, msg.ChannelID)
	if !ok {
		mr.reply(msg, "No interview is running here. Start one with /create.")
		return
	}
	mr.follow(sess)
	if _, err := mr.sessions.Answer(sess.ID, content); err != nil {
		if errors.Is(err, interview.ErrSessionDone) {
			mr.reply(msg, "This interview is already finishing.")
			return
		}
		mr.logger.Warn("answer rejected", zap.String("session", sess.ID), zap.Error(err))
		mr.reply(msg, "Answer rejected: "+err.Error())
	}
}

func (mr *MessageRouter) handleCommand(msg *gateway.InboundMessage, content string) {
	cc := &command.CommandContext{
		Platform:  msg.Platform,
		ChannelID: msg.ChannelID,
		UserID:    msg.UserID,
		UserName:  msg.UserName,
	}
	result, err := mr.commands.Dispatch(mr.ctx, content, cc)
	if err != nil {
		mr.logger.Error("command dispatch error", zap.Error(err))
		mr.reply(msg, "Command error: "+err.Error())
		return
	}
	if result.Content != "" {
		mr.reply(msg, result.Content)
	}
	if result.Session != nil {
		mr.follow(result.Session)
	}
}

// follow mirrors a session's events to its channel. Calling it again for
// the same session is a no-op.
func (mr *MessageRouter) follow(sess *session.Session) {
	if sess.ChannelID == "" {
		return
	}
	mr.mu.Lock()
	if mr.watching[sess.ID] {
		mr.mu.Unlock()
		return
	}
	mr.watching[sess.ID] = true
	mr.mu.Unlock()

	past, live, cancel := sess.Subscribe()
	mr.wg.Add(1)
	go func() {
		defer mr.wg.Done()
		defer cancel()
		defer func() {
			mr.mu.Lock()
			delete(mr.watching, sess.ID)
			mr.mu.Unlock()
		}()
		for _, ev := range past {
			mr.forward(sess, ev.Event)
		}
		for {
			select {
			case ev, ok := <-live:
				if !ok {
					return
				}
				mr.forward(sess, ev.Event)
			case <-mr.ctx.Done():
				return
			}
		}
	}()
}

// Wait blocks until every forwarding goroutine has exited.
func (mr *MessageRouter) Wait() { mr.wg.Wait() }

func (mr *MessageRouter) forward(sess *session.Session, ev interview.Event) {
	out := &gateway.OutboundMessage{Platform: sess.Platform, ChannelID: sess.ChannelID}
	switch ev.Type {
	case interview.EventInput:
		out.Content = ev.Question
	case interview.EventOutput:
		out.Content = ev.Text
	case interview.EventError:
		out.Content = fmt.Sprintf("That did not go through (%v). Try answering again.", ev.Err)
	case interview.EventFinish:
		out.Content, out.Image = finishMessage(ev)
	default:
		return
	}
	if out.Content == "" {
		return
	}
	if err := mr.out.Send(mr.ctx, out); err != nil {
		mr.logger.Error("forward event failed",
			zap.String("session", sess.ID), zap.String("event", string(ev.Type)), zap.Error(err))
	}
}

func finishMessage(ev interview.Event) (string, *gateway.Attachment) {
	if ev.Err != nil {
		if errors.Is(ev.Err, interview.ErrSessionClosed) {
			return "Interview closed.", nil
		}
		return "Interview failed: " + ev.Err.Error(), nil
	}
	var b strings.Builder
	b.WriteString("Interview complete.\n")
	for _, line := range ev.Object.Summary() {
		if line.Value == "" {
			continue
		}
		fmt.Fprintf(&b, "**%s:** %s\n", line.Label, line.Value)
	}
	return strings.TrimRight(b.String(), "\n"), previewAttachment(ev.Object.PreviewURL)
}

func previewAttachment(u string) *gateway.Attachment {
	if !strings.HasPrefix(u, "data:") {
		return nil
	}
	ct, data, err := imagegen.DecodeDataURL(u)
	if err != nil {
		return nil
	}
	ext := ".png"
	if exts, _ := mime.ExtensionsByType(ct); len(exts) > 0 {
		ext = exts[0]
	}
	return &gateway.Attachment{Name: "preview" + ext, ContentType: ct, Data: data}
}

func (mr *MessageRouter) reply(orig *gateway.InboundMessage, text string) {
	err := mr.out.Send(mr.ctx, &gateway.OutboundMessage{
		Platform:  orig.Platform,
		ChannelID: orig.ChannelID,
		Content:   text,
		ReplyTo:   orig.ReplyTo,
	})
	if err != nil {
		mr.logger.Error("send reply failed", zap.Error(err))
	}
}
