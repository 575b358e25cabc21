// Package telegram connects the chat pipeline to the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"bunny-chatter/internal/chat"
	"bunny-chatter/internal/logging"
)

const pollTimeout = 60

// Handler receives inbound events. Submit must not block on processing.
type Handler interface {
	Submit(ctx context.Context, ev chat.Event)
}

type Bot struct {
	api     botAPI
	handler Handler
	log     *logging.Logger
}

var _ chat.Transport = (*Bot)(nil)

// New authorizes against the Bot API with token.
func New(token string, log *logging.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: authorize: %w", err)
	}
	log = log.Sub("telegram")
	log.Info().Str("username", api.Self.UserName).Msg("authorized")
	return &Bot{api: api, log: log}, nil
}

// SetHandler wires the consumer of inbound events. The pipeline needs the
// bot as its transport, so the two are connected after construction.
func (b *Bot) SetHandler(h Handler) {
	b.handler = h
}

// Run long-polls for updates and submits every usable message until ctx is
// cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if b.handler == nil {
		return fmt.Errorf("telegram: no handler set")
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := b.api.GetUpdatesChan(u)

	b.log.Info().Msg("polling for updates")
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.log.Info().Msg("stopped polling")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if ev, ok := toEvent(update.Message); ok {
				b.handler.Submit(ctx, ev)
			}
		}
	}
}

// toEvent converts a text message into a pipeline event. Updates without a
// sender or text (channel posts, stickers, edits) are skipped.
func toEvent(msg *tgbotapi.Message) (chat.Event, bool) {
	if msg == nil || msg.From == nil || msg.Chat == nil || msg.Text == "" {
		return chat.Event{}, false
	}
	ev := chat.Event{
		UserKey:     strconv.FormatInt(msg.From.ID, 10),
		ChatID:      msg.Chat.ID,
		DisplayName: msg.From.FirstName,
		Text:        msg.Text,
		IsBot:       msg.From.IsBot,
	}
	if msg.IsCommand() {
		ev.Command = msg.Command()
		ev.Text = msg.CommandArguments()
	}
	return ev, true
}

func (b *Bot) SendText(ctx context.Context, chatID int64, text string) error {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

// SendTyping shows the "typing…" status. Request is used because the API
// answers chat actions with a bare boolean, not a Message.
func (b *Bot) SendTyping(ctx context.Context, chatID int64) error {
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		return fmt.Errorf("telegram: send typing: %w", err)
	}
	return nil
}
