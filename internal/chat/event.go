package chat

import "context"

const (
	CmdStart = "start"
	CmdHelp  = "help"
	CmdJoke  = "joke"
	CmdMood  = "mood"
	CmdReact = "react"
	CmdReset = "reset"
)

// Event is one inbound message as delivered by a transport. Command is set
// (without the leading slash) for command messages and empty for chat text.
type Event struct {
	UserKey     string
	ChatID      int64
	DisplayName string
	Text        string
	IsBot       bool
	Command     string
}

// Transport delivers outbound messages.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendTyping(ctx context.Context, chatID int64) error
}
