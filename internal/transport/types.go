// Package transport defines the chat surface alerts are delivered through
// and commands arrive on.
package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	UpdateAction  UpdateKind = "action"
)

// Update is one inbound event. Exactly one of Message and Action is set,
// matching Kind.
type Update struct {
	Kind    UpdateKind
	Message *Message
	Action  *Action
}

// Message is a text message sent to the bot.
type Message struct {
	ID           int
	Chat         ChatTarget
	FromID       int64
	FromUsername string
	Text         string
}

// ChatTarget addresses a chat and, for forum groups, a topic in it.
type ChatTarget struct {
	ChatID   int64
	ThreadID int // 0 outside forum topics
}

// MessageRef identifies a message the bot sent.
type MessageRef struct {
	Chat      ChatTarget
	MessageID int
}

// Action is an inline keyboard press on a message the bot sent.
type Action struct {
	CallbackID string
	Message    MessageRef
	FromID     int64
	Data       string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Silent         bool // no notification sound
	Markup         any  // adapter specific; *telebot.ReplyMarkup for Telegram
}

// Adapter is a chat transport. Start forwards inbound updates to out
// until Stop or ctx cancellation.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	// ClearKeyboard removes the inline keyboard from a sent message.
	ClearKeyboard(ctx context.Context, ref MessageRef) error
	// AnswerCallback acknowledges an Action; text may be empty.
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand is one entry of the client's command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters whose clients show a
// command menu (Telegram's "/" list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
