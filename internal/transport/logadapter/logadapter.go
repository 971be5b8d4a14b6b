// Package logadapter is a transport.Adapter that writes outgoing alerts to
// the log. It is used when no Telegram token is configured.
package logadapter

import (
	"context"
	"sync/atomic"

	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type Adapter struct {
	log logx.Logger
	seq atomic.Int64
}

var _ kit.Adapter = (*Adapter)(nil)

func New(log logx.Logger) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{log: log}
}

// Start never produces updates.
func (a *Adapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *Adapter) Stop(context.Context) error                     { return nil }

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	id := int(a.seq.Add(1))
	silent := opt != nil && opt.Silent
	a.log.Info("alert", logx.Int64("chat", to.ChatID), logx.Int("id", id), logx.Bool("silent", silent), logx.String("text", text))
	return kit.MessageRef{Chat: to, MessageID: id}, nil
}

func (a *Adapter) ClearKeyboard(ctx context.Context, ref kit.MessageRef) error { return ctx.Err() }

func (a *Adapter) AnswerCallback(ctx context.Context, _ string, _ string) error { return ctx.Err() }
