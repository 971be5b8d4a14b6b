package adapter

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

// Config configures the Telegram long-poll adapter.
type Config struct {
	Token       string
	PollTimeout time.Duration
	// ChatID restricts inbound updates to one chat; 0 accepts every chat.
	ChatID int64
}

// textLimit keeps plain text below Telegram's 4096 character cap. HTML is
// sized by the builder that rendered it.
const textLimit = 4000

// Adapter delivers alerts through a telebot long poller and forwards
// commands and presses on inline keyboards.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	mu  sync.Mutex
	out chan<- kit.Update
	sup *rtsup.Supervisor

	menuMu   sync.Mutex
	menuHash uint64

	dropped   atomic.Uint64
	dropWarns rate.Sometimes
}

var (
	_ kit.Adapter            = (*Adapter)(nil)
	_ kit.CommandMenuUpdater = (*Adapter)(nil)
)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout, AllowedUpdates: []string{"message", "callback_query"}},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{
		cfg:       cfg,
		log:       log,
		bot:       bot,
		dropWarns: rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
	bot.Handle(tele.OnText, a.onText)
	bot.Handle(tele.OnCallback, a.onCallback)
	return a, nil
}

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	if a.cfg.ChatID != 0 && m.Chat.ID != a.cfg.ChatID {
		return nil
	}
	msg := &kit.Message{
		ID:   m.ID,
		Chat: kit.ChatTarget{ChatID: m.Chat.ID, ThreadID: m.ThreadID},
		Text: m.Text,
	}
	if m.Sender != nil {
		msg.FromID = m.Sender.ID
		msg.FromUsername = m.Sender.Username
	}
	a.forward(kit.Update{Kind: kit.UpdateMessage, Message: msg})
	return nil
}

func (a *Adapter) onCallback(c tele.Context) error {
	cb := c.Callback()
	if cb == nil || cb.Message == nil || cb.Message.Chat == nil {
		return nil
	}
	m := cb.Message
	if a.cfg.ChatID != 0 && m.Chat.ID != a.cfg.ChatID {
		// Still answer so the client stops its spinner.
		return c.Respond()
	}
	act := kit.Action{
		CallbackID: cb.ID,
		Message:    kit.MessageRef{Chat: kit.ChatTarget{ChatID: m.Chat.ID, ThreadID: m.ThreadID}, MessageID: m.ID},
		Data:       cb.Data,
	}
	if cb.Sender != nil {
		act.FromID = cb.Sender.ID
	}
	a.forward(kit.Update{Kind: kit.UpdateAction, Action: &act})
	return nil
}

// forward never blocks the poller. Overflow is counted and reported at
// most every few seconds.
func (a *Adapter) forward(up kit.Update) {
	a.mu.Lock()
	out := a.out
	a.mu.Unlock()
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		total := a.dropped.Add(1)
		a.dropWarns.Do(func() {
			a.log.Warn("updates dropped (channel full)", logx.Uint64("total", total), logx.Int("chan_cap", cap(out)))
		})
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.out = out
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log))

	a.sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// bot.Start blocks until bot.Stop; an early return is restarted.
	a.sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() != nil {
			return context.Canceled
		}
		return errors.New("poller exited")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
	)
	return nil
}

// Stop ends polling and waits at most two seconds. It never fails shutdown.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup, a.out = nil, nil
	a.mu.Unlock()
	if sup == nil {
		return nil
	}

	sup.Cancel()
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		a.log.Debug("telegram stop", logx.Err(err))
	}
	a.log.Info("stopped")
	return nil
}

func sendOptions(opt *kit.SendOptions, threadID int) *tele.SendOptions {
	so := &tele.SendOptions{ThreadID: threadID}
	if opt == nil {
		return so
	}
	so.ParseMode = opt.ParseMode
	so.DisableWebPagePreview = opt.DisablePreview
	so.DisableNotification = opt.Silent
	if rm, ok := opt.Markup.(*tele.ReplyMarkup); ok {
		so.ReplyMarkup = rm
	}
	return so
}

// fitText truncates plain text only. Cutting rendered HTML could split a tag
// or entity and make Telegram reject the whole message.
func fitText(text string, opt *kit.SendOptions) string {
	if opt != nil && opt.ParseMode != "" {
		return text
	}
	return tgui.TruncRunes(text, textLimit)
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, fitText(text, opt), sendOptions(opt, to.ThreadID))
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{Chat: to, MessageID: msg.ID}, nil
}

func (a *Adapter) ClearKeyboard(ctx context.Context, ref kit.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sm := tele.StoredMessage{MessageID: strconv.Itoa(ref.MessageID), ChatID: ref.Chat.ChatID}
	_, err := a.bot.EditReplyMarkup(sm, nil)
	return err
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// UpdateMenuCommands replaces the bot's command menu. The call is skipped
// when the list is unchanged since the last successful update.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	menu := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = c.Command
		}
		desc = tgui.TruncRunes(desc, 256)
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(desc))
		h.Write([]byte{0})
		menu = append(menu, tele.Command{Text: c.Command, Description: desc})
		if len(menu) == 100 {
			break
		}
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := a.bot.SetCommands(menu); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("command menu updated", logx.Int("count", len(menu)))
	return nil
}
