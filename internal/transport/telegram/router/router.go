// Package router turns chat messages into commands and runs them on a small
// worker pool. Keyboard presses are passed through untouched.
package router

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessOwnerOnly limits a command to the configured owners. With no
	// owners configured anyone in the bot's chat may use it.
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	Access      Access
	Timeout     time.Duration // 0 uses the manager default
	Handle      HandlerFunc
}

// Request is one parsed command invocation.
type Request struct {
	Message   kit.Message
	Chat      kit.ChatTarget
	FromID    int64
	Command   string
	Args      []string // positionals after the command word
	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Adapter kit.Adapter
	Logger  logx.Logger
}

func (r *Request) logger(fallback logx.Logger) logx.Logger {
	if r != nil && !r.Logger.IsZero() {
		return r.Logger
	}
	return fallback
}

// Flag returns the first non-empty flag among names.
func (r *Request) Flag(names ...string) (string, bool) {
	for _, n := range names {
		if v, ok := r.Flags[n]; ok {
			return v, true
		}
	}
	return "", false
}

// Reply sends plain text back to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// ReplyMsg sends a rendered message back to the chat the command came from.
func (r *Request) ReplyMsg(ctx context.Context, m tgui.Message) error {
	_, err := m.Send(ctx, r.Adapter, r.Chat)
	return err
}

const (
	defaultWorkers = 2
	defaultTimeout = 15 * time.Second
	jobQueue       = 64
)

// Manager owns the command table and the dispatch loop.
type Manager struct {
	log     logx.Logger
	adapter kit.Adapter

	mu     sync.RWMutex
	byName map[string]Command // names and aliases
	order  []Command
	owners []int64

	jobs chan func()
}

func New(log logx.Logger, adapter kit.Adapter, owners []int64) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{
		log:     log,
		adapter: adapter,
		byName:  map[string]Command{},
		owners:  slices.Clone(owners),
		jobs:    make(chan func(), jobQueue),
	}
	m.SetCommands(nil)
	return m
}

// SetOwners replaces the owner list. Safe during hot reload.
func (m *Manager) SetOwners(owners []int64) {
	m.mu.Lock()
	m.owners = slices.Clone(owners)
	m.mu.Unlock()
}

func (m *Manager) isOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.owners) == 0 || slices.Contains(m.owners, id)
}

// SetCommands replaces the command table. /help is always added.
func (m *Manager) SetCommands(cmds []Command) {
	cmds = append(slices.Clone(cmds), Command{
		Name:        "help",
		Aliases:     []string{"start", "h"},
		Usage:       "/help [command]",
		Description: "show commands",
		Handle: func(ctx context.Context, req *Request) error {
			return req.ReplyMsg(ctx, m.helpMessage(req.Args))
		},
	})

	byName := map[string]Command{}
	order := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		byName[name] = c
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				if _, taken := byName[a]; !taken {
					byName[a] = c
				}
			}
		}
		order = append(order, c)
	}

	m.mu.Lock()
	m.byName, m.order = byName, order
	m.mu.Unlock()
}

func (m *Manager) lookup(word string) (Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byName[strings.ToLower(word)]
	return c, ok
}

func (m *Manager) commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.order)
}

// DispatchLoop consumes updates until ctx ends or updates is closed.
// Commands run on a worker pool; actions go to actions unchanged.
func (m *Manager) DispatchLoop(ctx context.Context, updates <-chan kit.Update, actions chan<- kit.Action) error {
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(m.log), rtsup.WithCancelOnError(false))
	jobs := m.jobs
	for i := range defaultWorkers {
		sup.GoRestart(fmt.Sprintf("command.worker.%d", i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-jobs:
					job()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second), rtsup.WithPublishFirstError(true))
	}
	m.log.Info("command dispatcher started", logx.Int("workers", defaultWorkers), logx.Int("queue", cap(jobs)))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			switch {
			case up.Kind == kit.UpdateMessage && up.Message != nil:
				m.routeMessage(ctx, *up.Message)
			case up.Kind == kit.UpdateAction && up.Action != nil && actions != nil:
				select {
				case actions <- *up.Action:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

// parseCommand splits "/cmd@bot args..." into the command word and its args.
// ok is false for text that is not a command.
func parseCommand(text string) (word string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return "", nil, false
	}
	word = strings.TrimPrefix(parts[0], "/")
	word, _, _ = strings.Cut(word, "@")
	if word == "" {
		return "", nil, false
	}
	return word, parts[1:], true
}

func (m *Manager) routeMessage(ctx context.Context, msg kit.Message) {
	word, raw, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	cmd, found := m.lookup(word)
	if !found {
		m.reply(ctx, msg.Chat, "Unknown command /"+word+". Try /help")
		return
	}
	if cmd.Access == AccessOwnerOnly && !m.isOwner(msg.FromID) {
		m.reply(ctx, msg.Chat, "Not allowed.")
		return
	}

	pos, flags, bools := parseFlags(raw)
	rid := newReqID()
	req := &Request{
		Message:   msg,
		Chat:      msg.Chat,
		FromID:    msg.FromID,
		Command:   cmd.Name,
		Args:      pos,
		RawArgs:   raw,
		Flags:     flags,
		BoolFlags: bools,
		ReqID:     rid,
		Adapter:   m.adapter,
		Logger:    m.log.With(logx.String("rid", rid), logx.String("cmd", cmd.Name)),
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	final := Chain(cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWReplyError(),
		MWTimeout(timeout),
	)

	select {
	case m.jobs <- func() { _ = final(ctx, req) }:
	default:
		m.reply(ctx, msg.Chat, "Busy, try again.")
	}
}

func (m *Manager) reply(ctx context.Context, to kit.ChatTarget, text string) {
	c, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := m.adapter.SendText(c, to, text, nil); err != nil {
		m.log.Debug("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}
