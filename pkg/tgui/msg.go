package tgui

import (
	"context"
	"strings"
	"unicode/utf8"

	kit "remindbot/internal/transport"

	tele "gopkg.in/telebot.v4"
)

// Message is rendered text plus the options it must be sent with.
type Message struct {
	Text string
	Opt  *kit.SendOptions
}

// Send delivers m through ad.
func (m Message) Send(ctx context.Context, ad kit.Adapter, to kit.ChatTarget) (kit.MessageRef, error) {
	opt := m.Opt
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	return ad.SendText(ctx, to, m.Text, opt)
}

// Builder assembles an HTML message line by line. Every string passed in is
// escaped; link previews are always off. Lines past MaxTextRunes are
// dropped whole and replaced by a single "…", so markup is never cut.
type Builder struct {
	lines  []H
	silent bool
	kb     *tele.ReplyMarkup
}

func New() *Builder { return &Builder{} }

// Title adds a bold heading, prefixed by emoji when it is non-empty.
// An empty title adds nothing.
func (b *Builder) Title(emoji, title string) *Builder {
	title = strings.TrimSpace(title)
	if title == "" {
		return b
	}
	h := wrap("b", Esc(title))
	if e := strings.TrimSpace(emoji); e != "" {
		h = Esc(e) + " " + h
	}
	b.lines = append(b.lines, h)
	return b
}

// Line adds plain text; a blank s adds an empty line.
func (b *Builder) Line(s string) *Builder {
	b.lines = append(b.lines, Esc(TruncRunes(strings.TrimSpace(s), lineLimit)))
	return b
}

// KV adds a "• key: value" bullet. An empty key adds nothing.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	if key == "" {
		return b
	}
	b.lines = append(b.lines, "• "+wrap("b", Esc(TruncRunes(key, lineLimit)))+": "+Esc(TruncRunes(strings.TrimSpace(value), lineLimit)))
	return b
}

// Silent delivers the message without a notification sound.
func (b *Builder) Silent(v bool) *Builder {
	b.silent = v
	return b
}

// Inline attaches kb; nil removes a previously attached keyboard.
func (b *Builder) Inline(kb *Inline) *Builder {
	b.kb = nil
	if kb != nil {
		b.kb = kb.Markup()
	}
	return b
}

func (b *Builder) Build() Message {
	parts := make([]string, 0, len(b.lines))
	size := 0
	for _, l := range b.lines {
		n := utf8.RuneCountInString(l.String()) + 1
		if size+n > MaxTextRunes {
			parts = append(parts, ellipsis)
			break
		}
		parts = append(parts, l.String())
		size += n
	}
	opt := &kit.SendOptions{ParseMode: tele.ModeHTML, DisablePreview: true, Silent: b.silent}
	if b.kb != nil {
		opt.Markup = b.kb
	}
	return Message{Text: strings.Trim(strings.Join(parts, "\n"), "\n"), Opt: opt}
}
