package adapter

import (
	"strings"
	"testing"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	kit "remindbot/internal/transport"
)

func TestFitTextLeavesMarkupIntact(t *testing.T) {
	t.Parallel()
	html := strings.Repeat("<b>Tom &amp; Jerry</b>\n", 300)
	if got := fitText(html, &kit.SendOptions{ParseMode: tele.ModeHTML}); got != html {
		t.Fatal("HTML text was modified")
	}

	plain := strings.Repeat("x", textLimit+50)
	for _, opt := range []*kit.SendOptions{nil, {}} {
		got := fitText(plain, opt)
		if n := utf8.RuneCountInString(got); n != textLimit {
			t.Fatalf("plain text is %d runes, want %d", n, textLimit)
		}
	}
}

func TestSendOptionsMapping(t *testing.T) {
	t.Parallel()
	rm := &tele.ReplyMarkup{}
	so := sendOptions(&kit.SendOptions{ParseMode: tele.ModeHTML, DisablePreview: true, Silent: true, Markup: rm}, 7)
	if so.ThreadID != 7 || so.ParseMode != tele.ModeHTML || !so.DisableWebPagePreview || !so.DisableNotification || so.ReplyMarkup != rm {
		t.Fatalf("unexpected send options: %+v", so)
	}
	if so := sendOptions(nil, 3); so.ThreadID != 3 || so.ParseMode != "" {
		t.Fatalf("nil options: %+v", so)
	}
}
