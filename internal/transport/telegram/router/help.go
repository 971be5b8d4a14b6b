package router

import (
	"regexp"
	"strings"

	kit "remindbot/internal/transport"
	"remindbot/pkg/tgui"
)

// helpMessage lists every command, or describes one when args names it.
func (m *Manager) helpMessage(args []string) tgui.Message {
	if len(args) > 0 {
		name := strings.TrimPrefix(args[0], "/")
		if c, ok := m.lookup(name); ok {
			b := tgui.New().Title("📖", "/"+c.Name).Line(c.Description).KV("Usage", c.Usage)
			if len(c.Aliases) > 0 {
				b.KV("Aliases", "/"+strings.Join(c.Aliases, ", /"))
			}
			return b.Silent(true).Build()
		}
	}

	b := tgui.New().Title("📖", "Commands")
	for _, c := range m.commands() {
		b.KV(c.Usage, c.Description)
	}
	b.Line("").Line("Times: 09:30, tomorrow 09:30, 2026-10-20 18:00, +45m, +2h, +3d")
	return b.Silent(true).Build()
}

var menuName = regexp.MustCompile(`^[a-z0-9_]{1,32}$`)

// Menu is the command list for the client's "/" menu. Names Telegram would
// reject are left out.
func (m *Manager) Menu() []kit.BotCommand {
	cmds := m.commands()
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		if !menuName.MatchString(c.Name) {
			continue
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}
