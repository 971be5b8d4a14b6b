package tgui

import tele "gopkg.in/telebot.v4"

// Inline accumulates inline keyboard rows.
type Inline struct {
	rows [][]tele.InlineButton
}

func NewInline() *Inline { return &Inline{} }

// Btn is a callback button. data is sent as is; build it with Data.
func Btn(text, data string) tele.Btn { return tele.Btn{Text: text, Data: data} }

// Row appends one row. An empty row is skipped.
func (i *Inline) Row(btns ...tele.Btn) *Inline {
	if len(btns) == 0 {
		return i
	}
	row := make([]tele.InlineButton, 0, len(btns))
	for _, b := range btns {
		row = append(row, *b.Inline())
	}
	i.rows = append(i.rows, row)
	return i
}

// Grid appends btns wrapped into rows of at most cols buttons.
func (i *Inline) Grid(cols int, btns ...tele.Btn) *Inline {
	cols = max(cols, 1)
	for len(btns) > 0 {
		n := min(cols, len(btns))
		i.Row(btns[:n]...)
		btns = btns[n:]
	}
	return i
}

func (i *Inline) Rows() int { return len(i.rows) }

// Markup returns a fresh reply markup holding the rows so far.
func (i *Inline) Markup() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{InlineKeyboard: i.rows}
}
