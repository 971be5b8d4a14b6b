package tgui

import "errors"

// MaxTextRunes bounds a built message below Telegram's 4096 character cap.
const MaxTextRunes = 4000

// lineLimit caps the raw text of one line before it is escaped.
const lineLimit = 1024

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")
