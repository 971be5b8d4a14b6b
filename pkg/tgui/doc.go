// Package tgui renders Telegram alert messages: an escaping HTML builder,
// inline keyboards and "prefix|payload|action" callback data.
package tgui
