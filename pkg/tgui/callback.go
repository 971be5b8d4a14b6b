package tgui

import (
	"fmt"
	"strings"
)

const callbackSep = "|"

// Data formats inline callback data as "prefix|payload|action".
// The action must not contain '|'; the payload may.
func Data(prefix, payload, action string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	action = strings.TrimSpace(action)
	if strings.Contains(prefix, callbackSep) || strings.Contains(action, callbackSep) {
		return "", fmt.Errorf("tgui: separator in callback prefix or action")
	}
	s := prefix + callbackSep + payload + callbackSep + action
	if len(s) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return s, nil
}

// ParseData splits data produced by Data. ok is false when data does not
// carry the wanted prefix.
func ParseData(data, prefix string) (payload, action string, ok bool) {
	rest, found := strings.CutPrefix(data, prefix+callbackSep)
	if !found {
		return "", "", false
	}
	i := strings.LastIndex(rest, callbackSep)
	if i < 0 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}
