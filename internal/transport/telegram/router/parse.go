package router

import (
	"strings"

	"github.com/google/uuid"
)

func newReqID() string { return uuid.NewString()[:8] }

// tokenizeCommandLine splits a command line on whitespace. Single or double
// quotes group words and a backslash escapes the next byte:
//
//	/remind 09:00 "call mom" --repeat weekly
func tokenizeCommandLine(s string) []string {
	var (
		out    []string
		cur    strings.Builder
		quote  byte
		escape bool
		have   bool
	)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case escape:
			cur.WriteByte(ch)
			escape = false
		case ch == '\\':
			escape, have = true, true
		case quote != 0:
			if ch == quote {
				quote = 0
			} else {
				cur.WriteByte(ch)
			}
		case ch == '"' || ch == '\'':
			quote, have = ch, true
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			if have {
				out = append(out, cur.String())
				cur.Reset()
				have = false
			}
		default:
			cur.WriteByte(ch)
			have = true
		}
	}
	if have {
		out = append(out, cur.String())
	}
	return out
}

// parseFlags separates positionals from flags. "--k=v", "--k v" and "-k v"
// set flags; "--k" or "-k" with no value set a bool. A lone "--" ends flag
// parsing.
func parseFlags(args []string) (pos []string, flags map[string]string, bools map[string]bool) {
	flags = map[string]string{}
	bools = map[string]bool{}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			pos = append(pos, args[i+1:]...)
			break
		}
		if len(a) < 2 || a[0] != '-' || isNumber(a) {
			pos = append(pos, a)
			continue
		}
		key := strings.TrimLeft(a, "-")
		if k, v, ok := strings.Cut(key, "="); ok {
			flags[k] = v
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			flags[key] = args[i+1]
			i++
			continue
		}
		bools[key] = true
	}
	return pos, flags, bools
}

func isNumber(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
