// Package partial decodes prefixes of JSON text that is still arriving.
package partial

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Decoder returns the most complete value obtainable from text, or false.
// Implementations must be pure and must not panic on any input.
type Decoder interface {
	Decode(text string) (any, bool)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(text string) (any, bool)

func (f DecoderFunc) Decode(text string) (any, bool) { return f(text) }

// BestEffort repairs a truncated JSON prefix by cutting it back to the last
// complete value (or closing an in-progress string value), dropping dangling
// keys and commas, and appending the closers for every open container.
//
// Leading prose or a markdown fence before the first '{' or '[' is skipped,
// as is anything after the top-level value closes.
type BestEffort struct{}

// Decode implements Decoder.
func (BestEffort) Decode(text string) (any, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, false
	}
	if json.Valid([]byte(trimmed)) {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
			return nil, false
		}
		return v, true
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return nil, false
	}
	candidate, ok := repair(text[start:])
	if !ok {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(candidate), &v); err != nil {
		return nil, false
	}
	return v, true
}

// frame states
const (
	objKey   = iota // expecting a key or '}'
	objColon        // expecting ':'
	objValue        // expecting a value
	objComma        // expecting ',' or '}'
	arrValue        // expecting a value or ']'
	arrComma        // expecting ',' or ']'
)

type frame struct {
	closer byte
	state  int
}

// repair scans s (which starts with '{' or '[') and returns a complete JSON
// text for the longest usable prefix.
//
// It is safe to iterate bytes because the ASCII delimiters never appear
// inside a multi-byte UTF-8 sequence.
func repair(s string) (string, bool) {
	var stack []frame
	cut := -1
	var cutClosers string

	closers := func() string {
		var b strings.Builder
		for i := len(stack) - 1; i >= 0; i-- {
			b.WriteByte(stack[i].closer)
		}
		return b.String()
	}
	markCut := func(at int) {
		cut = at
		cutClosers = closers()
	}
	// valueDone advances the enclosing frame after a complete value.
	// It reports true when the top-level value has closed.
	valueDone := func() bool {
		if len(stack) == 0 {
			return true
		}
		top := &stack[len(stack)-1]
		if top.state == objValue {
			top.state = objComma
		} else {
			top.state = arrComma
		}
		return false
	}
	best := func() (string, bool) {
		if cut < 0 {
			return "", false
		}
		return s[:cut] + cutClosers, true
	}

	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case b == ' ' || b == '\t' || b == '\n' || b == '\r':
			continue

		case b == '{' || b == '[':
			if len(stack) > 0 && !expectsValue(stack[len(stack)-1].state) {
				return best()
			}
			if b == '{' {
				stack = append(stack, frame{closer: '}', state: objKey})
			} else {
				stack = append(stack, frame{closer: ']', state: arrValue})
			}
			markCut(i + 1)

		case b == '}' || b == ']':
			if len(stack) == 0 {
				return best()
			}
			top := stack[len(stack)-1]
			if top.closer != b || !(top.state == objKey || top.state == objComma || top.state == arrValue || top.state == arrComma) {
				return best()
			}
			stack = stack[:len(stack)-1]
			if valueDone() {
				return s[:i+1], true
			}
			markCut(i + 1)

		case b == '"':
			if len(stack) == 0 {
				return best()
			}
			top := &stack[len(stack)-1]
			isKey := top.state == objKey
			if !isKey && !expectsValue(top.state) {
				return best()
			}
			end, safe, closed := scanString(s, i+1)
			if !closed {
				if isKey || safe < 0 {
					return best()
				}
				return s[:safe] + `"` + closers(), true
			}
			i = end
			if isKey {
				top.state = objColon
				continue
			}
			valueDone()
			markCut(i + 1)

		case b == ':':
			if len(stack) == 0 || stack[len(stack)-1].state != objColon {
				return best()
			}
			stack[len(stack)-1].state = objValue

		case b == ',':
			if len(stack) == 0 {
				return best()
			}
			top := &stack[len(stack)-1]
			switch top.state {
			case objComma:
				top.state = objKey
			case arrComma:
				top.state = arrValue
			default:
				return best()
			}

		case b == '-' || (b >= '0' && b <= '9') || b == 't' || b == 'f' || b == 'n':
			if len(stack) == 0 || !expectsValue(stack[len(stack)-1].state) {
				return best()
			}
			j := i
			for j < len(s) && isTokenByte(s[j]) {
				j++
			}
			if j == len(s) {
				switch s[i:j] {
				case "true", "false", "null":
				default:
					// numbers and partial literals may still be growing
					return best()
				}
			}
			i = j - 1
			valueDone()
			markCut(j)

		default:
			return best()
		}
	}
	return best()
}

func expectsValue(state int) bool {
	return state == objValue || state == arrValue
}

func isTokenByte(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b == '-' || b == '+' || b == '.'
}

// scanString scans a string body starting at from (just past the opening
// quote). It returns the index of the closing quote when closed, and
// otherwise the length of the longest prefix that ends on a whole character
// or escape sequence. A high surrogate escape counts only with its pair.
func scanString(s string, from int) (end int, safe int, closed bool) {
	safe = from
	for i := from; i < len(s); i++ {
		switch c := s[i]; {
		case c == '"':
			return i, safe, true
		case c == '\\':
			if i+1 >= len(s) {
				return -1, safe, false
			}
			if s[i+1] == 'u' {
				if i+6 > len(s) {
					return -1, safe, false
				}
				if isHighSurrogate(s[i+2 : i+6]) {
					rest := s[i+6:]
					if len(rest) < 6 && strings.HasPrefix(`\u`, rest[:min(len(rest), 2)]) {
						return -1, safe, false
					}
					if len(rest) >= 6 && rest[:2] == `\u` {
						i += 6
					}
				}
				i += 5
			} else {
				i++
			}
			safe = i + 1
		case c >= utf8.RuneSelf:
			if !utf8.FullRuneInString(s[i:]) {
				return -1, safe, false
			}
			_, w := utf8.DecodeRuneInString(s[i:])
			i += w - 1
			safe = i + 1
		default:
			safe = i + 1
		}
	}
	return -1, safe, false
}

// isHighSurrogate reports whether four hex digits encode U+D800..U+DBFF.
func isHighSurrogate(hex string) bool {
	v, err := strconv.ParseUint(hex, 16, 16)
	return err == nil && v >= 0xD800 && v <= 0xDBFF
}
