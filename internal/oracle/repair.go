package oracle

import (
	"encoding/json"
	"strings"
)

// Repair tries to recover a structurally valid JSON document from a payload
// that failed strict parsing, typically because the model's output was cut off
// mid-generation. It only completes syntactic closure — closing an open
// string, appending missing brackets, or dropping a trailing half-written
// field — and never invents field values. The second return is false when no
// valid document could be recovered.
func Repair(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}

	if fixed, ok := closeAndBalance(s); ok {
		return fixed, true
	}

	// Drop trailing incomplete fields one comma at a time until the rest
	// closes cleanly or nothing is left to drop.
	for {
		cut := lastTopLevelComma(s)
		if cut < 0 {
			return "", false
		}
		s = s[:cut]
		if fixed, ok := closeAndBalance(s); ok {
			return fixed, true
		}
	}
}

// closeAndBalance terminates an open string literal and appends the minimal
// closing sequence for unmatched brackets, then verifies the result parses.
func closeAndBalance(s string) (string, bool) {
	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}':
			if len(stack) == 0 || stack[len(stack)-1] != '{' {
				return "", false
			}
			stack = stack[:len(stack)-1]
		case ']':
			if len(stack) == 0 || stack[len(stack)-1] != '[' {
				return "", false
			}
			stack = stack[:len(stack)-1]
		}
	}

	var b strings.Builder
	b.WriteString(s)
	if inString {
		if escaped {
			// A dangling backslash cannot be closed without inventing content.
			return "", false
		}
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}

	out := b.String()
	if !json.Valid([]byte(out)) {
		return "", false
	}
	return out, true
}

// lastTopLevelComma returns the index of the last comma that sits outside any
// string literal, or -1.
func lastTopLevelComma(s string) int {
	last := -1
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case ',':
			last = i
		}
	}
	return last
}

// stripFences removes a markdown code fence around a JSON document. Models
// occasionally wrap their output even when asked for bare JSON.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
