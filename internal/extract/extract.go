// Package extract recovers a JSON object from free-form model output.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// ErrNoObject is returned when the text contains no opening brace.
var ErrNoObject = errors.New("no JSON object found")

var (
	jsonFence = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	bareFence = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
)

// Failure is the unrecoverable outcome of Structured.
type Failure struct {
	Original string
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("extract structured output: %v", f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Result is either a recovered object or a Failure. Exactly one is set.
type Result struct {
	value   map[string]any
	failure *Failure
}

// Recovered returns the decoded object when extraction succeeded.
func (r Result) Recovered() (map[string]any, bool) {
	return r.value, r.failure == nil
}

// Failure returns the failure when extraction did not succeed.
func (r Result) Failure() (*Failure, bool) {
	return r.failure, r.failure != nil
}

func recovered(v map[string]any) Result { return Result{value: v} }

func failed(original string, err error) Result {
	return Result{failure: &Failure{Original: original, Err: err}}
}

// Structured extracts one JSON object from raw. It tolerates code fences,
// surrounding prose, truncation, trailing commas, unescaped inner quotes and
// Python-style literals. Attempts run in order and stop at the first success.
func Structured(raw string) Result {
	text := stripFence(strings.TrimSpace(raw))

	start := strings.Index(text, "{")
	if start < 0 {
		return failed(raw, ErrNoObject)
	}
	tail := text[start:]

	var candidate string
	if end := strings.LastIndex(text, "}"); end > start {
		candidate = text[start : end+1]
	} else {
		candidate = RepairBrackets(tail)
	}

	v, err := decode(candidate)
	if err == nil {
		return recovered(v)
	}
	lastErr := err

	fixed := FixCommon(candidate)
	if !endsWithCloser(fixed) {
		fixed = RepairBrackets(fixed)
	}
	if v, err := decode(fixed); err == nil {
		return recovered(v)
	} else {
		lastErr = err
	}

	// A closed inner object can hide truncation of the outer one.
	repairedTail := RepairBrackets(FixCommon(tail))
	if repairedTail != fixed {
		if v, err := decode(FixCommon(repairedTail)); err == nil {
			return recovered(v)
		}
	}

	for _, s := range []string{candidate, fixed, repairedTail} {
		lit, err := ParseLiteral(s)
		if err != nil {
			continue
		}
		if m, ok := lit.(map[string]any); ok {
			return recovered(m)
		}
		lastErr = fmt.Errorf("literal is %T, not an object", lit)
	}

	return failed(raw, lastErr)
}

func stripFence(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}
	if m := jsonFence.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := bareFence.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return text
}

func decode(s string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v map[string]any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if v == nil {
		return nil, errors.New("decoded null")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected input after object at offset %d", dec.InputOffset())
	}
	return v, nil
}

func endsWithCloser(s string) bool {
	s = strings.TrimRight(s, " \t\r\n")
	return strings.HasSuffix(s, "}") || strings.HasSuffix(s, "]")
}

// RepairBrackets closes structures left open by truncated output. It tracks
// expected closers outside of strings, honors backslash escapes, closes an
// unterminated string first and then appends the pending closers LIFO.
// Text inside properly quoted strings is never modified.
func RepairBrackets(s string) string {
	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if n := len(stack); n > 0 && stack[n-1] == c {
				stack = stack[:n-1]
			}
		}
	}

	if !inString && len(stack) == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + len(stack) + 1)
	b.WriteString(s)
	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}

// FixCommon escapes quotes that sit between two word characters, then
// removes commas (and the whitespace after them) that precede a closer
// outside of strings.
func FixCommon(s string) string {
	return dropTrailingCommas(escapeInnerQuotes(s))
}

func dropTrailingCommas(s string) string {
	if !strings.Contains(s, ",") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = inString
		case c == '"':
			inString = !inString
		case c == ',' && !inString:
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				i = j - 1
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func escapeInnerQuotes(s string) string {
	if !strings.Contains(s, `"`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' && i > 0 && i+1 < len(s) && isWord(s[i-1]) && isWord(s[i+1]) {
			b.WriteString(`\"`)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isWord(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}
