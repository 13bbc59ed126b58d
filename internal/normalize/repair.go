package normalize

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// The repair ladder is a fixed, documented sequence. Lossless extraction and
// fidelity-preserving passes run before anything that drops bytes:
//
//  0. candidate extraction (code fences, surrounding prose)
//  1. strict parse
//  2. strip trailing commas before closing brackets
//  3. largest balanced-bracket substring
//  4. escape bare control characters inside string literals
//  5. truncate to the last complete top-level value
//
// Strict parsing is retried after every pass; the first success wins.

var (
	codeFenceRe     = regexp.MustCompile("(?is)```(?:json)?\\s*([\\s\\S]*?)\\s*```")
	openFenceRe     = regexp.MustCompile("(?is)```(?:json)?\\s*([\\s\\S]+)")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// parseStrict canonicalizes a candidate via a strict decode/encode round
// trip. json.Number keeps numeric literals byte-faithful.
func parseStrict(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return "", false
	}
	// Reject trailing garbage after the first value; the extraction passes
	// are responsible for isolating a single candidate.
	if dec.More() {
		return "", false
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return "", false
	}
	return strings.TrimSuffix(buf.String(), "\n"), true
}

// extractCandidate strips markdown code fences (closed or cut off) and any
// prose around the first JSON value. Purely positional, never lossy inside
// the value itself.
func extractCandidate(s string) string {
	s = strings.TrimSpace(strings.TrimPrefix(s, "\ufeff"))
	if m := codeFenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	} else if m := openFenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return s
	}
	if block, ok := firstBalancedBlock(s); ok {
		return block
	}
	return s
}

func stripTrailingCommas(s string) string {
	return trailingCommaRe.ReplaceAllString(s, "$1")
}

// firstBalancedBlock finds the first balanced {...} or [...] region,
// honoring string literals and escapes.
func firstBalancedBlock(s string) (string, bool) {
	start := -1
	var opener, closer byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			start = i
			opener = s[i]
			closer = '}'
			if opener == '[' {
				closer = ']'
			}
			break
		}
	}
	if start == -1 {
		return "", false
	}

	depth := 0
	inStr := false
	esc := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case opener:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// largestBalancedBlock scans every balanced top-level region and returns
// the longest one. Model output often wraps valid JSON in partial fragments.
func largestBalancedBlock(s string) (string, bool) {
	best := ""
	rest := s
	for {
		block, ok := firstBalancedBlock(rest)
		if !ok {
			break
		}
		if len(block) > len(best) {
			best = block
		}
		idx := strings.Index(rest, block)
		if idx < 0 {
			break
		}
		rest = rest[idx+len(block):]
	}
	if best == "" {
		return "", false
	}
	return best, true
}

// escapeControlChars rewrites bare control characters found inside string
// literals as their JSON escape sequences. Characters outside strings are
// left alone.
func escapeControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inStr := false
	esc := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
				b.WriteByte(c)
				continue
			case c == '\\':
				esc = true
				b.WriteByte(c)
				continue
			case c == '"':
				inStr = false
				b.WriteByte(c)
				continue
			case c < 0x20:
				switch c {
				case '\n':
					b.WriteString(`\n`)
				case '\r':
					b.WriteString(`\r`)
				case '\t':
					b.WriteString(`\t`)
				case '\b':
					b.WriteString(`\b`)
				case '\f':
					b.WriteString(`\f`)
				default:
					const hex = "0123456789abcdef"
					b.WriteString(`\u00`)
					b.WriteByte(hex[c>>4])
					b.WriteByte(hex[c&0xf])
				}
				continue
			}
		} else if c == '"' {
			inStr = true
		}
		b.WriteByte(c)
	}
	return b.String()
}

// truncateToLastComplete cuts a mid-stream candidate back to the end of the
// last complete top-level value, if one exists.
func truncateToLastComplete(s string) (string, bool) {
	depth := 0
	inStr := false
	esc := false
	last := -1
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				last = i
			}
		}
	}
	if last == -1 {
		return "", false
	}
	return s[:last+1], true
}

// runLadder applies the ladder to raw text, returning canonical JSON on
// the first pass that yields a strict parse.
func runLadder(raw string) (string, bool) {
	candidate := extractCandidate(raw)
	if candidate == "" {
		return "", false
	}

	if doc, ok := parseStrict(candidate); ok {
		return doc, true
	}

	passes := []func(string) (string, bool){
		func(s string) (string, bool) { return stripTrailingCommas(s), true },
		largestBalancedBlock,
		func(s string) (string, bool) { return escapeControlChars(s), true },
		truncateToLastComplete,
	}

	current := candidate
	for _, pass := range passes {
		next, ok := pass(current)
		if !ok {
			continue
		}
		current = next
		if doc, ok := parseStrict(current); ok {
			return doc, true
		}
	}
	return "", false
}
