// Package normalize turns raw backend output (JSON, JSON lines, or plain
// text) into a canonical content value. Malformed structured output is
// repaired deterministically; when every repair fails the raw text is
// returned flagged, never discarded and never as an error.
package normalize

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/quorumlabs/quorum/internal/models"
)

// MergeRule decides how parsed JSON-lines objects combine.
type MergeRule string

const (
	// MergeLastWins folds line objects into one object, later keys winning.
	MergeLastWins MergeRule = "last_wins"
	// MergeAppend collects every parsed line value into an array.
	MergeAppend MergeRule = "append"
)

type Result struct {
	Content     string
	ParseFailed bool
	FailedLines int
}

// Normalize converts raw bytes into a canonical content value according to
// the descriptor's parser kind. It never returns an error: undecodable
// structured output comes back as the raw text with ParseFailed set.
func Normalize(raw []byte, kind models.ParserKind, rule MergeRule) Result {
	text := string(raw)
	switch kind {
	case models.ParserJSON:
		if doc, ok := runLadder(text); ok {
			return Result{Content: doc}
		}
		return Result{Content: strings.TrimSpace(text), ParseFailed: true}

	case models.ParserJSONLines:
		docs, failed := ParseLines(raw)
		if len(docs) == 0 {
			return Result{Content: strings.TrimSpace(text), ParseFailed: true, FailedLines: failed}
		}
		return Result{Content: mergeDocs(docs, rule), FailedLines: failed}

	default:
		return Result{Content: trimArtifacts(text)}
	}
}

// ParseLines runs the repair ladder on each line independently and returns
// the canonical JSON documents that survived, plus the count of lines that
// did not. A bad line never fails the batch.
func ParseLines(raw []byte) (docs []string, failed int) {
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if doc, ok := runLadder(line); ok {
			docs = append(docs, doc)
		} else {
			failed++
		}
	}
	return docs, failed
}

func mergeDocs(docs []string, rule MergeRule) string {
	if rule == MergeAppend {
		var values []json.RawMessage
		for _, doc := range docs {
			values = append(values, json.RawMessage(doc))
		}
		out, err := json.Marshal(values)
		if err != nil {
			return docs[len(docs)-1]
		}
		return string(out)
	}

	// Last-value-wins over object lines; non-object lines are skipped for
	// the merge but still counted as parsed.
	merged := make(map[string]json.RawMessage)
	sawObject := false
	for _, doc := range docs {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(doc), &obj); err != nil {
			continue
		}
		sawObject = true
		for k, v := range obj {
			merged[k] = v
		}
	}
	if !sawObject {
		return docs[len(docs)-1]
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return docs[len(docs)-1]
	}
	return string(out)
}

// trimArtifacts removes trailing process noise from plain-text output while
// leaving the body verbatim.
func trimArtifacts(s string) string {
	return strings.TrimRight(s, " \t\r\n\x00")
}

// AgentError reports whether a parsed CLI document flags its own failure
// (claude CLI shape: {"type":"result","is_error":true,"result":...}).
func AgentError(doc string) (string, bool) {
	if !gjson.Valid(doc) {
		return "", false
	}
	if gjson.Get(doc, "is_error").Bool() {
		msg := gjson.Get(doc, "result").String()
		if msg == "" {
			msg = "backend reported an error"
		}
		return msg, true
	}
	return "", false
}

// AgentText extracts the assistant text from known CLI document shapes:
// gemini {"response": ...} and claude {"result": ...}.
func AgentText(doc string) (string, bool) {
	if !gjson.Valid(doc) {
		return "", false
	}
	if v := gjson.Get(doc, "response"); v.Exists() {
		return v.String(), true
	}
	if v := gjson.Get(doc, "result"); v.Exists() {
		return v.String(), true
	}
	return "", false
}

// StreamText extracts assistant text from one stream event line. Supported
// shapes: {"type":"text","text":...} and codex item.completed events with
// an agent_message item.
func StreamText(doc string) (string, bool) {
	if !gjson.Valid(doc) {
		return "", false
	}
	switch gjson.Get(doc, "type").String() {
	case "text":
		if text := gjson.Get(doc, "text").String(); text != "" {
			return text, true
		}
	case "item.completed":
		item := gjson.Get(doc, "item")
		if item.Get("type").String() == "agent_message" {
			if text := item.Get("text").String(); text != "" {
				return text, true
			}
		}
	}
	return "", false
}
