package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cmdagent/internal/domain"
)

// extractToolCallsFromContent recovers calls that a model wrote as JSON in
// its message text rather than in the tool_calls field. Accepted shapes:
//   - `{"name":"write_state_file","arguments":{}}`
//   - the same inside a ```json fence
//   - the same surrounded by prose
//   - an array of such objects
//
// Call names are matched against known ignoring case, hyphens and
// underscores.
func extractToolCallsFromContent(content string, known []string) []domain.ToolCall {
	content = stripFence(strings.TrimSpace(content))
	if content == "" {
		return nil
	}

	calls := parseToolJSON(content)
	if len(calls) == 0 {
		if start, end := findJSONBounds(content); start >= 0 {
			calls = parseToolJSON(content[start:end])
		}
	}
	for i := range calls {
		calls[i].Name = canonicalName(calls[i].Name, known)
	}
	return calls
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) >= 3 && strings.HasPrefix(lines[len(lines)-1], "```") {
		return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
	}
	return s
}

// findJSONBounds locates the first balanced JSON object or array in s and
// returns its [start, end) range, or (-1, -1).
func findJSONBounds(s string) (int, int) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return -1, -1
	}
	open := s[start]
	closing := byte('}')
	if open == '[' {
		closing = ']'
	}

	depth := 0
	inStr := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inStr {
			switch ch {
			case '\\':
				i++
			case '"':
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return start, i + 1
			}
		}
	}
	return -1, -1
}

type rawCall struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
	Arguments  map[string]any `json:"arguments"`
}

func parseToolJSON(raw string) []domain.ToolCall {
	text := raw
	if !json.Valid([]byte(text)) {
		text = sanitizeJSONEscapes(text)
	}

	var single rawCall
	if err := json.Unmarshal([]byte(text), &single); err == nil && single.Name != "" {
		return []domain.ToolCall{single.toCall(0)}
	}

	var multi []rawCall
	if err := json.Unmarshal([]byte(text), &multi); err != nil {
		return nil
	}
	var calls []domain.ToolCall
	for i, rc := range multi {
		if rc.Name == "" {
			continue
		}
		calls = append(calls, rc.toCall(i))
	}
	return calls
}

func (rc rawCall) toCall(i int) domain.ToolCall {
	args := rc.Arguments
	if args == nil {
		args = rc.Parameters
	}
	if args == nil {
		args = make(map[string]any)
	}
	return domain.ToolCall{
		ID:        fmt.Sprintf("extracted_%d_%d", time.Now().UnixNano(), i),
		Name:      rc.Name,
		Arguments: args,
	}
}

// canonicalName maps "WriteStateFile" or "write-state-file" to
// "write_state_file" when that is a known name.
func canonicalName(name string, known []string) string {
	key := foldName(name)
	for _, k := range known {
		if foldName(k) == key {
			return k
		}
	}
	return name
}

func foldName(s string) string {
	return strings.ToLower(strings.NewReplacer("_", "", "-", "").Replace(s))
}

// sanitizeJSONEscapes drops the backslash from escape sequences JSON does not
// allow, such as \% or \Y.
func sanitizeJSONEscapes(s string) string {
	var buf strings.Builder
	buf.Grow(len(s))
	inString := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if !inString {
			if ch == '"' {
				inString = true
			}
			buf.WriteByte(ch)
			continue
		}
		switch {
		case ch == '"':
			inString = false
			buf.WriteByte(ch)
		case ch == '\\' && i+1 < len(s):
			switch s[i+1] {
			case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
				buf.WriteByte(ch)
				buf.WriteByte(s[i+1])
				i++
			}
		default:
			buf.WriteByte(ch)
		}
	}
	return buf.String()
}
