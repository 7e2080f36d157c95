package schema

import (
	"regexp"
	"strings"
)

// ParamDoc is the documentation attached to one parameter.
type ParamDoc struct {
	Name        string
	Description string
}

// Doc is an operation's documentation split into a summary and per-parameter
// blocks, in the order the blocks first appear.
type Doc struct {
	Summary string
	Params  []ParamDoc
}

// Description returns the documented text for name.
func (d Doc) Description(name string) (string, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p.Description, true
		}
	}
	return "", false
}

const paramMarker = ":param"

// foldPattern matches a line break followed by indentation.
var foldPattern = regexp.MustCompile(`\n\s+`)

// ParseDoc splits documentation into the leading summary and the
// ":param name: text" blocks that follow it. A block runs until the next
// ":param" line or the end of the text. Malformed markers never fail: a
// marker with no text yields an empty description, one with no name is dropped.
func ParseDoc(doc string) Doc {
	var (
		out     Doc
		summary []string
		cur     *paramBlock
		seen    bool
	)

	flush := func() {
		if cur == nil || cur.name == "" {
			return
		}
		text := strings.Join(cur.lines, "\n")
		text = strings.TrimSpace(foldPattern.ReplaceAllString(text, " "))
		out.set(cur.name, text)
	}

	for _, line := range cleanDoc(doc) {
		rest, ok := cutMarker(line)
		if !ok {
			if !seen {
				summary = append(summary, line)
			} else if cur != nil {
				cur.lines = append(cur.lines, line)
			}
			continue
		}
		flush()
		seen = true
		name, desc := splitParam(rest)
		cur = &paramBlock{name: name, lines: []string{desc}}
	}
	flush()

	out.Summary = strings.TrimSpace(strings.Join(summary, "\n"))
	return out
}

type paramBlock struct {
	name  string
	lines []string
}

func (d *Doc) set(name, desc string) {
	for i := range d.Params {
		if d.Params[i].Name == name {
			d.Params[i].Description = desc
			return
		}
	}
	d.Params = append(d.Params, ParamDoc{Name: name, Description: desc})
}

// cutMarker reports whether line opens a parameter block and returns the
// text after the marker.
func cutMarker(line string) (string, bool) {
	trimmed := strings.TrimLeft(line, " \t")
	if !strings.HasPrefix(trimmed, paramMarker) {
		return "", false
	}
	rest := trimmed[len(paramMarker):]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' && rest[0] != ':' {
		// ":parameter" and friends are ordinary text
		return "", false
	}
	return rest, true
}

// splitParam separates "name: description". A typed marker such as
// ":param str name: ..." keeps only the last word as the name.
func splitParam(rest string) (name, desc string) {
	head, tail, found := strings.Cut(rest, ":")
	fields := strings.Fields(head)
	if len(fields) > 0 {
		name = fields[len(fields)-1]
	}
	if !found {
		return name, ""
	}
	return name, strings.TrimLeft(tail, " \t")
}

// cleanDoc removes the common indentation of every line after the first,
// strips the first line, and drops leading and trailing blank lines.
func cleanDoc(doc string) []string {
	if strings.TrimSpace(doc) == "" {
		return nil
	}
	lines := strings.Split(strings.ReplaceAll(doc, "\r\n", "\n"), "\n")

	margin := -1
	for _, line := range lines[1:] {
		content := strings.TrimLeft(line, " \t")
		if content == "" {
			continue
		}
		indent := len(line) - len(content)
		if margin < 0 || indent < margin {
			margin = indent
		}
	}

	lines[0] = strings.TrimLeft(lines[0], " \t")
	if margin > 0 {
		for i := 1; i < len(lines); i++ {
			if len(lines[i]) >= margin {
				lines[i] = lines[i][margin:]
			} else {
				lines[i] = strings.TrimLeft(lines[i], " \t")
			}
		}
	}

	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
