// Package parser decodes record files (JSON, YAML, Markdown with
// frontmatter) into raw note and user records.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var tagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)

// Batch holds the records found in one file.
type Batch struct {
	Notes []map[string]any
	Users []map[string]any
}

// Len returns the total number of records.
func (b *Batch) Len() int {
	return len(b.Notes) + len(b.Users)
}

// Supported reports whether name has a record file extension.
func Supported(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".json", ".yaml", ".yml", ".md":
		return true
	}
	return false
}

// Parse decodes data according to the extension of name.
//
// JSON and YAML files hold either a list of notes, a single record, or an
// object with "notes" and/or "users" lists. A single record is a user when
// its "kind" is "user". Markdown files hold one note: frontmatter fields plus
// the body as content.
func Parse(name string, data []byte) (*Batch, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parser: %s: %w", name, err)
		}
		return fromDocument(name, doc)
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parser: %s: %w", name, err)
		}
		return fromDocument(name, doc)
	case ".md":
		return &Batch{Notes: []map[string]any{parseMarkdown(name, data)}}, nil
	default:
		return nil, fmt.Errorf("parser: unsupported file type: %s", name)
	}
}

func fromDocument(name string, doc any) (*Batch, error) {
	switch v := doc.(type) {
	case nil:
		return &Batch{}, nil
	case []any:
		notes, err := records(name, "notes", v)
		if err != nil {
			return nil, err
		}
		return &Batch{Notes: notes}, nil
	case map[string]any:
		_, hasNotes := v["notes"]
		_, hasUsers := v["users"]
		if !hasNotes && !hasUsers {
			if kind, _ := v["kind"].(string); strings.EqualFold(kind, "user") {
				return &Batch{Users: []map[string]any{v}}, nil
			}
			return &Batch{Notes: []map[string]any{v}}, nil
		}
		b := &Batch{}
		var err error
		if b.Notes, err = listField(name, v, "notes"); err != nil {
			return nil, err
		}
		if b.Users, err = listField(name, v, "users"); err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("parser: %s: expected object or list, got %T", name, doc)
	}
}

func listField(name string, doc map[string]any, key string) ([]map[string]any, error) {
	raw, ok := doc[key]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("parser: %s: %q must be a list", name, key)
	}
	return records(name, key, list)
}

func records(name, key string, list []any) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("parser: %s: %s[%d] is not an object", name, key, i)
		}
		out = append(out, m)
	}
	return out, nil
}

// parseMarkdown builds a note record from frontmatter and body. The id
// defaults to the file name without extension; the title to the first H1.
func parseMarkdown(name string, data []byte) map[string]any {
	fm, body := splitFrontmatter(data)
	if fm == nil {
		fm = make(map[string]any)
	}
	if _, ok := fm["id"]; !ok {
		fm["id"] = strings.TrimSuffix(path.Base(name), path.Ext(name))
	}
	if title, _ := fm["title"].(string); title == "" {
		if t := deriveTitle(body); t != "" {
			fm["title"] = t
		}
	}
	if _, ok := fm["content"]; !ok {
		fm["content"] = body
	}
	if tags := mergeTags(fm["tags"], body); len(tags) > 0 {
		fm["tags"] = tags
	}
	return fm
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]any, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data)
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]any
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		// Invalid YAML: whole file is body.
		return nil, string(data)
	}
	return fm, body
}

// mergeTags keeps frontmatter tags as supplied (strings or objects) and
// appends inline #tags from body that are not already present.
func mergeTags(raw any, body string) []any {
	var out []any
	seen := make(map[string]struct{})

	if list, ok := raw.([]any); ok {
		for _, item := range list {
			out = append(out, item)
			if s, ok := item.(string); ok {
				seen[strings.TrimSpace(s)] = struct{}{}
			}
		}
	} else if s, ok := raw.(string); ok && strings.TrimSpace(s) != "" {
		out = append(out, s)
		seen[strings.TrimSpace(s)] = struct{}{}
	}

	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		t := m[1]
		if _, dup := seen[t]; !dup {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// deriveTitle returns the first H1 heading, or empty string.
func deriveTitle(body string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
