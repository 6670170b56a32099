// Package markdown reads and writes the note file format: an optional YAML
// frontmatter block delimited by "---" lines followed by the markdown body.
package markdown

import (
	"bytes"
	"log/slog"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	delim  = "---"
	blanks = " \t\r\n"
)

// Props are the recognised frontmatter keys. Field order is the order in
// which Serialize emits them.
type Props struct {
	Created   string   `yaml:"created,omitempty" json:"created"`
	Modified  string   `yaml:"modified,omitempty" json:"modified"`
	Title     string   `yaml:"title,omitempty" json:"title"`
	Tags      []string `yaml:"tags,omitempty" json:"tags"`
	SourceURL string   `yaml:"source_url,omitempty" json:"source_url,omitempty"`
	Pinned    bool     `yaml:"pinned,omitempty" json:"pinned"`
	Deleted   bool     `yaml:"deleted,omitempty" json:"deleted"`
}

// UnmarshalYAML decodes permissively: tags may be a list or a single scalar,
// flags accept the usual boolean spellings, unknown keys are ignored.
func (p *Props) UnmarshalYAML(n *yaml.Node) error {
	var raw struct {
		Created   string    `yaml:"created"`
		Modified  string    `yaml:"modified"`
		Title     string    `yaml:"title"`
		Tags      yaml.Node `yaml:"tags"`
		SourceURL string    `yaml:"source_url"`
		Pinned    yaml.Node `yaml:"pinned"`
		Deleted   yaml.Node `yaml:"deleted"`
	}
	if err := n.Decode(&raw); err != nil {
		return err
	}
	*p = Props{
		Created:   raw.Created,
		Modified:  raw.Modified,
		Title:     raw.Title,
		Tags:      tagList(&raw.Tags),
		SourceURL: raw.SourceURL,
		Pinned:    flag(&raw.Pinned),
		Deleted:   flag(&raw.Deleted),
	}
	return nil
}

// Empty reports whether no field would be serialized.
func (p Props) Empty() bool {
	return p.Created == "" && p.Modified == "" && p.Title == "" && len(p.Tags) == 0 &&
		p.SourceURL == "" && !p.Pinned && !p.Deleted
}

func tagList(n *yaml.Node) []string {
	var out []string
	add := func(v *yaml.Node) {
		if v.Kind != yaml.ScalarNode || v.Tag == "!!null" {
			return
		}
		if s := strings.TrimSpace(v.Value); s != "" {
			out = append(out, s)
		}
	}
	switch n.Kind {
	case yaml.SequenceNode:
		for _, item := range n.Content {
			add(item)
		}
	case yaml.ScalarNode:
		add(n)
	}
	return out
}

func flag(n *yaml.Node) bool {
	if n.Kind != yaml.ScalarNode {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(n.Value)) {
	case "yes", "y", "on":
		return true
	}
	b, _ := strconv.ParseBool(n.Value)
	return b
}

// Parse splits text into frontmatter props and body. It never fails: text
// without a closed leading block, or with YAML that does not decode, yields
// empty props and the whole text as body. Leading blanks are trimmed from
// the body in every case.
func Parse(text string) (Props, string) {
	block, body, ok := split(text)
	if !ok {
		return Props{}, strings.TrimLeft(text, blanks)
	}
	var p Props
	if strings.TrimSpace(block) != "" {
		if err := yaml.Unmarshal([]byte(block), &p); err != nil {
			slog.Warn("markdown: malformed frontmatter", slog.String("error", err.Error()))
			return Props{}, text
		}
	}
	return p, strings.TrimLeft(body, blanks)
}

// split locates a leading block whose first line is "---" and which is
// closed by a later line that is exactly "---" (trailing blanks allowed).
func split(text string) (block, body string, ok bool) {
	first, rest, found := strings.Cut(text, "\n")
	if !found || strings.TrimRight(first, " \t\r") != delim {
		return "", "", false
	}
	offset := 0
	for offset <= len(rest) {
		line, after, more := strings.Cut(rest[offset:], "\n")
		if strings.TrimRight(line, " \t\r") == delim {
			block = rest[:offset]
			if more {
				return block, after, true
			}
			return block, "", true
		}
		if !more {
			break
		}
		offset += len(line) + 1
	}
	return "", "", false
}

// Serialize renders props and body back into file text. Empty props produce
// the body alone, unless the body itself opens with a block Parse would take
// as frontmatter; that body is preceded by an empty block.
func Serialize(p Props, body string) string {
	body = strings.TrimLeft(body, blanks)
	if p.Empty() {
		if _, _, ok := split(body); ok {
			return delim + "\n" + delim + "\n" + body
		}
		return body
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		// Props holds only strings and bools; encoding cannot fail.
		slog.Error("markdown: encode frontmatter", slog.String("error", err.Error()))
		return body
	}
	_ = enc.Close()

	var sb strings.Builder
	sb.Grow(buf.Len() + len(body) + 8)
	sb.WriteString(delim + "\n")
	sb.Write(buf.Bytes())
	sb.WriteString(delim + "\n")
	sb.WriteString(body)
	return sb.String()
}

// Rewrite parses text, lets fn modify the props, and serializes the result.
func Rewrite(text string, fn func(*Props)) string {
	p, body := Parse(text)
	fn(&p)
	return Serialize(p, body)
}

// DeriveTitle returns the frontmatter title if present, otherwise the first
// H1 heading of the body, otherwise empty string.
func DeriveTitle(p Props, body string) string {
	if p.Title != "" {
		return p.Title
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
