package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := "---\ncreated: 2024-01-02 03:04:05\ntitle: Hello\ntags:\n  - go\n  - proj/api\npinned: true\n---\n\n# Hello\nBody text.\n"
	p, body := Parse(input)

	assert.Equal(t, "2024-01-02 03:04:05", p.Created)
	assert.Equal(t, "Hello", p.Title)
	assert.Equal(t, []string{"go", "proj/api"}, p.Tags)
	assert.True(t, p.Pinned)
	assert.False(t, p.Deleted)
	assert.Equal(t, "# Hello\nBody text.\n", body)
}

func TestParse_NoFrontmatter(t *testing.T) {
	input := "# Just a heading\nSome text.\n"
	p, body := Parse(input)
	assert.True(t, p.Empty())
	assert.Equal(t, input, body)
}

func TestParse_UnclosedBlockIsBody(t *testing.T) {
	input := "---\ntitle: x\nno closing line\n"
	p, body := Parse(input)
	assert.True(t, p.Empty())
	assert.Equal(t, input, body)
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	input := "---\n: invalid: yaml: {{{\n---\nBody\n"
	p, body := Parse(input)
	assert.True(t, p.Empty())
	assert.Equal(t, input, body)
}

func TestParse_Permissive(t *testing.T) {
	input := "---\r\ntitle: 42\r\ntags: solo\r\nunknown: value\r\ndeleted: yes\r\n---\r\nbody"
	p, body := Parse(input)
	assert.Equal(t, "42", p.Title)
	assert.Equal(t, []string{"solo"}, p.Tags)
	assert.True(t, p.Deleted)
	assert.Equal(t, "body", body)
}

func TestParse_EmptyBlock(t *testing.T) {
	p, body := Parse("---\n---\ntext")
	assert.True(t, p.Empty())
	assert.Equal(t, "text", body)
}

func TestSerialize_FieldOrderAndOmission(t *testing.T) {
	p := Props{
		Title:    "T",
		Created:  "c1",
		Modified: "m1",
		Tags:     []string{"a", "a/b"},
		Deleted:  true,
	}
	got := Serialize(p, "\n\nbody\n")
	want := "---\ncreated: c1\nmodified: m1\ntitle: T\ntags:\n  - a\n  - a/b\ndeleted: true\n---\nbody\n"
	assert.Equal(t, want, got)
}

func TestSerialize_EmptyProps(t *testing.T) {
	assert.Equal(t, "body", Serialize(Props{}, "  body"))
	assert.Equal(t, "---\n---\n---\na: b\n---\n", Serialize(Props{}, "---\na: b\n---\n"))
}

func TestParse_TrimsLeadingBlanksWithoutFrontmatter(t *testing.T) {
	p, body := Parse("\n  \nbody")
	assert.True(t, p.Empty())
	assert.Equal(t, "body", body)
}

func TestRoundTrip(t *testing.T) {
	inputs := []string{
		"---\ncreated: 2024-01-02 03:04:05\nmodified: 2024-02-02 03:04:05\ntitle: Hello\ntags: [x, y/z]\nsource_url: https://example.com\npinned: true\n---\nbody\n",
		"---\ntitle: \"quoted: colon\"\npinned: false\n---\n\n\ntext",
		"no frontmatter at all",
		"---\nbroken: [\n---\nrest",
		"  \nbody",
		"\n\n---\ntitle: x\n---\nbody",
		"---\n---\n---\npinned: true\n---\n",
	}
	for _, in := range inputs {
		p1, b1 := Parse(in)
		p2, b2 := Parse(Serialize(p1, b1))
		require.Equal(t, p1, p2, "input %q", in)
		require.Equal(t, b1, b2, "input %q", in)
	}
}

func TestRewrite(t *testing.T) {
	in := "---\ncreated: c\ntags:\n  - a\n---\nbody"
	out := Rewrite(in, func(p *Props) {
		p.Deleted = true
		p.Modified = "m"
	})
	p, body := Parse(out)
	assert.Equal(t, "c", p.Created)
	assert.Equal(t, "m", p.Modified)
	assert.Equal(t, []string{"a"}, p.Tags)
	assert.True(t, p.Deleted)
	assert.Equal(t, "body", body)
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "FM", DeriveTitle(Props{Title: "FM"}, "# H1"))
	assert.Equal(t, "H1", DeriveTitle(Props{}, "intro\n# H1\n"))
	assert.Equal(t, "", DeriveTitle(Props{}, "plain"))
}
