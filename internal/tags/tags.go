// Package tags implements the pure parts of the hierarchical tag taxonomy:
// path expansion, renaming of tag lists, and tree construction.
package tags

import (
	"sort"
	"strings"

	"github.com/starford/mythnote/internal/models"
)

// Sep separates the segments of a tag fullname.
const Sep = "/"

// Normalize trims every segment and drops empty ones, so "/a//b/ " becomes "a/b".
func Normalize(tag string) string {
	parts := strings.Split(tag, Sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, Sep)
}

// Depth returns the number of segments in a normalized fullname.
func Depth(fullname string) int {
	if fullname == "" {
		return 0
	}
	return strings.Count(fullname, Sep) + 1
}

// ParentName returns the fullname without its last segment, or "" for a root tag.
func ParentName(fullname string) string {
	i := strings.LastIndex(fullname, Sep)
	if i < 0 {
		return ""
	}
	return fullname[:i]
}

// BaseName returns the last segment of a fullname.
func BaseName(fullname string) string {
	return fullname[strings.LastIndex(fullname, Sep)+1:]
}

// ExpandHierarchy returns every path prefix of every tag exactly once,
// ordered by depth and then by name so parents always precede children.
func ExpandHierarchy(list []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, raw := range list {
		full := Normalize(raw)
		if full == "" {
			continue
		}
		segs := strings.Split(full, Sep)
		for i := range segs {
			prefix := strings.Join(segs[:i+1], Sep)
			if _, ok := seen[prefix]; ok {
				continue
			}
			seen[prefix] = struct{}{}
			out = append(out, prefix)
		}
	}
	SortByDepth(out)
	return out
}

// SortByDepth orders fullnames by ascending depth, then lexically.
func SortByDepth(names []string) {
	sort.Slice(names, func(i, j int) bool {
		di, dj := Depth(names[i]), Depth(names[j])
		if di != dj {
			return di < dj
		}
		return names[i] < names[j]
	})
}

// InSubtree reports whether name equals root or lies below it.
func InSubtree(name, root string) bool {
	return name == root || strings.HasPrefix(name, root+Sep)
}

// Clean normalizes each tag, drops empties and duplicates, and keeps the
// first-seen order.
func Clean(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, raw := range list {
		t := Normalize(raw)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Rename rewrites a note's tag list after renaming oldName to newName.
// An exact match becomes newName and a match below oldName keeps its suffix
// under newName. An empty newName removes the exact tag and lifts
// descendants to their suffix. The second result reports whether any tag
// referenced oldName.
func Rename(list []string, oldName, newName string) ([]string, bool) {
	oldName = Normalize(oldName)
	newName = Normalize(newName)
	changed := false
	out := make([]string, 0, len(list))
	for _, raw := range list {
		t := Normalize(raw)
		switch {
		case t == oldName:
			t = newName
			changed = true
		case strings.HasPrefix(t, oldName+Sep):
			t = Normalize(newName + Sep + strings.TrimPrefix(t, oldName+Sep))
			changed = true
		}
		out = append(out, t)
	}
	return Clean(out), changed
}

// TreeNode is one tag in the display tree. Count is the tag's own reference
// count and Total adds the totals of all children.
type TreeNode struct {
	ID       int64       `json:"id"`
	Name     string      `json:"name"`
	Fullname string      `json:"fullname"`
	Count    int         `json:"count"`
	Total    int         `json:"total"`
	Children []*TreeNode `json:"children"`
}

// BuildTree groups tags by parent id starting at the root (0). Tags whose
// parent is missing from the input are dropped with their subtree.
func BuildTree(flat []models.Tag) []*TreeNode {
	byParent := make(map[int64][]models.Tag)
	for _, t := range flat {
		byParent[t.ParentID] = append(byParent[t.ParentID], t)
	}
	return buildLevel(byParent, 0)
}

func buildLevel(byParent map[int64][]models.Tag, parent int64) []*TreeNode {
	level := byParent[parent]
	nodes := make([]*TreeNode, 0, len(level))
	for _, t := range level {
		n := &TreeNode{
			ID:       t.ID,
			Name:     t.Name,
			Fullname: t.Fullname,
			Count:    t.Count,
			Total:    t.Count,
		}
		// A tag id of 0 would recurse onto the root level.
		if t.ID != 0 {
			n.Children = buildLevel(byParent, t.ID)
		}
		for _, c := range n.Children {
			n.Total += c.Total
		}
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Name != nodes[j].Name {
			return nodes[i].Name < nodes[j].Name
		}
		return nodes[i].Fullname < nodes[j].Fullname
	})
	return nodes
}
