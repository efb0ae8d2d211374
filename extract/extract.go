// Package extract finds the translatable nodes of a template document and
// decides which of them need a translation pass.
//
// A node is translatable when it is a leaf element followed by an <En>
// annotation comment (see xmldoc.Node.SourceText). Its annotation is turned
// into an Item: one placeholder-free text segment per <li> when the content
// is a list, a single segment otherwise.
//
// Three entry points cover the pipeline modes:
//
//	Collect    new files; every annotated node is scheduled.
//	Diff       existing files; nodes are compared against the target and
//	           the fingerprint manifest, with a reason per scheduled node.
//	Annotated  manifest generation; key and source text of every node.
package extract

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ricave/ricave-translator/manifest"
	"github.com/ricave/ricave-translator/placeholder"
	"github.com/ricave/ricave-translator/xmldoc"
)

// ---------------------------------------------------------------------------
// Items
// ---------------------------------------------------------------------------

// Item is the unit of work extracted from one annotated node.
type Item struct {
	// Texts holds the placeholder-free segments sent for translation.
	Texts []string
	// Placeholders is index-aligned with Texts.
	Placeholders [][]string
	// IsList is set when the content was a sequence of <li> elements.
	IsList bool
	// Original is the untouched annotation content; it is the hash input.
	Original string
}

// listItemName is the element that splits list content into segments.
const listItemName = "li"

// NewItem builds an Item from annotation content. Content that parses as
// markup with one or more <li> children becomes a list; anything else,
// including malformed markup, is a single scalar segment.
func NewItem(content string) Item {
	item := Item{Original: content}

	if nodes, err := xmldoc.ParseFragment(content); err == nil {
		for _, n := range nodes {
			if n.Type != xmldoc.ElementNode || n.Name.Space != "" || n.Name.Local != listItemName {
				continue
			}
			text, ph := placeholder.Extract(n.InnerXML())
			item.Texts = append(item.Texts, text)
			item.Placeholders = append(item.Placeholders, ph)
		}
		if len(item.Texts) > 0 {
			item.IsList = true
			return item
		}
	}

	text, ph := placeholder.Extract(content)
	item.Texts = []string{text}
	item.Placeholders = [][]string{ph}
	return item
}

// allPlaceholders returns every placeholder of the item, sorted.
func (it Item) allPlaceholders() []string {
	var all []string
	for _, ph := range it.Placeholders {
		all = append(all, ph...)
	}
	slices.Sort(all)
	return all
}

func allBlank(texts []string) bool {
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			return false
		}
	}
	return true
}

func anyBlank(texts []string) bool {
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Scheduling
// ---------------------------------------------------------------------------

// Entry is a node scheduled for translation.
type Entry struct {
	// Key is the local name of the source element.
	Key string
	// Item is built from the source annotation.
	Item Item
	// Element is the source leaf the annotation belongs to.
	Element *xmldoc.Node
}

// Annotation is the key and source text of one annotated leaf.
type Annotation struct {
	Key     string
	Source  string
	Element *xmldoc.Node
}

// Annotated returns every annotated leaf of doc in document order.
func Annotated(doc *xmldoc.Node) []Annotation {
	var out []Annotation
	for _, el := range doc.LeafElements() {
		if src, ok := el.SourceText(); ok {
			out = append(out, Annotation{Key: el.LocalName(), Source: src, Element: el})
		}
	}
	return out
}

// Collect schedules every annotated node of src. It is used when no target
// document exists yet.
func Collect(src *xmldoc.Node) ([]Entry, error) {
	var entries []Entry
	seen := map[string]bool{}
	for _, a := range Annotated(src) {
		if seen[a.Key] {
			return nil, fmt.Errorf("duplicate node key %q", a.Key)
		}
		seen[a.Key] = true
		entries = append(entries, Entry{Key: a.Key, Item: NewItem(a.Source), Element: a.Element})
	}
	return entries, nil
}

// TargetElements indexes the direct children of the target root by local
// name. When a name repeats, the first occurrence wins.
func TargetElements(target *xmldoc.Node) map[string]*xmldoc.Node {
	out := map[string]*xmldoc.Node{}
	root := target.Root()
	if root == nil {
		return out
	}
	for _, el := range root.Elements() {
		if _, ok := out[el.LocalName()]; !ok {
			out[el.LocalName()] = el
		}
	}
	return out
}

// Diff compares src against an existing target document. hashes holds the
// manifest entries of this file (node key → source hash) and may be nil.
//
// A node is skipped when its stored hash matches the current source text.
// Without a stored hash the existing target content is validated instead:
// same list/scalar shape, same placeholder multiset and, for non-blank
// source text, the same number of non-blank segments.
//
// The returned reasons describe every scheduled node in document order.
func Diff(src, target *xmldoc.Node, hashes map[string]string) ([]Entry, []string, error) {
	targets := TargetElements(target)

	var (
		entries []Entry
		reasons []string
	)
	seen := map[string]bool{}

	for _, a := range Annotated(src) {
		reason, schedule := classify(a, targets, hashes)
		if !schedule {
			continue
		}
		if seen[a.Key] {
			return nil, nil, fmt.Errorf("duplicate node key %q", a.Key)
		}
		seen[a.Key] = true
		reasons = append(reasons, fmt.Sprintf("'%s': %s", a.Key, reason))
		entries = append(entries, Entry{Key: a.Key, Item: NewItem(a.Source), Element: a.Element})
	}

	return entries, reasons, nil
}

// classify decides whether one annotated node needs translating.
func classify(a Annotation, targets map[string]*xmldoc.Node, hashes map[string]string) (string, bool) {
	targetEl, ok := targets[a.Key]
	if !ok {
		return "Target element not found.", true
	}

	if stored, ok := hashes[a.Key]; ok {
		if strings.EqualFold(stored, manifest.Hash(a.Source)) {
			return "", false
		}
		return "Source text changed (hash mismatch). Re-translating.", true
	}

	srcItem := NewItem(a.Source)
	dstItem := NewItem(targetEl.InnerXML())

	structureSame := srcItem.IsList == dstItem.IsList
	placeholdersMatch := slices.Equal(srcItem.allPlaceholders(), dstItem.allPlaceholders())
	textValid := len(srcItem.Texts) == len(dstItem.Texts) && !anyBlank(dstItem.Texts)

	if allBlank(srcItem.Texts) {
		if placeholdersMatch && structureSame {
			return "", false
		}
	} else if placeholdersMatch && textValid && structureSame {
		return "", false
	}

	return fmt.Sprintf("Structure/content mismatch. Structure same: %t, Placeholders match: %t, Text valid: %t.",
		structureSame, placeholdersMatch, textValid), true
}
