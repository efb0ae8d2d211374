// Package xmldoc implements a small lossless XML tree used for the template
// and language files.
//
// Documents are decoded token by token and kept as a node tree that preserves
// whitespace, comments, processing instructions and namespace prefixes, so a
// file that is parsed and written back without edits stays byte-comparable
// apart from entity normalization. Translatable leaves are identified by an
// annotation comment that follows them:
//
//	<Desc>Pick up the <item/> now</Desc>
//	<!--<En>Pick up the <item/> now</En>-->
package xmldoc

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ---------------------------------------------------------------------------
// Data model
// ---------------------------------------------------------------------------

// NodeType identifies the kind of a Node.
type NodeType int

const (
	// DocumentNode is the synthetic parent of everything at top level.
	DocumentNode NodeType = iota
	// ElementNode is a start/end tag pair.
	ElementNode
	// TextNode is character data, including whitespace.
	TextNode
	// CommentNode is <!-- ... -->.
	CommentNode
	// ProcInstNode is <?target ...?>, including the XML declaration.
	ProcInstNode
	// DirectiveNode is <!DOCTYPE ...> and similar.
	DirectiveNode
)

// Node is one node of a parsed document.
type Node struct {
	Type NodeType

	// Name is the element name. Space holds the raw prefix, not a namespace URI.
	Name xml.Name
	Attr []xml.Attr

	// Data is the unescaped text, the comment body, the directive body or
	// the processing instruction content.
	Data string
	// Target is the processing instruction target.
	Target string

	// SelfClosing records that an empty element was written as <name/>.
	SelfClosing bool

	Parent   *Node
	Children []*Node
}

// LocalName returns the element name without prefix.
func (n *Node) LocalName() string { return n.Name.Local }

// ---------------------------------------------------------------------------
// Parsing
// ---------------------------------------------------------------------------

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseFile reads and parses an XML document.
func ParseFile(path string) (*Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return doc, nil
}

// Parse parses a complete XML document. The returned node has type
// DocumentNode; its element child is the root element.
func Parse(data []byte) (*Node, error) {
	doc := &Node{Type: DocumentNode}
	if err := decodeInto(doc, bytes.TrimPrefix(data, utf8BOM)); err != nil {
		return nil, err
	}
	if doc.Root() == nil {
		return nil, errors.New("no root element")
	}
	return doc, nil
}

// ParseFragment parses mixed content (text and elements with no single
// root) the way it would appear inside an element.
func ParseFragment(s string) ([]*Node, error) {
	wrapper := &Node{Type: DocumentNode}
	if err := decodeInto(wrapper, []byte("<root>"+s+"</root>")); err != nil {
		return nil, err
	}
	root := wrapper.Root()
	if root == nil || len(wrapper.Children) != 1 {
		return nil, errors.New("fragment is not well-formed")
	}
	nodes := root.Children
	for _, c := range nodes {
		c.Parent = nil
	}
	return nodes, nil
}

// decodeInto reads tokens from data and appends them under parent.
// RawToken keeps prefixes as written, so matching of end tags is checked here.
func decodeInto(parent *Node, data []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = xml.HTMLEntity

	cur := parent
	rootSeen := false

	for {
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if cur == parent {
				if rootSeen {
					return fmt.Errorf("line %d: multiple root elements", lineOf(data, dec.InputOffset()))
				}
				rootSeen = true
			}
			el := &Node{
				Type:   ElementNode,
				Name:   t.Name,
				Attr:   append([]xml.Attr(nil), t.Attr...),
				Parent: cur,
			}
			off := dec.InputOffset()
			el.SelfClosing = off >= 2 && string(data[off-2:off]) == "/>"
			cur.Children = append(cur.Children, el)
			cur = el

		case xml.EndElement:
			if cur == parent || cur.Name != t.Name {
				return fmt.Errorf("line %d: unexpected end element </%s>", lineOf(data, dec.InputOffset()), qualified(t.Name))
			}
			cur = cur.Parent

		case xml.CharData:
			text := string(t)
			if cur == parent && strings.TrimSpace(text) != "" {
				return fmt.Errorf("line %d: text outside root element", lineOf(data, dec.InputOffset()))
			}
			if n := len(cur.Children); n > 0 && cur.Children[n-1].Type == TextNode {
				cur.Children[n-1].Data += text
				continue
			}
			cur.Children = append(cur.Children, &Node{Type: TextNode, Data: text, Parent: cur})

		case xml.Comment:
			cur.Children = append(cur.Children, &Node{Type: CommentNode, Data: string(t), Parent: cur})

		case xml.ProcInst:
			cur.Children = append(cur.Children, &Node{Type: ProcInstNode, Target: t.Target, Data: string(t.Inst), Parent: cur})

		case xml.Directive:
			cur.Children = append(cur.Children, &Node{Type: DirectiveNode, Data: string(t), Parent: cur})
		}
	}

	if cur != parent {
		return fmt.Errorf("unclosed element <%s>", qualified(cur.Name))
	}
	return nil
}

func lineOf(data []byte, offset int64) int {
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	return bytes.Count(data[:offset], []byte("\n")) + 1
}

func qualified(name xml.Name) string {
	if name.Space == "" {
		return name.Local
	}
	return name.Space + ":" + name.Local
}

// ---------------------------------------------------------------------------
// Navigation
// ---------------------------------------------------------------------------

// Root returns the root element of a document node, or nil.
func (n *Node) Root() *Node {
	for _, c := range n.Children {
		if c.Type == ElementNode {
			return c
		}
	}
	return nil
}

// Elements returns the element children of n in document order.
func (n *Node) Elements() []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Type == ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// HasElements reports whether n has at least one element child.
func (n *Node) HasElements() bool {
	for _, c := range n.Children {
		if c.Type == ElementNode {
			return true
		}
	}
	return false
}

// ChildElement returns the first element child with the given local name.
func (n *Node) ChildElement(local string) *Node {
	for _, c := range n.Children {
		if c.Type == ElementNode && c.Name.Local == local {
			return c
		}
	}
	return nil
}

// LeafElements returns every element under n (n included when it is an
// element) that has no element children, in document order.
func (n *Node) LeafElements() []*Node {
	var out []*Node
	var walk func(*Node)
	walk = func(x *Node) {
		if x.Type == ElementNode && !x.HasElements() {
			out = append(out, x)
			return
		}
		for _, c := range x.Children {
			if c.Type == ElementNode {
				walk(c)
			}
		}
	}
	walk(n)
	return out
}

// NextSiblings returns the nodes that follow n under the same parent.
func (n *Node) NextSiblings() []*Node {
	if n.Parent == nil {
		return nil
	}
	for i, c := range n.Parent.Children {
		if c == n {
			return n.Parent.Children[i+1:]
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Source annotations
// ---------------------------------------------------------------------------

var sourceTextPattern = regexp.MustCompile(`(?s)<En>(.*)</En>`)

// SourceText finds the English annotation comment that belongs to n.
// Siblings after n are scanned in order; comments that don't carry an
// annotation are skipped, and the scan stops at the next element or at
// non-blank text.
func (n *Node) SourceText() (string, bool) {
	for _, s := range n.NextSiblings() {
		switch s.Type {
		case CommentNode:
			if m := sourceTextPattern.FindStringSubmatch(s.Data); m != nil {
				return strings.TrimSpace(m[1]), true
			}
		case ElementNode:
			return "", false
		case TextNode:
			if strings.TrimSpace(s.Data) != "" {
				return "", false
			}
		}
	}
	return "", false
}

// ---------------------------------------------------------------------------
// Editing
// ---------------------------------------------------------------------------

// InnerXML serializes the children of n.
func (n *Node) InnerXML() string {
	var b strings.Builder
	for _, c := range n.Children {
		writeNode(&b, c)
	}
	return b.String()
}

// SetInnerXML replaces the children of n with the parsed fragment s. When s
// is not well-formed it is stored as plain text instead and false is
// returned.
func (n *Node) SetInnerXML(s string) bool {
	nodes, err := ParseFragment(s)
	if err != nil {
		n.SetText(s)
		return false
	}
	for _, c := range nodes {
		c.Parent = n
	}
	n.Children = nodes
	return true
}

// SetText replaces the children of n with a single text node.
func (n *Node) SetText(s string) {
	n.Children = nil
	if s != "" {
		n.Children = []*Node{{Type: TextNode, Data: s, Parent: n}}
	}
}

// Text returns the concatenated character data under n.
func (n *Node) Text() string {
	var b strings.Builder
	var walk func(*Node)
	walk = func(x *Node) {
		for _, c := range x.Children {
			switch c.Type {
			case TextNode:
				b.WriteString(c.Data)
			case ElementNode:
				walk(c)
			}
		}
	}
	walk(n)
	return b.String()
}

// AppendElement adds a new empty element as the last element child of n,
// following the indentation already used between n's children.
func (n *Node) AppendElement(local string) *Node {
	el := &Node{Type: ElementNode, Name: xml.Name{Local: local}, Parent: n}

	indent, pretty := n.childIndent()
	if !pretty {
		n.Children = append(n.Children, el)
		return el
	}

	ws := &Node{Type: TextNode, Data: indent, Parent: n}
	last := len(n.Children) - 1
	if last >= 0 && isBlankText(n.Children[last]) {
		tail := n.Children[last]
		n.Children = append(n.Children[:last], ws, el, tail)
		return el
	}
	closing := &Node{Type: TextNode, Data: "\n" + strings.Repeat("  ", n.depth()), Parent: n}
	n.Children = append(n.Children, ws, el, closing)
	return el
}

// childIndent returns the whitespace used before element children of n.
// pretty is false for compact elements that have children but no
// whitespace between them.
func (n *Node) childIndent() (indent string, pretty bool) {
	for i, c := range n.Children {
		if c.Type == ElementNode && i > 0 && isBlankText(n.Children[i-1]) {
			ws := n.Children[i-1].Data
			if j := strings.LastIndex(ws, "\n"); j >= 0 {
				ws = ws[j:]
			}
			return ws, true
		}
	}
	if len(n.Children) > 0 {
		return "", false
	}
	return "\n" + strings.Repeat("  ", n.depth()+1), true
}

func (n *Node) depth() int {
	d := 0
	for p := n.Parent; p != nil && p.Type == ElementNode; p = p.Parent {
		d++
	}
	return d
}

func isBlankText(n *Node) bool {
	return n.Type == TextNode && strings.TrimSpace(n.Data) == ""
}

// NewDocument returns a document with an XML declaration and an empty root.
func NewDocument(rootName string) *Node {
	doc := &Node{Type: DocumentNode}
	root := &Node{Type: ElementNode, Name: xml.Name{Local: rootName}, Parent: doc}
	doc.Children = []*Node{
		{Type: ProcInstNode, Target: "xml", Data: `version="1.0" encoding="utf-8"`, Parent: doc},
		{Type: TextNode, Data: "\n", Parent: doc},
		root,
	}
	return doc
}

// ---------------------------------------------------------------------------
// Writing
// ---------------------------------------------------------------------------

// Bytes serializes the node and everything under it.
func (n *Node) Bytes() []byte {
	var b strings.Builder
	writeNode(&b, n)
	out := b.String()
	if n.Type == DocumentNode && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return []byte(out)
}

// WriteFile writes the document to disk, creating parent directories.
func (n *Node) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(path, n.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func writeNode(b *strings.Builder, n *Node) {
	switch n.Type {
	case DocumentNode:
		for _, c := range n.Children {
			writeNode(b, c)
		}

	case ElementNode:
		b.WriteString("<")
		b.WriteString(qualified(n.Name))
		for _, a := range n.Attr {
			b.WriteString(" ")
			b.WriteString(qualified(a.Name))
			b.WriteString(`="`)
			b.WriteString(escapeAttr(a.Value))
			b.WriteString(`"`)
		}
		if len(n.Children) == 0 && n.SelfClosing {
			b.WriteString("/>")
			return
		}
		b.WriteString(">")
		for _, c := range n.Children {
			writeNode(b, c)
		}
		b.WriteString("</")
		b.WriteString(qualified(n.Name))
		b.WriteString(">")

	case TextNode:
		b.WriteString(escapeText(n.Data))

	case CommentNode:
		b.WriteString("<!--")
		b.WriteString(n.Data)
		b.WriteString("-->")

	case ProcInstNode:
		b.WriteString("<?")
		b.WriteString(n.Target)
		if inst := strings.TrimLeft(n.Data, " \t\r\n"); inst != "" {
			b.WriteString(" ")
			b.WriteString(inst)
		}
		b.WriteString("?>")

	case DirectiveNode:
		b.WriteString("<!")
		b.WriteString(n.Data)
		b.WriteString(">")
	}
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "\n", "&#xA;", "\t", "&#x9;")
)

func escapeText(s string) string { return textEscaper.Replace(s) }

func escapeAttr(s string) string { return attrEscaper.Replace(s) }
