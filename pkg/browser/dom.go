package browser

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// maxElementText bounds the text shown for one indexed element.
const maxElementText = 80

var (
	skippedTags = set("script", "style", "noscript", "template", "iframe", "embed", "object", "svg")

	interactiveTags = set("a", "button", "input", "select", "textarea", "summary", "option")

	interactiveRoles = set("button", "link", "checkbox", "radio", "menuitem", "tab", "switch",
		"option", "textbox", "combobox", "searchbox", "slider")

	blockTags = set("div", "p", "section", "article", "header", "footer", "nav", "main", "aside",
		"h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "li", "table", "tr", "td", "th",
		"form", "fieldset", "blockquote", "pre")

	voidTags = set("area", "base", "br", "col", "embed", "hr", "img", "input", "link", "meta",
		"param", "source", "track", "wbr")

	keptAttributes = set("id", "class", "role", "aria-label", "aria-describedby", "title", "name",
		"type", "placeholder", "value", "href", "alt", "src", "action", "method", "target", "for", "summary")
)

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}

// DOMIndex is the interactive-element index of one document.
type DOMIndex struct {
	Elements map[int]DOMElement

	// Text lists every element as "[index]<tag attrs>text</tag>", one per
	// line, in document order.
	Text string
}

// BuildDOMIndex parses a document and numbers its visible interactive
// elements in document order, starting at zero.
func BuildDOMIndex(rawHTML string) (*DOMIndex, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	idx := &DOMIndex{Elements: make(map[int]DOMElement)}
	var lines []string

	var walk func(n *html.Node, xpath string)
	walk = func(n *html.Node, xpath string) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			tag := strings.ToLower(c.Data)
			if skippedTags[tag] || isHidden(c) {
				continue
			}
			path := fmt.Sprintf("%s/%s[%d]", xpath, tag, siblingPosition(c))
			if isInteractive(c) {
				el := DOMElement{
					Index:      len(idx.Elements),
					Tag:        tag,
					XPath:      path,
					Attributes: keptAttrs(c),
					Text:       elementText(c),
				}
				idx.Elements[el.Index] = el
				lines = append(lines, formatElement(el))
			}
			walk(c, path)
		}
	}
	walk(doc, "")

	idx.Text = strings.Join(lines, "\n")
	return idx, nil
}

func siblingPosition(n *html.Node) int {
	pos := 1
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode && s.Data == n.Data {
			pos++
		}
	}
	return pos
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func isHidden(n *html.Node) bool {
	if _, ok := attr(n, "hidden"); ok {
		return true
	}
	if v, _ := attr(n, "aria-hidden"); v == "true" {
		return true
	}
	if v, _ := attr(n, "type"); strings.EqualFold(n.Data, "input") && strings.EqualFold(v, "hidden") {
		return true
	}
	style, _ := attr(n, "style")
	style = strings.ToLower(strings.ReplaceAll(style, " ", ""))
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

func isInteractive(n *html.Node) bool {
	tag := strings.ToLower(n.Data)
	if tag == "a" {
		_, ok := attr(n, "href")
		return ok
	}
	if interactiveTags[tag] {
		return true
	}
	if role, ok := attr(n, "role"); ok && interactiveRoles[strings.ToLower(role)] {
		return true
	}
	if _, ok := attr(n, "onclick"); ok {
		return true
	}
	v, ok := attr(n, "contenteditable")
	return ok && v != "false"
}

func keptAttrs(n *html.Node) map[string]string {
	out := make(map[string]string)
	for _, a := range n.Attr {
		key := strings.ToLower(a.Key)
		if keptAttributes[key] || strings.HasPrefix(key, "data-") {
			out[key] = a.Val
		}
	}
	return out
}

func elementText(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(c *html.Node) {
		switch c.Type {
		case html.TextNode:
			b.WriteString(c.Data)
			b.WriteByte(' ')
		case html.ElementNode:
			if skippedTags[strings.ToLower(c.Data)] {
				return
			}
		}
		for child := c.FirstChild; child != nil; child = child.NextSibling {
			collect(child)
		}
	}
	collect(n)

	text := strings.Join(strings.Fields(b.String()), " ")
	if text == "" {
		for _, key := range []string{"aria-label", "placeholder", "value", "title", "alt"} {
			if v, ok := attr(n, key); ok && strings.TrimSpace(v) != "" {
				text = strings.TrimSpace(v)
				break
			}
		}
	}
	return truncate(text, maxElementText)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}

func formatElement(el DOMElement) string {
	keys := make([]string, 0, len(el.Attributes))
	for k := range el.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "[%d]<%s", el.Index, el.Tag)
	for _, k := range keys {
		fmt.Fprintf(&b, ` %s="%s"`, k, truncate(el.Attributes[k], maxElementText))
	}
	b.WriteString(">")
	b.WriteString(el.Text)
	b.WriteString("</")
	b.WriteString(el.Tag)
	b.WriteString(">")
	return b.String()
}

// VisibleText returns the text a reader would see, one block element per
// line, with hidden subtrees and scripts removed.
func VisibleText(rawHTML string) (string, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	var lines []string
	var line strings.Builder
	flush := func() {
		if text := strings.Join(strings.Fields(line.String()), " "); text != "" {
			lines = append(lines, text)
		}
		line.Reset()
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			line.WriteString(n.Data)
			line.WriteByte(' ')
			return
		case html.ElementNode:
			tag := strings.ToLower(n.Data)
			if skippedTags[tag] || tag == "head" || isHidden(n) {
				return
			}
			if blockTags[tag] || tag == "br" {
				flush()
				defer flush()
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	flush()

	return strings.Join(lines, "\n"), nil
}

// CleanedHTML is a page reduced to its semantic structure.
type CleanedHTML struct {
	HTML        string
	Title       string
	Description string
	Truncated   bool
}

// CleanHTML strips scripts, styles and presentational attributes from a
// document, keeping at most maxLength characters of output.
func CleanHTML(rawHTML string, maxLength int) (*CleanedHTML, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	c := &cleaner{max: maxLength}
	c.node(doc, 0)

	return &CleanedHTML{
		HTML:        c.b.String(),
		Title:       findTitle(doc),
		Description: findMetaDescription(doc),
		Truncated:   c.truncated,
	}, nil
}

type cleaner struct {
	b         strings.Builder
	n         int
	max       int
	truncated bool
}

func (c *cleaner) node(n *html.Node, depth int) {
	if c.truncated {
		return
	}
	switch n.Type {
	case html.CommentNode:
		return
	case html.TextNode:
		c.text(n.Data)
		return
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if skippedTags[tag] || tag == "head" {
			return
		}
		c.element(n, tag, depth)
		return
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.node(child, depth)
	}
}

func (c *cleaner) text(raw string) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return
	}
	if c.n+len(text) > c.max {
		remaining := c.max - c.n
		if remaining < 0 {
			remaining = 0
		}
		c.b.WriteString(text[:remaining])
		c.b.WriteString("...")
		c.n = c.max
		c.truncated = true
		return
	}
	c.b.WriteString(text)
	c.n += len(text)
}

func (c *cleaner) element(n *html.Node, tag string, depth int) {
	block := blockTags[tag]
	if depth > 0 && block {
		c.b.WriteString("\n")
		c.b.WriteString(strings.Repeat("  ", depth))
	}

	c.b.WriteString("<")
	c.b.WriteString(tag)
	for _, a := range n.Attr {
		key := strings.ToLower(a.Key)
		if keptAttributes[key] || strings.HasPrefix(key, "data-") {
			fmt.Fprintf(&c.b, ` %s="%s"`, key, html.EscapeString(a.Val))
		}
	}
	c.b.WriteString(">")
	c.n += len(tag) + 2

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.node(child, depth+1)
	}

	if voidTags[tag] {
		return
	}
	if block {
		c.b.WriteString("\n")
		c.b.WriteString(strings.Repeat("  ", depth))
	}
	c.b.WriteString("</")
	c.b.WriteString(tag)
	c.b.WriteString(">")
	c.n += len(tag) + 3
}

func findFirst(n *html.Node, match func(*html.Node) (string, bool)) string {
	if n.Type == html.ElementNode {
		if v, ok := match(n); ok {
			return v
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if v := findFirst(c, match); v != "" {
			return v
		}
	}
	return ""
}

func findTitle(doc *html.Node) string {
	return findFirst(doc, func(n *html.Node) (string, bool) {
		if n.Data != "title" || n.FirstChild == nil || n.FirstChild.Type != html.TextNode {
			return "", false
		}
		return strings.TrimSpace(n.FirstChild.Data), true
	})
}

func findMetaDescription(doc *html.Node) string {
	return findFirst(doc, func(n *html.Node) (string, bool) {
		if n.Data != "meta" {
			return "", false
		}
		if name, _ := attr(n, "name"); name != "description" {
			return "", false
		}
		content, _ := attr(n, "content")
		return strings.TrimSpace(content), content != ""
	})
}
