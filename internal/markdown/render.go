package markdown

import (
	"html"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var parser = goldmark.New(goldmark.WithExtensions(extension.GFM)).Parser()

// ToTelegramHTML converts markdown to Telegram's HTML parse mode. Only tags
// Telegram accepts are emitted; everything else becomes escaped text.
func ToTelegramHTML(markdown string, tables TableMode) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}
	src := []byte(markdown)
	doc := parser.Parse(text.NewReader(src))

	r := &renderer{src: src, tables: tables}
	return strings.TrimSpace(r.blocks(doc, 0))
}

// Escape escapes text for Telegram HTML.
func Escape(s string) string {
	return escaper.Replace(s)
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeAttr(s string) string {
	return html.EscapeString(s)
}

type renderer struct {
	src    []byte
	tables TableMode
}

// blocks renders the block children of n separated by blank lines.
func (r *renderer) blocks(n ast.Node, depth int) string {
	var parts []string
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if s := r.block(c, depth); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (r *renderer) block(n ast.Node, depth int) string {
	switch n := n.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		return r.inlines(n)
	case *ast.Heading:
		return "<b>" + r.inlines(n) + "</b>"
	case *ast.ThematicBreak:
		return "──────────"
	case *ast.FencedCodeBlock:
		body := Escape(strings.TrimRight(r.lines(n), "\n"))
		if lang := string(n.Language(r.src)); lang != "" {
			return `<pre><code class="language-` + escapeAttr(lang) + `">` + body + "</code></pre>"
		}
		return "<pre>" + body + "</pre>"
	case *ast.CodeBlock:
		return "<pre>" + Escape(strings.TrimRight(r.lines(n), "\n")) + "</pre>"
	case *ast.HTMLBlock:
		raw := r.lines(n)
		if n.HasClosure() {
			raw += string(n.ClosureLine.Value(r.src))
		}
		return Escape(strings.TrimRight(raw, "\n"))
	case *ast.Blockquote:
		return "<blockquote>" + r.blocks(n, depth) + "</blockquote>"
	case *ast.List:
		return r.list(n, depth)
	case *east.Table:
		return r.table(n)
	default:
		if n.HasChildren() {
			return r.blocks(n, depth)
		}
		return ""
	}
}

func (r *renderer) list(l *ast.List, depth int) string {
	indent := strings.Repeat("  ", depth)
	num := l.Start
	if num == 0 {
		num = 1
	}
	var items []string
	for item := l.FirstChild(); item != nil; item = item.NextSibling() {
		marker := "• "
		if l.IsOrdered() {
			marker = strconv.Itoa(num) + ". "
			num++
		}
		var body []string
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			if nested, ok := c.(*ast.List); ok {
				body = append(body, r.list(nested, depth+1))
				continue
			}
			if s := r.block(c, depth+1); s != "" {
				body = append(body, s)
			}
		}
		line := indent + marker
		if len(body) > 0 {
			line += body[0]
			if len(body) > 1 {
				line += "\n" + strings.Join(body[1:], "\n")
			}
		}
		items = append(items, line)
	}
	return strings.Join(items, "\n")
}

func (r *renderer) table(n *east.Table) string {
	t := table{align: n.Alignments}
	for row := n.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for c := row.FirstChild(); c != nil; c = c.NextSibling() {
			cells = append(cells, strings.TrimSpace(r.plain(c)))
		}
		if _, ok := row.(*east.TableHeader); ok {
			t.headers = cells
		} else {
			t.rows = append(t.rows, cells)
		}
	}
	switch r.tables {
	case TableModeBullets:
		return Escape(t.toBullets())
	case TableModeCode:
		return "<pre>" + Escape(t.toGrid()) + "</pre>"
	default:
		return Escape(t.toPipes())
	}
}

func (r *renderer) lines(n ast.Node) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(r.src))
	}
	return b.String()
}

// inlines renders the inline children of n.
func (r *renderer) inlines(n ast.Node) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		b.WriteString(r.inline(c))
	}
	return b.String()
}

func (r *renderer) inline(n ast.Node) string {
	switch n := n.(type) {
	case *ast.Text:
		s := Escape(string(n.Segment.Value(r.src)))
		if n.SoftLineBreak() || n.HardLineBreak() {
			s += "\n"
		}
		return s
	case *ast.String:
		return Escape(string(n.Value))
	case *ast.CodeSpan:
		return "<code>" + Escape(r.plain(n)) + "</code>"
	case *ast.Emphasis:
		tag := "i"
		if n.Level >= 2 {
			tag = "b"
		}
		return "<" + tag + ">" + r.inlines(n) + "</" + tag + ">"
	case *east.Strikethrough:
		return "<s>" + r.inlines(n) + "</s>"
	case *ast.Link:
		return `<a href="` + escapeAttr(string(n.Destination)) + `">` + r.inlines(n) + "</a>"
	case *ast.AutoLink:
		return `<a href="` + escapeAttr(string(n.URL(r.src))) + `">` + Escape(string(n.Label(r.src))) + "</a>"
	case *ast.Image:
		label := r.plain(n)
		if label == "" {
			label = string(n.Destination)
		}
		return `<a href="` + escapeAttr(string(n.Destination)) + `">` + Escape(label) + "</a>"
	case *ast.RawHTML:
		var b strings.Builder
		for i := 0; i < n.Segments.Len(); i++ {
			seg := n.Segments.At(i)
			b.Write(seg.Value(r.src))
		}
		return Escape(b.String())
	case *east.TaskCheckBox:
		if n.IsChecked {
			return "☑ "
		}
		return "☐ "
	default:
		return r.inlines(n)
	}
}

// plain collects the text of n without markup.
func (r *renderer) plain(n ast.Node) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch c := c.(type) {
		case *ast.Text:
			b.Write(c.Segment.Value(r.src))
			if c.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(c.Value)
		case *ast.AutoLink:
			b.Write(c.Label(r.src))
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}
