package telegram

import (
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
)

// markdownToHTML renders Markdown as the HTML subset Telegram accepts
// (b, i, s, code, pre, a, blockquote). Anything else, raw HTML included,
// comes out as escaped text.
func markdownToHTML(md string) string {
	src := []byte(md)
	r := &htmlWriter{src: src}
	_ = ast.Walk(markdown.Parser().Parse(text.NewReader(src)), r.visit)
	return strings.TrimRight(r.out.String(), "\n")
}

type htmlWriter struct {
	src []byte
	out strings.Builder
}

func (w *htmlWriter) visit(n ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering && n.Type() == ast.TypeBlock && n.PreviousSibling() != nil {
		w.blockGap(n)
	}
	switch n := n.(type) {
	case *ast.Text:
		if entering {
			w.text(n.Segment.Value(w.src))
			if n.SoftLineBreak() || n.HardLineBreak() {
				w.out.WriteByte('\n')
			}
		}
	case *ast.String:
		if entering {
			w.text(n.Value)
		}
	case *ast.Emphasis:
		if n.Level >= 2 {
			w.tag("b", entering)
		} else {
			w.tag("i", entering)
		}
	case *east.Strikethrough:
		w.tag("s", entering)
	case *ast.Heading:
		w.tag("b", entering)
	case *ast.Blockquote:
		w.tag("blockquote", entering)
	case *ast.CodeSpan:
		if entering {
			w.out.WriteString("<code>")
			for c := n.FirstChild(); c != nil; c = c.NextSibling() {
				switch c := c.(type) {
				case *ast.Text:
					w.text(c.Segment.Value(w.src))
				case *ast.String:
					w.text(c.Value)
				}
			}
			w.out.WriteString("</code>")
		}
		return ast.WalkSkipChildren, nil
	case *ast.FencedCodeBlock:
		if entering {
			if lang := n.Language(w.src); len(lang) > 0 {
				w.out.WriteString(`<pre><code class="language-`)
				w.attr(lang)
				w.out.WriteString(`">`)
				w.lines(n.Lines())
				w.out.WriteString("</code></pre>")
			} else {
				w.out.WriteString("<pre>")
				w.lines(n.Lines())
				w.out.WriteString("</pre>")
			}
		}
		return ast.WalkSkipChildren, nil
	case *ast.CodeBlock:
		if entering {
			w.out.WriteString("<pre>")
			w.lines(n.Lines())
			w.out.WriteString("</pre>")
		}
		return ast.WalkSkipChildren, nil
	case *ast.Link:
		w.anchor(n.Destination, entering)
	case *ast.Image:
		w.anchor(n.Destination, entering)
	case *ast.AutoLink:
		if entering {
			w.anchor(n.URL(w.src), true)
			w.text(n.Label(w.src))
			w.anchor(nil, false)
		}
	case *ast.ListItem:
		if entering {
			w.out.WriteString(listMarker(n))
		}
	case *ast.ThematicBreak:
		if entering {
			w.out.WriteString("----")
		}
	case *ast.RawHTML:
		if entering {
			for i := 0; i < n.Segments.Len(); i++ {
				seg := n.Segments.At(i)
				w.text(seg.Value(w.src))
			}
		}
	case *ast.HTMLBlock:
		if entering {
			w.lines(n.Lines())
			if n.HasClosure() {
				w.out.WriteByte('\n')
				w.text(n.ClosureLine.Value(w.src))
			}
		}
		return ast.WalkSkipChildren, nil
	}
	return ast.WalkContinue, nil
}

// blockGap separates a block from its previous sibling: one newline inside
// lists, a blank line elsewhere.
func (w *htmlWriter) blockGap(n ast.Node) {
	if _, ok := n.(*ast.ListItem); ok {
		w.out.WriteByte('\n')
		return
	}
	if _, ok := n.Parent().(*ast.ListItem); ok {
		w.out.WriteByte('\n')
		return
	}
	w.out.WriteString("\n\n")
}

func (w *htmlWriter) tag(name string, entering bool) {
	if entering {
		w.out.WriteString("<" + name + ">")
	} else {
		w.out.WriteString("</" + name + ">")
	}
}

func (w *htmlWriter) anchor(dest []byte, entering bool) {
	if !entering {
		w.out.WriteString("</a>")
		return
	}
	w.out.WriteString(`<a href="`)
	w.attr(dest)
	w.out.WriteString(`">`)
}

func (w *htmlWriter) lines(segs *text.Segments) {
	var b strings.Builder
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		b.Write(seg.Value(w.src))
	}
	w.text([]byte(strings.TrimRight(b.String(), "\n")))
}

func (w *htmlWriter) text(b []byte) { textEscaper.WriteString(&w.out, string(b)) }
func (w *htmlWriter) attr(b []byte) { attrEscaper.WriteString(&w.out, string(b)) }

func listMarker(item *ast.ListItem) string {
	list, ok := item.Parent().(*ast.List)
	if !ok || !list.IsOrdered() {
		return "• "
	}
	n := list.Start
	for s := item.PreviousSibling(); s != nil; s = s.PreviousSibling() {
		n++
	}
	return strconv.Itoa(n) + ". "
}
