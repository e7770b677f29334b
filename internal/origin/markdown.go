package origin

import (
	"strings"

	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"
)

// MarkdownToText renders Markdown as plain text. Block elements end with a
// blank line, soft breaks become spaces and markup is dropped.
func MarkdownToText(md []byte) string {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	doc := p.Parse(md)

	var b strings.Builder
	ast.WalkFunc(doc, func(node ast.Node, entering bool) ast.WalkStatus {
		switch n := node.(type) {
		case *ast.Text:
			if entering {
				b.Write(n.Literal)
			}
		case *ast.Code:
			if entering {
				b.Write(n.Literal)
			}
		case *ast.CodeBlock:
			if entering {
				b.Write(n.Literal)
				b.WriteString("\n\n")
			}
		case *ast.Softbreak:
			if entering {
				b.WriteString(" ")
			}
		case *ast.Hardbreak:
			if entering {
				b.WriteString("\n")
			}
		case *ast.Paragraph, *ast.Heading:
			if !entering {
				b.WriteString("\n\n")
			}
		}
		return ast.GoToNext
	})
	return b.String()
}
