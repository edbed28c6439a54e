package extractor

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Lines recovers the ordered logical text lines of recognized markdown:
// AST-derived lines (headings, paragraphs, list items, table cells) first,
// then the raw source lines, so plain OCR text without markdown structure
// behaves the same as structured output. First-match-wins extraction makes
// the overlap between the two passes harmless.
func Lines(source string) []string {
	if strings.TrimSpace(source) == "" {
		return nil
	}
	src := []byte(source)
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	doc := md.Parser().Parse(text.NewReader(src))

	var lines []string
	collectLines(doc, src, &lines)
	if strings.Contains(strings.ToLower(source), "<table") {
		for _, table := range htmlTables(source) {
			for _, row := range table {
				lines = append(lines, row...)
			}
		}
	}
	lines = append(lines, strings.Split(source, "\n")...)
	return lines
}

func collectLines(node ast.Node, src []byte, out *[]string) {
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch n := child.(type) {
		case *ast.Heading:
			*out = append(*out, string(n.Text(src)))
		case *ast.Paragraph:
			*out = append(*out, paragraphLines(n, src)...)
		case *ast.TextBlock:
			*out = append(*out, paragraphLines(n, src)...)
		case *east.Table:
			collectTableLines(n, src, out)
		case *ast.List, *ast.ListItem, *ast.Blockquote:
			collectLines(child, src, out)
		}
	}
}

// paragraphLines splits a paragraph's inline content at soft and hard line
// breaks, since each visual line may carry its own label/value pair.
func paragraphLines(n ast.Node, src []byte) []string {
	var lines []string
	var sb strings.Builder
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		if t, ok := child.(*ast.Text); ok {
			sb.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				lines = append(lines, sb.String())
				sb.Reset()
			}
			continue
		}
		sb.WriteString(string(child.Text(src)))
	}
	if sb.Len() > 0 {
		lines = append(lines, sb.String())
	}
	return lines
}

func collectTableLines(table *east.Table, src []byte, out *[]string) {
	for row := table.FirstChild(); row != nil; row = row.NextSibling() {
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			if c, ok := cell.(*east.TableCell); ok {
				*out = append(*out, string(c.Text(src)))
			}
		}
	}
}
