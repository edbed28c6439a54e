package extractor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/net/html"
)

var amountRe = regexp.MustCompile(`^(\d+(?:[.,]\d+)?)\s*([A-Za-zµ%]*)$`)

// nutritionRows parses the first nutrition-fact table found in the source,
// trying markdown pipe tables before inline HTML tables. Rows that cannot
// be parsed are skipped and counted.
func nutritionRows(source string) ([]interface{}, int) {
	for _, table := range pipeTables(source) {
		if rows, skipped, ok := tableNutrients(table); ok {
			return rows, skipped
		}
	}
	if strings.Contains(strings.ToLower(source), "<table") {
		for _, table := range htmlTables(source) {
			if rows, skipped, ok := tableNutrients(table); ok {
				return rows, skipped
			}
		}
	}
	return nil, 0
}

// tableNutrients converts a header+rows cell grid into nutrition rows. The
// header must name a nutrient column and an amount column; a daily-value
// column is optional.
func tableNutrients(table [][]string) ([]interface{}, int, bool) {
	if len(table) < 2 {
		return nil, 0, false
	}
	nameCol, amountCol, dvCol, ok := nutritionColumns(table[0])
	if !ok {
		return nil, 0, false
	}
	var rows []interface{}
	skipped := 0
	for _, cells := range table[1:] {
		row, ok := nutrientRow(cells, nameCol, amountCol, dvCol)
		if !ok {
			skipped++
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 && skipped == 0 {
		return nil, 0, false
	}
	return rows, skipped, true
}

func nutritionColumns(header []string) (name, amount, dv int, ok bool) {
	name, amount, dv = -1, -1, -1
	for i, col := range header {
		col = strings.ToLower(strings.TrimSpace(col))
		switch {
		case name < 0 && (strings.Contains(col, "nutrient") || strings.Contains(col, "nutrition")):
			name = i
		case amount < 0 && (strings.Contains(col, "amount") || strings.Contains(col, "quantity") || strings.HasPrefix(col, "per ")):
			amount = i
		case dv < 0 && (strings.Contains(col, "dv") || strings.Contains(col, "daily value")):
			dv = i
		}
	}
	return name, amount, dv, name >= 0 && amount >= 0
}

func nutrientRow(cells []string, nameCol, amountCol, dvCol int) (map[string]interface{}, bool) {
	if nameCol >= len(cells) || amountCol >= len(cells) {
		return nil, false
	}
	name := strings.TrimSpace(cells[nameCol])
	if name == "" {
		return nil, false
	}
	m := amountRe.FindStringSubmatch(strings.TrimSpace(cells[amountCol]))
	if m == nil {
		return nil, false
	}
	quantity, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return nil, false
	}
	row := map[string]interface{}{
		"name":     name,
		"quantity": quantity,
	}
	if unit := strings.TrimSpace(m[2]); unit != "" {
		row["unit"] = unit
	}
	if dvCol >= 0 && dvCol < len(cells) {
		dvText := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(cells[dvCol]), "%"))
		if dvText != "" {
			if dv, err := strconv.ParseFloat(dvText, 64); err == nil {
				row["daily_value_percent"] = dv
			}
		}
	}
	return row, true
}

// pipeTables returns every markdown pipe table in the source as a cell
// grid, header row first.
func pipeTables(source string) [][][]string {
	src := []byte(source)
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	doc := md.Parser().Parse(text.NewReader(src))

	var tables [][][]string
	var walk func(node ast.Node)
	walk = func(node ast.Node) {
		for child := node.FirstChild(); child != nil; child = child.NextSibling() {
			if table, ok := child.(*east.Table); ok {
				tables = append(tables, tableCells(table, src))
				continue
			}
			walk(child)
		}
	}
	walk(doc)
	return tables
}

func tableCells(table *east.Table, src []byte) [][]string {
	var rows [][]string
	for row := table.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			if c, ok := cell.(*east.TableCell); ok {
				cells = append(cells, string(c.Text(src)))
			}
		}
		if len(cells) > 0 {
			rows = append(rows, cells)
		}
	}
	return rows
}

// htmlTables returns every <table> in the source as a cell grid. The parser
// is tolerant of fragments, so OCR output that embeds bare table markup
// still parses.
func htmlTables(source string) [][][]string {
	doc, err := html.Parse(strings.NewReader(source))
	if err != nil {
		return nil
	}
	var tables [][][]string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "table" {
			if rows := htmlTableRows(n); len(rows) > 0 {
				tables = append(tables, rows)
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return tables
}

func htmlTableRows(table *html.Node) [][]string {
	var rows [][]string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var cells []string
			for cell := n.FirstChild; cell != nil; cell = cell.NextSibling {
				if cell.Type == html.ElementNode && (cell.Data == "td" || cell.Data == "th") {
					cells = append(cells, strings.TrimSpace(htmlText(cell)))
				}
			}
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(table)
	return rows
}

func htmlText(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return sb.String()
}
