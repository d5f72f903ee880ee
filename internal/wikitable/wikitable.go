// Package wikitable reads MediaWiki "wikitable" tables into header-keyed
// records.
package wikitable

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

// Anonymous is the name given to tables without a caption or heading. Later
// anonymous tables replace earlier ones.
const Anonymous = "__anon__"

// Record maps column headers to cell text for one row.
type Record map[string]string

// Table is a named table's rows as cell text; the first row holds headers.
type Table struct {
	Name string
	Rows [][]string
}

var headingPattern = regexp.MustCompile(`^h\d+$`)

// Find returns every table.wikitable under sel in document order.
func Find(sel *goquery.Selection) []Table {
	var out []Table
	sel.Find("table.wikitable").Each(func(_ int, t *goquery.Selection) {
		name := Name(t)
		if name == "" {
			name = Anonymous
		}
		out = append(out, Table{Name: name, Rows: Rows(t)})
	})
	return out
}

// Parse names and converts every wikitable under sel. The result always has
// an Anonymous entry, empty when no anonymous table exists.
func Parse(sel *goquery.Selection) map[string][]Record {
	tables := map[string][][]string{Anonymous: nil}
	for _, t := range Find(sel) {
		tables[t.Name] = t.Rows
	}
	out := make(map[string][]Record, len(tables))
	for name, rows := range tables {
		out[name] = ToRecords(rows)
	}
	return out
}

// Rows reads the rows of the table's first tbody. A row's cells are its th
// elements when it has any, otherwise its td elements.
func Rows(table *goquery.Selection) [][]string {
	var rows [][]string
	table.Find("tbody").First().Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("th")
		if cells.Length() == 0 {
			cells = tr.Find("td")
		}
		row := make([]string, 0, cells.Length())
		cells.Each(func(_ int, c *goquery.Selection) {
			row = append(row, cleanText(c.Text()))
		})
		rows = append(rows, row)
	})
	return rows
}

// Name is the table caption, or else the text of the closest heading found
// by walking previous siblings and then parents. "[edit]" links are dropped.
func Name(table *goquery.Selection) string {
	if caption := table.Find("caption").First(); caption.Length() > 0 {
		return cleanText(caption.Text())
	}
	if table.Length() == 0 {
		return ""
	}
	for n := table.Get(0); n != nil; n = above(n) {
		if h := heading(n); h != nil {
			text := goquery.NewDocumentFromNode(h).Text()
			return cleanText(strings.ReplaceAll(text, "[edit]", ""))
		}
	}
	return ""
}

func above(n *html.Node) *html.Node {
	if n.PrevSibling != nil {
		return n.PrevSibling
	}
	return n.Parent
}

// heading returns n when it is a heading element. Newer MediaWiki skins wrap
// headings in div.mw-heading; the wrapped heading counts too.
func heading(n *html.Node) *html.Node {
	if n.Type != html.ElementNode {
		return nil
	}
	if headingPattern.MatchString(n.Data) {
		return n
	}
	if n.Data != "div" || !hasClass(n, "mw-heading") {
		return nil
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && headingPattern.MatchString(c.Data) {
			return c
		}
	}
	return nil
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" {
			for _, f := range strings.Fields(a.Val) {
				if f == class {
					return true
				}
			}
		}
	}
	return false
}

// ToRecords zips each row after the first with the header row. Extra cells or
// headers are dropped and a repeated header keeps its last cell.
func ToRecords(rows [][]string) []Record {
	if len(rows) == 0 {
		return []Record{}
	}
	headers := rows[0]
	out := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(Record, len(row))
		for i := 0; i < len(row) && i < len(headers); i++ {
			rec[headers[i]] = row[i]
		}
		out = append(out, rec)
	}
	return out
}

func cleanText(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}
