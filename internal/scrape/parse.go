package scrape

import (
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/chanzer0/tififn-times/internal/model"
)

const (
	contentClass = "art-PostContent"
	minCells     = 6
	minBlocks    = 3
)

// Parse extracts log records from a log page. A page without the expected
// content container or nested table yields no records; malformed rows are
// dropped individually. LogDate is left for the caller to set.
func Parse(r io.Reader) ([]model.LogRecord, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "scrape.parse"))

	content := findFirst(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Div && hasClass(n, contentClass)
	})
	if content == nil {
		log.Debug("content container not found")
		return nil, nil
	}
	outer := findFirst(content, isTable)
	var inner *html.Node
	if outer != nil {
		inner = findFirst(outer, isTable)
	}
	if inner == nil {
		log.Debug("nested data table not found")
		return nil, nil
	}

	var records []model.LogRecord
	for _, tr := range findAll(inner, func(n *html.Node) bool { return n.DataAtom == atom.Tr }) {
		rec, ok := parseRow(tr)
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// ParseString is Parse over an in-memory page.
func ParseString(page string) ([]model.LogRecord, error) {
	if strings.TrimSpace(page) == "" {
		return nil, nil
	}
	return Parse(strings.NewReader(page))
}

// parseRow maps one table row to a record. Every other cell, starting at
// index 1, holds a block of line-separated fields:
//
//	block 0: case number, address, call type
//	block 1: time, apt/suite
//	block 2: agency, disposition, incident number
func parseRow(tr *html.Node) (model.LogRecord, bool) {
	cells := findAll(tr, func(n *html.Node) bool { return n.DataAtom == atom.Td })
	if len(cells) < minCells {
		return model.LogRecord{}, false
	}

	var blocks [][]string
	for i := 1; i < len(cells); i += 2 {
		blocks = append(blocks, textFragments(cells[i]))
	}
	if len(blocks) < minBlocks {
		return model.LogRecord{}, false
	}

	cfs, ok := parseCaseNumber(field(blocks[0], 0))
	if !ok {
		return model.LogRecord{}, false
	}

	rec := model.LogRecord{
		CaseNumber:     cfs,
		Address:        model.StringPtr(field(blocks[0], 1)),
		CallType:       model.StringPtr(field(blocks[0], 2)),
		AptSuite:       model.StringPtr(field(blocks[1], 1)),
		Agency:         model.StringPtr(field(blocks[2], 0)),
		Disposition:    model.StringPtr(field(blocks[2], 1)),
		IncidentNumber: model.StringPtr(field(blocks[2], 2)),
	}
	if t, ok := model.ParseTimeOfDay(field(blocks[1], 0)); ok {
		rec.LogTime = &t
	}
	return rec, true
}

func parseCaseNumber(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return n, true
}

func field(block []string, i int) string {
	if i < len(block) {
		return block[i]
	}
	return ""
}

// textFragments returns the trimmed, non-empty text nodes under n in
// document order. <br> separated lines come back as separate fragments.
func textFragments(n *html.Node) []string {
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				out = append(out, s)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func isTable(n *html.Node) bool { return n.DataAtom == atom.Table }

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(a.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

// findFirst returns the first descendant of n (excluding n) matching pred,
// in depth-first document order.
func findFirst(n *html.Node, pred func(*html.Node) bool) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && pred(c) {
			return c
		}
		if found := findFirst(c, pred); found != nil {
			return found
		}
	}
	return nil
}

// findAll returns every descendant of n matching pred in document order.
func findAll(n *html.Node, pred func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && pred(c) {
			out = append(out, c)
		}
		out = append(out, findAll(c, pred)...)
	}
	return out
}
