package resolver

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ListingParser extracts candidate entry labels from a directory listing page.
type ListingParser interface {
	Entries(document []byte) ([]string, error)
}

// HTMLListingParser reads the labels of an HTML table listing: the text of
// every element nested inside a `tr > td` cell, in document order.
type HTMLListingParser struct{}

// Entries returns the non-blank labels found in table cells.
func (HTMLListingParser) Entries(document []byte) ([]string, error) {
	root, err := html.Parse(bytes.NewReader(document))
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}

	var entries []string

	var walk func(node *html.Node)

	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.DataAtom == atom.Tr {
			for cell := node.FirstChild; cell != nil; cell = cell.NextSibling {
				if cell.Type == html.ElementNode && cell.DataAtom == atom.Td {
					entries = collectCellText(cell, entries)
				}
			}
		}

		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}

	walk(root)

	return entries, nil
}

// collectCellText appends the text nodes owned by elements below cell.
// Text placed directly in the cell (sizes, dates) is not a label.
func collectCellText(cell *html.Node, entries []string) []string {
	var visit func(element *html.Node)

	visit = func(element *html.Node) {
		for child := element.FirstChild; child != nil; child = child.NextSibling {
			switch child.Type {
			case html.TextNode:
				if text := strings.TrimSpace(child.Data); text != "" {
					entries = append(entries, text)
				}
			case html.ElementNode:
				visit(child)
			}
		}
	}

	for child := cell.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode {
			visit(child)
		}
	}

	return entries
}

// SelectArtifact picks the last entry that is neither a stub installer nor a
// parent-directory link.
func SelectArtifact(entries []string) (string, bool) {
	selected := ""

	for _, entry := range entries {
		if strings.Contains(entry, "Stub") || strings.Contains(entry, "..") {
			continue
		}

		selected = entry
	}

	return selected, selected != ""
}
