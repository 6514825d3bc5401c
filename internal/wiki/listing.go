package wiki

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/animal-gallery/internal/crawler"
)

const (
	listingTableSelector = "table.wikitable.sortable"
	nameColumn           = 0
	classificationColumn = 6
)

// ListingStats describes how many table rows were turned into records.
type ListingStats struct {
	Tables  int
	Rows    int
	Skipped int
}

// ParseListing extracts one Record per data row of every sortable wikitable.
// Rows with fewer than seven cells or without a link in the name cell are
// skipped. An error wrapping crawler.ErrListingParse is returned when the
// document cannot be read or contains no records at all.
func ParseListing(body []byte) ([]crawler.Record, ListingStats, error) {
	var stats ListingStats
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, stats, fmt.Errorf("%w: read document: %v", crawler.ErrListingParse, err)
	}

	var records []crawler.Record
	doc.Find(listingTableSelector).Each(func(_ int, table *goquery.Selection) {
		stats.Tables++
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.ChildrenFiltered("td")
			if cells.Length() == 0 {
				return
			}
			stats.Rows++
			rec, ok := recordFromCells(cells)
			if !ok {
				stats.Skipped++
				return
			}
			records = append(records, rec)
		})
	})

	if stats.Tables == 0 {
		return nil, stats, fmt.Errorf("%w: no %s found", crawler.ErrListingParse, listingTableSelector)
	}
	if len(records) == 0 {
		return nil, stats, fmt.Errorf("%w: %d rows, none usable", crawler.ErrListingParse, stats.Rows)
	}
	return records, stats, nil
}

func recordFromCells(cells *goquery.Selection) (crawler.Record, bool) {
	if cells.Length() <= classificationColumn {
		return crawler.Record{}, false
	}
	nameCell := cells.Eq(nameColumn)
	name := crawler.CleanName(nameCell.Text())
	href, ok := nameCell.Find("a[href]").First().Attr("href")
	if name == "" || !ok || href == "" {
		return crawler.Record{}, false
	}
	return crawler.Record{
		Name:           name,
		Classification: normalizeSpace(cells.Eq(classificationColumn).Text()),
		DetailRef:      href,
	}, true
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
