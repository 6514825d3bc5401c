package wiki

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const infoBoxSelector = "table.infobox"

// FindInfoBoxImage returns the src of the first image inside the first info
// box of a detail page. found is false when the page has no info box or the
// info box holds no image; that is a normal result, not an error.
func FindInfoBoxImage(body []byte) (src string, found bool, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("read detail page: %w", err)
	}
	box := doc.Find(infoBoxSelector).First()
	if box.Length() == 0 {
		return "", false, nil
	}
	src, ok := box.Find("img").First().Attr("src")
	src = strings.TrimSpace(src)
	if !ok || src == "" {
		return "", false, nil
	}
	return src, true, nil
}
