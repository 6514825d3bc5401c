// Package wikitest serves a miniature animal wiki over httptest for tests
// that exercise the full scrape pipeline.
package wikitest

import (
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
)

// ListingPath is where the listing page is served.
const ListingPath = "/wiki/List_of_animal_names"

// Animal is one row of the served listing.
type Animal struct {
	Name           string
	Classification string
	// Image is served as the info box picture. Nil serves a page without an info box.
	Image []byte
	// ImageStatus, when non-zero, replaces the image response with this status.
	ImageStatus int
}

// Server is a running fake wiki.
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	animals map[string]Animal
	order   []string
	hits    map[string]int
	// ListingStatus, when non-zero, fails the listing page with this status.
	ListingStatus int
}

// NewServer starts a wiki serving animals. It is closed when the test ends.
func NewServer(t testing.TB, animals ...Animal) *Server {
	t.Helper()
	s := &Server{animals: make(map[string]Animal), hits: make(map[string]int)}
	for _, a := range animals {
		s.animals[a.Name] = a
		s.order = append(s.order, a.Name)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// ListingURL returns the absolute listing URL.
func (s *Server) ListingURL() string {
	return s.URL + ListingPath
}

// Hits reports how many requests reached path.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	listingStatus := s.ListingStatus
	s.mu.Unlock()

	switch {
	case r.URL.Path == ListingPath:
		if listingStatus != 0 {
			http.Error(w, "listing unavailable", listingStatus)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(s.listing()))
	case strings.HasPrefix(r.URL.Path, "/wiki/"):
		animal, ok := s.lookup(strings.TrimPrefix(r.URL.Path, "/wiki/"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(detailPage(animal)))
	case strings.HasPrefix(r.URL.Path, "/images/"):
		name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/images/"), ".jpg")
		animal, ok := s.lookup(name)
		if !ok || animal.Image == nil {
			http.NotFound(w, r)
			return
		}
		if animal.ImageStatus != 0 {
			http.Error(w, "image unavailable", animal.ImageStatus)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(animal.Image)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) lookup(name string) (Animal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.animals[name]
	return a, ok
}

func (s *Server) listing() string {
	var b strings.Builder
	b.WriteString(`<html><body><table class="wikitable sortable"><tbody>`)
	b.WriteString(`<tr><th>Animal</th><th>Young</th><th>Female</th><th>Male</th><th>Collective</th><th>Collateral</th><th>Adjective</th></tr>`)
	s.mu.Lock()
	for _, name := range s.order {
		a := s.animals[name]
		fmt.Fprintf(&b,
			`<tr><td><a href="/wiki/%s">%s</a></td><td>-</td><td>-</td><td>-</td><td>-</td><td>-</td><td>%s</td></tr>`,
			url.PathEscape(a.Name), html.EscapeString(a.Name), html.EscapeString(a.Classification))
	}
	s.mu.Unlock()
	b.WriteString(`<tr><td colspan="7">footnote row</td></tr>`)
	b.WriteString(`</tbody></table></body></html>`)
	return b.String()
}

func detailPage(a Animal) string {
	if a.Image == nil {
		return fmt.Sprintf(`<html><body><h1>%s</h1><p>No picture.</p></body></html>`, html.EscapeString(a.Name))
	}
	return fmt.Sprintf(
		`<html><body><table class="infobox"><tr><td><img src="/images/%s.jpg" alt="%s"></td></tr></table></body></html>`,
		url.PathEscape(a.Name), html.EscapeString(a.Name))
}
