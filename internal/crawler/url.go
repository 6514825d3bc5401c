package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// ResolveURL turns ref into an absolute URL. Protocol-relative references
// ("//host/path") are completed with https; host-relative and relative
// references are resolved against base.
func ResolveURL(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty reference")
	}
	if strings.HasPrefix(ref, "//") {
		ref = "https:" + ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse reference %q: %w", ref, err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if base == "" {
		return "", fmt.Errorf("relative reference %q without base url", ref)
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	return b.ResolveReference(u).String(), nil
}

// SiteOf returns the lowercase host of rawURL, or "unknown".
func SiteOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
