package crawler

import "strings"

// ImageExt is the extension used for every persisted image.
const ImageExt = ".jpg"

// CleanName trims a listing name and replaces path separators so the name
// can double as a file name.
func CleanName(raw string) string {
	name := strings.TrimSpace(raw)
	name = strings.ReplaceAll(name, "/", "-")
	return strings.ReplaceAll(name, "\\", "-")
}

// ImageFileName returns the deterministic file name for a record's image.
func ImageFileName(name string) string {
	return name + ImageExt
}
