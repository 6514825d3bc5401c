// Package report renders the acquisition results: the static HTML gallery
// grouped by classification and the machine-readable outcome manifest.
package report
