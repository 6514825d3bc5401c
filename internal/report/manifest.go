package report

import (
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/animal-gallery/internal/crawler"
)

// ManifestEntry is one row of outcomes.json.
type ManifestEntry struct {
	Name           string              `json:"name"`
	Classification string              `json:"classification"`
	Outcome        crawler.OutcomeKind `json:"outcome"`
	Path           string              `json:"path,omitempty"`
	Error          string              `json:"error,omitempty"`
	Attempts       int                 `json:"attempts"`
	DurationMS     int64               `json:"duration_ms"`
}

// Manifest lists every grouped record with its outcome, in group order.
func Manifest(groups []crawler.Group, report crawler.AcquisitionReport) []ManifestEntry {
	entries := make([]ManifestEntry, 0, len(report.Outcomes))
	for _, group := range groups {
		for _, rec := range group.Records {
			e := ManifestEntry{
				Name:           rec.Name,
				Classification: rec.Classification,
				Outcome:        crawler.OutcomeTimedOut,
				Error:          crawler.ErrAborted.Error(),
			}
			if out, ok := report.Lookup(rec.Name); ok {
				e.Outcome = out.Kind
				e.Path = out.Path
				e.Error = out.CauseText()
				e.Attempts = out.Attempts
				e.DurationMS = out.Duration.Milliseconds()
			}
			entries = append(entries, e)
		}
	}
	return entries
}

// EncodeManifest renders entries as indented JSON.
func EncodeManifest(entries []ManifestEntry) ([]byte, error) {
	if entries == nil {
		entries = []ManifestEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return append(data, '\n'), nil
}
