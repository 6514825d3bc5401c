// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// Record is one parsed animal entry from the listing page.
type Record struct {
	// Name is the display name with slashes replaced by hyphens.
	Name string `json:"name"`
	// Classification is the grouping key (the collateral adjective column).
	Classification string `json:"classification"`
	// DetailRef points at the record's detail page, relative or absolute.
	DetailRef string `json:"detail_ref"`
}

// Group is an ordered run of records sharing a classification key.
type Group struct {
	Classification string
	Records        []Record
}

// GroupRecords groups records by classification, preserving the order in
// which each classification was first seen and the row order within it.
func GroupRecords(records []Record) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, rec := range records {
		i, ok := index[rec.Classification]
		if !ok {
			i = len(groups)
			index[rec.Classification] = i
			groups = append(groups, Group{Classification: rec.Classification})
		}
		groups[i].Records = append(groups[i].Records, rec)
	}
	return groups
}

// DedupeRecords keeps the first record for each name and returns the later
// duplicates separately. Image paths derive from the name, so two records
// sharing one must never both be acquired.
func DedupeRecords(records []Record) (unique, duplicates []Record) {
	seen := make(map[string]struct{}, len(records))
	unique = make([]Record, 0, len(records))
	for _, rec := range records {
		if _, ok := seen[rec.Name]; ok {
			duplicates = append(duplicates, rec)
			continue
		}
		seen[rec.Name] = struct{}{}
		unique = append(unique, rec)
	}
	return unique, duplicates
}

// OutcomeKind is the terminal state of a fetch-chain.
type OutcomeKind string

// Outcome kinds reported for every submitted record.
const (
	OutcomeSuccess    OutcomeKind = "success"
	OutcomeNotFound   OutcomeKind = "not_found"
	OutcomeFetchError OutcomeKind = "fetch_error"
	OutcomeTimedOut   OutcomeKind = "timed_out"
)

// Outcome is the terminal result of one record's fetch-chain.
type Outcome struct {
	RecordName string        `json:"name"`
	Kind       OutcomeKind   `json:"outcome"`
	Path       string        `json:"path,omitempty"`
	Cause      error         `json:"-"`
	Attempts   int           `json:"attempts"`
	Bytes      int64         `json:"bytes,omitempty"`
	Duration   time.Duration `json:"-"`
}

// Succeeded reports whether the outcome carries a persisted image.
func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeSuccess
}

// CauseText returns the cause message or an empty string.
func (o Outcome) CauseText() string {
	if o.Cause == nil {
		return ""
	}
	return o.Cause.Error()
}

// OutcomeCounts tallies outcomes per kind.
type OutcomeCounts struct {
	Success    int `json:"success"`
	NotFound   int `json:"not_found"`
	FetchError int `json:"fetch_error"`
	TimedOut   int `json:"timed_out"`
}

// Add increments the counter for kind.
func (c *OutcomeCounts) Add(kind OutcomeKind) {
	switch kind {
	case OutcomeSuccess:
		c.Success++
	case OutcomeNotFound:
		c.NotFound++
	case OutcomeFetchError:
		c.FetchError++
	case OutcomeTimedOut:
		c.TimedOut++
	}
}

// Total returns the number of outcomes counted.
func (c OutcomeCounts) Total() int {
	return c.Success + c.NotFound + c.FetchError + c.TimedOut
}

// AcquisitionReport holds exactly one Outcome per submitted record, keyed by
// record name. Iteration order over Outcomes carries no meaning.
type AcquisitionReport struct {
	Outcomes map[string]Outcome
	Counts   OutcomeCounts
}

// NewAcquisitionReport returns an empty report sized for n records.
func NewAcquisitionReport(n int) AcquisitionReport {
	return AcquisitionReport{Outcomes: make(map[string]Outcome, n)}
}

// Record stores an outcome. It returns false, leaving the report untouched,
// when an outcome for the same record already exists.
func (r *AcquisitionReport) Record(o Outcome) bool {
	if _, exists := r.Outcomes[o.RecordName]; exists {
		return false
	}
	r.Outcomes[o.RecordName] = o
	r.Counts.Add(o.Kind)
	return true
}

// Lookup returns the outcome for a record name.
func (r AcquisitionReport) Lookup(name string) (Outcome, bool) {
	o, ok := r.Outcomes[name]
	return o, ok
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
