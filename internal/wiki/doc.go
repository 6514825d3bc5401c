// Package wiki extracts records from the "List of animal names" listing page
// and locates the primary image inside a detail page's info box. Both
// operations are pure functions of the HTML they are given.
package wiki
