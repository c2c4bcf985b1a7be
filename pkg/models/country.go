// Package models defines the core data structures shared by the fetch,
// cache and aggregation layers of landlinked.
package models

import "strings"

// Country is immutable reference data for one country or territory.
type Country struct {
	Name string `json:"name"`           // e.g., "Afghanistan"
	ISO2 string `json:"ISO"`            // ISO-3166 alpha-2, e.g., "AF"
	ISO3 string `json:"ISO3"`           // ISO-3166 alpha-3, e.g., "AFG"
	FIPS string `json:"FIPS,omitempty"` // FIPS GEC code, may be empty
	M49  int    `json:"M49,omitempty"`  // UN M49 numeric area code, 0 when unknown
}

// Key returns the identifier used to join per-country rows. ISO2 is
// preferred because every source normalizes to it; the upper-cased name is
// used when a record carries no code.
func (c Country) Key() string {
	if c.ISO2 != "" {
		return strings.ToUpper(c.ISO2)
	}
	return strings.ToUpper(c.Name)
}

// Group is a named, immutable set of countries (e.g., "lldcs").
type Group struct {
	Code        string    `json:"gid"`
	Acronym     string    `json:"acronym,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Countries   []Country `json:"countries"`
}
