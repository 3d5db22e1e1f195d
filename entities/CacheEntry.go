package entities

import "time"

// CacheEntry is the persisted outcome of a successful code lookup
type CacheEntry struct {
	Name       string    `json:"name,omitempty"`
	DosageForm string    `json:"dosage_form,omitempty"`
	Strength   string    `json:"strength,omitempty"`
	FetchedAt  time.Time `json:"fetched_at"`
}
