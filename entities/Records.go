package entities

import "time"

// RawRecord is one spreadsheet row as handed over by the input adapter.
type RawRecord struct {
	Row         int        `json:"row"`
	Description string     `json:"description"`
	NDC         string     `json:"ndc,omitempty"`
	Comment     string     `json:"comment,omitempty"`
	Date        *time.Time `json:"date,omitempty"`
}

// CanonicalNDC is an 11 digit NDC in 5-4-2 layout. The empty value means absent.
type CanonicalNDC string

// Present reports whether the code holds a canonical value
func (c CanonicalNDC) Present() bool {
	return c != ""
}

// NormalizedDescription is the structured form of a free-text drug description.
// Strength and DosageForm are empty when no pattern matched.
type NormalizedDescription struct {
	DrugName       string `json:"drugName"`
	Strength       string `json:"strength,omitempty"`
	DosageForm     string `json:"dosageForm,omitempty"`
	NormalizedText string `json:"normalizedText"`
}

// Unparseable reports whether neither strength nor dosage form could be extracted
func (d NormalizedDescription) Unparseable() bool {
	return d.Strength == "" && d.DosageForm == ""
}

// EnrichmentResult records which fields were filled from the code lookup service
type EnrichmentResult struct {
	Source           string    `json:"source"`
	FilledStrength   bool      `json:"filledStrength"`
	FilledDosageForm bool      `json:"filledDosageForm"`
	FetchedAt        time.Time `json:"fetchedAt"`
}

// InjectableEntry is one record of the master injectable sheet
type InjectableEntry struct {
	Raw         RawRecord             `json:"raw"`
	Description NormalizedDescription `json:"description"`
	NDC         CanonicalNDC          `json:"ndc,omitempty"`
	Enrichment  *EnrichmentResult     `json:"enrichment,omitempty"`
}

// NeedsEnrichment reports whether a lookup could fill anything for this entry
func (e InjectableEntry) NeedsEnrichment() bool {
	return e.NDC.Present() && (e.Description.Strength == "" || e.Description.DosageForm == "")
}

// PurchaseOrderEntry is one purchase order line of a facility
type PurchaseOrderEntry struct {
	Raw          RawRecord             `json:"raw"`
	Description  NormalizedDescription `json:"description"`
	NDC          CanonicalNDC          `json:"ndc,omitempty"`
	Facility     string                `json:"facility"`
	PurchaseDate *time.Time            `json:"purchaseDate,omitempty"`
}
