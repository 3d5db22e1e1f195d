package entities

import "fmt"

// MatchKind tells how a purchase order row was matched to an injectable
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchFuzzy
	MatchExact
)

func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchFuzzy:
		return "fuzzy"
	case MatchNone:
		return "none"
	}
	return fmt.Sprintf("MatchKind(%d)", int(k))
}

// MarshalText keeps the JSON form readable
func (k MatchKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Candidate is a purchase order row considered for a match, with its score
type Candidate struct {
	Entry PurchaseOrderEntry `json:"entry"`
	Score float64            `json:"score"`
}

// MatchResult is the outcome for one (injectable, facility) pair
type MatchResult struct {
	InjectableIndex int                 `json:"injectableIndex"`
	Injectable      InjectableEntry     `json:"injectable"`
	Facility        string              `json:"facility"`
	Matched         *PurchaseOrderEntry `json:"matched,omitempty"`
	Kind            MatchKind           `json:"kind"`
	Score           float64             `json:"score"`
	// Candidates holds every exact row for exact matches, or the best fuzzy rows
	// above the threshold (highest first).
	Candidates []Candidate `json:"candidates,omitempty"`
}
