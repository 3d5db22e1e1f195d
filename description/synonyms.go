package description

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultDosageForms maps dosage form abbreviations to their canonical form
func defaultDosageForms() map[string]string {
	return map[string]string{
		"tab": "tablet", "tabs": "tablet", "tablets": "tablet",
		"cap": "capsule", "caps": "capsule", "capsules": "capsule",
		"inj": "injection", "inject": "injection", "injectable": "injection",
		"iv": "injection", "intravenous": "injection", "im": "injection",
		"subq": "injection", "subcut": "injection", "sq": "injection",
		"vl": "vial", "vials": "vial",
		"amp": "ampule", "ampul": "ampule", "ampoule": "ampule", "amps": "ampule",
		"pfs": "syringe", "prefilled syringe": "syringe", "syringes": "syringe",
		"sol": "solution", "soln": "solution",
		"susp": "suspension",
		"crm": "cream",
		"oint": "ointment",
		"pch": "patch",
		"pow": "powder", "pwd": "powder", "pwdr": "powder",
		"nasal spray": "spray",
		"drop": "drops", "drp": "drops",
		"syr": "syrup",
		"supp": "suppository",
		"kit": "kit",
		"gel": "gel",
	}
}

// defaultNames holds drug name shorthand commonly found on purchase orders
func defaultNames() map[string]string {
	return map[string]string{
		"vanco":      "vancomycin",
		"pip/tazo":   "piperacillin tazobactam",
		"pip tazo":   "piperacillin tazobactam",
		"kcl":        "potassium chloride",
		"nacl":       "sodium chloride",
		"mag":        "magnesium",
		"epi":        "epinephrine",
		"ondan":      "ondansetron",
		"ceftri":     "ceftriaxone",
		"dexameth":   "dexamethasone",
		"hydromorph": "hydromorphone",
	}
}

type synonym struct {
	words     []string
	canonical string
	form      bool
}

// SynonymTable is an immutable abbreviation table. Lookups prefer the entry covering
// the most tokens, then the longest abbreviation.
type SynonymTable struct {
	byFirst map[string][]synonym
	forms   map[string]bool
	size    int
}

// DefaultSynonymTable returns a fresh table built from the default abbreviations
func DefaultSynonymTable() *SynonymTable {
	return NewSynonymTable(defaultDosageForms(), defaultNames())
}

// NewSynonymTable builds a table from dosage form and drug name abbreviation maps.
// Every canonical dosage form also maps to itself.
func NewSynonymTable(dosageForms, names map[string]string) *SynonymTable {
	return (&SynonymTable{}).Extend(dosageForms, names)
}

func addSynonym(into map[string]synonym, abbrev, canonical string, form bool) {
	words := strings.Fields(cleanText(abbrev))
	canon := strings.Join(strings.Fields(cleanText(canonical)), " ")
	if len(words) == 0 || canon == "" {
		return
	}
	into[strings.Join(words, " ")] = synonym{words: words, canonical: canon, form: form}
}

func buildTable(merged map[string]synonym, forms map[string]bool) *SynonymTable {
	t := &SynonymTable{
		byFirst: make(map[string][]synonym),
		forms:   forms,
		size:    len(merged),
	}

	for _, s := range merged {
		t.byFirst[s.words[0]] = append(t.byFirst[s.words[0]], s)
	}

	for first := range t.byFirst {
		entries := t.byFirst[first]
		sort.Slice(entries, func(i, j int) bool {
			if len(entries[i].words) != len(entries[j].words) {
				return len(entries[i].words) > len(entries[j].words)
			}
			ki, kj := strings.Join(entries[i].words, " "), strings.Join(entries[j].words, " ")
			if len(ki) != len(kj) {
				return len(ki) > len(kj)
			}
			return ki < kj
		})
	}

	return t
}

// Extend returns a new table with the given entries added on top of t.
// The receiver is left untouched.
func (t *SynonymTable) Extend(dosageForms, names map[string]string) *SynonymTable {
	merged := make(map[string]synonym, t.size+len(dosageForms)+len(names))
	for _, entries := range t.byFirst {
		for _, s := range entries {
			merged[strings.Join(s.words, " ")] = s
		}
	}
	for abbrev, canonical := range names {
		addSynonym(merged, abbrev, canonical, false)
	}
	for abbrev, canonical := range dosageForms {
		addSynonym(merged, abbrev, canonical, true)
	}

	forms := make(map[string]bool)
	for _, s := range merged {
		if s.form {
			forms[s.canonical] = true
		}
	}
	for form := range forms {
		if _, exists := merged[form]; !exists {
			addSynonym(merged, form, form, true)
		}
	}

	return buildTable(merged, forms)
}

// Len returns the number of abbreviations in the table
func (t *SynonymTable) Len() int {
	return t.size
}

// IsDosageForm reports whether canonical is one of the table's dosage forms
func (t *SynonymTable) IsDosageForm(canonical string) bool {
	return t.forms[canonical]
}

// match returns the entry starting at tokens[0] covering the most tokens
func (t *SynonymTable) match(tokens []string) (synonym, bool) {
	for _, s := range t.byFirst[tokens[0]] {
		if len(s.words) > len(tokens) {
			continue
		}
		matched := true
		for i, w := range s.words {
			if tokens[i] != w {
				matched = false
				break
			}
		}
		if matched {
			return s, true
		}
	}
	return synonym{}, false
}

// synonymFile is the layout of a YAML override file
type synonymFile struct {
	DosageForms map[string]string `yaml:"dosage_forms"`
	Names       map[string]string `yaml:"names"`
}

// LoadSynonymTable reads a YAML override file and layers it over the defaults.
// An empty path returns the default table.
func LoadSynonymTable(path string) (*SynonymTable, error) {
	if path == "" {
		return DefaultSynonymTable(), nil
	}

	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read synonyms file %s: %w", path, err)
	}

	var file synonymFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("failed to parse synonyms file %s: %w", path, err)
	}

	if len(file.DosageForms) == 0 && len(file.Names) == 0 {
		return nil, fmt.Errorf("synonyms file %s has no entries", path)
	}

	return DefaultSynonymTable().Extend(file.DosageForms, file.Names), nil
}
