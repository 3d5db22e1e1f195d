// Package validation checks parsed records and user input.
package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/giygas/ndc-report/entities"
	"github.com/giygas/ndc-report/interfaces"
	"github.com/giygas/ndc-report/logging"
	"github.com/giygas/ndc-report/ndc"
)

// maxListed caps the sample rows kept per problem in the report
const maxListed = 10

var (
	// Drug descriptions: letters, digits, spaces and the punctuation found in labels
	inputRegex = regexp.MustCompile(`^[\p{L}\p{N}\s\-\.,/%+()':]+$`)

	ndcInputRegex = regexp.MustCompile(`^[0-9][0-9\- ]*[0-9]$`)

	// strings.Contains is cheaper than regex for these
	dangerousPatterns = []string{
		"<script", "</script>", "javascript:", "vbscript:", "onload=", "onerror=",
		"eval(", "expression(", "@import",
		"' or ", "\" or ", "union select", "drop table", "delete from", "insert into",
		"--", "/*", "*/", "exec(",
		"`", "$(", "${",
		"../", "..\\", "%2e%2e", "file://",
	}
)

var _ interfaces.DataValidator = (*DataValidatorImpl)(nil)

// DataValidatorImpl implements the interfaces.DataValidator interface
type DataValidatorImpl struct{}

// NewDataValidator creates a new data validator
func NewDataValidator() interfaces.DataValidator {
	return &DataValidatorImpl{}
}

// ReportDataQuality counts malformed NDCs, unparseable and empty descriptions
// over the master sheet and every facility, and lists NDCs used by more than
// one master row.
func (v *DataValidatorImpl) ReportDataQuality(
	injectables []entities.InjectableEntry,
	pos map[string][]entities.PurchaseOrderEntry,
) *entities.DataQualityReport {
	report := &entities.DataQualityReport{
		MalformedNDCRows:    []string{},
		DuplicateMasterNDCs: []string{},
	}

	check := func(source string, raw entities.RawRecord, desc entities.NormalizedDescription, code entities.CanonicalNDC) {
		if strings.TrimSpace(raw.NDC) != "" && !code.Present() {
			report.MalformedNDCs++
			if len(report.MalformedNDCRows) < maxListed {
				report.MalformedNDCRows = append(report.MalformedNDCRows,
					fmt.Sprintf("%s row %d: %s", source, raw.Row, raw.NDC))
			}
		}
		switch {
		case strings.TrimSpace(raw.Description) == "":
			report.EmptyDescriptions++
		case desc.Unparseable():
			report.UnparseableDescriptions++
		}
	}

	// Check 1: master rows, and duplicate NDCs among them
	seen := make(map[entities.CanonicalNDC]int)
	for _, inj := range injectables {
		check("injectable", inj.Raw, inj.Description, inj.NDC)
		if inj.NDC.Present() {
			seen[inj.NDC]++
		}
	}
	for code, count := range seen {
		if count > 1 {
			report.DuplicateMasterNDCs = append(report.DuplicateMasterNDCs, ndc.Format(code))
		}
	}
	sort.Strings(report.DuplicateMasterNDCs)

	// Check 2: facility rows, in facility order so samples are stable
	facilities := make([]string, 0, len(pos))
	for facility := range pos {
		facilities = append(facilities, facility)
	}
	sort.Strings(facilities)
	for _, facility := range facilities {
		for _, row := range pos[facility] {
			check(facility, row.Raw, row.Description, row.NDC)
		}
	}

	if report.MalformedNDCs > 0 || len(report.DuplicateMasterNDCs) > 0 {
		logging.Warn("Data quality issues detected",
			"malformed_ndcs", report.MalformedNDCs,
			"duplicate_master_ndcs", len(report.DuplicateMasterNDCs),
			"unparseable_descriptions", report.UnparseableDescriptions,
			"empty_descriptions", report.EmptyDescriptions)
	}

	return report
}

// ValidateInput validates free-text description queries
func (v *DataValidatorImpl) ValidateInput(input string) error {
	if strings.TrimSpace(input) == "" {
		return fmt.Errorf("input cannot be empty")
	}

	if len(input) < 2 {
		return fmt.Errorf("input too short: minimum 2 characters")
	}

	if len(input) > 200 {
		return fmt.Errorf("input too long: maximum 200 characters")
	}

	if len(strings.Fields(input)) > 20 {
		return fmt.Errorf("input too complex: maximum 20 words allowed")
	}

	lowerInput := strings.ToLower(input)
	for _, pattern := range dangerousPatterns {
		if strings.Contains(lowerInput, pattern) {
			return fmt.Errorf("input contains potentially dangerous content")
		}
	}

	if !inputRegex.MatchString(input) {
		return fmt.Errorf("input contains invalid characters")
	}

	if v.hasExcessiveRepetition(input) {
		return fmt.Errorf("input contains excessive character repetition")
	}

	return nil
}

// ValidateNDC checks the characters of a user supplied NDC and normalizes it
func (v *DataValidatorImpl) ValidateNDC(input string) (entities.CanonicalNDC, error) {
	trimmedInput := strings.TrimSpace(input)
	if trimmedInput == "" {
		return "", fmt.Errorf("input cannot be empty")
	}

	if len(trimmedInput) > 20 {
		return "", fmt.Errorf("NDC too long: maximum 20 characters")
	}

	if !ndcInputRegex.MatchString(trimmedInput) {
		return "", fmt.Errorf("input contains invalid characters. Only digits and hyphens are allowed")
	}

	code := ndc.Normalize(trimmedInput)
	if !code.Present() {
		return "", fmt.Errorf("unrecognised NDC layout: use 11 digits or a hyphenated 4-4-2, 5-3-2, 5-4-1 or 5-4-2 code")
	}

	return code, nil
}

// hasExcessiveRepetition checks for the same character repeated more than 10 times
func (v *DataValidatorImpl) hasExcessiveRepetition(input string) bool {
	run := 1
	for i := 1; i < len(input); i++ {
		if input[i] == input[i-1] {
			run++
			if run > 10 {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}
