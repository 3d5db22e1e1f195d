// Package description turns free-text drug descriptions into structured
// name, strength and dosage form fields.
package description

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/giygas/ndc-report/entities"
	"github.com/giygas/ndc-report/interfaces"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// strengthPattern matches a number (optionally a ratio) followed by a unit.
// Compound units come first so that "mg/ml" wins over "mg".
var strengthPattern = regexp.MustCompile(
	`(\d+(?:\.\d+)?(?:\s*/\s*\d+(?:\.\d+)?)?)\s*` +
		`(units?/ml|mcg/ml|mg/ml|meq/ml|meq/l|mcg/act|mg/act|mcg|mgm|mg|meq|grams?|gm|g|units?|iu|ml|l|%)` +
		`(?:[^a-z0-9]|$)`)

var unitAliases = map[string]string{
	"unit":    "units",
	"unit/ml": "units/ml",
	"gram":    "g",
	"grams":   "g",
	"gm":      "g",
	"mgm":     "mg",
}

var _ interfaces.DescriptionParser = (*Parser)(nil)

// Parser extracts structured fields using a synonym table
type Parser struct {
	table *SynonymTable
}

// NewParser creates a parser. A nil table selects the defaults.
func NewParser(table *SynonymTable) *Parser {
	if table == nil {
		table = DefaultSynonymTable()
	}
	return &Parser{table: table}
}

// Table returns the synonym table in use
func (p *Parser) Table() *SynonymTable {
	return p.table
}

// Parse never fails: fields that could not be extracted are left empty
func (p *Parser) Parse(text string) entities.NormalizedDescription {
	cleaned := cleanText(text)

	strengths, remainder := extractStrengths(cleaned)

	var nameTokens []string
	var dosageForm string

	tokens := tokenize(remainder)
	for i := 0; i < len(tokens); {
		s, ok := p.table.match(tokens[i:])
		if !ok {
			if p.table.IsDosageForm(tokens[i]) {
				if dosageForm == "" {
					dosageForm = tokens[i]
				}
			} else {
				nameTokens = append(nameTokens, tokens[i])
			}
			i++
			continue
		}

		i += len(s.words)
		if s.form || p.table.IsDosageForm(s.canonical) {
			if dosageForm == "" {
				dosageForm = s.canonical
			}
			continue
		}
		nameTokens = append(nameTokens, strings.Fields(s.canonical)...)
	}

	name := strings.Join(nameTokens, " ")

	keyParts := make([]string, 0, len(nameTokens)+len(strengths)+1)
	keyParts = append(keyParts, nameTokens...)
	keyParts = append(keyParts, strengths...)
	if dosageForm != "" {
		keyParts = append(keyParts, dosageForm)
	}

	displayName := name
	if displayName == "" {
		displayName = cleaned
	}

	result := entities.NormalizedDescription{
		DrugName:       cases.Title(language.English).String(displayName),
		DosageForm:     dosageForm,
		NormalizedText: strings.Join(keyParts, " "),
	}
	if len(strengths) > 0 {
		result.Strength = strengths[0]
	}

	return result
}

// extractStrengths returns every strength token in order of appearance and
// the text with those spans blanked out
func extractStrengths(text string) ([]string, string) {
	matches := strengthPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil, text
	}

	var strengths []string
	var b strings.Builder
	last := 0
	for _, m := range matches {
		value := strings.Join(strings.Fields(text[m[2]:m[3]]), "")
		unit := text[m[4]:m[5]]
		if alias, ok := unitAliases[unit]; ok {
			unit = alias
		}
		strengths = append(strengths, value+unit)

		b.WriteString(text[last:m[2]])
		b.WriteByte(' ')
		last = m[5]
	}
	b.WriteString(text[last:])

	return strengths, b.String()
}

// tokenize splits on whitespace and trims stray slashes left by strength removal
func tokenize(text string) []string {
	fields := strings.Fields(text)
	tokens := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "/")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// cleanText lower-cases, strips accents and replaces punctuation with spaces.
// "%" and "/" survive, "." and "," only between digits ("0.9", "1,000" -> "1000").
func cleanText(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		folded = text
	}

	src := []rune(strings.ToLower(folded))
	out := make([]rune, 0, len(src))
	for i, r := range src {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '%' || r == '/':
			out = append(out, r)
		case r == '.' && betweenDigits(src, i):
			out = append(out, r)
		case r == ',' && betweenDigits(src, i):
			// thousands separator
		default:
			out = append(out, ' ')
		}
	}

	return strings.Join(strings.Fields(string(out)), " ")
}

func betweenDigits(src []rune, i int) bool {
	return i > 0 && i < len(src)-1 && unicode.IsDigit(src[i-1]) && unicode.IsDigit(src[i+1])
}
