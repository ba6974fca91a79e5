package extractor

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const streetName = `[A-ZÄÖÜ][a-zäöüß]+(?:-[A-ZÄÖÜ][a-zäöüß]+)*(?:straße|str\.|platz|weg|allee|gasse|-Straße|-Str\.|-Platz|-Weg|-Allee|-Gasse)`

var (
	zoningPattern   = regexp.MustCompile(`(?i)Bebauungsplan(?:\s+(?:Nr\.?|Nummer))?\s*([A-Z]?\d+[a-z]?(?:\s*[-/]\s*\d+)?)`)
	parcelPattern   = regexp.MustCompile(`(?i)Flur(?:stück)?(?:\s+(?:Nr\.?|Nummer))?\s*(\d+(?:\s*/\s*\d+)?)`)
	addressPattern  = regexp.MustCompile(`(` + streetName + `)\s+(\d+[a-z]?)`)
	streetPattern   = regexp.MustCompile(streetName)
	districtPattern = regexp.MustCompile(`(?:Stadtteil|Stadtbezirk|[Ii]n)\s+([A-ZÄÖÜ][a-zäöüß]+(?:\s+[A-ZÄÖÜa-zäöüß][a-zäöüß]+)*)`)

	houseNumberSuffix = regexp.MustCompile(`\s+\d+[a-zA-Z]?$`)
	// Capitalised words of letters, hyphens, apostrophes, slashes and
	// abbreviation dots, optionally followed by a house number.
	locationShape = regexp.MustCompile(`^\p{Lu}[\p{L}'’./-]*(?: [\p{L}'’./-]+)*(?: \d+[a-zA-Z]?)?$`)
	whitespace    = regexp.MustCompile(`\s+`)
)

const contextRadius = 60

// match is one regex hit with its byte offsets in the source text.
type match struct {
	start, end int
	groups     []string
}

// findAll runs re over text and keeps only matches that start and end on a
// word boundary. regexp's \b is ASCII only, so umlauts need this check.
func findAll(re *regexp.Regexp, text string) []match {
	var out []match
	for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
		start, end := loc[0], loc[1]
		if !boundaryBefore(text, start) || !boundaryAfter(text, end) {
			continue
		}
		m := match{start: start, end: end}
		for g := 2; g+1 < len(loc); g += 2 {
			if loc[g] < 0 {
				m.groups = append(m.groups, "")
				continue
			}
			m.groups = append(m.groups, text[loc[g]:loc[g+1]])
		}
		out = append(out, m)
	}
	return out
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isWordRune(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	// a match ending on an abbreviation dot is already delimited
	if text[i-1] == '.' {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// contextAround returns the text surrounding [start, end) with whitespace
// collapsed, cut on rune boundaries.
func contextAround(text string, start, end int) string {
	from := start - contextRadius
	if from < 0 {
		from = 0
	}
	for from > 0 && !utf8.RuneStart(text[from]) {
		from--
	}
	to := end + contextRadius
	if to > len(text) {
		to = len(text)
	}
	for to < len(text) && !utf8.RuneStart(text[to]) {
		to++
	}
	return clean(text[from:to])
}

// clean collapses internal whitespace and trims the ends.
func clean(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// streetPart strips a trailing house number.
func streetPart(s string) string {
	return houseNumberSuffix.ReplaceAllString(s, "")
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// allCaps reports whether every letter in s is upper case and there is more
// than one of them.
func allCaps(s string) bool {
	letters := 0
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		if !unicode.IsUpper(r) {
			return false
		}
		letters++
	}
	return letters > 1
}
