package pattern

import (
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Wildcard is the only special token in a glob pattern and stands for zero
// or more characters.
const Wildcard = "*"

var umlauts = strings.NewReplacer(
	"ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss",
	"Ä", "Ae", "Ö", "Oe", "Ü", "Ue", "ẞ", "SS",
)

// NormalizeDiacritics transliterates German umlauts and sharp s the way bank
// exports do (ä→ae, ö→oe, ü→ue, ß→ss) and strips remaining combining marks,
// so "Müller" and "Mueller" compare equal.
func NormalizeDiacritics(s string) string {
	s = umlauts.Replace(s)
	if isASCII(s) {
		return s
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// Normalize prepares text for matching: diacritics folded, lower-cased and
// whitespace collapsed.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(NormalizeDiacritics(s))), " ")
}

// GlobToRegex translates a glob into an anchored regular expression. The
// pattern is normalized first, so the result must be matched against
// Normalize'd text.
func GlobToRegex(glob string) (*regexp.Regexp, error) {
	parts := strings.Split(Normalize(glob), Wildcard)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.Compile("^" + strings.Join(parts, ".*") + "$")
}

var compiled sync.Map // glob -> *regexp.Regexp

func compile(glob string) *regexp.Regexp {
	if re, ok := compiled.Load(glob); ok {
		return re.(*regexp.Regexp)
	}
	re, err := GlobToRegex(glob)
	if err != nil {
		// QuoteMeta'd input always compiles.
		return nil
	}
	compiled.Store(glob, re)
	return re
}

// MatchesGlob reports whether text matches glob, case-insensitively and
// after diacritic normalization of both sides.
func MatchesGlob(glob, text string) bool {
	if strings.Trim(glob, Wildcard+" ") == "" {
		return false
	}
	re := compile(glob)
	if re == nil {
		return false
	}
	return re.MatchString(Normalize(text))
}

// MatchFlexible matches glob against the text fields of one record. Import
// sources disagree on which column holds the counterparty, so it tries each
// non-empty field, then every ordered pair, then all fields combined, and
// returns on the first hit.
func MatchFlexible(glob string, fields []string) bool {
	present := make([]string, 0, len(fields))
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			present = append(present, f)
		}
	}

	for _, f := range present {
		if MatchesGlob(glob, f) {
			return true
		}
	}

	for i := range present {
		for j := range present {
			if i != j && MatchesGlob(glob, present[i]+" "+present[j]) {
				return true
			}
		}
	}

	if len(present) > 2 {
		return MatchesGlob(glob, strings.Join(present, " "))
	}
	return false
}

// DerivePattern builds a glob from the significant words of text: words of
// at least three letters or digits, at most three of them, lower-cased with
// diacritics preserved, wrapped as *w1*w2*w3*. It returns "" when text has
// no significant word.
func DerivePattern(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var picked []string
	for _, w := range words {
		if len([]rune(w)) < 3 {
			continue
		}
		picked = append(picked, w)
		if len(picked) == 3 {
			break
		}
	}
	if len(picked) == 0 {
		return ""
	}
	return Wildcard + strings.Join(picked, Wildcard) + Wildcard
}

// Equivalent reports whether two globs are the same pattern.
func Equivalent(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
