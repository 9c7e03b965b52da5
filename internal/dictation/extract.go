package dictation

import (
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/MrWong99/formvox/internal/form"
)

// nowPhrases are normalized values that mean "the current time".
var nowPhrases = map[string]bool{
	"сейчас":        true,
	"текущее время": true,
}

var spokenPunct = strings.NewReplacer(
	" точка ", ".",
	" двоеточие ", ":",
	" запятая ", " ",
)

// ParseTimestamp returns now formatted as [form.TimeLayout] when value is a
// "now" phrase. Otherwise it substitutes spoken dots, colons and commas and
// returns the text as-is.
func ParseTimestamp(value string, now time.Time) string {
	v := collapse(value)
	if nowPhrases[Normalize(v)] {
		return now.Format(form.TimeLayout)
	}
	return collapse(spokenPunct.Replace(" " + v + " "))
}

// TitleCase upper-cases the first letter of every word and lower-cases the
// rest.
func TitleCase(value string) string {
	lower := cases.Lower(language.Russian)
	words := strings.Fields(value)
	for i, w := range words {
		w = lower.String(w)
		r, n := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToTitle(r)) + w[n:]
	}
	return strings.Join(words, " ")
}

// UpperTag upper-cases a tag number.
func UpperTag(value string) string {
	return cases.Upper(language.Russian).String(strings.TrimSpace(value))
}

// ParseLocalization scans value for body-region stems. Without any match the
// whole value is kept as free text under [form.LocalizationOther].
func ParseLocalization(value string, table StemTable[form.Localization]) ([]form.Localization, string) {
	value = strings.TrimSpace(value)
	tags := table.All(Normalize(value))
	if len(tags) == 0 {
		return []form.Localization{form.LocalizationOther}, value
	}
	return tags, ""
}

// ParseEvacMethod returns the first matching evacuation method, or
// [form.EvacOther].
func ParseEvacMethod(value string, table StemTable[form.EvacMethod]) form.EvacMethod {
	if m, ok := table.First(Normalize(value)); ok {
		return m
	}
	return form.EvacOther
}

var (
	medicineByKeyword = regexp.MustCompile(`^(.+?)\s+количеств\S*\s+(.+)$`)
	medicineByDash    = regexp.MustCompile(`^(.+?)\s*[-–—]\s*(.+)$`)
	medicineByNumber  = regexp.MustCompile(`^(.+?)\s+(\d[\d\s.,]*(?:\s*\p{L}+.*)?)$`)
)

// ParseMedicine splits value into a medicine name and quantity. It tries, in
// order, the word "количество", a dash, and a trailing number with an
// optional unit. Missing parts are "-".
func ParseMedicine(value string) form.Medicine {
	v := strings.TrimSpace(value)
	if v == "" {
		return form.Medicine{Name: "-", Quantity: "-"}
	}
	for _, re := range []*regexp.Regexp{medicineByKeyword, medicineByDash, medicineByNumber} {
		if m := re.FindStringSubmatch(v); m != nil {
			return form.Medicine{Name: orDash(m[1]), Quantity: orDash(m[2])}
		}
	}
	return form.Medicine{Name: v, Quantity: "-"}
}

func orDash(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "-"
	}
	return s
}
