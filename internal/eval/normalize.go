package eval

import (
	"regexp"
	"strings"
)

var (
	nonWordRe      = regexp.MustCompile(`[^\w\s]`)
	stripRe        = regexp.MustCompile(`[^\w]`)
	trailingRe     = regexp.MustCompile(`[^\w]+$`)
	digitsRe       = regexp.MustCompile(`^\d+$`)
	phoneticFixups = map[*regexp.Regexp]string{
		regexp.MustCompile(`(?i)\brideau\b`):  "riddle",
		regexp.MustCompile(`(?i)\breddell\b`): "riddle",
		regexp.MustCompile(`(?i)\bridal\b`):   "riddle",
	}
)

// Normalize canonicalizes text for comparison: lowercase, spoken
// numbers rendered as digits, hyphens dropped so spelled-out letter
// groups collapse ("V-F-R" to "vfr"), punctuation stripped, and
// whitespace squeezed.
func Normalize(text string, numbers bool) string {
	text = strings.ToLower(text)
	if numbers {
		text = normalizeNumbers(text)
	}
	text = strings.NewReplacer("-", "", "–", "", "—", "").Replace(text)
	text = nonWordRe.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}

// normalizeNumbers replaces runs of spoken number words with digit
// strings. Trailing punctuation on a word ends its run, so "climb two
// thousand, runway one" converts as two separate numbers.
func normalizeNumbers(text string) string {
	for re, repl := range phoneticFixups {
		text = re.ReplaceAllString(text, repl)
	}

	words := strings.Fields(text)
	var out []string
	for i := 0; i < len(words); {
		original := words[i]
		clean := stripRe.ReplaceAllString(strings.ToLower(original), "")

		if isNumberWord(clean) {
			var run []string
			trailing := ""
			for i < len(words) {
				w := words[i]
				c := stripRe.ReplaceAllString(strings.ToLower(w), "")
				if !isNumberWord(c) {
					break
				}
				run = append(run, c)
				i++
				if t := trailingRe.FindString(w); t != "" {
					trailing = t
					break
				}
			}
			out = append(out, wordsToNumber(run)+trailing)
			continue
		}

		if digitsRe.MatchString(clean) {
			out = append(out, clean)
		} else {
			out = append(out, original)
		}
		i++
	}
	return strings.Join(out, " ")
}
