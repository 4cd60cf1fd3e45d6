package eval

import "strconv"

var numberWords = map[string]int{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4,
	"five": 5, "six": 6, "seven": 7, "eight": 8, "nine": 9,
	"ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13,
	"fourteen": 14, "fifteen": 15, "sixteen": 16, "seventeen": 17,
	"eighteen": 18, "nineteen": 19,
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
	"hundred": 100, "thousand": 1000, "million": 1000000,
}

func isNumberWord(word string) bool {
	_, ok := numberWords[word]
	return ok
}

// wordsToNumber renders a run of number words as digits. Readbacks
// come in two shapes: digit-by-digit strings where "four eighty one"
// means 481, and magnitude phrases where "one thousand one hundred"
// means 1100. A run with no scale word is treated as digit-style.
func wordsToNumber(words []string) string {
	digitStyle := true
	for _, w := range words {
		v, ok := numberWords[w]
		if !ok || v >= 100 {
			digitStyle = false
			break
		}
	}

	if digitStyle {
		out := ""
		for i := 0; i < len(words); {
			v, ok := numberWords[words[i]]
			if !ok {
				i++
				continue
			}
			// "eighty one" concatenates as 81.
			if v >= 20 && v < 100 && i+1 < len(words) {
				if next, ok := numberWords[words[i+1]]; ok && next < 10 {
					out += strconv.Itoa(v + next)
					i += 2
					continue
				}
			}
			out += strconv.Itoa(v)
			i++
		}
		return out
	}

	total, current := 0, 0
	for _, w := range words {
		v, ok := numberWords[w]
		if !ok {
			continue
		}
		switch {
		case v >= 1000:
			if current == 0 {
				current = 1
			}
			total += current * v
			current = 0
		case v >= 100:
			if current == 0 {
				current = 1
			}
			current *= v
		default:
			current += v
		}
	}
	return strconv.Itoa(total + current)
}
