package eval

// levenshtein is the minimum number of single-element edits turning a
// into b, computed with two rolling rows.
func levenshtein[T comparable](a, b []T) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i, ca := range a {
		curr[0] = i + 1
		for j, cb := range b {
			cost := 0
			if ca != cb {
				cost = 1
			}
			ins := prev[j+1] + 1
			del := curr[j] + 1
			sub := prev[j] + cost
			min := ins
			if del < min {
				min = del
			}
			if sub < min {
				min = sub
			}
			curr[j+1] = min
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// EditDistance is the character-level Levenshtein distance.
func EditDistance(a, b string) int {
	return levenshtein([]rune(a), []rune(b))
}
