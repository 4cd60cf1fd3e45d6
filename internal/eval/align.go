// Package eval scores transcripts against a ground-truth corpus:
// normalization, alignment, word and character error rates, and
// exclusive reference matching.
package eval

import "sort"

// matchBlock is one maximal run of equal elements in two sequences.
type matchBlock struct {
	A, B, Size int
}

// opcode describes how to turn a[I1:I2] into b[J1:J2].
type opcode struct {
	Tag            string // "equal", "replace", "delete", "insert"
	I1, I2, J1, J2 int
}

// longestMatch finds the longest run of equal elements inside the
// given windows, preferring the earliest position on ties.
func longestMatch[T comparable](a []T, b2j map[T][]int, alo, ahi, blo, bhi int) matchBlock {
	besti, bestj, bestsize := alo, blo, 0
	j2len := map[int]int{}
	for i := alo; i < ahi; i++ {
		newj2len := map[int]int{}
		for _, j := range b2j[a[i]] {
			if j < blo {
				continue
			}
			if j >= bhi {
				break
			}
			k := j2len[j-1] + 1
			newj2len[j] = k
			if k > bestsize {
				besti, bestj, bestsize = i-k+1, j-k+1, k
			}
		}
		j2len = newj2len
	}
	return matchBlock{A: besti, B: bestj, Size: bestsize}
}

// matchingBlocks returns all maximal matches in order, ending with a
// zero-size sentinel at (len(a), len(b)).
func matchingBlocks[T comparable](a, b []T) []matchBlock {
	b2j := make(map[T][]int, len(b))
	for j, x := range b {
		b2j[x] = append(b2j[x], j)
	}

	type window struct {
		alo, ahi, blo, bhi int
	}
	queue := []window{{0, len(a), 0, len(b)}}
	var found []matchBlock
	for len(queue) > 0 {
		w := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		m := longestMatch(a, b2j, w.alo, w.ahi, w.blo, w.bhi)
		if m.Size == 0 {
			continue
		}
		found = append(found, m)
		if w.alo < m.A && w.blo < m.B {
			queue = append(queue, window{w.alo, m.A, w.blo, m.B})
		}
		if m.A+m.Size < w.ahi && m.B+m.Size < w.bhi {
			queue = append(queue, window{m.A + m.Size, w.ahi, m.B + m.Size, w.bhi})
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].A != found[j].A {
			return found[i].A < found[j].A
		}
		return found[i].B < found[j].B
	})

	// Merge adjacent blocks.
	merged := found[:0]
	for _, m := range found {
		if n := len(merged); n > 0 {
			last := &merged[n-1]
			if last.A+last.Size == m.A && last.B+last.Size == m.B {
				last.Size += m.Size
				continue
			}
		}
		merged = append(merged, m)
	}
	return append(merged, matchBlock{A: len(a), B: len(b)})
}

// editOps turns matching blocks into edit opcodes.
func editOps[T comparable](a, b []T) []opcode {
	var ops []opcode
	i, j := 0, 0
	for _, m := range matchingBlocks(a, b) {
		tag := ""
		switch {
		case i < m.A && j < m.B:
			tag = "replace"
		case i < m.A:
			tag = "delete"
		case j < m.B:
			tag = "insert"
		}
		if tag != "" {
			ops = append(ops, opcode{Tag: tag, I1: i, I2: m.A, J1: j, J2: m.B})
		}
		i, j = m.A+m.Size, m.B+m.Size
		if m.Size > 0 {
			ops = append(ops, opcode{Tag: "equal", I1: m.A, I2: i, J1: m.B, J2: j})
		}
	}
	return ops
}

// ratio is the classic 2M/T similarity over two sequences: twice the
// matched element count over the combined length. Two empty sequences
// score 1.0.
func ratio[T comparable](a, b []T) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 1.0
	}
	matched := 0
	for _, m := range matchingBlocks(a, b) {
		matched += m.Size
	}
	return 2.0 * float64(matched) / float64(total)
}

// Similarity scores two normalized strings character-wise in [0, 1].
func Similarity(a, b string) float64 {
	return ratio([]rune(a), []rune(b))
}
