package eval

import "strings"

// WordCounts breaks a word error rate into its components.
type WordCounts struct {
	Substitutions int `json:"substitutions"`
	Deletions     int `json:"deletions"`
	Insertions    int `json:"insertions"`
	TotalErrors   int `json:"total_errors"`
	TotalWords    int `json:"total_words"`
}

// PairMetrics scores one reference-hypothesis pair.
type PairMetrics struct {
	WER          float64
	CER          float64
	WordAccuracy float64
	CharAccuracy float64
	Similarity   float64
	EditDistance int
	Words        WordCounts
}

// WER aligns normalized word sequences and scores edits against the
// reference length. Both inputs must already be normalized. An empty
// reference with a non-empty hypothesis scores every hypothesis word
// as an insertion against a floor of one reference word.
func WER(reference, hypothesis string) (float64, WordCounts) {
	ref := fields(reference)
	hyp := fields(hypothesis)

	counts := WordCounts{TotalWords: len(ref)}
	for _, op := range editOps(ref, hyp) {
		switch op.Tag {
		case "replace":
			n := op.I2 - op.I1
			if m := op.J2 - op.J1; m > n {
				n = m
			}
			counts.Substitutions += n
		case "delete":
			counts.Deletions += op.I2 - op.I1
		case "insert":
			counts.Insertions += op.J2 - op.J1
		}
	}
	counts.TotalErrors = counts.Substitutions + counts.Deletions + counts.Insertions

	if counts.TotalErrors == 0 {
		return 0.0, counts
	}
	denom := counts.TotalWords
	if denom == 0 {
		denom = 1
	}
	return float64(counts.TotalErrors) / float64(denom), counts
}

// CER is the character edit distance over the reference length, with
// spaces removed first. The empty-reference floor mirrors WER.
func CER(reference, hypothesis string) (float64, int) {
	ref := []rune(strings.ReplaceAll(reference, " ", ""))
	hyp := []rune(strings.ReplaceAll(hypothesis, " ", ""))

	dist := levenshtein(ref, hyp)
	if dist == 0 {
		return 0.0, 0
	}
	denom := len(ref)
	if denom == 0 {
		denom = 1
	}
	return float64(dist) / float64(denom), dist
}

// Score computes all pair metrics over normalized inputs.
func Score(reference, hypothesis string) PairMetrics {
	wer, counts := WER(reference, hypothesis)
	cer, dist := CER(reference, hypothesis)
	return PairMetrics{
		WER:          wer,
		CER:          cer,
		WordAccuracy: 1.0 - wer,
		CharAccuracy: 1.0 - cer,
		Similarity:   Similarity(reference, hypothesis),
		EditDistance: dist,
		Words:        counts,
	}
}

func fields(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}
