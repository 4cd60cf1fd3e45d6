package eval

import (
	"sync"
)

// Reference is one ground-truth line and its consumption state. A
// consumed reference is out of play until the corpus resets, so two
// transcripts can never claim the same line.
type Reference struct {
	Text       string
	normalized string
	consumed   bool
}

// Corpus is one activity's ground truth. All matching goes through
// the corpus lock, keeping assignment exclusive under concurrent
// evaluation.
type Corpus struct {
	mu   sync.Mutex
	refs []Reference
}

// NewCorpus normalizes and stores the reference lines.
func NewCorpus(lines []string, normalizeNumbers bool) *Corpus {
	refs := make([]Reference, len(lines))
	for i, line := range lines {
		refs[i] = Reference{
			Text:       line,
			normalized: Normalize(line, normalizeNumbers),
		}
	}
	return &Corpus{refs: refs}
}

// MatchResult is the outcome of one exclusive match attempt.
type MatchResult struct {
	Matched    bool
	Index      int
	Reference  string
	Normalized string
	Similarity float64
}

// Match finds the unconsumed reference most similar to the normalized
// transcript and consumes it when the score clears the threshold.
// Ties keep the lowest index. Unmatched attempts still report the
// best score seen.
func (c *Corpus) Match(normalized string, threshold float64) MatchResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	best := MatchResult{Index: -1}
	for i := range c.refs {
		ref := &c.refs[i]
		if ref.consumed {
			continue
		}
		score := Similarity(ref.normalized, normalized)
		if score > best.Similarity {
			best = MatchResult{
				Index:      i,
				Reference:  ref.Text,
				Normalized: ref.normalized,
				Similarity: score,
			}
		}
	}
	if best.Index >= 0 && best.Similarity >= threshold {
		best.Matched = true
		c.refs[best.Index].consumed = true
		return best
	}
	return MatchResult{Index: -1, Similarity: best.Similarity}
}

// Reset returns every reference to play.
func (c *Corpus) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.refs {
		c.refs[i].consumed = false
	}
}

// Size reports the total reference count.
func (c *Corpus) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.refs)
}

// Consumed reports how many references have been claimed.
func (c *Corpus) Consumed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for i := range c.refs {
		if c.refs[i].consumed {
			n++
		}
	}
	return n
}
