package eval

import (
	"fmt"
	"sync"

	"github.com/readback-labs/readback-core/internal/config"
)

// Evaluation is one scored transcript.
type Evaluation struct {
	Transcript     string
	Matched        bool
	ReferenceIndex int
	Reference      string
	Similarity     float64
	Metrics        PairMetrics
}

// Engine scores transcripts against per-activity corpora. Activities
// are independent; one activity's evaluations never consume another's
// references.
type Engine struct {
	cfg config.EvaluationConfig

	mu         sync.Mutex
	activities map[string]*activityState
}

type activityState struct {
	corpus      *Corpus
	evaluations []Evaluation
	mu          sync.Mutex
}

func NewEngine(cfg config.EvaluationConfig) *Engine {
	return &Engine{cfg: cfg, activities: make(map[string]*activityState)}
}

// RegisterActivity installs the ground-truth lines for an activity,
// replacing any earlier registration and its recorded evaluations.
func (e *Engine) RegisterActivity(activityID string, references []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activities[activityID] = &activityState{
		corpus: NewCorpus(references, e.cfg.NormalizeNumbers),
	}
}

func (e *Engine) activity(activityID string) (*activityState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.activities[activityID]
	if !ok {
		return nil, fmt.Errorf("unknown activity %q", activityID)
	}
	return state, nil
}

// Evaluate scores one transcript against the activity's remaining
// references. A matched reference is consumed; an unmatched transcript
// scores WER and CER of 1.0 with no reference attached.
func (e *Engine) Evaluate(activityID, transcript string) (Evaluation, error) {
	state, err := e.activity(activityID)
	if err != nil {
		return Evaluation{}, err
	}

	normalized := Normalize(transcript, e.cfg.NormalizeNumbers)
	match := state.corpus.Match(normalized, e.cfg.MatchThreshold)

	ev := Evaluation{
		Transcript:     transcript,
		Matched:        match.Matched,
		ReferenceIndex: match.Index,
		Similarity:     match.Similarity,
	}
	if match.Matched {
		ev.Reference = match.Reference
		ev.Metrics = Score(match.Normalized, normalized)
	} else {
		ev.Metrics = PairMetrics{
			WER:          1.0,
			CER:          1.0,
			EditDistance: len([]rune(normalized)),
			Words: WordCounts{
				TotalErrors: len(fields(normalized)),
			},
		}
	}

	state.mu.Lock()
	state.evaluations = append(state.evaluations, ev)
	state.mu.Unlock()
	return ev, nil
}

// Reset returns every reference in the activity to play and clears
// its recorded evaluations.
func (e *Engine) Reset(activityID string) error {
	state, err := e.activity(activityID)
	if err != nil {
		return err
	}
	state.corpus.Reset()
	state.mu.Lock()
	state.evaluations = nil
	state.mu.Unlock()
	return nil
}

// Report aggregates an activity's evaluations so far.
func (e *Engine) Report(activityID string) (AggregateReport, error) {
	state, err := e.activity(activityID)
	if err != nil {
		return AggregateReport{}, err
	}
	state.mu.Lock()
	evals := make([]Evaluation, len(state.evaluations))
	copy(evals, state.evaluations)
	state.mu.Unlock()
	return aggregate(evals, state.corpus, e.cfg.MatchThreshold), nil
}
