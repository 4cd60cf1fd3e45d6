package eval

// AggregateReport summarizes an activity's evaluations. Match rate is
// the share of transcripts that claimed a reference; coverage rate is
// the share of references claimed. The averages run over matched
// evaluations only.
type AggregateReport struct {
	TotalTranscripts    int     `json:"total_transcripts"`
	TotalReferences     int     `json:"total_references"`
	Matched             int     `json:"matched_transcriptions"`
	Unmatched           int     `json:"unmatched_transcriptions"`
	UnmatchedReferences int     `json:"unmatched_references"`
	MatchRate           float64 `json:"match_rate"`
	CoverageRate        float64 `json:"coverage_rate"`
	AverageWER          float64 `json:"average_wer"`
	AverageCER          float64 `json:"average_cer"`
	AverageWordAccuracy float64 `json:"average_word_accuracy"`
	AverageCharAccuracy float64 `json:"average_char_accuracy"`
	AverageSimilarity   float64 `json:"average_similarity"`
	MatchThreshold      float64 `json:"match_threshold"`
}

func aggregate(evals []Evaluation, corpus *Corpus, threshold float64) AggregateReport {
	report := AggregateReport{
		TotalTranscripts: len(evals),
		TotalReferences:  corpus.Size(),
		MatchThreshold:   threshold,
	}

	var sumWER, sumCER, sumSim float64
	for _, ev := range evals {
		if !ev.Matched {
			report.Unmatched++
			continue
		}
		report.Matched++
		sumWER += ev.Metrics.WER
		sumCER += ev.Metrics.CER
		sumSim += ev.Similarity
	}

	consumed := corpus.Consumed()
	report.UnmatchedReferences = report.TotalReferences - consumed
	if len(evals) > 0 {
		report.MatchRate = float64(report.Matched) / float64(len(evals))
	}
	if report.TotalReferences > 0 {
		report.CoverageRate = float64(consumed) / float64(report.TotalReferences)
	}
	if report.Matched > 0 {
		n := float64(report.Matched)
		report.AverageWER = sumWER / n
		report.AverageCER = sumCER / n
		report.AverageSimilarity = sumSim / n
		report.AverageWordAccuracy = 1.0 - report.AverageWER
		report.AverageCharAccuracy = 1.0 - report.AverageCER
	}
	return report
}
