package protocol

import "time"

// TranscriptResult is the finalized output of one dispatched segment.
type TranscriptResult struct {
	SessionID  string    `json:"session_id"`
	SegmentID  string    `json:"segment_id"`
	Origin     string    `json:"origin"` // vad or push_to_talk
	Start      float64   `json:"start"`  // session-relative seconds
	End        float64   `json:"end"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	ProducedAt time.Time `json:"produced_at"`
	AudioFile  string    `json:"audio_file,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
	// Terminated marks a result whose session ended before the
	// transcription backend returned.
	Terminated bool `json:"terminated,omitempty"`
}

// EvaluationRecord scores one transcript against a reference corpus.
type EvaluationRecord struct {
	TranscriptID     string    `json:"transcript_id"`
	ActivityID       string    `json:"activity_id"`
	Transcript       string    `json:"transcript"`
	MatchedReference string    `json:"matched_reference,omitempty"`
	ReferenceIndex   int       `json:"reference_index"`
	Matched          bool      `json:"matched"`
	Similarity       float64   `json:"similarity"`
	WER              float64   `json:"wer"`
	CER              float64   `json:"cer"`
	EvaluatedAt      time.Time `json:"evaluated_at"`
}

// LiveRecord pairs a transcript with its evaluation, when one was
// produced, for cursor-based polling.
type LiveRecord struct {
	Transcript TranscriptResult  `json:"transcript"`
	Evaluation *EvaluationRecord `json:"evaluation,omitempty"`
}

// CaptureGap records a hole in the captured timeline caused by device
// loss and reacquisition. Gaps are reported explicitly, never hidden.
type CaptureGap struct {
	SessionID string        `json:"session_id"`
	At        float64       `json:"at"` // session-relative seconds
	Duration  time.Duration `json:"duration"`
	Device    string        `json:"device"`
}

const (
	SubjectTranscriptFinal = "asr.result.final"
	SubjectEvaluation      = "asr.eval.record"
	SubjectCaptureGap      = "asr.capture.gap"
	SubjectSegmentDropped  = "asr.segment.dropped"
)
