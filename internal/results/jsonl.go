package results

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/readback-labs/readback-core/internal/protocol"
)

// JSONLWriter appends one line per transcript to a per-subject
// asr_results.jsonl. The files are the durable flat-file record the
// evaluation tooling reads back.
type JSONLWriter struct {
	dir string

	mu    sync.Mutex
	files map[string]*os.File
}

type jsonlRecord struct {
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Transcript string   `json:"transcript"`
	Confidence float64  `json:"confidence"`
	Timestamp  string   `json:"timestamp"`
	VadEngine  string   `json:"vad_engine"`
	AudioFile  string   `json:"audio_file,omitempty"`
	ErrorCode  string   `json:"error_code,omitempty"`
	Similarity *float64 `json:"similarity"`
	WER        *float64 `json:"wer"`
}

func NewJSONLWriter(dir string) *JSONLWriter {
	return &JSONLWriter{dir: dir, files: make(map[string]*os.File)}
}

// Append writes one result line for the subject. The similarity and
// wer fields stay null until the transcript has been evaluated.
func (w *JSONLWriter) Append(subject string, record protocol.TranscriptResult, engine string, evaluation *protocol.EvaluationRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := w.fileFor(subject)
	if err != nil {
		return err
	}

	line := jsonlRecord{
		Start:      round(record.Start, 2),
		End:        round(record.End, 2),
		Transcript: record.Text,
		Confidence: round(record.Confidence, 3),
		Timestamp:  record.ProducedAt.UTC().Format(time.RFC3339),
		VadEngine:  engine,
		AudioFile:  record.AudioFile,
		ErrorCode:  record.ErrorCode,
	}
	if evaluation != nil {
		similarity := round(evaluation.Similarity, 3)
		wer := round(evaluation.WER, 3)
		line.Similarity = &similarity
		line.WER = &wer
	}
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("marshal result line: %w", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append result line: %w", err)
	}
	return nil
}

func (w *JSONLWriter) fileFor(subject string) (*os.File, error) {
	if file, ok := w.files[subject]; ok {
		return file, nil
	}
	dir := filepath.Join(w.dir, subject)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, "asr_results.jsonl")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open result log: %w", err)
	}
	w.files[subject] = file
	return file, nil
}

// Close flushes and closes every open file.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var firstErr error
	for subject, file := range w.files {
		if err := file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(w.files, subject)
	}
	return firstErr
}

func round(v float64, places int) float64 {
	scale := math.Pow10(places)
	return math.Round(v*scale) / scale
}
