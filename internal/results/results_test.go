package results

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/readback-labs/readback-core/internal/config"
	"github.com/readback-labs/readback-core/internal/protocol"
)

func TestLogCursorSemantics(t *testing.T) {
	l := NewLog()
	records, cursor := l.Since(0)
	if len(records) != 0 || cursor != 0 {
		t.Fatalf("empty log returned %d records, cursor %d", len(records), cursor)
	}

	l.Append(protocol.LiveRecord{Transcript: protocol.TranscriptResult{SegmentID: "a"}})
	l.Append(protocol.LiveRecord{Transcript: protocol.TranscriptResult{SegmentID: "b"}})

	records, cursor = l.Since(0)
	if len(records) != 2 || cursor != 2 {
		t.Fatalf("got %d records, cursor %d", len(records), cursor)
	}

	// Repeated cursor is idempotent.
	records, next := l.Since(cursor)
	if len(records) != 0 || next != cursor {
		t.Fatalf("repeat poll returned %d records, cursor %d", len(records), next)
	}

	l.Append(protocol.LiveRecord{Transcript: protocol.TranscriptResult{SegmentID: "c"}})
	records, next = l.Since(cursor)
	if len(records) != 1 || records[0].Transcript.SegmentID != "c" {
		t.Fatalf("advancing poll replayed records: %+v", records)
	}
	if next != 3 {
		t.Fatalf("cursor = %d, want 3", next)
	}
}

func TestLogSinceLimitNeverSkips(t *testing.T) {
	l := NewLog()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		l.Append(protocol.LiveRecord{Transcript: protocol.TranscriptResult{SegmentID: id}})
	}

	records, cursor := l.SinceLimit(0, 2)
	if len(records) != 2 || cursor != 2 {
		t.Fatalf("first batch: %d records, cursor %d", len(records), cursor)
	}
	if records[0].Transcript.SegmentID != "a" || records[1].Transcript.SegmentID != "b" {
		t.Fatalf("first batch out of order: %+v", records)
	}

	records, cursor = l.SinceLimit(cursor, 2)
	if len(records) != 2 || records[0].Transcript.SegmentID != "c" {
		t.Fatalf("second batch skipped records: %+v", records)
	}

	records, cursor = l.SinceLimit(cursor, 2)
	if len(records) != 1 || records[0].Transcript.SegmentID != "e" || cursor != 5 {
		t.Fatalf("tail batch: %+v, cursor %d", records, cursor)
	}
}

func TestJSONLWriterShape(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLWriter(dir)
	defer w.Close()

	produced := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	err := w.Append("pilot-1", protocol.TranscriptResult{
		Start:      1.23456,
		End:        4.5,
		Text:       "cleared for takeoff",
		Confidence: 0.87654,
		ProducedAt: produced,
		AudioFile:  "/data/audio/pilot-1/speech_1.wav",
	}, "energy", nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	file, err := os.Open(filepath.Join(dir, "pilot-1", "asr_results.jsonl"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		t.Fatal("no lines written")
	}
	var line map[string]any
	if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if line["start"] != 1.23 {
		t.Fatalf("start = %v, want 1.23", line["start"])
	}
	if line["confidence"] != 0.877 {
		t.Fatalf("confidence = %v, want 0.877", line["confidence"])
	}
	if line["transcript"] != "cleared for takeoff" || line["vad_engine"] != "energy" {
		t.Fatalf("line = %v", line)
	}
	if line["timestamp"] != "2026-03-14T15:09:26Z" {
		t.Fatalf("timestamp = %v", line["timestamp"])
	}
	for _, key := range []string{"start", "end", "transcript", "confidence", "timestamp", "vad_engine", "audio_file", "similarity", "wer"} {
		if _, ok := line[key]; !ok {
			t.Fatalf("persisted record missing %q, keys = %v", key, line)
		}
	}
	// Unevaluated transcripts carry explicit nulls.
	if line["similarity"] != nil || line["wer"] != nil {
		t.Fatalf("similarity/wer = %v/%v, want null until evaluated", line["similarity"], line["wer"])
	}
}

func TestJSONLWriterEvaluatedScores(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLWriter(dir)

	err := w.Append("pilot-1", protocol.TranscriptResult{
		Start:      0,
		End:        2,
		Text:       "contact tower",
		Confidence: 0.9,
		ProducedAt: time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC),
	}, "energy", &protocol.EvaluationRecord{
		Similarity: 0.94321,
		WER:        0.125,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	file, err := os.Open(filepath.Join(dir, "pilot-1", "asr_results.jsonl"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		t.Fatal("no lines written")
	}
	var line map[string]any
	if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if line["similarity"] != 0.943 {
		t.Fatalf("similarity = %v, want 0.943", line["similarity"])
	}
	if line["wer"] != 0.125 {
		t.Fatalf("wer = %v, want 0.125", line["wer"])
	}
}

func storeConfig(t *testing.T) config.ResultsConfig {
	t.Helper()
	cfg := config.Default().Results
	cfg.RetentionMode = "persistent"
	cfg.StorePath = filepath.Join(t.TempDir(), "results.db")
	return cfg
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := OpenStore(ctx, storeConfig(t), nil)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	if err := store.RecordSession(ctx, "sess-1", "pilot-1", "lesson-1", "continuous"); err != nil {
		t.Fatalf("RecordSession: %v", err)
	}
	record := protocol.TranscriptResult{
		SessionID: "sess-1",
		SegmentID: "seg-1",
		Text:      "cleared to land",
	}
	if err := store.RecordResult(ctx, "pilot-1", "lesson-1", record); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}

	rows, err := store.ListSessionResults(ctx, "sess-1", 10)
	if err != nil {
		t.Fatalf("ListSessionResults: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	var got protocol.TranscriptResult
	if err := json.Unmarshal(rows[0].Payload, &got); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if got.Text != "cleared to land" || got.SegmentID != "seg-1" {
		t.Fatalf("payload = %+v", got)
	}

	if err := store.MarkTerminated(ctx, "sess-1"); err != nil {
		t.Fatalf("MarkTerminated: %v", err)
	}
}

func TestStorePruneByAge(t *testing.T) {
	ctx := context.Background()
	cfg := storeConfig(t)
	cfg.RetentionDays = 7
	store, err := OpenStore(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	// Backdate the clock so the rows land outside retention.
	store.clock = func() time.Time { return time.Now().Add(-30 * 24 * time.Hour) }
	if err := store.RecordSession(ctx, "old-sess", "pilot-1", "lesson-1", "continuous"); err != nil {
		t.Fatalf("RecordSession: %v", err)
	}
	if err := store.RecordResult(ctx, "pilot-1", "lesson-1", protocol.TranscriptResult{SessionID: "old-sess"}); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}

	store.clock = time.Now
	if err := store.Prune(ctx); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	rows, err := store.ListSessionResults(ctx, "old-sess", 10)
	if err != nil {
		t.Fatalf("ListSessionResults: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected pruned store, found %d rows", len(rows))
	}
}

func TestStoreEphemeralNoops(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default().Results
	cfg.RetentionMode = "ephemeral"
	store, err := OpenStore(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	if err := store.RecordResult(ctx, "pilot-1", "lesson-1", protocol.TranscriptResult{}); err != nil {
		t.Fatalf("ephemeral RecordResult: %v", err)
	}
	rows, err := store.ListSessionResults(ctx, "any", 10)
	if err != nil || rows != nil {
		t.Fatalf("ephemeral list = %v, %v", rows, err)
	}
}
