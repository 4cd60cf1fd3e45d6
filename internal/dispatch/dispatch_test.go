package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/readback-labs/readback-core/internal/audio"
	"github.com/readback-labs/readback-core/internal/config"
	"github.com/readback-labs/readback-core/internal/protocol"
	"github.com/readback-labs/readback-core/internal/segmenter"
	"github.com/readback-labs/readback-core/internal/stt"
)

func testSegment(start time.Duration) *segmenter.Segment {
	return &segmenter.Segment{
		ID:     "seg-" + start.String(),
		Origin: segmenter.OriginVAD,
		Frames: []audio.Frame{{
			PCM:        make([]byte, 320*2),
			SampleRate: 16000,
			Offset:     start,
		}},
		Start: start,
		End:   start + time.Second,
	}
}

type resultSink struct {
	mu      sync.Mutex
	results []protocol.TranscriptResult
}

func (s *resultSink) emit(r protocol.TranscriptResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
}

func (s *resultSink) all() []protocol.TranscriptResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.TranscriptResult, len(s.results))
	copy(out, s.results)
	return out
}

func startWorker(t *testing.T, rec stt.Recognizer, sink *resultSink) (*Worker, context.Context) {
	t.Helper()
	cfg := config.Default().Dispatch
	cfg.SaveAudio = false
	return startWorkerWith(t, cfg, rec, sink)
}

func startWorkerWith(t *testing.T, cfg config.DispatchConfig, rec stt.Recognizer, sink *resultSink) (*Worker, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	w := NewWorker(cfg, 5*time.Second, rec, sink.emit, nil)
	go w.Run(ctx)
	return w, ctx
}

func TestWorkerEmitsTranscript(t *testing.T) {
	rec := stt.NewMockRecognizer()
	rec.Queue("runway two seven left", 0.88)
	sink := &resultSink{}
	w, ctx := startWorker(t, rec, sink)

	d := NewDispatcher(ctx, "sess-1", "pilot", 4, w, nil, nil)
	if !d.Enqueue(testSegment(time.Second)) {
		t.Fatal("Enqueue refused")
	}
	d.Drain()

	results := sink.all()
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	r := results[0]
	if r.Text != "runway two seven left" || r.Confidence != 0.88 {
		t.Fatalf("unexpected result %+v", r)
	}
	if r.SessionID != "sess-1" || r.Origin != segmenter.OriginVAD {
		t.Fatalf("result metadata %+v", r)
	}
	if r.Start != 1.0 || r.End != 2.0 {
		t.Fatalf("result window [%v, %v]", r.Start, r.End)
	}
	if r.ErrorCode != "" {
		t.Fatalf("unexpected error code %q", r.ErrorCode)
	}
}

func TestWorkerRetriesOnceThenErrorCodes(t *testing.T) {
	rec := stt.NewMockRecognizer()
	rec.QueueError(errors.New("backend flake"))
	rec.Queue("after retry", 0.7)
	// Second segment fails both attempts.
	rec.QueueError(errors.New("down"))
	rec.QueueError(errors.New("still down"))
	sink := &resultSink{}
	w, ctx := startWorker(t, rec, sink)

	d := NewDispatcher(ctx, "sess-1", "pilot", 4, w, nil, nil)
	d.Enqueue(testSegment(0))
	d.Enqueue(testSegment(5 * time.Second))
	d.Drain()

	results := sink.all()
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Text != "after retry" || results[0].ErrorCode != "" {
		t.Fatalf("first result %+v", results[0])
	}
	if results[1].ErrorCode != CodeTranscriptionFailed {
		t.Fatalf("second result code = %q, want %q", results[1].ErrorCode, CodeTranscriptionFailed)
	}
	if results[1].Text != "" {
		t.Fatalf("failed result should carry no text, got %q", results[1].Text)
	}
}

func TestWorkerRetriesFollowConfig(t *testing.T) {
	cfg := config.Default().Dispatch
	cfg.SaveAudio = false
	cfg.Retries = 2

	rec := stt.NewMockRecognizer()
	rec.QueueError(errors.New("down"))
	rec.QueueError(errors.New("still down"))
	rec.Queue("third attempt lands", 0.8)
	sink := &resultSink{}
	w, ctx := startWorkerWith(t, cfg, rec, sink)

	d := NewDispatcher(ctx, "sess-1", "pilot", 4, w, nil, nil)
	d.Enqueue(testSegment(0))
	d.Drain()

	results := sink.all()
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Text != "third attempt lands" || results[0].ErrorCode != "" {
		t.Fatalf("result %+v", results[0])
	}
}

func TestWorkerZeroRetriesFailsFirstError(t *testing.T) {
	cfg := config.Default().Dispatch
	cfg.SaveAudio = false
	cfg.Retries = 0

	rec := stt.NewMockRecognizer()
	rec.QueueError(errors.New("down"))
	rec.Queue("next segment", 0.8)
	sink := &resultSink{}
	w, ctx := startWorkerWith(t, cfg, rec, sink)

	d := NewDispatcher(ctx, "sess-1", "pilot", 4, w, nil, nil)
	d.Enqueue(testSegment(0))
	d.Enqueue(testSegment(5 * time.Second))
	d.Drain()

	results := sink.all()
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ErrorCode != CodeTranscriptionFailed {
		t.Fatalf("first result %+v, want immediate failure", results[0])
	}
	// The queued success was not consumed by a retry.
	if results[1].Text != "next segment" {
		t.Fatalf("second result %+v", results[1])
	}
}

// gatedRecognizer blocks every call until the gate opens, letting a
// test back up the dispatch queue deterministically.
type gatedRecognizer struct {
	gate  chan struct{}
	inner *stt.MockRecognizer
}

func (g *gatedRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int) (stt.Result, error) {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return stt.Result{}, ctx.Err()
	}
	return g.inner.Transcribe(ctx, pcm, sampleRate, channels)
}

func (g *gatedRecognizer) Close() error { return g.inner.Close() }

func TestDispatcherDropsOldestWhenFull(t *testing.T) {
	rec := &gatedRecognizer{gate: make(chan struct{}), inner: stt.NewMockRecognizer()}
	sink := &resultSink{}
	w, ctx := startWorker(t, rec, sink)

	var mu sync.Mutex
	var droppedIDs []string
	d := NewDispatcher(ctx, "sess-1", "pilot", 2, w, func(seg *segmenter.Segment, _ uint64) {
		mu.Lock()
		droppedIDs = append(droppedIDs, seg.ID)
		mu.Unlock()
	}, nil)

	// With the recognizer gated, at most one segment is in flight and
	// one is held by the pump; queue size 2 bounds the rest.
	segs := make([]*segmenter.Segment, 6)
	for i := range segs {
		segs[i] = testSegment(time.Duration(i) * 2 * time.Second)
		d.Enqueue(segs[i])
	}

	close(rec.gate)
	d.Drain()

	processed := sink.all()
	dropped := d.Dropped()
	if uint64(len(processed))+dropped != uint64(len(segs)) {
		t.Fatalf("processed %d + dropped %d != enqueued %d", len(processed), dropped, len(segs))
	}
	if dropped == 0 {
		t.Fatal("expected at least one drop with a gated recognizer")
	}
	// The newest segment must survive; drops shed the oldest first.
	last := processed[len(processed)-1]
	if last.SegmentID != segs[len(segs)-1].ID {
		t.Fatalf("newest segment %s was dropped", segs[len(segs)-1].ID)
	}
	for i := 1; i < len(processed); i++ {
		if processed[i].Start < processed[i-1].Start {
			t.Fatalf("results out of order: %v after %v", processed[i].Start, processed[i-1].Start)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if uint64(len(droppedIDs)) != dropped {
		t.Fatalf("drop callback fired %d times, counter says %d", len(droppedIDs), dropped)
	}
}

func TestEnqueueAfterDrainRefused(t *testing.T) {
	rec := stt.NewMockRecognizer()
	sink := &resultSink{}
	w, ctx := startWorker(t, rec, sink)

	d := NewDispatcher(ctx, "sess-1", "pilot", 4, w, nil, nil)
	d.Drain()
	if d.Enqueue(testSegment(0)) {
		t.Fatal("Enqueue after Drain should be refused")
	}
}
