package audio

import (
	"testing"
	"time"
)

func makeFrame(seq uint64, samples int, offset time.Duration) Frame {
	return Frame{
		Seq:        seq,
		PCM:        make([]byte, samples*2),
		SampleRate: 16000,
		Offset:     offset,
	}
}

func TestRingEvictsOldest(t *testing.T) {
	// 100ms capacity at 16kHz = 1600 samples = 5 frames of 320.
	r := NewRing(100*time.Millisecond, 16000)
	for i := 0; i < 8; i++ {
		r.Push(makeFrame(uint64(i), 320, time.Duration(i)*20*time.Millisecond))
	}
	if got := r.Len(); got != 1600 {
		t.Fatalf("Len() = %d, want 1600", got)
	}
	frames := r.Snapshot(time.Second)
	if len(frames) != 5 {
		t.Fatalf("Snapshot returned %d frames, want 5", len(frames))
	}
	if frames[0].Seq != 3 {
		t.Fatalf("oldest retained frame seq = %d, want 3", frames[0].Seq)
	}
	if frames[len(frames)-1].Seq != 7 {
		t.Fatalf("newest retained frame seq = %d, want 7", frames[len(frames)-1].Seq)
	}
}

func TestRingSnapshotSpan(t *testing.T) {
	r := NewRing(time.Second, 16000)
	for i := 0; i < 10; i++ {
		r.Push(makeFrame(uint64(i), 320, time.Duration(i)*20*time.Millisecond))
	}
	// 60ms at 16kHz = 960 samples = 3 frames.
	frames := r.Snapshot(60 * time.Millisecond)
	if len(frames) != 3 {
		t.Fatalf("Snapshot returned %d frames, want 3", len(frames))
	}
	if frames[0].Seq != 7 {
		t.Fatalf("snapshot start seq = %d, want 7", frames[0].Seq)
	}
}

func TestRingSnapshotEmpty(t *testing.T) {
	r := NewRing(time.Second, 16000)
	if frames := r.Snapshot(time.Second); frames != nil {
		t.Fatalf("Snapshot on empty ring = %v, want nil", frames)
	}
}

func TestRingReset(t *testing.T) {
	r := NewRing(time.Second, 16000)
	r.Push(makeFrame(0, 320, 0))
	r.Reset()
	if r.Len() != 0 {
		t.Fatalf("Len after Reset = %d, want 0", r.Len())
	}
}
