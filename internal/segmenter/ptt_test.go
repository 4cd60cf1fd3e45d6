package segmenter

import (
	"testing"
	"time"

	"github.com/readback-labs/readback-core/internal/config"
)

func TestPushToTalkWindow(t *testing.T) {
	cfg := config.Default().PushToTalk
	r := NewPushToTalk(cfg, 16000, nil)

	var seg *Segment
	press := 10 * time.Second
	release := 12 * time.Second
	for off := time.Duration(0); off < 20*time.Second; off += testFrameDur {
		if off == press {
			r.Press()
		}
		if off == release {
			r.Release()
		}
		if got := r.Feed(frameAt(off)); got != nil {
			seg = got
			break
		}
	}
	if seg == nil {
		t.Fatal("no segment closed")
	}
	if seg.Origin != OriginPushToTalk {
		t.Fatalf("origin = %q", seg.Origin)
	}
	if seg.Start != 5*time.Second {
		t.Fatalf("start = %v, want 5s of pre-roll before the press", seg.Start)
	}
	if seg.End != 17*time.Second {
		t.Fatalf("end = %v, want 5s of post-roll after the release", seg.End)
	}
}

func TestPushToTalkEarlyPressClampsToZero(t *testing.T) {
	cfg := config.Default().PushToTalk
	r := NewPushToTalk(cfg, 16000, nil)

	// Only one second of audio exists before the press.
	for off := time.Duration(0); off < time.Second; off += testFrameDur {
		r.Feed(frameAt(off))
	}
	r.Press()
	r.Release()

	var seg *Segment
	for off := time.Second; off < 10*time.Second; off += testFrameDur {
		if got := r.Feed(frameAt(off)); got != nil {
			seg = got
			break
		}
	}
	if seg == nil {
		t.Fatal("no segment closed")
	}
	if seg.Start != 0 {
		t.Fatalf("start = %v, want 0", seg.Start)
	}
}

func TestPushToTalkRepressDuringPostRollMerges(t *testing.T) {
	cfg := config.Default().PushToTalk
	r := NewPushToTalk(cfg, 16000, nil)

	var segs []*Segment
	for off := time.Duration(0); off < 30*time.Second; off += testFrameDur {
		switch off {
		case 10 * time.Second:
			r.Press()
		case 11 * time.Second:
			r.Release()
		case 13 * time.Second: // inside the first post-roll
			r.Press()
		case 14 * time.Second:
			r.Release()
		}
		if got := r.Feed(frameAt(off)); got != nil {
			segs = append(segs, got)
		}
	}
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1 merged segment", len(segs))
	}
	if segs[0].End != 19*time.Second {
		t.Fatalf("end = %v, want 19s", segs[0].End)
	}
}

func TestPushToTalkFlushKeepsPostRoll(t *testing.T) {
	cfg := config.Default().PushToTalk
	r := NewPushToTalk(cfg, 16000, nil)

	// Still pressed at flush time: the window ends post-roll after the
	// last captured audio.
	for off := time.Duration(0); off < 8*time.Second; off += testFrameDur {
		if off == 6*time.Second {
			r.Press()
		}
		r.Feed(frameAt(off))
	}
	seg := r.Flush()
	if seg == nil {
		t.Fatal("Flush returned nil with open recording")
	}
	if want := 8*time.Second + cfg.PostRoll(); seg.End != want {
		t.Fatalf("end = %v, want %v", seg.End, want)
	}
	if r.Flush() != nil {
		t.Fatal("second Flush should return nil")
	}
}

func TestPushToTalkFlushKeepsPendingClose(t *testing.T) {
	cfg := config.Default().PushToTalk
	r := NewPushToTalk(cfg, 16000, nil)

	// Released before flush: the pending close time already carries the
	// post-roll, and flushing later must not stretch the window.
	for off := time.Duration(0); off < 12*time.Second; off += testFrameDur {
		switch off {
		case 6 * time.Second:
			r.Press()
		case 8 * time.Second:
			r.Release()
		}
		r.Feed(frameAt(off))
		if off == 10*time.Second {
			break
		}
	}
	seg := r.Flush()
	if seg == nil {
		t.Fatal("Flush returned nil with open recording")
	}
	if want := 8*time.Second + cfg.PostRoll(); seg.End != want {
		t.Fatalf("end = %v, want %v", seg.End, want)
	}
}
