package segmenter

import (
	"log/slog"
	"sync"
	"time"

	"github.com/readback-labs/readback-core/internal/audio"
	"github.com/readback-labs/readback-core/internal/config"
)

// PushToTalkRecorder captures one segment per press. The segment
// includes pre-roll audio from before the press and post-roll audio
// after the release, both inside the reported window. Pressing again
// during post-roll folds the new press into the open segment instead
// of starting another.
type PushToTalkRecorder struct {
	cfg config.PushToTalkConfig
	log *slog.Logger

	mu      sync.Mutex
	ring    *audio.Ring
	current *Segment
	pressed bool
	closeAt time.Duration
	now     time.Duration
	started bool
}

func NewPushToTalk(cfg config.PushToTalkConfig, sampleRate int, log *slog.Logger) *PushToTalkRecorder {
	if log == nil {
		log = slog.Default()
	}
	return &PushToTalkRecorder{
		cfg:  cfg,
		log:  log,
		ring: audio.NewRing(cfg.PreRoll(), sampleRate),
	}
}

// Press opens a segment at the current session offset, pulling
// pre-roll from the ring. Pressing while a segment is open only
// cancels a pending post-roll close.
func (r *PushToTalkRecorder) Press() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		r.pressed = true
		return
	}

	seg := newSegment(OriginPushToTalk, "")
	seg.Frames = append(seg.Frames, r.ring.Snapshot(r.cfg.PreRoll())...)
	start := r.now - r.cfg.PreRoll()
	if !r.started || start < 0 {
		start = 0
	}
	if len(seg.Frames) > 0 && seg.Frames[0].Offset > start {
		start = seg.Frames[0].Offset
	}
	seg.Start = start
	r.current = seg
	r.pressed = true
	r.log.Debug("push-to-talk pressed", "start", start.Seconds())
}

// Release schedules the close after the post-roll window.
func (r *PushToTalkRecorder) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil || !r.pressed {
		return
	}
	r.pressed = false
	r.closeAt = r.now + r.cfg.PostRoll()
	r.log.Debug("push-to-talk released", "close_at", r.closeAt.Seconds())
}

// Feed advances session time and returns the closed segment once the
// post-roll window has elapsed, else nil.
func (r *PushToTalkRecorder) Feed(frame audio.Frame) *Segment {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = frame.End()
	r.started = true

	if r.current == nil {
		r.ring.Push(frame)
		return nil
	}

	r.current.Frames = append(r.current.Frames, frame)
	if !r.pressed && r.now >= r.closeAt {
		return r.closeLocked(r.closeAt)
	}
	return nil
}

// Flush closes an open segment when a session stops mid-recording.
// The window keeps its post-roll tail: a still-pressed segment closes
// at the current offset plus post-roll, a released one at its pending
// close time. No more audio arrives, so the tail may extend past the
// last captured frame.
func (r *PushToTalkRecorder) Flush() *Segment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	end := r.now + r.cfg.PostRoll()
	if !r.pressed && r.closeAt < end {
		end = r.closeAt
	}
	r.pressed = false
	return r.closeLocked(end)
}

func (r *PushToTalkRecorder) closeLocked(end time.Duration) *Segment {
	seg := r.current
	r.current = nil
	seg.End = end

	for _, f := range seg.Frames {
		r.ring.Push(f)
	}
	return seg
}
