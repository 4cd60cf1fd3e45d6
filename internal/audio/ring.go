package audio

import (
	"sync"
	"time"
)

// Ring holds the most recent frames up to a fixed span of audio. It
// backs push-to-talk pre-roll and speech-onset context.
type Ring struct {
	mu         sync.Mutex
	frames     []Frame
	samples    int
	capSamples int
	sampleRate int
}

// NewRing sizes a ring for the given span at the given rate.
func NewRing(span time.Duration, sampleRate int) *Ring {
	capSamples := int(span.Seconds() * float64(sampleRate))
	if capSamples < 1 {
		capSamples = 1
	}
	return &Ring{capSamples: capSamples, sampleRate: sampleRate}
}

// Push appends a frame, evicting the oldest frames once the ring is
// over capacity.
func (r *Ring) Push(frame Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
	r.samples += frame.Samples()
	for len(r.frames) > 0 && r.samples > r.capSamples {
		r.samples -= r.frames[0].Samples()
		r.frames = r.frames[1:]
	}
}

// Snapshot copies out the most recent frames covering at most span of
// audio, oldest first.
func (r *Ring) Snapshot(span time.Duration) []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := int(span.Seconds() * float64(r.sampleRate))
	if want <= 0 || len(r.frames) == 0 {
		return nil
	}
	total := 0
	start := len(r.frames)
	for start > 0 && total < want {
		start--
		total += r.frames[start].Samples()
	}
	out := make([]Frame, len(r.frames)-start)
	copy(out, r.frames[start:])
	return out
}

// Len reports buffered samples.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples
}

// Reset drops all buffered frames.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = nil
	r.samples = 0
}
