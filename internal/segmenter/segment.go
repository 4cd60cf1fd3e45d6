// Package segmenter turns the frame stream into bounded speech
// segments, either by voice activity or by push-to-talk.
package segmenter

import (
	"time"

	"github.com/google/uuid"

	"github.com/readback-labs/readback-core/internal/audio"
)

// Segment origins.
const (
	OriginVAD        = "vad"
	OriginPushToTalk = "push_to_talk"
)

// Segment is one closed span of speech ready for transcription.
// Frames may extend before Start: voice-activity segments carry a
// short acoustic lead-in and push-to-talk segments carry pre-roll.
// Start and End bound the reported window in session time.
type Segment struct {
	ID     string
	Origin string
	Engine string
	Frames []audio.Frame
	Start  time.Duration
	End    time.Duration
}

func newSegment(origin, engine string) *Segment {
	return &Segment{
		ID:     uuid.NewString(),
		Origin: origin,
		Engine: engine,
	}
}

// PCM concatenates the segment's frames into one buffer.
func (s *Segment) PCM() []byte {
	size := 0
	for _, f := range s.Frames {
		size += len(f.PCM)
	}
	out := make([]byte, 0, size)
	for _, f := range s.Frames {
		out = append(out, f.PCM...)
	}
	return out
}

// Duration is the reported window length.
func (s *Segment) Duration() time.Duration {
	return s.End - s.Start
}

// SampleRate reports the rate of the underlying frames.
func (s *Segment) SampleRate() int {
	if len(s.Frames) == 0 {
		return 0
	}
	return s.Frames[0].SampleRate
}
