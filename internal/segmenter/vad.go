package segmenter

import (
	"log/slog"
	"time"

	"github.com/readback-labs/readback-core/internal/audio"
	"github.com/readback-labs/readback-core/internal/config"
	"github.com/readback-labs/readback-core/internal/vad"
)

// VadSegmenter opens a segment when the detector first reports speech
// and closes it after a run of trailing silence. Short blips under the
// minimum duration are discarded. Each segment carries a short
// acoustic lead-in from just before onset so word starts are not
// clipped; the lead-in stays outside the reported window.
type VadSegmenter struct {
	cfg      config.VADConfig
	detector vad.Detector
	log      *slog.Logger

	lead    *audio.Ring
	current *Segment

	silenceSince time.Duration
	inSilence    bool
	lastSpeech   time.Duration
}

func NewVad(cfg config.VADConfig, detector vad.Detector, sampleRate int, log *slog.Logger) *VadSegmenter {
	if log == nil {
		log = slog.Default()
	}
	return &VadSegmenter{
		cfg:      cfg,
		detector: detector,
		log:      log,
		lead:     audio.NewRing(cfg.OverlapDuration(), sampleRate),
	}
}

// Feed classifies one frame and advances the state machine. It returns
// the closed segment when this frame completes one, else nil.
func (s *VadSegmenter) Feed(frame audio.Frame) *Segment {
	verdict, err := s.detector.Classify(frame)
	if err != nil {
		// A failing detector must not stall capture; fall back to
		// silence so an open segment can still time out.
		s.log.Warn("vad classify failed", "engine", s.detector.Engine(), "error", err)
		verdict = vad.Verdict{}
	}

	if s.current == nil {
		if verdict.Speech {
			s.open(frame)
			return nil
		}
		s.lead.Push(frame)
		return nil
	}

	s.current.Frames = append(s.current.Frames, frame)

	if verdict.Speech {
		s.inSilence = false
		s.lastSpeech = frame.End()
	} else {
		if !s.inSilence {
			s.inSilence = true
			s.silenceSince = frame.Offset
		}
		if frame.End()-s.silenceSince >= s.cfg.SpeechTimeout() {
			return s.close(s.lastSpeech)
		}
	}

	if frame.End()-s.current.Start >= s.cfg.MaxSegmentDuration() {
		s.log.Info("segment hit max duration", "start", s.current.Start.Seconds())
		return s.close(frame.End())
	}
	return nil
}

// Flush closes any open segment, reporting speech up to the last
// frame that carried it. Used when a session stops mid-utterance.
func (s *VadSegmenter) Flush() *Segment {
	if s.current == nil {
		return nil
	}
	return s.close(s.lastSpeech)
}

func (s *VadSegmenter) open(frame audio.Frame) {
	seg := newSegment(OriginVAD, s.detector.Engine())
	seg.Frames = append(seg.Frames, s.lead.Snapshot(s.cfg.OverlapDuration())...)
	seg.Frames = append(seg.Frames, frame)
	seg.Start = frame.Offset
	s.current = seg
	s.inSilence = false
	s.lastSpeech = frame.End()
	s.lead.Reset()
}

func (s *VadSegmenter) close(end time.Duration) *Segment {
	seg := s.current
	s.current = nil
	s.inSilence = false
	seg.End = end

	// Carry the tail into the lead ring so back-to-back utterances
	// keep their onset context.
	for _, f := range seg.Frames {
		s.lead.Push(f)
	}

	if seg.Duration() < s.cfg.MinSpeechDuration() {
		s.log.Debug("discarding short segment",
			"start", seg.Start.Seconds(),
			"duration", seg.Duration().Seconds())
		return nil
	}
	return seg
}
