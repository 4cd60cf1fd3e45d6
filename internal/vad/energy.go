package vad

import "github.com/readback-labs/readback-core/internal/audio"

// Energy is a threshold detector over normalized frame RMS. It is the
// default backend and needs no external process.
type Energy struct {
	threshold float64
}

func NewEnergy(threshold float64) *Energy {
	return &Energy{threshold: threshold}
}

func (e *Energy) Classify(frame audio.Frame) (Verdict, error) {
	rms := frame.RMS()
	speech := rms >= e.threshold
	confidence := 0.0
	if e.threshold > 0 {
		confidence = rms / (e.threshold * 2)
		if confidence > 1 {
			confidence = 1
		}
	} else if speech {
		confidence = 1
	}
	return Verdict{Speech: speech, Confidence: confidence}, nil
}

func (e *Energy) Reset()        {}
func (e *Energy) Engine() string { return "energy" }
func (e *Energy) Close() error  { return nil }
