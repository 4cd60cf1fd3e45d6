// Package vad classifies audio frames as speech or silence. The
// segmenter consumes one verdict per frame and never sees the backend.
package vad

import (
	"fmt"

	"github.com/readback-labs/readback-core/internal/audio"
	"github.com/readback-labs/readback-core/internal/config"
)

// Verdict is the per-frame classification.
type Verdict struct {
	Speech     bool
	Confidence float64
}

// Detector classifies frames one at a time. Implementations keep
// whatever internal state they need between frames.
type Detector interface {
	// Classify returns the verdict for one frame. On error the caller
	// treats the frame as silence.
	Classify(frame audio.Frame) (Verdict, error)
	// Reset clears internal state between sessions.
	Reset()
	// Engine names the backend for result records.
	Engine() string
	Close() error
}

// New builds the detector the config names.
func New(cfg config.VADConfig) (Detector, error) {
	switch cfg.Mode {
	case "energy":
		return NewEnergy(cfg.EnergyThreshold), nil
	case "exec":
		return NewExec(cfg.Command)
	case "mock":
		return NewMock(nil), nil
	default:
		return nil, fmt.Errorf("unknown vad mode %q", cfg.Mode)
	}
}
