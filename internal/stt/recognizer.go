// Package stt wraps speech-to-text backends behind a single
// Recognizer interface so the dispatcher never cares which engine is
// configured.
package stt

import (
	"context"
	"fmt"

	"github.com/readback-labs/readback-core/internal/config"
)

// Result is one backend transcription.
type Result struct {
	Text       string
	Confidence float64
}

// Recognizer transcribes one PCM buffer per call. Implementations must
// be safe for use from a single worker goroutine.
type Recognizer interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int) (Result, error)
	Close() error
}

// New builds the recognizer the config names.
func New(cfg config.STTConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "exec":
		return NewExecRecognizer(cfg)
	case "mock":
		return NewMockRecognizer(), nil
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}
