package stt

import (
	"context"
	"fmt"
	"sync"
)

// MockRecognizer returns queued results in order, or a placeholder
// transcript derived from the payload size when the queue is empty.
// Tests drive it with Queue and QueueError.
type MockRecognizer struct {
	mu     sync.Mutex
	queue  []queued
	closed bool
}

type queued struct {
	result Result
	err    error
}

func NewMockRecognizer() *MockRecognizer {
	return &MockRecognizer{}
}

// Queue appends a canned result.
func (m *MockRecognizer) Queue(text string, confidence float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, queued{result: Result{Text: text, Confidence: confidence}})
}

// QueueError appends a canned failure.
func (m *MockRecognizer) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, queued{err: err})
}

func (m *MockRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate, _ int) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Result{}, fmt.Errorf("recognizer closed")
	}
	if len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		return next.result, next.err
	}
	seconds := 0.0
	if sampleRate > 0 {
		seconds = float64(len(pcm)/2) / float64(sampleRate)
	}
	return Result{
		Text:       fmt.Sprintf("mock transcript %.1fs", seconds),
		Confidence: 1.0,
	}, nil
}

func (m *MockRecognizer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
