package vad

import "github.com/readback-labs/readback-core/internal/audio"

// Mock replays a scripted verdict sequence, repeating the final entry
// once the script runs out. An empty script classifies everything as
// silence.
type Mock struct {
	script []Verdict
	pos    int
}

func NewMock(script []Verdict) *Mock {
	return &Mock{script: script}
}

func (m *Mock) Classify(_ audio.Frame) (Verdict, error) {
	if len(m.script) == 0 {
		return Verdict{}, nil
	}
	v := m.script[m.pos]
	if m.pos < len(m.script)-1 {
		m.pos++
	}
	return v, nil
}

func (m *Mock) Reset()         { m.pos = 0 }
func (m *Mock) Engine() string { return "mock" }
func (m *Mock) Close() error   { return nil }
