// Package audio owns microphone capture: device discovery, the frame
// stream, device-loss recovery, and the pre-roll ring buffer.
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Frame is one fixed-size chunk of mono s16le PCM. Frames are immutable
// once produced; ownership transfers downstream with the value.
type Frame struct {
	Seq        uint64
	PCM        []byte
	SampleRate int
	Captured   time.Time
	// Offset is the session-relative position of the frame's first
	// sample. It keeps advancing across device gaps.
	Offset time.Duration
}

// Samples returns the number of s16 samples in the frame.
func (f Frame) Samples() int {
	return len(f.PCM) / 2
}

// Duration is the time span the frame covers.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// End is the session-relative position just past the frame's last sample.
func (f Frame) End() time.Duration {
	return f.Offset + f.Duration()
}

// RMS computes the root-mean-square level of the frame normalized to
// [0,1]. Used by the energy voice-activity detector.
func (f Frame) RMS() float64 {
	n := f.Samples()
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(f.PCM[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum/float64(n)) / 32768.0
}
