package audio

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/readback-labs/readback-core/internal/config"
)

func captureConfig() config.AudioConfig {
	cfg := config.Default().Audio
	cfg.ReadTimeoutMS = 50
	cfg.MaxReadFailures = 3
	return cfg
}

func TestCaptureStampsFrames(t *testing.T) {
	src := NewChanSource("test-mic", 16)
	factory := func(_ context.Context, _ config.AudioConfig, _ string) (Source, error) {
		return src, nil
	}

	cfg := captureConfig()
	capture := NewCapture(cfg, factory, nil, nil)
	if err := capture.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer capture.Stop()

	pcm := make([]byte, cfg.FrameSamples()*2)
	for i := 0; i < 3; i++ {
		if !src.Feed(pcm) {
			t.Fatalf("feed frame %d", i)
		}
	}

	for i := 0; i < 3; i++ {
		select {
		case frame := <-capture.Frames():
			if frame.Seq != uint64(i) {
				t.Fatalf("frame %d seq = %d", i, frame.Seq)
			}
			wantOffset := time.Duration(i) * cfg.FrameDuration()
			if frame.Offset != wantOffset {
				t.Fatalf("frame %d offset = %v, want %v", i, frame.Offset, wantOffset)
			}
			if frame.SampleRate != cfg.SampleRate {
				t.Fatalf("frame sample rate = %d", frame.SampleRate)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
}

func TestCaptureFailoverRecordsGap(t *testing.T) {
	first := NewChanSource("mic-a", 16)
	second := NewChanSource("mic-b", 16)
	var opens atomic.Int32
	factory := func(_ context.Context, _ config.AudioConfig, previous string) (Source, error) {
		if opens.Add(1) == 1 {
			return first, nil
		}
		if previous != "mic-a" {
			t.Errorf("reacquire previous = %q, want mic-a", previous)
		}
		return second, nil
	}

	var gaps atomic.Int32
	cfg := captureConfig()
	capture := NewCapture(cfg, factory, func(g Gap) {
		gaps.Add(1)
		if g.Device != "mic-b" {
			t.Errorf("gap device = %q, want mic-b", g.Device)
		}
		if g.Duration <= 0 {
			t.Errorf("gap duration = %v, want > 0", g.Duration)
		}
	}, nil)
	if err := capture.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer capture.Stop()

	pcm := make([]byte, cfg.FrameSamples()*2)
	first.Feed(pcm)
	select {
	case <-capture.Frames():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first frame")
	}

	// Let the read on mic-a time out, forcing a reacquire.
	deadline := time.After(2 * time.Second)
	second.Feed(pcm)
	select {
	case frame := <-capture.Frames():
		if frame.Seq != 1 {
			t.Fatalf("post-failover seq = %d, want 1", frame.Seq)
		}
		if frame.Offset <= cfg.FrameDuration() {
			t.Fatalf("post-failover offset = %v, want gap included", frame.Offset)
		}
	case <-deadline:
		t.Fatal("timed out waiting for post-failover frame")
	}
	if gaps.Load() != 1 {
		t.Fatalf("gap callbacks = %d, want 1", gaps.Load())
	}
}

func TestCaptureGivesUpAfterMaxFailures(t *testing.T) {
	src := NewChanSource("mic-a", 1)
	factory := func(_ context.Context, _ config.AudioConfig, _ string) (Source, error) {
		return src, nil
	}

	cfg := captureConfig()
	cfg.ReadTimeoutMS = 10
	capture := NewCapture(cfg, factory, nil, nil)
	if err := capture.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case _, ok := <-capture.Frames():
		if ok {
			t.Fatal("unexpected frame from silent source")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("capture did not give up")
	}
	if err := capture.Err(); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Err() = %v, want ErrDeviceUnavailable", err)
	}
}

func TestChanSourceReadTimeout(t *testing.T) {
	src := NewChanSource("mic", 1)
	_, err := src.ReadFrame(context.Background(), 10*time.Millisecond)
	if !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("ReadFrame on empty source = %v, want ErrReadTimeout", err)
	}
	src.Close()
	if _, err := src.ReadFrame(context.Background(), 10*time.Millisecond); !errors.Is(err, ErrSourceClosed) {
		t.Fatalf("ReadFrame after Close = %v, want ErrSourceClosed", err)
	}
}

func TestCaptureBufferSizedFromConfig(t *testing.T) {
	cfg := captureConfig()
	cfg.BufferSeconds = 2.0
	capture := NewCapture(cfg, nil, nil, nil)
	if got := cap(capture.Frames()); got != cfg.BufferFrames() {
		t.Fatalf("frame channel capacity = %d, want %d", got, cfg.BufferFrames())
	}
	if cfg.BufferFrames() != 100 {
		t.Fatalf("BufferFrames() = %d, want 100 for 2s of 20ms frames", cfg.BufferFrames())
	}
}
