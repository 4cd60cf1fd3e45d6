package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/readback-labs/readback-core/internal/config"
)

var (
	// ErrReadTimeout reports that no PCM arrived within the read
	// timeout, usually the first sign of a lost device.
	ErrReadTimeout = errors.New("audio: frame read timed out")
	// ErrSourceClosed reports a read on a stopped source.
	ErrSourceClosed = errors.New("audio: source closed")
	// ErrDeviceUnavailable is the fatal condition after failover
	// retries are exhausted.
	ErrDeviceUnavailable = errors.New("audio: no usable input device")
)

// DeviceError wraps a hardware-level failure with the device it came from.
type DeviceError struct {
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %q: %v", e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Source is one opened hardware input stream.
type Source interface {
	// Device identifies the underlying input for logging and failover.
	Device() string
	// ReadFrame blocks until one fixed-size PCM frame is available,
	// the timeout elapses (ErrReadTimeout), or the context is done.
	ReadFrame(ctx context.Context, timeout time.Duration) ([]byte, error)
	Close() error
}

// SourceFactory opens a source, preferring cfg.DeviceHint and skipping
// the previously failed device when reacquiring.
type SourceFactory func(ctx context.Context, cfg config.AudioConfig, previous string) (Source, error)

// ChanSource adapts a plain channel of PCM frames to the Source
// interface. Tests and synthetic feeds use it in place of hardware.
type ChanSource struct {
	name   string
	frames chan []byte

	mu     sync.Mutex
	closed bool
}

func NewChanSource(name string, buffer int) *ChanSource {
	return &ChanSource{name: name, frames: make(chan []byte, buffer)}
}

func (s *ChanSource) Device() string { return s.name }

// Feed queues one PCM frame for ReadFrame. Returns false when the
// source is closed or the buffer is full.
func (s *ChanSource) Feed(pcm []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.frames <- pcm:
		return true
	default:
		return false
	}
}

func (s *ChanSource) ReadFrame(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case pcm, ok := <-s.frames:
		if !ok {
			return nil, ErrSourceClosed
		}
		return pcm, nil
	case <-timer.C:
		return nil, ErrReadTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *ChanSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}
