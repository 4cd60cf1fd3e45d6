package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/readback-labs/readback-core/internal/config"
)

// Gap records a span of session time with no captured audio, typically
// while reacquiring a failed device.
type Gap struct {
	Start    time.Duration
	Duration time.Duration
	Device   string
}

// Capture runs the device read loop for one session. It stamps frames
// with a monotonic sequence and a session-relative offset, reacquires
// the device on read failures, and gives up with ErrDeviceUnavailable
// once MaxReadFailures consecutive reads have failed.
type Capture struct {
	cfg     config.AudioConfig
	factory SourceFactory
	log     *slog.Logger

	frames chan Frame
	onGap  func(Gap)

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// NewCapture builds a capture loop over the given source factory.
// onGap may be nil.
func NewCapture(cfg config.AudioConfig, factory SourceFactory, onGap func(Gap), log *slog.Logger) *Capture {
	if log == nil {
		log = slog.Default()
	}
	return &Capture{
		cfg:     cfg,
		factory: factory,
		log:     log,
		frames:  make(chan Frame, cfg.BufferFrames()),
		onGap:   onGap,
		done:    make(chan struct{}),
	}
}

// Frames is the stream of captured frames. It is closed when the loop
// stops, after which Err reports why.
func (c *Capture) Frames() <-chan Frame { return c.frames }

// Err reports the terminal error after Frames is closed. A clean Stop
// returns nil.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Start acquires a device and begins the read loop.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("capture already started")
	}

	source, err := c.factory(ctx, c.cfg, "")
	if err != nil {
		return fmt.Errorf("acquire audio device: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.started = true
	go c.run(loopCtx, source)
	return nil
}

// Stop ends the read loop and waits for it to drain.
func (c *Capture) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	started := c.started
	c.mu.Unlock()
	if !started {
		return
	}
	if cancel != nil {
		cancel()
	}
	<-c.done
}

func (c *Capture) run(ctx context.Context, source Source) {
	defer close(c.done)
	defer close(c.frames)
	defer func() {
		if source != nil {
			_ = source.Close()
		}
	}()

	var (
		seq      uint64
		offset   time.Duration
		failures int
	)
	frameDur := c.cfg.FrameDuration()

	for {
		if ctx.Err() != nil {
			return
		}

		pcm, err := source.ReadFrame(ctx, c.cfg.ReadTimeout())
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			failures++
			c.log.Warn("audio read failed",
				"device", source.Device(),
				"consecutive_failures", failures,
				"error", err)
			if failures >= c.cfg.MaxReadFailures {
				c.fail(&DeviceError{Device: source.Device(), Err: ErrDeviceUnavailable})
				return
			}

			next, gap, rerr := c.reacquire(ctx, source)
			if rerr != nil {
				c.fail(rerr)
				return
			}
			_ = source.Close()
			source = next
			if gap > 0 {
				offset += gap
				if c.onGap != nil {
					c.onGap(Gap{Start: offset - gap, Duration: gap, Device: source.Device()})
				}
			}
			continue
		}

		failures = 0
		frame := Frame{
			Seq:        seq,
			PCM:        pcm,
			SampleRate: c.cfg.SampleRate,
			Captured:   time.Now(),
			Offset:     offset,
		}
		seq++
		offset += frameDur

		select {
		case c.frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// reacquire attempts to open a replacement source, preferring any
// device other than the one that just failed. The returned gap covers
// the time spent without a live stream.
func (c *Capture) reacquire(ctx context.Context, failed Source) (Source, time.Duration, error) {
	begin := time.Now()
	previous := failed.Device()

	source, err := c.factory(ctx, c.cfg, previous)
	if err != nil {
		// No alternative device; retry the failed one once.
		source, err = c.factory(ctx, c.cfg, "")
		if err != nil {
			return nil, 0, fmt.Errorf("reacquire audio device: %w", err)
		}
	}
	gap := time.Since(begin)
	c.log.Info("audio device reacquired",
		"previous", previous,
		"device", source.Device(),
		"gap_ms", gap.Milliseconds())
	return source, gap, nil
}

func (c *Capture) fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.log.Error("audio capture stopped", "error", err)
}
