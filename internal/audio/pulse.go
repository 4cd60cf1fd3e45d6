package audio

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"

	"github.com/readback-labs/readback-core/internal/config"
)

// Device describes one Pulse input source.
type Device struct {
	ID          string
	Description string
	Available   bool
	Muted       bool
	Default     bool
}

// ListDevices returns available Pulse input sources with
// default/availability metadata.
func ListDevices(_ context.Context) ([]Device, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("readback-core"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	defaultSource, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}
	defaultID := defaultSource.ID()

	var sourceInfos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &sourceInfos); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	devices := make([]Device, 0, len(sourceInfos))
	for _, source := range sourceInfos {
		if source == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          source.SourceName,
			Description: source.Device,
			Available:   sourceAvailable(source),
			Muted:       source.Mute,
			Default:     source.SourceName == defaultID,
		})
	}
	return devices, nil
}

// selectDevice resolves a hint against live devices, skipping a
// previously failed device when reacquiring.
func selectDevice(devices []Device, hint, previous string) (Device, error) {
	if len(devices) == 0 {
		return Device{}, ErrDeviceUnavailable
	}

	hint = strings.TrimSpace(strings.ToLower(hint))

	usable := func(d Device) bool {
		return d.Available && !d.Muted && d.ID != previous
	}

	if hint != "" && hint != "default" {
		for _, d := range devices {
			if usable(d) && deviceMatches(d, hint) {
				return d, nil
			}
		}
	}
	for _, d := range devices {
		if d.Default && usable(d) {
			return d, nil
		}
	}
	for _, d := range devices {
		if usable(d) {
			return d, nil
		}
	}
	return Device{}, ErrDeviceUnavailable
}

func deviceMatches(device Device, term string) bool {
	if term == "" {
		return false
	}
	id := strings.ToLower(device.ID)
	desc := strings.ToLower(device.Description)
	return strings.Contains(id, term) || strings.Contains(desc, term)
}

// PulseSource streams fixed-size PCM frames from one Pulse input.
type PulseSource struct {
	device Device

	client *pulse.Client
	stream *pulse.RecordStream

	frames    chan []byte
	stopCh    chan struct{}
	frameSize int

	mu      sync.Mutex
	pending []byte
	stopped bool
}

// OpenPulse enumerates Pulse inputs, selects one per the configured
// hint, and starts a mono s16le record stream at the configured rate.
// It satisfies SourceFactory.
func OpenPulse(ctx context.Context, cfg config.AudioConfig, previous string) (Source, error) {
	devices, err := ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	selected, err := selectDevice(devices, cfg.DeviceHint, previous)
	if err != nil {
		return nil, err
	}

	client, err := pulse.NewClient(
		pulse.ClientApplicationName("readback-core"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}

	source, err := client.SourceByID(selected.ID)
	if err != nil {
		client.Close()
		return nil, &DeviceError{Device: selected.ID, Err: err}
	}

	frameBytes := cfg.FrameSamples() * 2
	ps := &PulseSource{
		device:    selected,
		client:    client,
		frames:    make(chan []byte, 128),
		stopCh:    make(chan struct{}),
		frameSize: frameBytes,
	}

	writer := pulse.NewWriter(writerFunc(ps.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(cfg.SampleRate),
		pulse.RecordBufferFragmentSize(uint32(frameBytes)),
		pulse.RecordMediaName("readback capture"),
	)
	if err != nil {
		ps.Close()
		return nil, &DeviceError{Device: selected.ID, Err: err}
	}

	ps.stream = stream
	stream.Start()
	return ps, nil
}

func (s *PulseSource) Device() string { return s.device.ID }

func (s *PulseSource) ReadFrame(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case pcm, ok := <-s.frames:
		if !ok {
			return nil, ErrSourceClosed
		}
		return pcm, nil
	case <-timer.C:
		return nil, &DeviceError{Device: s.device.ID, Err: ErrReadTimeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *PulseSource) Close() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	if s.stream != nil {
		s.stream.Stop()
		s.stream.Close()
	}
	if s.client != nil {
		s.client.Close()
	}
	return nil
}

// onPCM receives raw Pulse buffers and emits frameSize slices.
func (s *PulseSource) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	select {
	case <-s.stopCh:
		return 0, io.EOF
	default:
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, io.EOF
	}
	s.pending = append(s.pending, buffer...)
	var chunks [][]byte
	for len(s.pending) >= s.frameSize {
		chunk := make([]byte, s.frameSize)
		copy(chunk, s.pending[:s.frameSize])
		s.pending = s.pending[s.frameSize:]
		chunks = append(chunks, chunk)
	}
	s.mu.Unlock()

	for _, chunk := range chunks {
		select {
		case <-s.stopCh:
			return 0, io.EOF
		case s.frames <- chunk:
		}
	}

	return len(buffer), nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}

func sourceAvailable(source *pulseproto.GetSourceInfoReply) bool {
	if source == nil {
		return false
	}
	if len(source.Ports) == 0 {
		return true
	}
	for _, port := range source.Ports {
		if port.Name != source.ActivePortName {
			continue
		}
		// PulseAudio values: unknown=0, no=1, yes=2.
		return port.Available == 0 || port.Available == 2
	}
	return true
}

var _ SourceFactory = OpenPulse
