package session

import (
	"context"
	"log/slog"
)

// TriggerKind distinguishes press from release.
type TriggerKind int

const (
	TriggerPress TriggerKind = iota
	TriggerRelease
)

// TriggerEvent is one push-to-talk action for a subject. The source
// of the event (hotkey daemon, UI button, test harness) is opaque.
type TriggerEvent struct {
	Subject string
	Kind    TriggerKind
}

// TriggerSource delivers press and release events. The channel closes
// when the source shuts down.
type TriggerSource interface {
	Events() <-chan TriggerEvent
}

// ChanTriggerSource is a TriggerSource over a plain channel, used by
// the daemon's control surface and by tests.
type ChanTriggerSource struct {
	events chan TriggerEvent
}

func NewChanTriggerSource(buffer int) *ChanTriggerSource {
	return &ChanTriggerSource{events: make(chan TriggerEvent, buffer)}
}

func (s *ChanTriggerSource) Events() <-chan TriggerEvent { return s.events }

// Send queues one event, dropping it when the buffer is full.
func (s *ChanTriggerSource) Send(ev TriggerEvent) bool {
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// Close ends the event stream.
func (s *ChanTriggerSource) Close() {
	close(s.events)
}

// AttachTrigger routes events from the source to the subject's active
// push-to-talk session until the source closes or the context ends.
func (m *Manager) AttachTrigger(ctx context.Context, source TriggerSource) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-source.Events():
				if !ok {
					return
				}
				var err error
				switch ev.Kind {
				case TriggerPress:
					err = m.Press(ev.Subject)
				case TriggerRelease:
					err = m.Release(ev.Subject)
				}
				if err != nil {
					m.log.Debug("trigger event ignored",
						slog.String("subject", ev.Subject),
						slog.String("error", err.Error()))
				}
			}
		}
	}()
}
