package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/readback-labs/readback-core/internal/segmenter"
)

// Dispatcher is one session's bounded hand-off to the shared worker.
// When the recognizer falls behind and the queue fills, the oldest
// queued segment is dropped so live audio keeps flowing.
type Dispatcher struct {
	sessionID string
	subject   string
	worker    *Worker
	log       *slog.Logger
	onDrop    func(seg *segmenter.Segment, dropped uint64)

	queue    chan *segmenter.Segment
	pumpDone chan struct{}

	mu      sync.Mutex
	wg      sync.WaitGroup
	closed  bool
	dropped uint64
}

func NewDispatcher(ctx context.Context, sessionID, subject string, queueSize int, worker *Worker, onDrop func(*segmenter.Segment, uint64), log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if queueSize < 1 {
		queueSize = 1
	}
	d := &Dispatcher{
		sessionID: sessionID,
		subject:   subject,
		worker:    worker,
		log:       log,
		onDrop:    onDrop,
		queue:     make(chan *segmenter.Segment, queueSize),
		pumpDone:  make(chan struct{}),
	}
	go d.pump(ctx)
	return d
}

// Enqueue queues a segment for transcription. A full queue sheds its
// oldest entry first; Enqueue itself never blocks the audio path.
func (d *Dispatcher) Enqueue(seg *segmenter.Segment) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	for {
		select {
		case d.queue <- seg:
			return true
		default:
		}
		select {
		case oldest := <-d.queue:
			d.dropped++
			d.log.Warn("dropping queued segment, recognizer behind",
				"session", d.sessionID,
				"segment", oldest.ID,
				"dropped_total", d.dropped)
			if d.onDrop != nil {
				d.onDrop(oldest, d.dropped)
			}
		default:
		}
	}
}

// Dropped reports how many segments this session has shed.
func (d *Dispatcher) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Drain stops intake and waits for queued and in-flight segments to
// finish transcribing.
func (d *Dispatcher) Drain() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.pumpDone
	d.wg.Wait()
}

func (d *Dispatcher) pump(ctx context.Context) {
	defer close(d.pumpDone)
	for seg := range d.queue {
		d.wg.Add(1)
		job := Job{
			SessionID: d.sessionID,
			Subject:   d.subject,
			Segment:   seg,
			done:      d.wg.Done,
		}
		if !d.worker.submit(ctx, job) {
			d.wg.Done()
			return
		}
	}
}
