// Package session binds one subject to one active capture pipeline
// and owns its lifecycle: start, stop, trigger routing, live result
// polling, and evaluation of finished transcripts.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/readback-labs/readback-core/internal/audio"
	"github.com/readback-labs/readback-core/internal/bus"
	"github.com/readback-labs/readback-core/internal/config"
	"github.com/readback-labs/readback-core/internal/dispatch"
	"github.com/readback-labs/readback-core/internal/eval"
	"github.com/readback-labs/readback-core/internal/protocol"
	"github.com/readback-labs/readback-core/internal/results"
	"github.com/readback-labs/readback-core/internal/segmenter"
	"github.com/readback-labs/readback-core/internal/stt"
	"github.com/readback-labs/readback-core/internal/vad"
)

// Capture modes.
const (
	ModeContinuous = "continuous"
	ModePushToTalk = "push_to_talk"
)

var (
	ErrNoActiveSession = errors.New("session: no active session for subject")
	ErrWrongMode       = errors.New("session: operation not valid for capture mode")
)

// Observer receives pipeline lifecycle notifications. The runtime
// installs one to feed metrics; a nil observer is fine.
type Observer interface {
	SegmentClosed(sessionID string)
	SegmentDropped(sessionID string)
	CaptureGap(sessionID string)
	ResultEmitted(errorCode string)
}

// Manager supervises at most one active capture session per subject.
// Starting a new session for a subject implicitly terminates the old
// one; results from in-flight transcriptions of a terminated session
// are still recorded, tagged as terminated.
type Manager struct {
	cfg      config.Config
	factory  audio.SourceFactory
	engine   *eval.Engine
	store    *results.Store
	jsonl    *results.JSONLWriter
	bus      *bus.Client
	log      *slog.Logger
	worker   *dispatch.Worker
	observer Observer

	runCtx context.Context

	mu       sync.Mutex
	active   map[string]*capture // by subject
	inflight map[string]*capture // by session id, until drained
	logs     map[string]*results.Log
}

// capture is one live (or draining) session pipeline.
type capture struct {
	id        string
	subject   string
	activity  string
	mode      string
	engine    string
	createdAt time.Time

	core       *audio.Capture
	vadSeg     *segmenter.VadSegmenter
	ptt        *segmenter.PushToTalkRecorder
	detector   vad.Detector
	dispatcher *dispatch.Dispatcher

	terminated atomic.Bool
	pumpDone   chan struct{}
}

func NewManager(cfg config.Config, factory audio.SourceFactory, recognizer stt.Recognizer, engine *eval.Engine, store *results.Store, jsonl *results.JSONLWriter, busClient *bus.Client, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		cfg:      cfg,
		factory:  factory,
		engine:   engine,
		store:    store,
		jsonl:    jsonl,
		bus:      busClient,
		log:      log,
		active:   make(map[string]*capture),
		inflight: make(map[string]*capture),
		logs:     make(map[string]*results.Log),
	}
	m.worker = dispatch.NewWorker(cfg.Dispatch, cfg.STT.Timeout(), recognizer, m.handleResult, log.With("component", "dispatch"))
	return m
}

// SetObserver installs the lifecycle observer. Call before starting
// sessions.
func (m *Manager) SetObserver(o Observer) {
	m.observer = o
}

// Run drives the shared transcription worker until the context ends.
// Call it once, before starting sessions.
func (m *Manager) Run(ctx context.Context) {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()
	m.worker.Run(ctx)
}

// StartContinuousCapture opens a voice-activity session for the
// subject and returns its session id.
func (m *Manager) StartContinuousCapture(ctx context.Context, subject, activity string) (string, error) {
	return m.start(ctx, subject, activity, ModeContinuous)
}

// StartPushToTalk opens a manually triggered session for the subject
// and returns its session id.
func (m *Manager) StartPushToTalk(ctx context.Context, subject, activity string) (string, error) {
	return m.start(ctx, subject, activity, ModePushToTalk)
}

func (m *Manager) start(ctx context.Context, subject, activity, mode string) (string, error) {
	// At most one active session per subject.
	if err := m.Stop(subject); err != nil && !errors.Is(err, ErrNoActiveSession) {
		return "", err
	}

	c := &capture{
		id:        uuid.NewString(),
		subject:   subject,
		activity:  activity,
		mode:      mode,
		createdAt: time.Now().UTC(),
		pumpDone:  make(chan struct{}),
	}

	sampleRate := m.cfg.Audio.SampleRate
	switch mode {
	case ModeContinuous:
		detector, err := vad.New(m.cfg.VAD)
		if err != nil {
			return "", err
		}
		c.detector = detector
		c.engine = detector.Engine()
		c.vadSeg = segmenter.NewVad(m.cfg.VAD, detector, sampleRate, m.log.With("session", c.id))
	case ModePushToTalk:
		c.engine = segmenter.OriginPushToTalk
		c.ptt = segmenter.NewPushToTalk(m.cfg.PushToTalk, sampleRate, m.log.With("session", c.id))
	default:
		return "", fmt.Errorf("unknown capture mode %q", mode)
	}

	onGap := func(g audio.Gap) {
		if m.observer != nil {
			m.observer.CaptureGap(c.id)
		}
		m.log.Warn("capture gap recorded",
			"session", c.id,
			"at", g.Start.Seconds(),
			"duration", g.Duration.Seconds(),
			"device", g.Device)
		if m.bus != nil {
			m.bus.PublishJSON(protocol.SubjectCaptureGap, protocol.CaptureGap{
				SessionID: c.id,
				At:        g.Start.Seconds(),
				Duration:  g.Duration,
				Device:    g.Device,
			})
		}
	}
	c.core = audio.NewCapture(m.cfg.Audio, m.factory, onGap, m.log.With("session", c.id))

	m.mu.Lock()
	runCtx := m.runCtx
	m.mu.Unlock()
	if runCtx == nil {
		runCtx = context.Background()
	}
	onDrop := func(seg *segmenter.Segment, total uint64) {
		if m.observer != nil {
			m.observer.SegmentDropped(c.id)
		}
		if m.bus != nil {
			m.bus.PublishJSON(protocol.SubjectSegmentDropped, map[string]any{
				"session_id":    c.id,
				"segment_id":    seg.ID,
				"dropped_total": total,
			})
		}
	}
	c.dispatcher = dispatch.NewDispatcher(runCtx, c.id, subject, m.cfg.Dispatch.QueueSize, m.worker, onDrop, m.log.With("session", c.id))

	if err := c.core.Start(ctx); err != nil {
		c.dispatcher.Drain()
		if c.detector != nil {
			c.detector.Close()
		}
		return "", err
	}

	m.mu.Lock()
	m.active[subject] = c
	m.inflight[c.id] = c
	if _, ok := m.logs[subject]; !ok {
		m.logs[subject] = results.NewLog()
	}
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.RecordSession(ctx, c.id, subject, activity, mode); err != nil {
			m.log.Warn("failed to record session", "session", c.id, "error", err)
		}
	}

	go m.pump(c)
	m.log.Info("session started", "session", c.id, "subject", subject, "activity", activity, "mode", mode)
	return c.id, nil
}

// pump drives frames from capture into the session's segmenter until
// the source stops.
func (m *Manager) pump(c *capture) {
	defer close(c.pumpDone)
	for frame := range c.core.Frames() {
		var seg *segmenter.Segment
		if c.vadSeg != nil {
			seg = c.vadSeg.Feed(frame)
		} else {
			seg = c.ptt.Feed(frame)
		}
		if seg != nil {
			if m.observer != nil {
				m.observer.SegmentClosed(c.id)
			}
			c.dispatcher.Enqueue(seg)
		}
	}
	if err := c.core.Err(); err != nil {
		// The device is gone for good; the session cannot continue.
		m.log.Error("session lost its audio device", "session", c.id, "error", err)
		go func() {
			if stopErr := m.Stop(c.subject); stopErr != nil && !errors.Is(stopErr, ErrNoActiveSession) {
				m.log.Warn("failed to stop dead session", "session", c.id, "error", stopErr)
			}
		}()
	}
}

// Press routes a push-to-talk press to the subject's session.
func (m *Manager) Press(subject string) error {
	c, err := m.activeSession(subject)
	if err != nil {
		return err
	}
	if c.ptt == nil {
		return ErrWrongMode
	}
	c.ptt.Press()
	return nil
}

// Release routes a push-to-talk release to the subject's session.
func (m *Manager) Release(subject string) error {
	c, err := m.activeSession(subject)
	if err != nil {
		return err
	}
	if c.ptt == nil {
		return ErrWrongMode
	}
	c.ptt.Release()
	return nil
}

func (m *Manager) activeSession(subject string) (*capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.active[subject]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveSession, subject)
	}
	return c, nil
}

// Stop terminates the subject's active session. Any open segment is
// flushed and dispatched; transcriptions already in flight finish in
// the background and their results are tagged as terminated.
func (m *Manager) Stop(subject string) error {
	m.mu.Lock()
	c, ok := m.active[subject]
	if ok {
		delete(m.active, subject)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoActiveSession, subject)
	}

	c.core.Stop()
	<-c.pumpDone
	c.terminated.Store(true)

	var tail *segmenter.Segment
	if c.vadSeg != nil {
		tail = c.vadSeg.Flush()
	} else {
		tail = c.ptt.Flush()
	}
	if tail != nil {
		c.dispatcher.Enqueue(tail)
	}

	if c.detector != nil {
		if err := c.detector.Close(); err != nil {
			m.log.Warn("failed to close vad backend", "session", c.id, "error", err)
		}
	}
	if m.store != nil {
		if err := m.store.MarkTerminated(context.Background(), c.id); err != nil {
			m.log.Warn("failed to mark session terminated", "session", c.id, "error", err)
		}
	}

	// Let queued work finish without holding up the caller, then
	// forget the session.
	go func() {
		c.dispatcher.Drain()
		m.mu.Lock()
		delete(m.inflight, c.id)
		m.mu.Unlock()
	}()

	m.log.Info("session stopped", "session", c.id, "subject", subject)
	return nil
}

// PollLiveResults returns up to limit records appended for the
// subject since the cursor, plus the cursor for the next poll. A limit
// of zero returns everything. Polling survives session turnover; the
// log is per subject, not per session.
func (m *Manager) PollLiveResults(subject string, cursor results.Cursor, limit int) ([]protocol.LiveRecord, results.Cursor, error) {
	m.mu.Lock()
	log, ok := m.logs[subject]
	m.mu.Unlock()
	if !ok {
		return nil, cursor, fmt.Errorf("%w: %s", ErrNoActiveSession, subject)
	}
	records, next := log.SinceLimit(cursor, limit)
	return records, next, nil
}

// Evaluate scores a transcript against the activity's corpus outside
// the capture flow, for live scoring of partial transcripts. It
// consumes a matched reference like any pipeline evaluation.
func (m *Manager) Evaluate(activityID, text string) (eval.Evaluation, error) {
	return m.engine.Evaluate(activityID, text)
}

// Report proxies the aggregate evaluation report for an activity.
func (m *Manager) Report(activityID string) (eval.AggregateReport, error) {
	return m.engine.Report(activityID)
}

// handleResult is the dispatch worker's emit callback. It evaluates
// successful transcripts, appends to the live log, and fans the
// record out to JSONL, SQLite, and the bus.
func (m *Manager) handleResult(result protocol.TranscriptResult) {
	m.mu.Lock()
	c, ok := m.inflight[result.SessionID]
	m.mu.Unlock()
	if !ok {
		m.log.Warn("result for unknown session dropped", "session", result.SessionID)
		return
	}
	result.Terminated = c.terminated.Load()
	if m.observer != nil {
		m.observer.ResultEmitted(result.ErrorCode)
	}

	record := protocol.LiveRecord{Transcript: result}
	if result.ErrorCode == "" && result.Text != "" {
		ev, err := m.engine.Evaluate(c.activity, result.Text)
		if err != nil {
			m.log.Warn("evaluation failed", "session", c.id, "activity", c.activity, "error", err)
		} else {
			record.Evaluation = &protocol.EvaluationRecord{
				TranscriptID:     result.SegmentID,
				ActivityID:       c.activity,
				Transcript:       result.Text,
				MatchedReference: ev.Reference,
				ReferenceIndex:   ev.ReferenceIndex,
				Matched:          ev.Matched,
				Similarity:       ev.Similarity,
				WER:              ev.Metrics.WER,
				CER:              ev.Metrics.CER,
				EvaluatedAt:      time.Now().UTC(),
			}
		}
	}

	m.mu.Lock()
	log, ok := m.logs[c.subject]
	if !ok {
		log = results.NewLog()
		m.logs[c.subject] = log
	}
	m.mu.Unlock()
	log.Append(record)

	if m.jsonl != nil {
		if err := m.jsonl.Append(c.subject, result, c.engine, record.Evaluation); err != nil {
			m.log.Warn("failed to append result log", "session", c.id, "error", err)
		}
	}
	if m.store != nil {
		if err := m.store.RecordResult(context.Background(), c.subject, c.activity, result); err != nil {
			m.log.Warn("failed to store result", "session", c.id, "error", err)
		}
	}
	if m.bus != nil {
		m.bus.PublishJSON(protocol.SubjectTranscriptFinal, result)
		if record.Evaluation != nil {
			m.bus.PublishJSON(protocol.SubjectEvaluation, record.Evaluation)
		}
	}
}

// Shutdown stops every active session and waits briefly for draining
// dispatchers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	subjects := make([]string, 0, len(m.active))
	for subject := range m.active {
		subjects = append(subjects, subject)
	}
	m.mu.Unlock()
	for _, subject := range subjects {
		if err := m.Stop(subject); err != nil {
			m.log.Warn("failed to stop session during shutdown", "subject", subject, "error", err)
		}
	}
}
