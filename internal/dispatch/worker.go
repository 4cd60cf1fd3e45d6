// Package dispatch moves closed segments to the recognizer. Each
// session owns a bounded queue; one shared worker serializes the
// actual transcription calls.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/readback-labs/readback-core/internal/config"
	"github.com/readback-labs/readback-core/internal/protocol"
	"github.com/readback-labs/readback-core/internal/segmenter"
	"github.com/readback-labs/readback-core/internal/stt"
)

// Error codes carried on failed transcript results.
const (
	CodeTranscriptionFailed = "transcription_failed"
	CodeInferenceTimeout    = "inference_timeout"
)

// Job is one segment bound for the recognizer.
type Job struct {
	SessionID string
	Subject   string
	Segment   *segmenter.Segment
	done      func()
}

// Worker serializes recognizer calls across all sessions in arrival
// order. A failed call gets one retry before an error-coded result is
// emitted; the pipeline never sees a transcription error as fatal.
type Worker struct {
	cfg        config.DispatchConfig
	timeout    time.Duration
	recognizer stt.Recognizer
	emit       func(protocol.TranscriptResult)
	log        *slog.Logger

	jobs chan Job
	done chan struct{}
}

func NewWorker(cfg config.DispatchConfig, timeout time.Duration, recognizer stt.Recognizer, emit func(protocol.TranscriptResult), log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		cfg:        cfg,
		timeout:    timeout,
		recognizer: recognizer,
		emit:       emit,
		log:        log,
		jobs:       make(chan Job),
		done:       make(chan struct{}),
	}
}

// Run consumes jobs until the context ends.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-w.jobs:
			w.process(ctx, job)
			if job.done != nil {
				job.done()
			}
		}
	}
}

// Done closes once Run has returned.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) submit(ctx context.Context, job Job) bool {
	select {
	case w.jobs <- job:
		return true
	case <-ctx.Done():
		return false
	case <-w.done:
		return false
	}
}

func (w *Worker) process(ctx context.Context, job Job) {
	seg := job.Segment
	result := protocol.TranscriptResult{
		SessionID:  job.SessionID,
		SegmentID:  seg.ID,
		Origin:     seg.Origin,
		Start:      seg.Start.Seconds(),
		End:        seg.End.Seconds(),
		ProducedAt: time.Now().UTC(),
	}

	if w.cfg.SaveAudio {
		path, err := w.saveAudio(job)
		if err != nil {
			w.log.Warn("failed to save segment audio", "segment", seg.ID, "error", err)
		} else {
			result.AudioFile = path
		}
	}

	pcm := seg.PCM()
	var res stt.Result
	var err error
	for attempt := 0; attempt <= w.cfg.Retries; attempt++ {
		res, err = w.transcribe(ctx, pcm, seg.SampleRate())
		if err == nil {
			break
		}
		if attempt < w.cfg.Retries {
			w.log.Warn("transcription failed, retrying",
				"segment", seg.ID, "attempt", attempt+1, "error", err)
		}
	}
	if err != nil {
		result.ErrorCode = CodeTranscriptionFailed
		if errors.Is(err, context.DeadlineExceeded) {
			result.ErrorCode = CodeInferenceTimeout
		}
		w.log.Error("transcription failed", "segment", seg.ID, "code", result.ErrorCode, "error", err)
	} else {
		result.Text = res.Text
		result.Confidence = res.Confidence
	}
	w.emit(result)
}

func (w *Worker) transcribe(ctx context.Context, pcm []byte, sampleRate int) (stt.Result, error) {
	callCtx := ctx
	if w.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	return w.recognizer.Transcribe(callCtx, pcm, sampleRate, 1)
}

func (w *Worker) saveAudio(job Job) (string, error) {
	dir := filepath.Join(w.cfg.AudioDir, job.Subject)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}
	name := fmt.Sprintf("speech_%d.wav", time.Now().UnixMilli())
	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create wav file: %w", err)
	}
	defer file.Close()
	if err := stt.WritePCMToWav(file, job.Segment.PCM(), job.Segment.SampleRate(), 1); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}
