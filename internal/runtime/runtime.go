// Package runtime assembles the daemon: telemetry, bus, stores, the
// session manager, and the HTTP control surface.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/readback-labs/readback-core/internal/audio"
	"github.com/readback-labs/readback-core/internal/bus"
	"github.com/readback-labs/readback-core/internal/config"
	"github.com/readback-labs/readback-core/internal/eval"
	"github.com/readback-labs/readback-core/internal/natsserver"
	"github.com/readback-labs/readback-core/internal/results"
	"github.com/readback-labs/readback-core/internal/session"
	"github.com/readback-labs/readback-core/internal/stt"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer  *http.Server
	tracerClose func(context.Context) error
	embedded    *natsserver.EmbeddedServer
	busClient   *bus.Client
	store       *results.Store
	jsonl       *results.JSONLWriter
	manager     *session.Manager
	engine      *eval.Engine

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{cfg: cfg, logger: logger}
}

// Manager exposes the session manager for embedding callers.
func (r *Runtime) Manager() *session.Manager { return r.manager }

// Engine exposes the evaluation engine for activity registration.
func (r *Runtime) Engine() *eval.Engine { return r.engine }

// Start wires everything together and blocks until ctx ends.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	r.embedded = embedded

	if r.cfg.Bus.Enabled {
		client, err := bus.Connect(ctx, r.cfg.Bus, r.logger.With("component", "bus"))
		if err != nil {
			return fmt.Errorf("failed to connect bus: %w", err)
		}
		r.busClient = client
	}

	store, err := results.OpenStore(ctx, r.cfg.Results, r.logger.With("component", "results"))
	if err != nil {
		return fmt.Errorf("failed to open result store: %w", err)
	}
	r.store = store
	r.jsonl = results.NewJSONLWriter(r.cfg.Results.LogDir)

	recognizer, err := stt.New(r.cfg.STT)
	if err != nil {
		return fmt.Errorf("failed to build recognizer: %w", err)
	}

	r.engine = eval.NewEngine(r.cfg.Evaluation)
	r.manager = session.NewManager(r.cfg, audio.OpenPulse, recognizer, r.engine, store, r.jsonl, r.busClient, r.logger.With("component", "session"))

	metrics, err := newPipelineMetrics()
	if err != nil {
		r.logger.Warn("pipeline metrics unavailable", slog.String("error", err.Error()))
	} else {
		r.manager.SetObserver(&metricsObserver{metrics: metrics})
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.manager.Run(ctx)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("POST /v1/sessions", r.handleStartSession)
	mux.HandleFunc("POST /v1/sessions/stop", r.handleStopSession)
	mux.HandleFunc("POST /v1/trigger", r.handleTrigger)
	mux.HandleFunc("GET /v1/results", r.handlePollResults)
	mux.HandleFunc("POST /v1/activities", r.handleRegisterActivity)
	mux.HandleFunc("POST /v1/evaluate", r.handleEvaluate)
	mux.HandleFunc("GET /v1/reports", r.handleReport)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	r.manager.Shutdown()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if err := r.jsonl.Close(); err != nil {
		r.logger.Error("result log close error", slog.String("error", err.Error()))
	}
	if err := r.store.Close(); err != nil {
		r.logger.Error("result store close error", slog.String("error", err.Error()))
	}
	if r.busClient != nil {
		r.busClient.Close()
	}
	if r.embedded != nil {
		r.embedded.Shutdown()
	}
	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

type startSessionRequest struct {
	Subject  string `json:"subject"`
	Activity string `json:"activity"`
	Mode     string `json:"mode"`
}

func (r *Runtime) handleStartSession(w http.ResponseWriter, req *http.Request) {
	var body startSessionRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Subject == "" || body.Activity == "" {
		http.Error(w, "subject and activity are required", http.StatusBadRequest)
		return
	}

	var sessionID string
	var err error
	switch body.Mode {
	case session.ModePushToTalk:
		sessionID, err = r.manager.StartPushToTalk(req.Context(), body.Subject, body.Activity)
	case session.ModeContinuous, "":
		sessionID, err = r.manager.StartContinuousCapture(req.Context(), body.Subject, body.Activity)
	default:
		http.Error(w, fmt.Sprintf("unknown mode %q", body.Mode), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"session_id": sessionID})
}

func (r *Runtime) handleStopSession(w http.ResponseWriter, req *http.Request) {
	subject := req.URL.Query().Get("subject")
	if subject == "" {
		http.Error(w, "subject is required", http.StatusBadRequest)
		return
	}
	if err := r.manager.Stop(subject); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handleTrigger(w http.ResponseWriter, req *http.Request) {
	subject := req.URL.Query().Get("subject")
	action := req.URL.Query().Get("action")
	var err error
	switch action {
	case "press":
		err = r.manager.Press(subject)
	case "release":
		err = r.manager.Release(subject)
	default:
		http.Error(w, "action must be press or release", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handlePollResults(w http.ResponseWriter, req *http.Request) {
	subject := req.URL.Query().Get("subject")
	cursor, _ := strconv.ParseUint(req.URL.Query().Get("cursor"), 10, 64)
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	records, next, err := r.manager.PollLiveResults(subject, results.Cursor(cursor), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{
		"records": records,
		"cursor":  next,
	})
}

type registerActivityRequest struct {
	Activity   string   `json:"activity"`
	References []string `json:"references"`
}

func (r *Runtime) handleRegisterActivity(w http.ResponseWriter, req *http.Request) {
	var body registerActivityRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Activity == "" || len(body.References) == 0 {
		http.Error(w, "activity and references are required", http.StatusBadRequest)
		return
	}
	r.engine.RegisterActivity(body.Activity, body.References)
	w.WriteHeader(http.StatusNoContent)
}

type evaluateRequest struct {
	Activity string `json:"activity"`
	Text     string `json:"text"`
}

func (r *Runtime) handleEvaluate(w http.ResponseWriter, req *http.Request) {
	var body evaluateRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	evaluation, err := r.manager.Evaluate(body.Activity, body.Text)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, evaluation)
}

func (r *Runtime) handleReport(w http.ResponseWriter, req *http.Request) {
	activity := req.URL.Query().Get("activity")
	report, err := r.engine.Report(activity)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, report)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// metricsObserver adapts pipeline metrics to the session observer.
type metricsObserver struct {
	metrics *pipelineMetrics
}

func (o *metricsObserver) SegmentClosed(string) {
	o.metrics.segmentsClosed.Add(context.Background(), 1)
}

func (o *metricsObserver) SegmentDropped(string) {
	o.metrics.segmentsDropped.Add(context.Background(), 1)
}

func (o *metricsObserver) CaptureGap(string) {
	o.metrics.captureGaps.Add(context.Background(), 1)
}

func (o *metricsObserver) ResultEmitted(errorCode string) {
	o.metrics.recordResult(context.Background(), errorCode)
}
