package runtime

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// pipelineMetrics are the counters the capture pipeline reports.
type pipelineMetrics struct {
	segmentsClosed  metric.Int64Counter
	segmentsDropped metric.Int64Counter
	captureGaps     metric.Int64Counter
	resultsEmitted  metric.Int64Counter
}

func newPipelineMetrics() (*pipelineMetrics, error) {
	meter := otel.Meter("readback.pipeline")

	segmentsClosed, err := meter.Int64Counter("readback_segments_closed_total",
		metric.WithDescription("Speech segments closed and handed to dispatch"))
	if err != nil {
		return nil, err
	}
	segmentsDropped, err := meter.Int64Counter("readback_segments_dropped_total",
		metric.WithDescription("Segments shed from full dispatch queues"))
	if err != nil {
		return nil, err
	}
	captureGaps, err := meter.Int64Counter("readback_capture_gaps_total",
		metric.WithDescription("Recorded capture gaps from device loss"))
	if err != nil {
		return nil, err
	}
	resultsEmitted, err := meter.Int64Counter("readback_results_total",
		metric.WithDescription("Transcript results emitted, by status"))
	if err != nil {
		return nil, err
	}

	return &pipelineMetrics{
		segmentsClosed:  segmentsClosed,
		segmentsDropped: segmentsDropped,
		captureGaps:     captureGaps,
		resultsEmitted:  resultsEmitted,
	}, nil
}

func (m *pipelineMetrics) recordResult(ctx context.Context, errorCode string) {
	status := "ok"
	if errorCode != "" {
		status = errorCode
	}
	m.resultsEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
