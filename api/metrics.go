package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName       = "tasklist-api/api"
	tasksSpanName    = "tasks.request"
	tasksMetricsName = "tasks.request.metrics"
)

type taskRequestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	start         time.Time
	method        string
	owner         string
	authDuration  time.Duration
	storeDuration time.Duration
	tasksReturned int
	errorStage    string
	failure       error
}

func newTaskRequestMetrics(ctx context.Context, logger *log.Logger, method string) (*taskRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, tasksSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.route", tasksRoute),
			attribute.String("http.method", method),
		),
	)
	return &taskRequestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		method: method,
	}, spanCtx
}

func (m *taskRequestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *taskRequestMetrics) ObserveStore(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.storeDuration = duration
}

func (m *taskRequestMetrics) SetOwner(owner string) {
	m.owner = owner
}

func (m *taskRequestMetrics) SetTasksReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.tasksReturned = count
}

// SetError records the stage a request failed in and, for unexpected
// failures, the underlying cause.
func (m *taskRequestMetrics) SetError(stage string, err error) {
	if stage != "" {
		m.errorStage = stage
	}
	if err != nil {
		m.failure = err
	}
}

func (m *taskRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	if err == nil {
		err = m.failure
	}

	total := time.Since(m.start)
	fields := log.Fields{
		"route":          tasksRoute,
		"method":         m.method,
		"status":         status,
		"total_ms":       durationToMillis(total),
		"tasks_returned": m.tasksReturned,
	}
	attrs := []attribute.KeyValue{
		attribute.Int("http.status_code", status),
		attribute.Float64("tasks.total_ms", durationToMillis(total)),
		attribute.Int("tasks.returned", m.tasksReturned),
	}

	if m.owner != "" {
		fields["owner"] = m.owner
		attrs = append(attrs, attribute.String("enduser.id", m.owner))
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
		attrs = append(attrs, attribute.Float64("tasks.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.storeDuration > 0 {
		fields["store_ms"] = durationToMillis(m.storeDuration)
		attrs = append(attrs, attribute.Float64("tasks.store_ms", durationToMillis(m.storeDuration)))
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
		attrs = append(attrs, attribute.String("tasks.error_stage", m.errorStage))
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		switch {
		case err != nil && status >= http.StatusInternalServerError:
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		case status >= http.StatusInternalServerError:
			m.span.SetStatus(codes.Error, http.StatusText(status))
		default:
			m.span.SetStatus(codes.Ok, "")
		}
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
		m.span.End()
	}

	if m.logger != nil {
		m.logger.WithFields(fields).Log(levelForStatus(status, err), tasksMetricsName)
	}
}

func levelForStatus(status int, err error) log.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return log.ErrorLevel
	case status >= http.StatusBadRequest:
		return log.WarnLevel
	case err != nil:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
