package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Instrumentation bundles the logger and metrics recorder shared by the
// pipeline components. The zero value is safe and silent.
type Instrumentation struct {
	Logger  Logger
	Metrics MetricsRecorder
}

// ResolveInstrumentation fills missing pieces with glog resolution and a nop
// recorder.
func ResolveInstrumentation(name string, logger Logger, metrics MetricsRecorder) Instrumentation {
	_, resolved := glog.Resolve(strings.TrimSpace(name), nil, logger)
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	return Instrumentation{Logger: resolved, Metrics: metrics}
}

// ObserveOperation emits the operation counter/histogram pair plus a
// structured log line, mirroring every component's success/failure shape.
func (in Instrumentation) ObserveOperation(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "failure"
	}

	contextFields := cloneFields(fields)
	contextFields["operation"] = operation
	contextFields["status"] = status
	contextFields["duration_ms"] = time.Since(startedAt).Milliseconds()
	if err != nil {
		contextFields["error"] = err.Error()
	}

	tags := map[string]string{
		"operation": operation,
		"status":    status,
	}
	for _, key := range []string{"hook_type", "event_type", "event_id", "job_id"} {
		if value := strings.TrimSpace(fmt.Sprint(contextFields[key])); value != "" && value != "<nil>" {
			tags[key] = value
		}
	}

	in.Counter(ctx, "dispatch."+operation+".total", 1, tags)
	in.Histogram(ctx, "dispatch."+operation+".duration_ms", float64(time.Since(startedAt).Milliseconds()), tags)

	if err != nil {
		in.Error(ctx, operation+" failed", contextFields)
		return
	}
	in.Info(ctx, operation+" succeeded", contextFields)
}

func (in Instrumentation) Info(ctx context.Context, message string, fields map[string]any) {
	in.log(ctx, "info", message, fields)
}

func (in Instrumentation) Error(ctx context.Context, message string, fields map[string]any) {
	in.log(ctx, "error", message, fields)
}

func (in Instrumentation) log(ctx context.Context, level string, message string, fields map[string]any) {
	if in.Logger == nil {
		return
	}
	logger := in.Logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	args := flattenFields(fields)
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		logger.Error(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func (in Instrumentation) Counter(ctx context.Context, name string, value int64, tags map[string]string) {
	if in.Metrics == nil {
		return
	}
	in.Metrics.IncCounter(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func (in Instrumentation) Histogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if in.Metrics == nil {
		return
	}
	in.Metrics.ObserveHistogram(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

// NopMetricsRecorder discards every measurement. ResolveInstrumentation
// installs it when no recorder was supplied.
type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

var _ MetricsRecorder = NopMetricsRecorder{}

func cloneFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

func normalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	operation = strings.ReplaceAll(operation, " ", "_")
	operation = strings.ReplaceAll(operation, "-", "_")
	return operation
}
