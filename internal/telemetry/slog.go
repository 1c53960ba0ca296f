package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("coursetracker")

// SlogAPI implements API using the log/slog package, counts are additionally
// recorded as otel gauges (a no-op until Setup installs a meter provider).
type SlogAPI struct {
	logger *slog.Logger
	counts metric.Int64Gauge
}

// NewSlogAPI creates a SlogAPI that writes colored logs to stderr.
func NewSlogAPI(level slog.Level) SlogAPI {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
	counts, _ := meter.Int64Gauge("report_count")
	return SlogAPI{logger: logger, counts: counts}
}

// InitSlog sets the default slog logger to the tint handler used by SlogAPI,
// so that libraries logging through slog end up in the same output.
func InitSlog(verbose bool) SlogAPI {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	api := NewSlogAPI(level)
	slog.SetDefault(api.logger)
	return api
}

func (s SlogAPI) log() *slog.Logger {
	if s.logger == nil {
		return slog.Default()
	}
	return s.logger
}

func (SlogAPI) formatParams(out *[]any, params []any) {
	idx := 0
	for _, p := range params {
		if kv, ok := p.(KV); ok {
			*out = append(*out, kv.Key, kv.Value)
			continue
		}
		*out = append(
			*out,
			fmt.Sprintf("params.%d", idx),
			p,
		)
		idx++
	}
}

func (s SlogAPI) ReportBroken(id string, params ...any) {
	remainingPairs := []any{"id", id}
	s.formatParams(&remainingPairs, params)
	s.log().Error("broken component", remainingPairs...)
}

func (s SlogAPI) ReportWarning(id string, params ...any) {
	remainingPairs := []any{"id", id}
	s.formatParams(&remainingPairs, params)
	s.log().Warn("warning", remainingPairs...)
}

func (s SlogAPI) ReportDebug(message string, params ...any) {
	remainingPairs := []any{}
	s.formatParams(&remainingPairs, params)
	s.log().Debug(message, remainingPairs...)
}

func (s SlogAPI) ReportCount(id string, count int64) {
	s.log().Info("count", "id", id, "n", count)
	if s.counts != nil {
		s.counts.Record(context.Background(), count, metric.WithAttributes(attribute.String("id", id)))
	}
}
