package oc

import (
	"github.com/sirupsen/logrus"
	"go.opencensus.io/trace"

	"github.com/Microsoft/go-objns/internal/log"
	"github.com/Microsoft/go-objns/internal/logfields"
)

const spanMessage = "Span"

var _ trace.Exporter = &LogrusExporter{}

// LogrusExporter is an OpenCensus [trace.Exporter] that exports
// [trace.SpanData] to logrus output, so the CLI and tests can surface
// spans at debug level without a trace backend.
type LogrusExporter struct{}

// ExportSpan exports [trace.SpanData] to [logrus] output.
func (e *LogrusExporter) ExportSpan(s *trace.SpanData) {
	if s == nil {
		return
	}

	entry := log.L.WithFields(logrus.Fields{
		logfields.TraceID:      s.TraceID.String(),
		logfields.SpanID:       s.SpanID.String(),
		logfields.ParentSpanID: s.ParentSpanID.String(),
		logfields.Name:         s.Name,
		logfields.StartTime:    s.StartTime,
		logfields.EndTime:      s.EndTime,
		logfields.Duration:     s.EndTime.Sub(s.StartTime),
	})
	for k, v := range s.Attributes {
		entry = entry.WithField(k, v)
	}

	level := logrus.InfoLevel
	if s.Status.Code != 0 {
		level = logrus.ErrorLevel
		entry = entry.WithField(logrus.ErrorKey, s.Status.Message)
	}
	entry.Log(level, spanMessage)
}
