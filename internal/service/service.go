// Package service holds the use cases behind the HTTP API. Each call runs
// its own transaction and is traced and logged.
package service

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/safar/stockroom/internal/config"
)

func tracer() trace.Tracer {
	return otel.Tracer(config.ServiceName)
}

// finishSpan records err on span and ends it.
func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
