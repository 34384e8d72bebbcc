// Package monitoring holds the error-reporting hook used when a provider call
// fails. No external monitoring service is wired in; LogReporter only logs.
package monitoring

import (
	"context"
	"fmt"

	"github.com/zhaopengme/wagate/pkg/logger"
)

type Reporter interface {
	ReportError(ctx context.Context, err error, fields map[string]interface{})
}

var (
	_ Reporter = LogReporter{}
	_ Reporter = NopReporter{}
	_ Reporter = ReporterFunc(nil)
)

// LogReporter writes reported errors to the log under the "monitoring" component.
type LogReporter struct{}

func (LogReporter) ReportError(ctx context.Context, err error, fields map[string]interface{}) {
	if err == nil {
		return
	}
	logFields := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		logFields[k] = v
	}
	logFields["error"] = err.Error()
	logFields["error_type"] = fmt.Sprintf("%T", err)

	logger.ErrorCF("monitoring", "Reporting error to monitoring service", logFields)
}

type NopReporter struct{}

func (NopReporter) ReportError(context.Context, error, map[string]interface{}) {}

// ReporterFunc adapts a plain function to the Reporter interface.
type ReporterFunc func(ctx context.Context, err error, fields map[string]interface{})

func (f ReporterFunc) ReportError(ctx context.Context, err error, fields map[string]interface{}) {
	f(ctx, err, fields)
}
