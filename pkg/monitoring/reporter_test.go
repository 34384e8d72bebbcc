package monitoring

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhaopengme/wagate/pkg/logger"
)

func TestLogReporterWritesError(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.SetJSON(true)
	t.Cleanup(func() {
		logger.SetJSON(false)
		logger.SetOutput(nil)
	})

	LogReporter{}.ReportError(context.Background(), errors.New("twilio unavailable"), map[string]interface{}{
		"to": "+15557654321",
	})

	out := buf.String()
	assert.Contains(t, out, `"component":"monitoring"`)
	assert.Contains(t, out, `"error":"twilio unavailable"`)
	assert.Contains(t, out, `"error_type":"*errors.errorString"`)
	assert.Contains(t, out, `"to":"+15557654321"`)
}

func TestLogReporterIgnoresNil(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(nil) })

	LogReporter{}.ReportError(context.Background(), nil, nil)
	assert.Empty(t, buf.String())
}

func TestReporterFunc(t *testing.T) {
	var got error
	r := ReporterFunc(func(_ context.Context, err error, _ map[string]interface{}) {
		got = err
	})

	want := errors.New("boom")
	r.ReportError(context.Background(), want, nil)
	assert.Same(t, want, got)
}
