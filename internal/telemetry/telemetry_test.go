package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilTelemetryIsNoop(t *testing.T) {
	var tel *Telemetry

	assert.NotPanics(t, func() {
		tel.RecordFetch("2xx", time.Millisecond)
		tel.RecordPage("succeeded", 1, time.Millisecond)
		tel.AddPageBytes(10)
		tel.IncrementActivePages()
		tel.DecrementActivePages()
		tel.RecordChapter("success", time.Second)
		tel.RecordPackaging("pdf", "success")
		tel.RecordHistoryOperation("track", "success", time.Millisecond)
		tel.RecordNotificationFailure()
	})

	called := false
	err := tel.InstrumentChapter(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestDisabledTelemetry(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	wantErr := errors.New("boom")
	err = tel.InstrumentPackaging(context.Background(), "pdf", func(ctx context.Context) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestEnabledTelemetryExposesMetrics(t *testing.T) {
	ctx := context.Background()

	tel, err := New(ctx, Config{Enabled: true, ServiceName: "manga_downloader_test", ServiceVersion: "test"})
	require.NoError(t, err)
	defer tel.Shutdown(ctx)

	tel.RecordPage("succeeded", 2, 50*time.Millisecond)
	tel.RecordChapter("success", time.Second)

	err = tel.InstrumentHistoryOperation(ctx, "track_chapter", func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "pages_total"), "expected pages_total in metrics output")
	assert.True(t, strings.Contains(body, "chapters_total"), "expected chapters_total in metrics output")
}
