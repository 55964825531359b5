package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/koios/camera-sim/pkg/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandleReport(t *testing.T) {
	m := New()
	ctx := context.Background()

	m.HandleReport(ctx, models.EventSent("CAM-1", "ts"))
	m.HandleReport(ctx, models.EventSent("CAM-1", "ts"))
	m.HandleReport(ctx, models.ErrorReport("CAM-1", models.ErrPublish))
	m.HandleReport(ctx, models.DeviceRemoved("CAM-1", true))
	m.HandleReport(ctx, models.DeviceRemoved("ghost", false))

	if got := testutil.ToFloat64(m.eventsSent.WithLabelValues("CAM-1")); got != 2 {
		t.Errorf("events sent = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.deviceErrors.WithLabelValues("CAM-1")); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.devicesRemoved.WithLabelValues("false")); got != 1 {
		t.Errorf("failed removals = %v, want 1", got)
	}
}

func TestHandlerAndMiddleware(t *testing.T) {
	m := New()
	m.TrackActiveDevices(func() int { return 4 })

	r := mux.NewRouter()
	r.Use(m.Middleware)
	r.HandleFunc("/api/devices/{deviceId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", m.Handler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/devices/CAM-9", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("/api/devices/{deviceId}", "404")); got != 1 {
		t.Errorf("route counter = %v, want 1", got)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "camsim_active_devices 4") {
		t.Errorf("scrape missing active device gauge:\n%s", body)
	}
}

func TestHandleReport_RemovalDeletesDeviceSeries(t *testing.T) {
	m := New()
	ctx := context.Background()

	m.HandleReport(ctx, models.EventSent("CAM-1", "ts"))
	m.HandleReport(ctx, models.ErrorReport("CAM-1", models.ErrPublish))
	m.HandleReport(ctx, models.EventSent("CAM-2", "ts"))

	if got := testutil.CollectAndCount(m.eventsSent); got != 2 {
		t.Fatalf("event series = %d, want 2", got)
	}

	m.HandleReport(ctx, models.DeviceRemoved("CAM-1", true))
	if got := testutil.CollectAndCount(m.eventsSent); got != 1 {
		t.Errorf("event series after removal = %d, want 1", got)
	}
	if got := testutil.CollectAndCount(m.deviceErrors); got != 0 {
		t.Errorf("error series after removal = %d, want 0", got)
	}

	m.HandleReport(ctx, models.DeviceRemoved("CAM-2", false))
	if got := testutil.CollectAndCount(m.eventsSent); got != 1 {
		t.Errorf("failed removal must keep the series, got %d", got)
	}
}

func TestReportDropped(t *testing.T) {
	m := New()
	m.ReportDropped("redis")
	m.ReportDropped("redis")

	if got := testutil.ToFloat64(m.reportsDropped.WithLabelValues("redis")); got != 2 {
		t.Errorf("dropped = %v, want 2", got)
	}
}
