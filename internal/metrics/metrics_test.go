package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findFamily は名前でメトリクスファミリーを探す。
func findFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// labelValue はメトリクスのラベル値を返す。
func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestNewCollector_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewCollector(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	_ = NewCollector(reg)
}

// TestRecordCatalogOp_LabelsByOpAndOutcome は操作と結果ごとにカウントされることを検証する。
func TestRecordCatalogOp_LabelsByOpAndOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCatalogOp("delete", "success")
	c.RecordCatalogOp("delete", "success")
	c.RecordCatalogOp("delete", "failure")
	c.RecordCatalogOp("fetch", "success")

	mf := findFamily(t, reg, "gamefinder_catalog_operations_total")
	if len(mf.GetMetric()) != 3 {
		t.Fatalf("expected 3 label combinations, got %d", len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		op, outcome := labelValue(m, "op"), labelValue(m, "outcome")
		val := m.GetCounter().GetValue()
		switch {
		case op == "delete" && outcome == "success":
			if val != 2 {
				t.Errorf("delete/success = %v, want 2", val)
			}
		case op == "delete" && outcome == "failure", op == "fetch" && outcome == "success":
			if val != 1 {
				t.Errorf("%s/%s = %v, want 1", op, outcome, val)
			}
		default:
			t.Errorf("unexpected labels op=%s outcome=%s", op, outcome)
		}
	}
}

func TestRecordAuthEvent_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthEvent("signin", "rejected")
	c.RecordAuthEvent("signin", "rejected")

	mf := findFamily(t, reg, "gamefinder_auth_events_total")
	if len(mf.GetMetric()) != 1 {
		t.Fatalf("expected 1 metric, got %d", len(mf.GetMetric()))
	}
	m := mf.GetMetric()[0]
	if labelValue(m, "event") != "signin" || labelValue(m, "outcome") != "rejected" {
		t.Errorf("unexpected labels: %v", m.GetLabel())
	}
	if val := m.GetCounter().GetValue(); val != 2 {
		t.Errorf("auth_events_total = %v, want 2", val)
	}
}

func TestRecordHTTPStatus_LabelsByStatusCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(502)

	mf := findFamily(t, reg, "gamefinder_http_status_total")
	counts := map[string]float64{}
	for _, m := range mf.GetMetric() {
		counts[labelValue(m, "status_code")] = m.GetCounter().GetValue()
	}
	if counts["200"] != 2 {
		t.Errorf("status 200 count = %v, want 2", counts["200"])
	}
	if counts["502"] != 1 {
		t.Errorf("status 502 count = %v, want 1", counts["502"])
	}
}

func TestRecordRequestLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRequestLatency(150 * time.Millisecond)
	c.RecordRequestLatency(2 * time.Second)

	mf := findFamily(t, reg, "gamefinder_http_request_duration_seconds")
	h := mf.GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", h.GetSampleCount())
	}
	if sum := h.GetSampleSum(); sum < 2.14 || sum > 2.16 {
		t.Errorf("sample sum = %v, want ~2.15", sum)
	}
}

func TestRecordCleanup(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCleanupDeleted("sessions", 4)
	c.RecordCleanupDeleted("sessions", 1)
	c.RecordCleanupDeleted("unconfirmed_users", 2)
	c.RecordCleanupFailure()

	mf := findFamily(t, reg, "gamefinder_cleanup_deleted_total")
	counts := map[string]float64{}
	for _, m := range mf.GetMetric() {
		counts[labelValue(m, "kind")] = m.GetCounter().GetValue()
	}
	if counts["sessions"] != 5 {
		t.Errorf("sessions = %v, want 5", counts["sessions"])
	}
	if counts["unconfirmed_users"] != 2 {
		t.Errorf("unconfirmed_users = %v, want 2", counts["unconfirmed_users"])
	}

	failures := findFamily(t, reg, "gamefinder_cleanup_failures_total")
	if val := failures.GetMetric()[0].GetCounter().GetValue(); val != 1 {
		t.Errorf("cleanup_failures_total = %v, want 1", val)
	}
}
