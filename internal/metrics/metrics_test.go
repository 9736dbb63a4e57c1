package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は名前とラベルが一致するメトリクスを探す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	if len(m.GetLabel()) != len(labels) {
		return false
	}
	for _, lp := range m.GetLabel() {
		if labels[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}

func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(401)

	if v := findMetric(t, reg, "meetapp_http_status_total", map[string]string{"status_code": "200"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("status 200 = %v, want 2", v)
	}
	if v := findMetric(t, reg, "meetapp_http_status_total", map[string]string{"status_code": "401"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("status 401 = %v, want 1", v)
	}
}

func TestRecordSubscription_CountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSubscription("admitted")
	c.RecordSubscription("conflict")
	c.RecordSubscription("conflict")

	if v := findMetric(t, reg, "meetapp_subscriptions_total", map[string]string{"outcome": "conflict"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("conflict = %v, want 2", v)
	}
}

func TestRecordMeetupMutation(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordMeetupMutation("created")

	if v := findMetric(t, reg, "meetapp_meetup_mutations_total", map[string]string{"operation": "created"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("created = %v, want 1", v)
	}
}

func TestRecordJobMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordEnqueueFailure("SubscriptionMail")
	c.RecordJobResult("SubscriptionMail", JobResultRetry)
	c.RecordJobResult("SubscriptionMail", JobResultDone)
	c.RecordJobLatency("SubscriptionMail", 150*time.Millisecond)

	if v := findMetric(t, reg, "meetapp_job_enqueue_fail_total", map[string]string{"job": "SubscriptionMail"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("enqueue fail = %v, want 1", v)
	}
	if v := findMetric(t, reg, "meetapp_jobs_processed_total", map[string]string{"job": "SubscriptionMail", "result": "done"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("done = %v, want 1", v)
	}
	h := findMetric(t, reg, "meetapp_job_duration_seconds", map[string]string{"job": "SubscriptionMail"}).GetHistogram()
	if h.GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", h.GetSampleCount())
	}
}

// レジストリごとに独立して登録できる。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	_ = NewCollector(reg2)

	c1.RecordHTTPStatus(500)

	families, err := reg2.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == "meetapp_http_status_total" && len(mf.GetMetric()) != 0 {
			t.Error("reg2 should not contain samples recorded on reg1")
		}
	}
}
