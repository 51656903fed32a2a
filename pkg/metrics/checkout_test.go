package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCheckoutMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewCheckoutMetrics(reg)

	metrics.IncStarted("submit")
	metrics.IncStarted("resume")
	metrics.IncOutcome("succeeded", "")
	metrics.IncOutcome("failed", "validation")
	metrics.ObserveStep("create_checkout", 120*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "checkout_attempts_started", "mode", "submit"); err != nil {
		t.Fatalf("fetch started: %v", err)
	} else if got != 1 {
		t.Fatalf("expected started=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "checkout_attempts_finished", "kind", "validation"); err != nil {
		t.Fatalf("fetch outcome: %v", err)
	} else if got != 1 {
		t.Fatalf("expected failed outcome=1, got %f", got)
	}

	// empty kind labels normalize to "none" so the series stays queryable
	if _, err := fetchCounterValue(mfs, "checkout_attempts_finished", "kind", "none"); err != nil {
		t.Fatalf("fetch succeeded outcome: %v", err)
	}

	if got, err := fetchHistogramSum(mfs, "checkout_step_duration_seconds", "step", "create_checkout"); err != nil {
		t.Fatalf("fetch step duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestCheckoutMetricsNilSafe(t *testing.T) {
	var metrics *CheckoutMetrics
	metrics.IncStarted("submit")
	metrics.IncOutcome("failed", "network")
	metrics.ObserveStep("verify_payment", time.Second)

	empty := NewCheckoutMetrics(nil)
	empty.IncStarted("submit")
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
