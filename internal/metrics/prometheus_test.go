package metrics

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestRecordDecisionIncrementsCounter(t *testing.T) {
	r := New()
	r.RecordDecision("hosting")
	r.RecordDecision("hosting")
	r.RecordDecision("")

	mf, err := r.PromRegistry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	got := findCounterValue(t, mf, "edgeguard_decisions_total", "category", "hosting")
	if got != 2 {
		t.Errorf("hosting decisions = %v, want 2", got)
	}
}

func TestCacheHitMissAndSize(t *testing.T) {
	r := New()
	r.CacheHit()
	r.CacheHit()
	r.CacheMiss()
	r.SetCacheSize(42)
	r.RecordUpstream("success", 10*time.Millisecond)
	r.SetRateLimited(true)
	r.SetRateLimited(false)

	// Exercising every method above should not panic and should leave the
	// registry gatherable.
	if _, err := r.PromRegistry().Gather(); err != nil {
		t.Fatalf("Gather: %v", err)
	}
}

func findCounterValue(t *testing.T, mf []*dto.MetricFamily, name, labelName, labelValue string) float64 {
	t.Helper()
	for _, fam := range mf {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == labelName && l.GetValue() == labelValue {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
