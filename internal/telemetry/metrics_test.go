package telemetry_test

import (
	"testing"

	prommodel "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrgarcia/jerky-shipping-sub001/internal/telemetry"
)

func getCounterValue(t *testing.T, metricName string, labelValues map[string]string) float64 {
	t.Helper()
	families, err := telemetry.Registry().Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != metricName {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m.GetLabel(), labelValues) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(labels []*prommodel.LabelPair, expected map[string]string) bool {
	if len(labels) != len(expected) {
		return false
	}
	for _, l := range labels {
		if expected[l.GetName()] != l.GetValue() {
			return false
		}
	}
	return true
}

func TestRecordJobProcessed(t *testing.T) {
	before := getCounterValue(t, "shipment_jobs_processed_total", map[string]string{"queue": "lifecycle_eval", "outcome": "completed"})
	telemetry.RecordJobProcessed("lifecycle_eval", "completed")
	after := getCounterValue(t, "shipment_jobs_processed_total", map[string]string{"queue": "lifecycle_eval", "outcome": "completed"})
	assert.Equal(t, before+1, after)
}

func TestRecordLifecycleTransition(t *testing.T) {
	before := getCounterValue(t, "shipment_lifecycle_transitions_total", map[string]string{"phase": "needs_action"})
	telemetry.RecordLifecycleTransition("needs_action")
	after := getCounterValue(t, "shipment_lifecycle_transitions_total", map[string]string{"phase": "needs_action"})
	assert.Equal(t, before+1, after)
}

func TestSetWorkerStatus(t *testing.T) {
	telemetry.SetWorkerStatus("lifecycle_event", true)
	families, err := telemetry.Registry().Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() != "shipment_worker_status" {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m.GetLabel(), map[string]string{"worker": "lifecycle_event"}) {
				found = true
				assert.Equal(t, 1.0, m.GetGauge().GetValue())
			}
		}
	}
	assert.True(t, found)
}
