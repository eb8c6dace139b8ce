package ingestion

import (
	"os"
	"path/filepath"
	"testing"

	registry "sensorhub/internal/registry/domain"
)

func TestDefaultMetricTable(t *testing.T) {
	table := DefaultMetricTable()
	if table.Len() != 3 {
		t.Fatalf("expected 3 metrics, got %v", table.Keys())
	}
	if got, ok := table.Resolve("co2"); !ok || got != registry.SensorTypeCO2 {
		t.Fatalf("co2 resolved to %q", got)
	}
	if _, ok := table.Resolve("Temperature"); ok {
		t.Fatalf("metric keys are case-sensitive")
	}
}

func TestParseMetricTableMergesAndReplaces(t *testing.T) {
	merged, err := ParseMetricTable([]byte("metrics:\n  pressure: Pressure\n  light: Light\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if merged.Len() != 5 {
		t.Fatalf("expected merged table, got %v", merged.Keys())
	}

	replaced, err := ParseMetricTable([]byte("replace: true\nmetrics:\n  lux: Light\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if replaced.Len() != 1 {
		t.Fatalf("expected replaced table, got %v", replaced.Keys())
	}
}

func TestParseMetricTableRejectsBadEntries(t *testing.T) {
	for _, doc := range []string{
		"metrics:\n  pressure: pressure\n",
		"metrics:\n  channel: Generic\n",
		"metrics: [1, 2]\n",
	} {
		if _, err := ParseMetricTable([]byte(doc)); err == nil {
			t.Fatalf("expected error for %q", doc)
		}
	}
}

func TestLoadMetricTable(t *testing.T) {
	table, err := LoadMetricTable("")
	if err != nil || table.Len() != 3 {
		t.Fatalf("empty path: %v %v", table.Keys(), err)
	}

	path := filepath.Join(t.TempDir(), "metrics.yaml")
	if err := os.WriteFile(path, []byte("metrics:\n  motion: Motion\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	table, err = LoadMetricTable(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got, ok := table.Resolve("motion"); !ok || got != registry.SensorTypeMotion {
		t.Fatalf("motion resolved to %q", got)
	}
	if _, err := LoadMetricTable(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}
