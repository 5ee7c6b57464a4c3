package datasource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jjo/promql-assist/pkg/storage"
)

func newSampleLocal(t *testing.T, opts LocalOptions) *Local {
	t.Helper()
	store := storage.New()
	if err := store.LoadFromReader(strings.NewReader(storage.SampleMetrics)); err != nil {
		t.Fatalf("LoadFromReader failed: %v", err)
	}
	return NewLocal(store, opts)
}

func TestLocalRun_Instant(t *testing.T) {
	l := newSampleLocal(t, LocalOptions{})
	data, err := l.Run(context.Background(), "sum(http_requests_total)", TimeWindow{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(data.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", data.Errors)
	}
	if len(data.Series) != 1 || data.Series[0].Points[0].V != 1042 {
		t.Fatalf("unexpected result: %+v", data.Series)
	}
}

func TestLocalRun_Range(t *testing.T) {
	l := newSampleLocal(t, LocalOptions{})
	now := time.Now().Add(time.Minute)
	data, err := l.Run(context.Background(), "http_requests_total", LastWindow(now, 10*time.Minute))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(data.Series) != 3 {
		t.Fatalf("expected 3 series, got %d", len(data.Series))
	}
	if data.Series[0].MetricName() != "http_requests_total" {
		t.Fatalf("expected metric name to be kept, got %v", data.Series[0].Labels)
	}
}

func TestLocalRun_ErrorsInData(t *testing.T) {
	l := newSampleLocal(t, LocalOptions{})
	data, err := l.Run(context.Background(), "sum((", TimeWindow{})
	if err != nil {
		t.Fatalf("Run should report parse errors in Data, got %v", err)
	}
	if len(data.Errors) != 1 || data.Errors[0].Message == "" {
		t.Fatalf("expected one error message, got %+v", data.Errors)
	}
}

func TestLocalLookup(t *testing.T) {
	l := newSampleLocal(t, LocalOptions{})
	ctx := context.Background()
	lk := l.Lookup()

	names, err := lk.MetricNames(ctx, TimeWindow{})
	if err != nil || len(names) != 5 {
		t.Fatalf("MetricNames got=%v err=%v", names, err)
	}
	vals, err := lk.LabelValues(ctx, "code", TimeWindow{})
	if err != nil || !reflect.DeepEqual(vals, []string{"200", "404", "500"}) {
		t.Fatalf("LabelValues(code) got=%v err=%v", vals, err)
	}
	md, err := lk.Metadata(ctx)
	if err != nil || md["temperature"].Type != "gauge" || md["temperature"].Help != "Temperature in Celsius" {
		t.Fatalf("Metadata got=%v err=%v", md, err)
	}

	disabled := newSampleLocal(t, LocalOptions{LookupsDisabled: true})
	if _, err := disabled.Lookup().LabelNames(ctx, TimeWindow{}); !errors.Is(err, ErrLookupsDisabled) {
		t.Fatalf("expected ErrLookupsDisabled, got %v", err)
	}
	if !disabled.LookupsDisabled() {
		t.Fatalf("LookupsDisabled should report true")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.prom")
	if err := os.WriteFile(path, []byte(storage.SampleMetrics), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	store, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if store.Samples() != 9 {
		t.Fatalf("expected 9 samples, got %d", store.Samples())
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.prom")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}

func TestTimeWindowStep(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	if got := LastWindow(now, time.Hour).Step(); got != 14*time.Second {
		t.Fatalf("hour step got %v", got)
	}
	if got := LastWindow(now, time.Minute).Step(); got != time.Second {
		t.Fatalf("minute step got %v", got)
	}
}
