package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/tcprecon/internal/model"
	"github.com/nao1215/tcprecon/internal/probe"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObservers(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObservePort(model.StateOpened)
	m.ObservePort(model.StateOpened)
	m.ObservePort(model.StateClosed)
	m.ObserveProbe("http", probe.StatusUnknown)
	m.ObserveProbe("dns", probe.StatusRecognized)
	m.ObserveWait(3 * time.Millisecond)
	m.ObserveStep("tcp_scan", time.Second)
	m.ObserveTarget(nil)
	m.ObserveTarget(errors.New("resolve failed"))

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{name: "opened ports", got: testutil.ToFloat64(m.PortsScanned.WithLabelValues("opened")), want: 2},
		{name: "closed ports", got: testutil.ToFloat64(m.PortsScanned.WithLabelValues("closed")), want: 1},
		{name: "filtered ports", got: testutil.ToFloat64(m.PortsScanned.WithLabelValues("filtered")), want: 0},
		{name: "unknown http checks", got: testutil.ToFloat64(m.ProbeChecks.WithLabelValues("http", "unknown")), want: 1},
		{name: "recognized dns checks", got: testutil.ToFloat64(m.ProbeChecks.WithLabelValues("dns", "recognized")), want: 1},
		{name: "ok targets", got: testutil.ToFloat64(m.TargetsScanned.WithLabelValues("ok")), want: 1},
		{name: "failed targets", got: testutil.ToFloat64(m.TargetsScanned.WithLabelValues("error")), want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}

	if n := testutil.CollectAndCount(m.LimiterWait); n != 1 {
		t.Errorf("expected one limiter histogram, got %d", n)
	}
	if n := testutil.CollectAndCount(m.StepDuration); n != 1 {
		t.Errorf("expected one step series, got %d", n)
	}
}

func TestNilMetrics(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ObservePort(model.StateOpened)
	m.ObserveProbe("tls", probe.StatusRecognized)
	m.ObserveWait(time.Millisecond)
	m.ObserveStep("identify", time.Millisecond)
	m.ObserveTarget(nil)
}

func TestWriteTextfile(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObservePort(model.StateFiltered)

	path := filepath.Join(t.TempDir(), "tcprecon.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path) //nolint:gosec // test file
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `tcprecon_ports_scanned_total{state="filtered"} 1`) {
		t.Errorf("unexpected textfile contents:\n%s", data)
	}
}

func TestWriteTextfileError(t *testing.T) {
	t.Parallel()

	err := New().WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "x.prom"))
	if err == nil {
		t.Error("expected an error for a missing directory")
	}
}
