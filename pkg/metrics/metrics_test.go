package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestInMemoryCollector(t *testing.T) {
	c := NewInMemoryCollector()

	t.Run("Counter", func(t *testing.T) {
		c.CounterInc(AgentRunsTotal.Name, "agent", "slither", "status", "SUCCESS")
		c.CounterInc(AgentRunsTotal.Name, "agent", "slither", "status", "SUCCESS")
		c.CounterAdd(AgentRunsTotal.Name, 5, "agent", "slither", "status", "SUCCESS")

		got := c.GetCounter(AgentRunsTotal.Name, "agent", "slither", "status", "SUCCESS")
		if got != 7 {
			t.Errorf("Counter = %v, want %v", got, 7)
		}
	})

	t.Run("LabelOrder", func(t *testing.T) {
		got := c.GetCounter(AgentRunsTotal.Name, "status", "SUCCESS", "agent", "slither")
		if got != 7 {
			t.Errorf("Counter with reordered labels = %v, want %v", got, 7)
		}
	})

	t.Run("Gauge", func(t *testing.T) {
		c.GaugeSet(AgentsActive.Name, 3)
		c.GaugeInc(AgentsActive.Name)
		c.GaugeDec(AgentsActive.Name)
		c.GaugeDec(AgentsActive.Name)
		if got := c.GetGauge(AgentsActive.Name); got != 2 {
			t.Errorf("Gauge = %v, want %v", got, 2)
		}
	})

	t.Run("Histogram", func(t *testing.T) {
		c.HistogramObserve(AgentDuration.Name, 1.5, "agent", "mythril")
		c.HistogramObserve(AgentDuration.Name, 2.5, "agent", "mythril")

		got := c.GetHistogram(AgentDuration.Name, "agent", "mythril")
		if len(got) != 2 {
			t.Errorf("Histogram observations = %v, want %v", len(got), 2)
		}
	})

	t.Run("Reset", func(t *testing.T) {
		c.Reset()
		if got := c.GetCounter(AgentRunsTotal.Name, "agent", "slither", "status", "SUCCESS"); got != 0 {
			t.Errorf("Counter after Reset = %v, want 0", got)
		}
	})
}

func TestNopCollector(t *testing.T) {
	var c Collector = NopCollector{}
	c.CounterInc("x")
	c.GaugeSet("x", 1)
	c.HistogramObserve("x", 1)
	c.Reset()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("status = %d, want 404", rec.Code)
	}

	if _, ok := OrNop(nil).(NopCollector); !ok {
		t.Error("OrNop(nil) should return NopCollector")
	}
}

func TestTimer(t *testing.T) {
	c := NewInMemoryCollector()
	timer := NewTimer(c, PhaseDuration.Name, "phase", "static")
	time.Sleep(10 * time.Millisecond)
	d := timer.ObserveDuration()

	if d < 10*time.Millisecond {
		t.Errorf("duration = %v, want >= 10ms", d)
	}
	obs := c.GetHistogram(PhaseDuration.Name, "phase", "static")
	if len(obs) != 1 || obs[0] < 0.01 {
		t.Errorf("observations = %v", obs)
	}

	// nil collector does not panic
	NewTimer(nil, "x").ObserveDuration()
}

func TestDefinitions(t *testing.T) {
	seen := make(map[string]bool)
	for _, def := range Definitions() {
		if !strings.HasPrefix(def.Name, "solaudit_") {
			t.Errorf("%s: missing solaudit_ prefix", def.Name)
		}
		if seen[def.Name] {
			t.Errorf("%s: duplicate definition", def.Name)
		}
		seen[def.Name] = true
	}
}

func TestPrometheusCollector(t *testing.T) {
	c, err := NewPrometheusCollector(nil)
	if err != nil {
		t.Fatalf("NewPrometheusCollector: %v", err)
	}

	c.CounterInc(AgentRunsTotal.Name, "agent", "slither", "status", "TIMEOUT")
	c.GaugeInc(AgentsActive.Name)
	c.HistogramObserve(AgentDuration.Name, 1.2, "agent", "slither")
	c.CounterInc(VerdictsTotal.Name, "severity", "high", "false_positive", "false")

	// unknown names are dropped
	c.CounterInc("not_registered", "a", "b")

	if err := c.Register(AgentRunsTotal); err != nil {
		t.Errorf("re-registering should be a no-op: %v", err)
	}
	if err := c.Register(MetricDefinition{Name: "x", Type: "summary"}); err == nil {
		t.Error("expected error for unsupported type")
	}

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`solaudit_agent_runs_total{agent="slither",status="TIMEOUT"} 1`,
		`solaudit_agents_active 1`,
		`solaudit_verdicts_total{false_positive="false",severity="high"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}

	c.Reset()
	if c.Registry() == nil {
		t.Error("Registry() returned nil")
	}
}
