package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/qdemitter/internal/archive"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_ObserveIteration(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.ObserveIteration(8, 3, 0, 2*time.Millisecond)
	c.ObserveIteration(8, 0, 1, time.Millisecond)

	if got := testutil.ToFloat64(c.tells); got != 2 {
		t.Errorf("Expected 2 tells, got %f", got)
	}
	if got := testutil.ToFloat64(c.restarts); got != 1 {
		t.Errorf("Expected 1 restart, got %f", got)
	}
	if got := testutil.ToFloat64(c.solutions.WithLabelValues("added")); got != 3 {
		t.Errorf("Expected 3 added solutions, got %f", got)
	}
	if got := testutil.ToFloat64(c.solutions.WithLabelValues("rejected")); got != 13 {
		t.Errorf("Expected 13 rejected solutions, got %f", got)
	}
	if n := testutil.CollectAndCount(c.tellDuration); n != 1 {
		t.Errorf("Expected one duration histogram, got %d", n)
	}
}

func TestCollector_SetArchive(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.SetArchive(archive.Stats{NumElites: 12, Coverage: 0.12, QDScore: 640.5, BestObjective: 91})

	if got := testutil.ToFloat64(c.elites); got != 12 {
		t.Errorf("Expected 12 elites, got %f", got)
	}
	if got := testutil.ToFloat64(c.coverage); got != 0.12 {
		t.Errorf("Expected coverage 0.12, got %f", got)
	}
	if got := testutil.ToFloat64(c.qdScore); got != 640.5 {
		t.Errorf("Expected QD score 640.5, got %f", got)
	}
	if got := testutil.ToFloat64(c.bestObjective); got != 91 {
		t.Errorf("Expected best objective 91, got %f", got)
	}
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveIteration(4, 1, 1, time.Millisecond)
	c.SetArchive(archive.Stats{NumElites: 1})
}

func TestCollector_Exposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.ObserveIteration(4, 4, 0, time.Millisecond)
	c.SetArchive(archive.Stats{NumElites: 4, Coverage: 0.04, QDScore: 200})

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("Failed to scrape metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read metrics body: %v", err)
	}

	for _, name := range []string{
		"qdemitter_tells_total 1",
		`qdemitter_solutions_total{outcome="added"} 4`,
		"qdemitter_archive_elites 4",
		"qdemitter_archive_qd_score 200",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("Expected exposition to contain %q", name)
		}
	}
}
