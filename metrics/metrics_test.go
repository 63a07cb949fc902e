package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.IncChunksProduced()
	m.AddDelivered(10)
	m.IncUnderruns()
	m.IncStageFailure("decode")
	m.SetGains(0, -90)
	m.SetShowRunning(true)
}

func TestCounters(t *testing.T) {
	m := New()
	m.AddDelivered(3528)
	m.AddDelivered(3528)
	m.IncUnderruns()
	m.IncStageFailure("decode")

	if got := testutil.ToFloat64(m.bytesDelivered); got != 7056 {
		t.Errorf("bytes delivered = %v, want 7056", got)
	}
	if got := testutil.ToFloat64(m.underrunsTotal); got != 1 {
		t.Errorf("underruns = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.stageFailures.WithLabelValues("decode")); got != 1 {
		t.Errorf("decode failures = %v, want 1", got)
	}
}

func TestHandlerRefreshesGauges(t *testing.T) {
	m := New()
	srv := httptest.NewServer(m.Handler(func() { m.SetQueueDepth(7) }))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), "webradio_queue_depth 7") {
		t.Errorf("scrape missing refreshed gauge:\n%s", body)
	}
}

func TestRequestMiddlewareCountsErrors(t *testing.T) {
	m := New()
	h := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusBadRequest)
		}
	}))

	for _, path := range []string{"/ok", "/bad"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(m.requestsTotal); got != 2 {
		t.Errorf("requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.errorsTotal); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
}
