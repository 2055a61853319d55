package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/daviddao/chatview/internal/stream"
)

var _ stream.Recorder = (*Metrics)(nil)

func TestRecorderCounts(t *testing.T) {
	m := New()

	m.TailSnapshot(3)
	m.TailSnapshot(5)
	m.Fetch(stream.ResultOK)
	m.Fetch(stream.ResultOK)
	m.Fetch(stream.ResultEmpty)
	m.Append(stream.ResultError)
	m.ViewSize(12)

	if got := testutil.ToFloat64(m.TailSnapshots); got != 2 {
		t.Errorf("tail snapshots = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TailSize); got != 5 {
		t.Errorf("tail size = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.Fetches.WithLabelValues(stream.ResultOK)); got != 2 {
		t.Errorf("fetch ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Fetches.WithLabelValues(stream.ResultEmpty)); got != 1 {
		t.Errorf("fetch empty = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Appends.WithLabelValues(stream.ResultError)); got != 1 {
		t.Errorf("append error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ViewMessages); got != 12 {
		t.Errorf("view messages = %v, want 12", got)
	}
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.TailSnapshot(1)
	if got := testutil.ToFloat64(b.TailSnapshots); got != 0 {
		t.Errorf("second registry saw %v snapshots", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Append(stream.ResultOK)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `chatview_append_total{result="ok"} 1`) {
		t.Errorf("metrics output missing append counter:\n%s", body)
	}
}
