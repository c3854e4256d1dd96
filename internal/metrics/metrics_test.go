package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounters(t *testing.T) {
	r := New()
	r.Order("approved")
	r.Order("approved")
	r.Mailing(3, 1)
	r.Swept(0)
	r.Swept(2)

	if got := testutil.ToFloat64(r.orders.WithLabelValues("approved")); got != 2 {
		t.Fatalf("orders approved = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.mailing.WithLabelValues("failed")); got != 1 {
		t.Fatalf("mailing failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.swept); got != 2 {
		t.Fatalf("swept = %v, want 2", got)
	}
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.Update("text")
	r.Order("created")
	r.Mailing(1, 1)
	r.Failure("storage")
}

func TestHandlerExposesShopMetrics(t *testing.T) {
	r := New()
	r.Bonus("daily")
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `starstore_bonus_operations_total{operation="daily"} 1`) {
		t.Fatalf("metric missing from output:\n%s", rec.Body.String())
	}
}
