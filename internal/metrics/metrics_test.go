package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveCaption(t *testing.T) {
	m := New()
	m.ObserveCaption("openai", time.Now(), nil)
	m.ObserveCaption("openai", time.Now(), errors.New("boom"))
	m.ObserveCaption("openai", time.Now(), nil)

	if got := testutil.ToFloat64(m.Captions.WithLabelValues("openai", "success")); got != 2 {
		t.Errorf("success count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Captions.WithLabelValues("openai", "failure")); got != 1 {
		t.Errorf("failure count = %v, want 1", got)
	}

	var nilMetrics *Metrics
	nilMetrics.ObserveCaption("openai", time.Now(), nil)
}

func TestHandler(t *testing.T) {
	m := New()
	m.Uploads.WithLabelValues("multiple").Add(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `captioner_uploads_total{mode="multiple"} 3`) {
		t.Errorf("metrics output missing upload counter:\n%s", rec.Body.String())
	}
}
