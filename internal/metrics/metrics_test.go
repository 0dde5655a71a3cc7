package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackers(t *testing.T) {
	before := testutil.ToFloat64(reservationsReleased.WithLabelValues("expired"))
	TrackRelease("expired")
	assert.Equal(t, before+1, testutil.ToFloat64(reservationsReleased.WithLabelValues("expired")))

	before = testutil.ToFloat64(confirmations.WithLabelValues("paid"))
	TrackConfirmation("paid")
	assert.Equal(t, before+1, testutil.ToFloat64(confirmations.WithLabelValues("paid")))
}

func TestHandler(t *testing.T) {
	ObserveHTTPRequest("GET", "/health", "200", 5*time.Millisecond)

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}
