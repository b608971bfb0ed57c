package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/seomaster/report_server/internal/pkg/metrics"
)

func TestMetrics_CountsByRouteTemplate(t *testing.T) {
	router := gin.New()
	router.Use(Metrics())
	router.GET("/items/:id", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	counter := metrics.HTTPRequests.WithLabelValues("/items/:id", "GET", "200")
	before := testutil.ToFloat64(counter)

	for _, path := range []string{"/items/1", "/items/2"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	assert.Equal(t, before+2, testutil.ToFloat64(counter))
}

func TestMetrics_Unmatched(t *testing.T) {
	router := gin.New()
	router.Use(Metrics())

	counter := metrics.HTTPRequests.WithLabelValues("unmatched", "GET", "404")
	before := testutil.ToFloat64(counter)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/nope", nil))

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}
