package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/billingops/internal/observability/context"
	"github.com/smallbiznis/billingops/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
)

func TestOperationFromSQL(t *testing.T) {
	cases := map[string]string{
		`INSERT INTO "invoices" ("id") VALUES (1) ON CONFLICT ("id") DO UPDATE SET ...`: "INSERT",
		"WITH x AS (SELECT 1) SELECT * FROM x":                                          "SELECT",
		"  update invoices set owner_name = null":                                       "UPDATE",
		"": "UNKNOWN",
	}
	for sql, want := range cases {
		if got := operationFromSQL(sql); got != want {
			t.Fatalf("operationFromSQL(%q) = %q, want %q", sql, got, want)
		}
	}
}

func TestGinMiddlewareAssignsIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))

	var requestID, correlationID string
	r.GET("/ping", func(c *gin.Context) {
		requestID = obscontext.RequestIDFromContext(c.Request.Context())
		correlationID = correlation.ExtractCorrelationID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(correlation.HeaderName, "from-caller")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, requestID)
	assert.Equal(t, requestID, w.Header().Get("X-Request-Id"))
	assert.Equal(t, "from-caller", correlationID)
	assert.Equal(t, "from-caller", w.Header().Get(correlation.HeaderName))
}
