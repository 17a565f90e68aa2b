package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware records every routed request except scrapes of skip paths.
// Labels use the route template so session ids never become label values.
// Upgraded connections are counted but kept out of the latency histograms,
// since their duration is the lifetime of a stream.
func Middleware(metrics *Metrics, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skipped[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		began := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		if c.IsWebsocket() && status < http.StatusBadRequest {
			metrics.RecordUpgrade(c.Request.Method, route)
			return
		}

		metrics.RecordHTTPRequest(c.Request.Method, route, strconv.Itoa(status),
			time.Since(began), max(c.Request.ContentLength, 0), int64(c.Writer.Size()))
	}
}

// Timer measures one service call.
type Timer struct {
	metrics *Metrics
	service string
	method  string
	began   time.Time
}

// NewTimer starts timing method on service.
func NewTimer(metrics *Metrics, service, method string) *Timer {
	return &Timer{metrics: metrics, service: service, method: method, began: time.Now()}
}

// Stop records the call under status ("success", "failure" or "error").
func (t *Timer) Stop(status string) {
	t.metrics.RecordServiceCall(t.service, t.method, status, time.Since(t.began))
}
