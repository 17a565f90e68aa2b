package middleware

import (
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

// CORSConfig lists the origins allowed to drive terminals from a browser.
// Loopback admits any origin on localhost or a loopback address, whatever
// its port, which covers desktop shells and dev servers on random ports.
type CORSConfig struct {
	AllowOrigins     []string
	Loopback         bool
	AllowCredentials bool
	MaxAge           time.Duration
}

// DefaultCORSConfig allows every origin.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{"*"},
		MaxAge:       12 * time.Hour,
	}
}

var (
	corsMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	corsHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "Cache-Control", RequestIDHeader}
)

// CORS builds the gin-contrib/cors handler for cfg. Credentials are never
// combined with a wildcard origin.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	wildcard := lo.Contains(cfg.AllowOrigins, "*") || (len(cfg.AllowOrigins) == 0 && !cfg.Loopback)

	c := cors.Config{
		AllowMethods:     corsMethods,
		AllowHeaders:     corsHeaders,
		ExposeHeaders:    []string{RequestIDHeader},
		AllowCredentials: cfg.AllowCredentials && !wildcard,
		MaxAge:           cfg.MaxAge,
	}
	switch {
	case wildcard:
		c.AllowAllOrigins = true
	case cfg.Loopback:
		explicit := lo.SliceToMap(cfg.AllowOrigins, func(o string) (string, struct{}) { return o, struct{}{} })
		c.AllowOriginFunc = func(origin string) bool {
			if _, ok := explicit[origin]; ok {
				return true
			}
			return isLoopbackOrigin(origin)
		}
	default:
		c.AllowOrigins = cfg.AllowOrigins
	}
	return cors.New(c)
}

func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
