package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// corsPolicy matches request origins against the configured list.
type corsPolicy struct {
	any      bool
	exact    map[string]bool
	suffixes []string // from entries like https://*.example.com
}

// CORS returns a middleware that sets CORS headers for the admin dashboard.
// allowedOrigins is "*" or a comma-separated list; an entry may use one leading wildcard label,
// e.g. "https://*.example.com". An empty list allows any origin.
func CORS(allowedOrigins string) gin.HandlerFunc {
	policy := parseOrigins(allowedOrigins)
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		c.Header("Vary", "Origin")
		if allow, ok := policy.allow(origin); ok {
			c.Header("Access-Control-Allow-Origin", allow)
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Instance-Id")
			c.Header("Access-Control-Max-Age", "86400")
			if allow != "*" {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (p corsPolicy) allow(origin string) (string, bool) {
	if p.any {
		return "*", true
	}
	if origin == "" {
		return "", false
	}
	if p.exact[origin] {
		return origin, true
	}
	for _, s := range p.suffixes {
		scheme, suffix, _ := strings.Cut(s, "*")
		if strings.HasPrefix(origin, scheme) && strings.HasSuffix(origin, suffix) &&
			len(origin) > len(scheme)+len(suffix) {
			return origin, true
		}
	}
	return "", false
}

func parseOrigins(s string) corsPolicy {
	p := corsPolicy{exact: make(map[string]bool)}
	for _, o := range strings.Split(strings.TrimSpace(s), ",") {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch {
		case o == "":
		case o == "*":
			p.any = true
		case strings.Contains(o, "://*."):
			p.suffixes = append(p.suffixes, o)
		default:
			p.exact[o] = true
		}
	}
	if len(p.exact) == 0 && len(p.suffixes) == 0 {
		p.any = true
	}
	return p
}
