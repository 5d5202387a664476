package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy describes which cross-origin callers are allowed. The mini-app
// frontend lives on its own origin, so the public APIs need this.
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// WithCORS answers preflights and stamps CORS headers for allowed origins.
// An empty origin list disables it entirely.
func WithCORS(policy CORSPolicy) Middleware {
	if len(policy.AllowedOrigins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	origins := trimmed(policy.AllowedOrigins)
	methods := strings.Join(trimmed(policy.AllowedMethods), ", ")
	reqHeaders := strings.Join(trimmed(policy.AllowedHeaders), ", ")
	maxAge := int(policy.MaxAge.Seconds())

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			allow, ok := resolveOrigin(origin, origins, policy.AllowCredentials)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allow)
			if policy.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if methods != "" {
				h.Set("Access-Control-Allow-Methods", methods)
			}
			if reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			}
			if maxAge > 0 {
				h.Set("Access-Control-Max-Age", strconv.Itoa(maxAge))
			}
			h.Add("Vary", "Origin")
			h.Add("Vary", "Access-Control-Request-Method")
			h.Add("Vary", "Access-Control-Request-Headers")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func trimmed(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// A wildcard with credentials must echo the concrete origin; browsers reject
// "*" on credentialed responses.
func resolveOrigin(origin string, allowed []string, credentials bool) (string, bool) {
	for _, a := range allowed {
		if a == "*" {
			if credentials {
				return origin, true
			}
			return "*", true
		}
		if strings.EqualFold(a, origin) {
			return origin, true
		}
	}
	return "", false
}
