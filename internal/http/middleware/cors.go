package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowedHeaders = "Authorization, Content-Type, X-Tenant-Id, X-Request-Id, X-Internal-Secret"
	corsAllowedMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsExposedHeaders = "X-Request-Id, Retry-After"
)

// Origins is a parsed origin allowlist. Entries are exact origins, "*", or
// a wildcard subdomain such as "https://*.dentalogic.app".
type Origins struct {
	any      bool
	exact    map[string]struct{}
	suffixes []string
	schemes  []string
}

func ParseOrigins(list []string) Origins {
	o := Origins{exact: map[string]struct{}{}}
	for _, raw := range list {
		origin := strings.TrimRight(strings.TrimSpace(raw), "/")
		switch {
		case origin == "":
		case origin == "*":
			o.any = true
		case strings.Contains(origin, "://*."):
			scheme, host, _ := strings.Cut(origin, "://*")
			o.schemes = append(o.schemes, scheme+"://")
			o.suffixes = append(o.suffixes, host)
		default:
			o.exact[origin] = struct{}{}
		}
	}
	return o
}

// Empty reports whether no origin was configured at all.
func (o Origins) Empty() bool {
	return !o.any && len(o.exact) == 0 && len(o.suffixes) == 0
}

func (o Origins) Allows(origin string) bool {
	if origin == "" {
		return false
	}
	if o.any {
		return true
	}
	if _, ok := o.exact[origin]; ok {
		return true
	}
	for i, suffix := range o.suffixes {
		rest, ok := strings.CutPrefix(origin, o.schemes[i])
		if ok && strings.HasSuffix(rest, suffix) && len(rest) > len(suffix) {
			return true
		}
	}
	return false
}

// CORS answers browser preflights and tags responses for allowed origins.
// With no origins configured nothing is allowed cross-origin.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	origins := ParseOrigins(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			allowed := origins.Allows(origin)
			if origin != "" {
				w.Header().Add("Vary", "Origin")
			}
			if allowed {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
				h.Set("Access-Control-Allow-Methods", corsAllowedMethods)
				h.Set("Access-Control-Expose-Headers", corsExposedHeaders)
				h.Set("Access-Control-Max-Age", "600")
			}

			if r.Method == http.MethodOptions && origin != "" && r.Header.Get("Access-Control-Request-Method") != "" {
				if !allowed {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
