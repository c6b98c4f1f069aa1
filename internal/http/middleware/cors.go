package middleware

import (
	"net/http"
	"strings"
)

// originPattern matches a "scheme://*.domain" allowlist entry: any subdomain
// of domain, same scheme, apex excluded.
type originPattern struct {
	prefix string
	suffix string
}

// originSet is a parsed CORS allowlist.
type originSet struct {
	any      bool
	exact    map[string]struct{}
	patterns []originPattern
}

func parseOrigins(allowed []string) originSet {
	set := originSet{exact: map[string]struct{}{}}
	for _, entry := range allowed {
		entry = strings.TrimSuffix(strings.TrimSpace(entry), "/")
		if entry == "" {
			continue
		}
		if entry == "*" {
			set.any = true
			continue
		}
		if i := strings.Index(entry, "://*."); i >= 0 {
			set.patterns = append(set.patterns, originPattern{
				prefix: entry[:i+3],
				suffix: entry[i+4:],
			})
			continue
		}
		set.exact[entry] = struct{}{}
	}
	return set
}

func (s originSet) match(origin string) bool {
	if s.any {
		return true
	}
	if _, ok := s.exact[origin]; ok {
		return true
	}
	for _, p := range s.patterns {
		if strings.HasPrefix(origin, p.prefix) && strings.HasSuffix(origin, p.suffix) &&
			len(origin) > len(p.prefix)+len(p.suffix) {
			return true
		}
	}
	return false
}

// CORS restricts cross-origin browser access to the allowlisted origins.
// Entries are exact origins, "scheme://*.domain" subdomain wildcards, or a
// bare "*". Matching origins are echoed back; preflight requests are answered
// without reaching the handlers.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	origins := parseOrigins(allowedOrigins)
	const (
		allowHeaders  = "Authorization, Content-Type, X-Request-ID"
		allowMethods  = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
		exposeHeaders = "X-Request-ID"
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Responses differ per Origin, so caches must key on it.
			w.Header().Add("Vary", "Origin")

			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin != "" && origins.match(origin) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Headers", allowHeaders)
				h.Set("Access-Control-Allow-Methods", allowMethods)
				h.Set("Access-Control-Expose-Headers", exposeHeaders)
				h.Set("Access-Control-Max-Age", "600")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
