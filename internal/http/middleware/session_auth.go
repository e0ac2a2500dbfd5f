package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/adriangmrraa/dentalogic-sub000/internal/session"
	"github.com/adriangmrraa/dentalogic-sub000/internal/tenancy"
)

// TenantHeader lets a client state the clinic it is acting for. It must
// match the token's tenant.
const TenantHeader = "X-Tenant-Id"

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter that browsers use for websockets.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

// RequireSession opens a session from the request's signed token and
// stores it, with its tenant, in the request context. The session is torn
// down when the handler returns, so long-lived handlers such as websockets
// end with the token's expiry.
func RequireSession(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "auth disabled", http.StatusUnauthorized)
				return
			}
			token := bearerToken(r)
			if token == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			sess, err := session.FromToken(token, secret)
			if err != nil || !sess.Authenticated() {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			defer sess.Logout()

			if claimed := strings.TrimSpace(r.Header.Get(TenantHeader)); claimed != "" && claimed != sess.TenantID {
				http.Error(w, "tenant mismatch", http.StatusForbidden)
				return
			}

			ctx := session.WithSession(r.Context(), sess)
			ctx = tenancy.WithTenantID(ctx, sess.TenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireProfessionalEditor lets through users allowed to edit the
// professional named by the route parameter param. It must run after
// RequireSession.
func RequireProfessionalEditor(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := session.FromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !sess.CanEditProfessional(chi.URLParam(r, param)) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// InternalSecretHeader authenticates service-to-service calls.
const InternalSecretHeader = "X-Internal-Secret"

// RequireInternalSecret guards endpoints called by other services, such as
// the AI agent's handoff ingest. An empty secret rejects everything.
func RequireInternalSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(InternalSecretHeader)
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
