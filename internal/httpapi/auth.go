package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"expenseflow/expense-service/internal/models"
	"expenseflow/expense-service/internal/store"
)

type authContextKey struct{}

type authInfo struct {
	Session models.Session
	User    models.User
}

func AuthMiddleware(sessions store.Store, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		sessionID := sessionIDFromRequest(r)
		if sessionID == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}
		session, user, err := sessions.GetSession(r.Context(), sessionID)
		if err != nil {
			if errors.Is(err, store.ErrSessionNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
				return
			}
			log.Printf("session lookup failed: %v", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, authInfo{Session: session, User: user})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func authFromContext(ctx context.Context) (authInfo, bool) {
	value := ctx.Value(authContextKey{})
	if value == nil {
		return authInfo{}, false
	}
	info, ok := value.(authInfo)
	if !ok {
		return authInfo{}, false
	}
	return info, true
}

// requireTenant resolves the company_code for the request. An explicit
// company_code query value must match the session tenant; when absent the
// session tenant is used.
func requireTenant(w http.ResponseWriter, r *http.Request) (authInfo, string, bool) {
	info, ok := authFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return authInfo{}, "", false
	}
	companyCode := strings.TrimSpace(r.URL.Query().Get("company_code"))
	if companyCode == "" {
		return info, info.User.CompanyCode, true
	}
	if companyCode != info.User.CompanyCode {
		writeError(w, http.StatusForbidden, "access_denied", "tenant access denied")
		return authInfo{}, "", false
	}
	return info, companyCode, true
}

func requireRole(w http.ResponseWriter, info authInfo, roles ...models.Role) bool {
	for _, role := range roles {
		if info.User.Role == role {
			return true
		}
	}
	writeError(w, http.StatusForbidden, "access_denied", "role not permitted")
	return false
}

func sessionIDFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Session-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func isPublicEndpoint(r *http.Request) bool {
	switch r.URL.Path {
	case "/health", "/metrics", "/api/register", "/api/login":
		return true
	default:
		return r.Method == http.MethodOptions
	}
}
