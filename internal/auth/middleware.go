package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Middleware 返回按路由名鉴权的中间件，签名与 api.Middleware 一致。
// perms 为空时使用 DefaultRoutePermissions；不在表中的路由直接放行。
func (s *Service) Middleware(perms map[string]string) func(route string, next http.Handler) http.Handler {
	if perms == nil {
		perms = DefaultRoutePermissions
	}
	return func(route string, next http.Handler) http.Handler {
		required, guarded := perms[route]
		if !s.Enabled() || !guarded {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := s.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"))
			if err == nil {
				err = subject.Authorize(required)
			}
			if err != nil {
				status := statusOf(err)
				s.audit.Warn("access_denied",
					"route", route,
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"error", err.Error(),
				)
				writeDenied(w, status, err)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithSubject(r.Context(), subject)))
			s.audit.Info("api_request",
				"route", route,
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"subject", subject.Name,
			)
		})
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrSubjectRevoked):
		return http.StatusForbidden
	default:
		return http.StatusUnauthorized
	}
}

func writeDenied(w http.ResponseWriter, status int, err error) {
	code := "UNAUTHENTICATED"
	if status == http.StatusForbidden {
		code = "PERMISSION_DENIED"
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="archi"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "code": code})
}

type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
