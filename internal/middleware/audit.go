package middleware

import (
	"net/http"
	"time"

	"pawpool/pkg/logger"
)

// AuditMiddleware writes one audit line per state-changing admin request.
type AuditMiddleware struct {
	logger logger.Logger
}

// NewAuditMiddleware creates a new AuditMiddleware.
func NewAuditMiddleware(log logger.Logger) *AuditMiddleware {
	return &AuditMiddleware{logger: log}
}

// Audit records who did what and the resulting status. Reads are not audited.
func (m *AuditMiddleware) Audit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		wrapped, ok := w.(*responseWriter)
		if !ok {
			wrapped = &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		}
		next.ServeHTTP(wrapped, r)

		fields := map[string]interface{}{
			"action":      r.Method + " " + r.URL.Path,
			"status":      wrapped.statusCode,
			"request_id":  RequestIDFromContext(r.Context()),
			"ip":          r.RemoteAddr,
			"recorded_at": time.Now().UTC().Format(time.RFC3339),
		}
		if userID, ok := UserIDFromContext(r.Context()); ok {
			fields["admin_id"] = userID
		}
		m.logger.Info("Admin audit", fields)
	})
}
