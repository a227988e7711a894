package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/creatif-sam/ambf-connect/internal/logger"
)

// RequestLog логирует каждый HTTP-запрос: method, path, статус и время выполнения (асинхронно, не блокирует).
// Медленные запросы (≥100ms) дополнительно попадают в лог длительности.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		defer logger.DeferLogDuration("http "+r.Method+" "+r.URL.Path, start)()
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if status >= http.StatusInternalServerError {
			logger.Errorf("http %s %s %d %dB %v", r.Method, r.URL.Path, status, ww.BytesWritten(), time.Since(start))
			return
		}
		logger.Debugf("http %s %s %d %dB %v", r.Method, r.URL.Path, status, ww.BytesWritten(), time.Since(start))
	})
}
