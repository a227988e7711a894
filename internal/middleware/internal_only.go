package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
)

// InternalOnly пускает только внутренние вызовы. Если token задан, обязателен заголовок
// X-Internal-Token == token. Без токена пускает запросы с приватного или loopback адреса,
// причём адрес берётся из RemoteAddr соединения: X-Real-Ip/X-Forwarded-For задаёт клиент.
// Перед этим middleware не должен стоять chi RealIP.
func InternalOnly(token string) func(http.Handler) http.Handler {
	token = strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var ok bool
			if token != "" {
				got := r.Header.Get("X-Internal-Token")
				ok = subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
			} else {
				ok = isPrivateIP(remoteIP(r))
			}
			if !ok {
				writeJSONError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// remoteIP: адрес TCP-соединения без учёта заголовков прокси.
func remoteIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// clientIP: X-Real-Ip, первый адрес X-Forwarded-For, иначе RemoteAddr.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return strings.TrimSpace(ip)
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx > 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	return remoteIP(r)
}

func isPrivateIP(s string) bool {
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
