package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/creatif-sam/ambf-connect/internal/logger"
	"github.com/creatif-sam/ambf-connect/internal/model"
)

// Claims: access-токен внешнего провайдера идентификации.
type Claims struct {
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// ProfileEnsurer создаёт профиль при первом запросе пользователя.
type ProfileEnsurer interface {
	Ensure(ctx context.Context, id, fullName, avatarURL string) (*model.Profile, error)
}

// ParseToken проверяет подпись HS256 и срок действия; возвращает claims с непустым sub.
func ParseToken(tokenString string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}, jwt.WithExpirationRequired(), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// IssueToken подписывает HS256 access-токен (локальная разработка, терминальный клиент, тесты).
func IssueToken(secret, subject, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// tokenFromRequest: заголовок Authorization: Bearer <token>; для WebSocket: query access_token
// (браузер не умеет ставить заголовки при upgrade).
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("access_token")
}

// JWTAuth проверяет access-токен и кладёт нормализованный sub в контекст.
// Профиль создаётся/обновляется из claims name и picture один раз за время жизни процесса.
func JWTAuth(secret string, profiles ProfileEnsurer) func(http.Handler) http.Handler {
	key := []byte(secret)
	var ensured sync.Map
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := tokenFromRequest(r)
			if raw == "" {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			claims, err := ParseToken(raw, key)
			if err != nil {
				logger.Debugf("auth: reject token %s: %v", MaskToken(raw), err)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			userID := model.NormalizeID(claims.Subject)
			if profiles != nil {
				if _, done := ensured.Load(userID); !done {
					ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
					_, err := profiles.Ensure(ctx, userID, claims.Name, claims.Picture)
					cancel()
					if err != nil {
						logger.Errorf("auth: ensure profile %s: %v", userID, err)
						writeJSONError(w, http.StatusInternalServerError, "internal error")
						return
					}
					ensured.Store(userID, struct{}{})
				}
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}
