package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatif-sam/ambf-connect/internal/metrics"
	"github.com/creatif-sam/ambf-connect/internal/model"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func validClaims(sub string) Claims {
	return Claims{
		Name:    "Alice A",
		Picture: "https://cdn.example/a.png",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

type ensureCall struct{ id, name, avatar string }

type fakeEnsurer struct {
	mu    sync.Mutex
	calls []ensureCall
	err   error
}

func (f *fakeEnsurer) Ensure(_ context.Context, id, name, avatar string) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ensureCall{id, name, avatar})
	if f.err != nil {
		return nil, f.err
	}
	return &model.Profile{ID: id, FullName: name, AvatarURL: avatar}, nil
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetUserID(r.Context())))
	})
}

func TestJWTAuth(t *testing.T) {
	ens := &fakeEnsurer{}
	h := JWTAuth(testSecret, ens)(echoUser())
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims("  Alice "))

	req := httptest.NewRequest(http.MethodGet, "/api/profiles/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())

	// WebSocket: токен в query.
	req = httptest.NewRequest(http.MethodGet, "/ws?access_token="+token, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, ens.calls, 1, "profile ensured once per process")
	assert.Equal(t, ensureCall{"alice", "Alice A", "https://cdn.example/a.png"}, ens.calls[0])
}

func TestJWTAuthRejects(t *testing.T) {
	expired := validClaims("alice")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noExp := validClaims("alice")
	noExp.ExpiresAt = nil

	cases := map[string]string{
		"missing":      "",
		"garbage":      "Bearer not-a-jwt",
		"wrong secret": "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), validClaims("alice")),
		"expired":      "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), expired),
		"no exp":       "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), noExp),
		"no subject":   "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims("  ")),
		"none alg":     "Bearer " + signToken(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, validClaims("alice")),
	}
	ens := &fakeEnsurer{}
	h := JWTAuth(testSecret, ens)(echoUser())
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
		})
	}
	assert.Empty(t, ens.calls)
}

func TestJWTAuthEnsureFailure(t *testing.T) {
	ens := &fakeEnsurer{err: errors.New("db down")}
	h := JWTAuth(testSecret, ens)(echoUser())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims("bob")))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// неудача не кешируется
	ens.err = nil
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, ens.calls, 2)
}

func TestIssueToken(t *testing.T) {
	token, err := IssueToken(testSecret, "carol", "Carol C", time.Minute)
	require.NoError(t, err)
	claims, err := ParseToken(token, []byte(testSecret))
	require.NoError(t, err)
	assert.Equal(t, "carol", claims.Subject)
	assert.Equal(t, "Carol C", claims.Name)

	_, err = ParseToken(token, []byte("other"))
	assert.Error(t, err)
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("k"))
	assert.True(t, rl.allow("k"))
	assert.False(t, rl.allow("k"))
	assert.True(t, rl.allow("other"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.allow("k"), "window slides")
}

func TestRateLimitMiddleware(t *testing.T) {
	before := testutil.ToFloat64(metrics.RateLimitHits.WithLabelValues("test"))
	h := RateLimit("test", 100, 1)(echoUser())

	do := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		if user != "" {
			req = req.WithContext(WithUserID(req.Context(), user))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, do("alice"))
	assert.Equal(t, http.StatusTooManyRequests, do("alice"))
	assert.Equal(t, http.StatusOK, do("bob"))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RateLimitHits.WithLabelValues("test")))
}

func internalCall(h http.Handler, remote, token, realIP string) int {
	req := httptest.NewRequest(http.MethodPost, "/api/notify", nil)
	req.RemoteAddr = remote
	if token != "" {
		req.Header.Set("X-Internal-Token", token)
	}
	if realIP != "" {
		req.Header.Set("X-Real-Ip", realIP)
		req.Header.Set("X-Forwarded-For", realIP)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestInternalOnlyWithToken(t *testing.T) {
	h := InternalOnly("s3cret")(echoUser())

	assert.Equal(t, http.StatusOK, internalCall(h, "203.0.113.5:443", "s3cret", ""))
	assert.Equal(t, http.StatusForbidden, internalCall(h, "203.0.113.5:443", "wrong", ""))
	assert.Equal(t, http.StatusForbidden, internalCall(h, "203.0.113.5:443", "", ""))
	assert.Equal(t, http.StatusForbidden, internalCall(h, "203.0.113.5:443", "", "127.0.0.1"))
	// с заданным токеном приватная сеть сама по себе не пропускает
	assert.Equal(t, http.StatusForbidden, internalCall(h, "172.18.0.4:5000", "", ""))
	assert.Equal(t, http.StatusForbidden, internalCall(h, "127.0.0.1:5000", "", ""))
}

func TestInternalOnlyWithoutToken(t *testing.T) {
	h := InternalOnly("")(echoUser())

	assert.Equal(t, http.StatusOK, internalCall(h, "172.18.0.4:5000", "", ""))
	assert.Equal(t, http.StatusOK, internalCall(h, "127.0.0.1:5000", "", ""))
	assert.Equal(t, http.StatusForbidden, internalCall(h, "203.0.113.9:5555", "", ""))
	assert.Equal(t, http.StatusForbidden, internalCall(h, "203.0.113.9:5555", "", "127.0.0.1"), "proxy headers are not trusted")
}

func TestRecoverJSON(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())

	// ответ уже начат: тело не дописываем
	h = RecoverJSON(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("late")
	}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Get("/api/profiles/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })

	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/profiles/{id}", "418")
	before := testutil.ToFloat64(counter)
	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/profiles/"+id, nil))
	}
	assert.Equal(t, before+2, testutil.ToFloat64(counter))
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "****", MaskToken("short"))
	assert.Equal(t, "eyJhbGci***", MaskToken("eyJhbGciOiJIUzI1NiJ9.payload.sig"))
}
