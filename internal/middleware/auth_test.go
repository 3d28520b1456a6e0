package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/CipherHitro/AiMind/internal/middleware"
	"github.com/CipherHitro/AiMind/internal/model/user"
	"github.com/CipherHitro/AiMind/internal/store"
)

const (
	testSecret = "test-secret"
	testCookie = "uid"
)

func signToken(t *testing.T, secret, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newAuthenticator() *middleware.Authenticator {
	mem := store.NewMemoryStore()
	mem.PutUser(user.User{ID: "alice", Username: "alice", Credits: user.DefaultCredits})
	return middleware.NewAuthenticator(mem, testSecret, testCookie)
}

func authedRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: testCookie, Value: token})
	}
	return req
}

func TestAuthenticateLoadsUser(t *testing.T) {
	auth := newAuthenticator()

	var seen user.User
	handler := auth.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := middleware.UserFrom(r.Context())
		if !ok {
			t.Fatal("user missing from context")
		}
		seen = u
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, authedRequest(signToken(t, testSecret, "alice")))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if seen.ID != "alice" || seen.Credits != user.DefaultCredits {
		t.Fatalf("unexpected user: %+v", seen)
	}
}

func TestAuthenticateRejections(t *testing.T) {
	auth := newAuthenticator()
	handler := auth.Authenticate(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	cases := []struct {
		name  string
		token string
	}{
		{name: "missing cookie", token: ""},
		{name: "garbage token", token: "not-a-jwt"},
		{name: "wrong signature", token: signToken(t, "other-secret", "alice")},
		{name: "unknown user", token: signToken(t, testSecret, "ghost")},
		{name: "expired token", token: expiredToken(t)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, authedRequest(tc.token))
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func expiredToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		UserID: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
