package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-reservation/internal/config"
	"ms-reservation/internal/logger"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return token
}

func TestNewAuthenticatorRequiresIssuerOrOptIn(t *testing.T) {
	_, err := NewAuthenticator(context.Background(), config.AuthConfig{}, logger.NewNopLogger())
	assert.Error(t, err)

	a, err := NewAuthenticator(context.Background(), config.AuthConfig{AllowUnverified: true}, logger.NewNopLogger())
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestMiddlewareResolvesSubject(t *testing.T) {
	a, err := NewAuthenticator(context.Background(), config.AuthConfig{AllowUnverified: true}, logger.NewNopLogger())
	require.NoError(t, err)

	var seen string
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/reservations", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, jwt.MapClaims{"sub": "attendee-42"}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "attendee-42", seen)
}

func TestMiddlewareRejectsBadRequests(t *testing.T) {
	a, err := NewAuthenticator(context.Background(), config.AuthConfig{AllowUnverified: true}, logger.NewNopLogger())
	require.NoError(t, err)
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	cases := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic abc",
		"garbage token":  "Bearer not-a-jwt",
		"no subject":     "Bearer " + signedToken(t, jwt.MapClaims{"name": "x"}),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestUserIDDefaultsToEmpty(t *testing.T) {
	assert.Empty(t, UserID(context.Background()))
	assert.Equal(t, "u1", UserID(WithUserID(context.Background(), "u1")))
}

func TestRequireAdminToken(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	cases := []struct {
		name       string
		configured string
		header     string
		code       int
	}{
		{"matching token", "s3cret", "s3cret", http.StatusNoContent},
		{"wrong token", "s3cret", "guess", http.StatusForbidden},
		{"missing header", "s3cret", "", http.StatusForbidden},
		{"no token configured", "", "", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin/sweep", nil)
			if tc.header != "" {
				req.Header.Set("X-Admin-Token", tc.header)
			}
			rec := httptest.NewRecorder()
			RequireAdminToken(tc.configured, logger.NewNopLogger())(ok).ServeHTTP(rec, req)
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}
