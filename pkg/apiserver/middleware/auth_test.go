package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthDisabledWhenSecretEmpty(t *testing.T) {
	handler := Auth(AuthConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with auth disabled, got %d", rec.Code)
	}
}

func TestAuthRejectsMissingHeader(t *testing.T) {
	handler := Auth(AuthConfig{JWTSecret: "s3cr3t"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing header, got %d", rec.Code)
	}
}

func TestAuthAllowsPublicPath(t *testing.T) {
	handler := Auth(AuthConfig{JWTSecret: "s3cr3t", PublicPaths: []string{"/healthz"}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for public path, got %d", rec.Code)
	}
}

func TestAuthAcceptsValidToken(t *testing.T) {
	secret := "s3cr3t"
	token, err := IssueToken("tester", secret)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	var gotSubject string
	handler := Auth(AuthConfig{JWTSecret: secret})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if ok {
			gotSubject = claims.Subject
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for valid token, got %d", rec.Code)
	}
	if gotSubject != "tester" {
		t.Fatalf("expected subject 'tester' in context, got %q", gotSubject)
	}
}

func TestAuthRejectsTokenSignedWithWrongSecret(t *testing.T) {
	token, err := IssueToken("tester", "wrong-secret")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	handler := Auth(AuthConfig{JWTSecret: "s3cr3t"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrongly-signed token, got %d", rec.Code)
	}
}
