package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"lms-backend/internal/identity"
	"lms-backend/internal/models"
)

func okHandler(t *testing.T, want identity.Caller) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := identity.FromContext(r.Context())
		if !ok {
			t.Fatal("expected caller in context")
		}
		if got != want {
			t.Errorf("expected caller %+v, got %+v", want, got)
		}
		if GetUserID(r.Context()) != want.UserID {
			t.Errorf("GetUserID mismatch")
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestJWTMiddleware_AttachesCaller(t *testing.T) {
	auth := NewJWTAuth("test-secret")
	id := uuid.New()
	token, err := auth.GenerateAccessToken(id, models.RoleInstructor, time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()

	auth.Middleware(okHandler(t, identity.Caller{UserID: id, Role: models.RoleInstructor})).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestJWTMiddleware_Rejections(t *testing.T) {
	auth := NewJWTAuth("test-secret")
	expired, _ := auth.GenerateAccessToken(uuid.New(), models.RoleStudent, -time.Minute)
	otherKey, _ := NewJWTAuth("other").GenerateAccessToken(uuid.New(), models.RoleStudent, time.Minute)

	tests := []struct {
		name   string
		header string
		code   string
	}{
		{"missing header", "", "UNAUTHORIZED"},
		{"not bearer", "Basic abc", "UNAUTHORIZED"},
		{"wrong signature", "Bearer " + otherKey, "UNAUTHORIZED"},
		{"expired", "Bearer " + expired, "TOKEN_EXPIRED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()

			auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler must not run")
			})).ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
			if !strings.Contains(rr.Body.String(), tt.code) {
				t.Errorf("expected code %s in body %s", tt.code, rr.Body.String())
			}
		})
	}
}

func TestParseToken_UnknownRoleFallsBackToStudent(t *testing.T) {
	auth := NewJWTAuth("test-secret")
	id := uuid.New()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": id.String(),
		"role":    "superuser",
		"exp":     time.Now().Add(time.Minute).Unix(),
	})
	signed, err := token.SignedString(auth.Secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	caller, err := auth.ParseToken(signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if caller.Role != models.RoleStudent {
		t.Errorf("expected student role, got %s", caller.Role)
	}
}

func TestRequireInstructor(t *testing.T) {
	tests := []struct {
		name   string
		caller *identity.Caller
		want   int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"student", &identity.Caller{UserID: uuid.New(), Role: models.RoleStudent}, http.StatusForbidden},
		{"instructor", &identity.Caller{UserID: uuid.New(), Role: models.RoleInstructor}, http.StatusOK},
		{"admin", &identity.Caller{UserID: uuid.New(), Role: models.RoleAdmin}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.caller != nil {
				req = req.WithContext(identity.WithCaller(context.Background(), *tt.caller))
			}
			rr := httptest.NewRecorder()

			RequireInstructor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})).ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rr.Code)
			}
		})
	}
}

func TestRateLimiter_PerKeyBudget(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := do("10.0.0.1:1"); code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", code)
	}
	if code := do("10.0.0.1:1"); code != http.StatusOK {
		t.Fatalf("second request: expected 200, got %d", code)
	}
	if code := do("10.0.0.1:1"); code != http.StatusTooManyRequests {
		t.Fatalf("third request: expected 429, got %d", code)
	}
	if code := do("10.0.0.2:1"); code != http.StatusOK {
		t.Fatalf("other client: expected 200, got %d", code)
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(RequestIDHeader)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rr.Header().Get(RequestIDHeader) != seen {
		t.Errorf("expected generated request id to be echoed, got %q / %q", seen, rr.Header().Get(RequestIDHeader))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if seen != "abc" || rr.Header().Get(RequestIDHeader) != "abc" {
		t.Errorf("expected incoming id to be kept")
	}
}

func TestCORS(t *testing.T) {
	handler := CORS("http://localhost:3000, https://lms.example.com")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://lms.example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Errorf("preflight: expected 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://lms.example.com" {
		t.Errorf("expected origin to be allowed")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Errorf("unknown origin must not be allowed")
	}
}
