package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// --- モック定義 ---

type mockTokenParser struct {
	parseFn func(token string) (int64, error)
}

func (m *mockTokenParser) Parse(token string) (int64, error) {
	return m.parseFn(token)
}

func validParser() *mockTokenParser {
	return &mockTokenParser{parseFn: func(token string) (int64, error) {
		if token == "valid-token" {
			return 7, nil
		}
		return 0, errors.New("invalid token")
	}}
}

// --- テスト ---

func TestAuthMiddleware_ValidToken_InjectsUserID(t *testing.T) {
	var captured int64
	handler := NewAuthMiddleware(validParser())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := UserIDFromContext(r.Context())
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		captured = userID
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/organizing", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if captured != 7 {
		t.Errorf("userID = %d, want 7", captured)
	}
}

func TestAuthMiddleware_SchemeIsCaseInsensitive(t *testing.T) {
	handler := NewAuthMiddleware(validParser())(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/organizing", nil)
	req.Header.Set("Authorization", "bearer valid-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"basic scheme", "Basic dXNlcjpwYXNz"},
		{"empty token", "Bearer "},
		{"invalid token", "Bearer forged"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewAuthMiddleware(validParser())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/organizing", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body.Code != "UNAUTHORIZED" || body.Category != "auth" {
				t.Errorf("unexpected body: %+v", body)
			}
		})
	}
}

func TestUserIDFromContext_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := UserIDFromContext(req.Context()); err == nil {
		t.Error("expected error when user ID is missing")
	}
}
