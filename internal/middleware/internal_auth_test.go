package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInternalTokenMiddleware(t *testing.T) {
	tests := []struct {
		name          string
		token         string
		authorization string
		wantStatus    int
	}{
		{"一致するトークン", "secret", "Bearer secret", http.StatusOK},
		{"トークンが異なる", "secret", "Bearer other", http.StatusUnauthorized},
		{"Bearerなし", "secret", "secret", http.StatusUnauthorized},
		{"ヘッダーなし", "secret", "", http.StatusUnauthorized},
		{"未設定のトークンは全て拒否", "", "Bearer ", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			})
			req := httptest.NewRequest(http.MethodPost, "/internal/events", nil)
			if tt.authorization != "" {
				req.Header.Set("Authorization", tt.authorization)
			}
			w := httptest.NewRecorder()

			NewInternalTokenMiddleware(tt.token)(next).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if called != (tt.wantStatus == http.StatusOK) {
				t.Errorf("next called = %v", called)
			}
		})
	}
}
