package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestCSRFMiddleware_SafeMethodsPassWithoutToken(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			called := false
			handler := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			w := serve(handler, httptest.NewRequest(method, "/api/notifications", nil))

			if !called {
				t.Fatalf("%s: handler should have been called", method)
			}
			if findCookie(w.Result(), csrfCookieName) == nil {
				t.Errorf("%s: CSRF cookie should be issued", method)
			}
		})
	}
}

func TestCSRFMiddleware_ExistingCookieNotReplaced(t *testing.T) {
	handler := NewCSRFMiddleware(CSRFConfig{})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing"})
	w := serve(handler, req)

	if findCookie(w.Result(), csrfCookieName) != nil {
		t.Error("CSRF cookie should not be re-set when already present")
	}
}

func TestCSRFMiddleware_MutatingMethods(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		header string
		want   int
	}{
		{"トークンなし", "", "", http.StatusForbidden},
		{"ヘッダーなし", "tok", "", http.StatusForbidden},
		{"Cookieなし", "", "tok", http.StatusForbidden},
		{"不一致", "tok", "other", http.StatusForbidden},
		{"一致", "tok", "tok", http.StatusOK},
	}

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		for _, tt := range tests {
			t.Run(method+"/"+tt.name, func(t *testing.T) {
				handler := NewCSRFMiddleware(CSRFConfig{})(okHandler())

				req := httptest.NewRequest(method, "/api/notifications/read-all", nil)
				if tt.cookie != "" {
					req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
				}
				if tt.header != "" {
					req.Header.Set(csrfHeaderName, tt.header)
				}
				w := serve(handler, req)

				if w.Code != tt.want {
					t.Errorf("status = %d, want %d", w.Code, tt.want)
				}
				if tt.want == http.StatusForbidden {
					var body ErrorResponseBody
					json.NewDecoder(w.Body).Decode(&body)
					if body.Code != "FORBIDDEN" {
						t.Errorf("code = %q, want FORBIDDEN", body.Code)
					}
				}
			})
		}
	}
}

func TestCSRFTokenHandler_IssuesToken(t *testing.T) {
	h := NewCSRFTokenHandler(CSRFConfig{CookieDomain: "example.com"})

	w := serve(h, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))
	resp := w.Result()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	cookie := findCookie(resp, csrfCookieName)
	if cookie == nil {
		t.Fatal("expected CSRF cookie to be set")
	}
	if body.Token == "" || cookie.Value != body.Token {
		t.Errorf("cookie = %q, token = %q; should match", cookie.Value, body.Token)
	}
	if cookie.SameSite != http.SameSiteLaxMode || cookie.HttpOnly {
		t.Errorf("cookie attributes = %+v", cookie)
	}
}

func TestCSRFTokenHandler_ExistingCookie_ReturnsSameToken(t *testing.T) {
	h := NewCSRFTokenHandler(CSRFConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing-csrf-token"})
	w := serve(h, req)

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Token != "existing-csrf-token" {
		t.Errorf("token = %q, want existing-csrf-token", body.Token)
	}
}
