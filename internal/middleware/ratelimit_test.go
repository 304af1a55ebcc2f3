package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestAs(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/polls/p1/votes", nil)
	return req.WithContext(ContextWithUserID(req.Context(), userID))
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimitMiddleware_LimitsPerUser(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{GeneralRate: 1, GeneralBurst: 3, VoteRate: 1, VoteBurst: 1})
	defer rl.Stop()
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 3; i++ {
		if w := serve(handler, requestAs("user-a")); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}
	if w := serve(handler, requestAs("user-a")); w.Code != http.StatusTooManyRequests {
		t.Errorf("4回目: status = %d, want 429", w.Code)
	}

	// 他ユーザーは影響を受けない
	if w := serve(handler, requestAs("user-b")); w.Code != http.StatusOK {
		t.Errorf("user-b: status = %d, want 200", w.Code)
	}
	if got := rl.GeneralLimiterCount(); got != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", got)
	}
}

func TestRateLimitMiddleware_429Response(t *testing.T) {
	rl := NewRateLimiter(PerMinuteConfig(60, 1))
	defer rl.Stop()
	handler := rl.VoteMiddleware()(okHandler())

	serve(handler, requestAs("user-a"))
	w := serve(handler, requestAs("user-a"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != ErrCodeRateLimitExceeded || body.Message == "" || body.Category != "system" {
		t.Errorf("body = %+v", body)
	}
}

func TestVoteRateLimit_IndependentFromGeneral(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{GeneralRate: 1, GeneralBurst: 100, VoteRate: 1, VoteBurst: 2})
	defer rl.Stop()

	// 投票ルートは両方の制限を通る
	vote := rl.GeneralMiddleware()(rl.VoteMiddleware()(okHandler()))
	general := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		serve(vote, requestAs("user-a"))
	}
	if w := serve(vote, requestAs("user-a")); w.Code != http.StatusTooManyRequests {
		t.Errorf("投票の上限超過: status = %d, want 429", w.Code)
	}
	if w := serve(general, requestAs("user-a")); w.Code != http.StatusOK {
		t.Errorf("投票の上限超過は他のAPIに影響しないこと: status = %d", w.Code)
	}
}

func TestRateLimitMiddleware_NoUserID_Returns401(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	defer rl.Stop()

	w := serve(rl.GeneralMiddleware()(okHandler()), httptest.NewRequest(http.MethodGet, "/api/polls", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestRateLimiter_CleanupRemovesIdleEntries(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{GeneralRate: 1, GeneralBurst: 1, VoteRate: 1, VoteBurst: 1, CleanupInterval: time.Minute})
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		serve(rl.VoteMiddleware()(okHandler()), requestAs(fmt.Sprintf("user-%d", i)))
	}
	if got := rl.VoteLimiterCount(); got != 3 {
		t.Fatalf("VoteLimiterCount = %d, want 3", got)
	}

	rl.cleanup(time.Now().Add(time.Minute))
	if got := rl.VoteLimiterCount(); got != 3 {
		t.Errorf("TTL内のエントリは残ること: %d", got)
	}

	rl.cleanup(time.Now().Add(3 * time.Minute))
	if got := rl.VoteLimiterCount(); got != 0 {
		t.Errorf("TTLを超えたエントリは削除されること: %d", got)
	}

	rl.Stop()
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralRate != 2.0 {
		t.Errorf("GeneralRate = %f, want 2.0", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 || cfg.VoteBurst != 10 {
		t.Errorf("bursts = %d/%d, want 120/10", cfg.GeneralBurst, cfg.VoteBurst)
	}
	if cfg.VoteRate == 0 {
		t.Error("VoteRate should not be 0")
	}
}
