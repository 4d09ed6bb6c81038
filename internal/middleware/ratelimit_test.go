package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func limitedRequest(owner string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	return req.WithContext(ContextWithOwner(req.Context(), owner))
}

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     2,
		GeneralBurst:    5,
		ScheduleRate:    1,
		ScheduleBurst:   10,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	mw := rl.GeneralMiddleware()

	handlerCallCount := 0
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCallCount++
		w.WriteHeader(http.StatusOK)
	}))

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, limitedRequest("owner-1@example.com"))

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	if handlerCallCount != 5 {
		t.Errorf("handler call count = %d, want 5", handlerCallCount)
	}
}

func TestRateLimitMiddleware_Returns429WhenLimitExceeded(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    2,
		ScheduleRate:    1,
		ScheduleBurst:   10,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	mw := rl.GeneralMiddleware()

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// バースト分（2回）は通る
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, limitedRequest("owner-burst@example.com"))
		if w.Result().StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	// 3回目は429
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, limitedRequest("owner-burst@example.com"))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("Retry-Afterヘッダーが設定されていない")
	}
}

func TestRateLimitMiddleware_LimitsArePerOwner(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		ScheduleRate:    1,
		ScheduleBurst:   10,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// owner-aがバーストを使い切る
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, limitedRequest("owner-a@example.com"))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, limitedRequest("owner-a@example.com"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Result().StatusCode)
	}

	// owner-bには影響しない
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, limitedRequest("owner-b@example.com"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("別オーナーのstatus = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestRateLimitMiddleware_ScheduleIsIndependent(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     10,
		GeneralBurst:    10,
		ScheduleRate:    1,
		ScheduleBurst:   1,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	general := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	schedule := rl.ScheduleMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// スケジューリングのバースト（1回）を使い切る
	w := httptest.NewRecorder()
	schedule.ServeHTTP(w, limitedRequest("owner-1@example.com"))
	w = httptest.NewRecorder()
	schedule.ServeHTTP(w, limitedRequest("owner-1@example.com"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Fatalf("schedule status = %d, want 429", w.Result().StatusCode)
	}

	// API全般の制限には影響しない
	w = httptest.NewRecorder()
	general.ServeHTTP(w, limitedRequest("owner-1@example.com"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("general status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestRateLimitMiddleware_MissingOwner_Returns401(t *testing.T) {
	rl := NewRateLimiter(NewRateLimiterConfig(120, 20))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestRateLimiter_CleanupRemovesIdleEntries(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		ScheduleRate:    1,
		ScheduleBurst:   1,
		CleanupInterval: 10 * time.Millisecond,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	rl.getOrCreate(&rl.generalMu, rl.generalLimiters, "idle-owner@example.com", cfg.GeneralRate, cfg.GeneralBurst)
	if rl.GeneralLimiterCount() != 1 {
		t.Fatalf("limiter count = %d, want 1", rl.GeneralLimiterCount())
	}

	// TTL（CleanupInterval x 2）経過後にエントリが消える
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rl.GeneralLimiterCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("limiter count = %d, want 0", rl.GeneralLimiterCount())
}
