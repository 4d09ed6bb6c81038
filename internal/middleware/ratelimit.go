package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/shootman/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // API全般のレート（req/sec）
	GeneralBurst    int           // API全般のバーストサイズ
	ScheduleRate    rate.Limit    // 撮影スケジューリングのレート（req/sec）
	ScheduleBurst   int           // 撮影スケジューリングのバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// NewRateLimiterConfig はreq/min単位の設定値からRateLimiterConfigを生成する。
// スケジューリングは衝突確認と外部API呼び出しを伴うため、
// API全般より厳しい制限を独立に適用する。
func NewRateLimiterConfig(generalPerMinute, schedulePerMinute int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(generalPerMinute) / 60.0),
		GeneralBurst:    generalPerMinute,
		ScheduleRate:    rate.Limit(float64(schedulePerMinute) / 60.0),
		ScheduleBurst:   schedulePerMinute,
		CleanupInterval: 5 * time.Minute,
	}
}

// ownerLimiter はオーナーごとのレートリミッターとアクセス時刻を保持する。
type ownerLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter はオーナーごとのレート制限を管理する。
// API全般のレート制限と撮影スケジューリングのレート制限の2種類を提供する。
type RateLimiter struct {
	config RateLimiterConfig

	generalMu       sync.RWMutex
	generalLimiters map[string]*ownerLimiter

	scheduleMu       sync.RWMutex
	scheduleLimiters map[string]*ownerLimiter

	stopCh chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:           config,
		generalLimiters:  make(map[string]*ownerLimiter),
		scheduleLimiters: make(map[string]*ownerLimiter),
		stopCh:           make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// GeneralMiddleware はAPI全般のレート制限ミドルウェアを返す。
// リクエストコンテキストにオーナーが含まれている必要がある（オーナーミドルウェアの後に配置）。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner, err := OwnerFromContext(r.Context())
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			limiter := rl.getOrCreate(&rl.generalMu, rl.generalLimiters, owner, rl.config.GeneralRate, rl.config.GeneralBurst)

			if !limiter.Allow() {
				writeRateLimitResponse(w, rl.config.GeneralRate)
				slog.Warn("rate limit exceeded",
					slog.String("owner", owner),
					slog.String("limit_type", "general"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ScheduleMiddleware は撮影スケジューリング専用のレート制限ミドルウェアを返す。
// API全般のレート制限とは独立に動作する。
func (rl *RateLimiter) ScheduleMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner, err := OwnerFromContext(r.Context())
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			limiter := rl.getOrCreate(&rl.scheduleMu, rl.scheduleLimiters, owner, rl.config.ScheduleRate, rl.config.ScheduleBurst)

			if !limiter.Allow() {
				writeRateLimitResponse(w, rl.config.ScheduleRate)
				slog.Warn("rate limit exceeded",
					slog.String("owner", owner),
					slog.String("limit_type", "schedule"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GeneralLimiterCount は現在管理されているAPI全般リミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) GeneralLimiterCount() int {
	rl.generalMu.RLock()
	defer rl.generalMu.RUnlock()
	return len(rl.generalLimiters)
}

// ScheduleLimiterCount は現在管理されている撮影スケジューリングリミッターのエントリ数を返す。
// テストおよびメトリクス用。
func (rl *RateLimiter) ScheduleLimiterCount() int {
	rl.scheduleMu.RLock()
	defer rl.scheduleMu.RUnlock()
	return len(rl.scheduleLimiters)
}

// getOrCreate はオーナーのリミッターを取得または作成する。
func (rl *RateLimiter) getOrCreate(mu *sync.RWMutex, limiters map[string]*ownerLimiter, owner string, limit rate.Limit, burst int) *rate.Limiter {
	mu.RLock()
	ol, exists := limiters[owner]
	mu.RUnlock()

	if exists {
		mu.Lock()
		ol.lastAccess = time.Now()
		mu.Unlock()
		return ol.limiter
	}

	mu.Lock()
	defer mu.Unlock()

	// ダブルチェック
	if ol, exists := limiters[owner]; exists {
		ol.lastAccess = time.Now()
		return ol.limiter
	}

	limiter := rate.NewLimiter(limit, burst)
	limiters[owner] = &ownerLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup() {
	ttl := rl.config.CleanupInterval * 2

	now := time.Now()

	rl.generalMu.Lock()
	for owner, ol := range rl.generalLimiters {
		if now.Sub(ol.lastAccess) > ttl {
			delete(rl.generalLimiters, owner)
		}
	}
	rl.generalMu.Unlock()

	rl.scheduleMu.Lock()
	for owner, ol := range rl.scheduleLimiters {
		if now.Sub(ol.lastAccess) > ttl {
			delete(rl.scheduleLimiters, owner)
		}
	}
	rl.scheduleMu.Unlock()
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	// Retry-Afterの算出: 1トークンが補充されるまでの秒数
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, &model.APIError{
		Code:     "RATE_LIMIT_EXCEEDED",
		Message:  "リクエストが多すぎます。しばらく待ってから再度お試しください。",
		Category: "system",
		Action:   "表示された秒数だけ待ってから再試行してください。",
	})
}
