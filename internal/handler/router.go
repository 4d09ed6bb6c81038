package handler

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/shootman/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	CORSAllowedOrigin string
	OwnerHeader       string
	RateLimiter       *middleware.RateLimiter

	// 撮影
	Scheduler       ShootSchedulerInterface
	TimelineService TimelineServiceInterface

	// カレンダー
	SyncService  CalendarSyncInterface
	EventLister  CalendarEventLister
	Integrations IntegrationStore
	URLValidator FeedURLValidator

	// API全体の設定
	Location       *time.Location
	SyncWindowDays int

	// ヘルスチェック
	DB *sql.DB

	// メトリクス
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORS → SecurityHeaders → Logging → Recovery → Owner → RateLimit(General)
//
// /healthz と /metrics はオーナー識別とレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin, deps.OwnerHeader))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware())

	shootHandler := NewShootHandler(deps.Scheduler, deps.TimelineService, deps.Location)
	calendarHandler := NewCalendarHandler(
		deps.SyncService,
		deps.EventLister,
		deps.Integrations,
		deps.URLValidator,
		deps.Location,
		deps.SyncWindowDays,
	)

	// --- オーナー識別不要のルート ---

	r.Get("/healthz", NewHealthzHandler(deps.DB))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- オーナー識別が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewOwnerMiddleware(deps.OwnerHeader))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 撮影管理
		r.Route("/api/shoots", func(r chi.Router) {
			r.Get("/", shootHandler.ListShoots)

			// POST /api/shoots - スケジューリング専用レート制限を追加
			r.With(deps.RateLimiter.ScheduleMiddleware()).Post("/", shootHandler.CreateShoot)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", shootHandler.GetShoot)
				r.Put("/status", shootHandler.UpdateShootStatus)
			})
		})

		// カレンダー連携と同期
		r.Route("/api/calendar", func(r chi.Router) {
			r.Post("/sync", calendarHandler.SyncCalendar)
			r.Get("/events", calendarHandler.ListEvents)
			r.Put("/integration", calendarHandler.PutIntegration)
			r.Get("/integration", calendarHandler.GetIntegration)
		})
	})

	return r
}

// NewHealthzHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
func NewHealthzHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}
