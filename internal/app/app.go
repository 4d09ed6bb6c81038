// Package app はアプリケーションの起動とワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/shootman/internal/calendar"
	"github.com/hitoshi/shootman/internal/config"
	"github.com/hitoshi/shootman/internal/database"
	"github.com/hitoshi/shootman/internal/handler"
	"github.com/hitoshi/shootman/internal/logger"
	"github.com/hitoshi/shootman/internal/metrics"
	"github.com/hitoshi/shootman/internal/middleware"
	"github.com/hitoshi/shootman/internal/repository"
	"github.com/hitoshi/shootman/internal/security"
	"github.com/hitoshi/shootman/internal/shoot"
	syncsvc "github.com/hitoshi/shootman/internal/sync"
	"github.com/hitoshi/shootman/internal/timeline"
	"github.com/hitoshi/shootman/internal/worker/syncer"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		// 設定読み込み前でもログは使えるようにデフォルトレベルで初期化する
		logger.SetupDefault(w, "info")
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, cfg.LogLevel)
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("timezone", cfg.Timezone),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	location, err := cfg.Location()
	if err != nil {
		return err
	}

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	shootRepo := repository.NewPostgresShootRepo(db)
	eventRepo := repository.NewPostgresCalendarEventRepo(db)
	clientRepo := repository.NewPostgresClientRepo(db)
	integrationRepo := repository.NewPostgresIntegrationRepo(db)
	postIdeaRepo := repository.NewPostgresPostIdeaRepo(db)

	// 3. セキュリティサービスとメトリクスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewDescriptionSanitizer()
	collector := metrics.NewCollector()

	// 4. ドメインサービスの初期化
	providerFactory := calendar.NewFactory(
		slog.Default(), ssrfGuard,
		cfg.ProviderBaseURL, cfg.ProviderTimeout, cfg.ICSMaxBodySize,
	)
	syncService := syncsvc.NewService(
		slog.Default(), shootRepo, eventRepo, integrationRepo,
		providerFactory, sanitizer, collector,
	)
	shootService := shoot.NewService(
		slog.Default(), shootRepo, clientRepo, syncService, collector, location,
	)
	timelineService := timeline.NewService(
		slog.Default(), shootRepo, eventRepo, clientRepo, postIdeaRepo, location,
	)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitSchedule),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		OwnerHeader:       cfg.OwnerHeader,
		RateLimiter:       rateLimiter,

		Scheduler:       shootService,
		TimelineService: timelineService,

		SyncService:  syncService,
		EventLister:  eventRepo,
		Integrations: integrationRepo,
		URLValidator: ssrfGuard,

		Location:       location,
		SyncWindowDays: cfg.SyncWindowDays,

		DB:             db,
		MetricsHandler: collector.Handler(),
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker は同期ワーカーモードで起動する。
// DB接続を開き、カレンダー同期スケジューラを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	location, err := cfg.Location()
	if err != nil {
		return err
	}

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	shootRepo := repository.NewPostgresShootRepo(db)
	eventRepo := repository.NewPostgresCalendarEventRepo(db)
	integrationRepo := repository.NewPostgresIntegrationRepo(db)

	// 3. セキュリティサービスとメトリクスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewDescriptionSanitizer()
	collector := metrics.NewCollector()

	// 4. 同期サービスの初期化
	providerFactory := calendar.NewFactory(
		slog.Default(), ssrfGuard,
		cfg.ProviderBaseURL, cfg.ProviderTimeout, cfg.ICSMaxBodySize,
	)
	syncService := syncsvc.NewService(
		slog.Default(), shootRepo, eventRepo, integrationRepo,
		providerFactory, sanitizer, collector,
	)

	// 5. スケジューラの起動
	scheduler := syncer.NewScheduler(
		integrationRepo, syncService, slog.Default(),
		location, cfg.SyncWindowDays, cfg.SyncMaxConcurrent,
	)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("sync_interval", cfg.SyncInterval),
		slog.Int("max_concurrent", cfg.SyncMaxConcurrent),
	)

	// 同期スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.SyncInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
