// Package syncer はカレンダー同期のバックグラウンド処理を提供する。
// ティッカー駆動で全オーナーの連携を巡回し、イベントキャッシュの更新と
// 同期状態の修復を行う。
package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/shootman/internal/model"
	"github.com/hitoshi/shootman/internal/repository"
	syncsvc "github.com/hitoshi/shootman/internal/sync"
)

// SyncService は1オーナー分の同期処理の実行インターフェース。
type SyncService interface {
	// PullEvents は外部カレンダーからイベントを取得しキャッシュへ反映する。
	PullEvents(ctx context.Context, ownerEmail string, start, end time.Time) (*syncsvc.PullResult, error)
	// Reconcile は撮影とイベントキャッシュの同期状態を修復する。
	Reconcile(ctx context.Context, ownerEmail string) (*syncsvc.ReconcileResult, error)
}

// Scheduler はカレンダー同期のスケジューリングと並列制御を行う。
// 一定間隔のティッカーで連携済みオーナーを取得し、
// semaphoreパターンで最大並列数を制御しながら同期を実行する。
type Scheduler struct {
	integrationRepo repository.IntegrationRepository
	syncService     SyncService
	logger          *slog.Logger
	location        *time.Location
	windowDays      int
	maxConcurrency  int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値5を使用する。
// windowDaysが0以下の場合はデフォルト値90を使用する。
func NewScheduler(
	integrationRepo repository.IntegrationRepository,
	syncService SyncService,
	logger *slog.Logger,
	location *time.Location,
	windowDays int,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}
	if windowDays <= 0 {
		windowDays = 90
	}
	return &Scheduler{
		integrationRepo: integrationRepo,
		syncService:     syncService,
		logger:          logger,
		location:        location,
		windowDays:      windowDays,
		maxConcurrency:  maxConcurrency,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("同期スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
		slog.Int("window_days", s.windowDays),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("同期サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("同期スケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("同期サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は連携済みオーナーを1回取得し、並列で同期を実行する。
// semaphoreパターンで最大並列数を制御する。
// 個々のオーナーの失敗はログに記録して続行し、サイクル全体は失敗させない。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	integrations, err := s.integrationRepo.ListAll(ctx)
	if err != nil {
		return err
	}

	if len(integrations) == 0 {
		s.logger.Info("同期対象の連携はありません")
		return nil
	}

	s.logger.Info("同期サイクルを開始します",
		slog.Int("integration_count", len(integrations)),
	)

	windowStart, windowEnd := s.syncWindow()

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, integration := range integrations {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(in *model.CalendarIntegration) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			s.syncOwner(ctx, in.OwnerEmail, windowStart, windowEnd)
		}(integration)
	}

	wg.Wait()

	duration := time.Since(start)
	s.logger.Info("同期サイクルが完了しました",
		slog.Int("integration_count", len(integrations)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// syncOwner は1オーナー分のプル同期と状態修復を実行する。
// プルに失敗しても修復は試行する。エラー状態の撮影の再同期は
// Reconcileが担うため、プル失敗がオーナー全体の処理を止めることはない。
func (s *Scheduler) syncOwner(ctx context.Context, ownerEmail string, start, end time.Time) {
	if _, err := s.syncService.PullEvents(ctx, ownerEmail, start, end); err != nil {
		s.logger.Error("カレンダーのプル同期に失敗しました",
			slog.String("owner", ownerEmail),
			slog.String("error", err.Error()),
		)
	}

	result, err := s.syncService.Reconcile(ctx, ownerEmail)
	if err != nil {
		s.logger.Error("同期状態の修復に失敗しました",
			slog.String("owner", ownerEmail),
			slog.String("error", err.Error()),
		)
		return
	}

	if result.RepairedShoots > 0 || result.RepairedLinks > 0 {
		s.logger.Info("同期状態を修復しました",
			slog.String("owner", ownerEmail),
			slog.Int("repaired_shoots", result.RepairedShoots),
			slog.Int("repaired_links", result.RepairedLinks),
		)
	}
}

// syncWindow は設定タイムゾーンの今日0時からwindowDays日間の時間窓を返す。
func (s *Scheduler) syncWindow() (time.Time, time.Time) {
	now := time.Now().In(s.location)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)
	return start, start.AddDate(0, 0, s.windowDays)
}
