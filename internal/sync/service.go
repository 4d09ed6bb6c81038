// Package sync は外部カレンダーとローカルキャッシュの同期を提供する。
// イベントキャッシュへの書き込みはこのパッケージのみが行う。
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/shootman/internal/calendar"
	"github.com/hitoshi/shootman/internal/conflict"
	"github.com/hitoshi/shootman/internal/metrics"
	"github.com/hitoshi/shootman/internal/model"
	"github.com/hitoshi/shootman/internal/repository"
	"github.com/hitoshi/shootman/internal/security"
)

// ProviderFactory は連携情報からプロバイダ実装を解決する。
type ProviderFactory interface {
	ProviderFor(integration *model.CalendarIntegration) (calendar.Provider, error)
}

// PullResult は1回の同期取得の結果を表す。
type PullResult struct {
	Fetched   int // プロバイダから取得したイベント数
	Inserted  int // 新規挿入されたイベント数
	Updated   int // 更新されたイベント数
	Pruned    int // プロバイダが報告しなくなり削除されたイベント数
	Conflicts int // 衝突フラグが付与されたイベント数
}

// ReconcileResult は同期修復処理の結果を表す。
type ReconcileResult struct {
	RepairedShoots int // 同期状態を修復した撮影数
	RepairedLinks  int // 逆参照を修復したイベント数
}

// Service はカレンダー同期サービス。
type Service struct {
	logger          *slog.Logger
	shootRepo       repository.ShootRepository
	eventRepo       repository.CalendarEventRepository
	integrationRepo repository.IntegrationRepository
	providers       ProviderFactory
	sanitizer       security.DescriptionSanitizerService
	metrics         metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	logger *slog.Logger,
	shootRepo repository.ShootRepository,
	eventRepo repository.CalendarEventRepository,
	integrationRepo repository.IntegrationRepository,
	providers ProviderFactory,
	sanitizer security.DescriptionSanitizerService,
	collector metrics.MetricsCollector,
) *Service {
	return &Service{
		logger:          logger,
		shootRepo:       shootRepo,
		eventRepo:       eventRepo,
		integrationRepo: integrationRepo,
		providers:       providers,
		sanitizer:       sanitizer,
		metrics:         collector,
	}
}

// PullEvents はオーナーの外部カレンダーから時間窓 [start, end) のイベントを
// 取得し、ローカルキャッシュへ反映する。
//
// プロバイダからの取得に失敗した場合、キャッシュには一切書き込まず
// 型付きエラーを返す。呼び出し元はキャッシュの既存内容を引き続き利用できる。
// 取得成功後は、窓内でプロバイダが報告しなくなったイベントを削除し、
// 互いに重なるイベントへ衝突フラグを付与する。
func (s *Service) PullEvents(ctx context.Context, ownerEmail string, start, end time.Time) (*PullResult, error) {
	integration, err := s.integrationRepo.FindByOwner(ctx, ownerEmail)
	if err != nil {
		return nil, fmt.Errorf("カレンダー連携情報の取得に失敗しました: %w", err)
	}
	if integration == nil {
		return nil, model.NewIntegrationNotFoundError()
	}

	provider, err := s.providers.ProviderFor(integration)
	if err != nil {
		return nil, fmt.Errorf("プロバイダの解決に失敗しました: %w", err)
	}

	pullStart := time.Now()
	events, err := provider.Pull(ctx, integration.CalendarID, start, end)
	s.metrics.RecordProviderLatency("pull", time.Since(pullStart))
	if err != nil {
		kind := calendar.KindOf(err)
		s.metrics.RecordPullFailure(ownerEmail, string(kind))
		s.logger.Warn("カレンダーの同期取得に失敗しました。キャッシュは変更されません",
			slog.String("owner", ownerEmail),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	result := &PullResult{Fetched: len(events)}
	now := time.Now()
	keepIDs := make([]string, 0, len(events))

	for _, remote := range events {
		entry := &model.CalendarEvent{
			ID:              uuid.New().String(),
			OwnerEmail:      ownerEmail,
			CalendarID:      integration.CalendarID,
			ExternalEventID: remote.ExternalID,
			Title:           remote.Title,
			Description:     s.sanitizer.Sanitize(remote.Description),
			StartTime:       remote.StartTime,
			EndTime:         remote.EndTime,
			Location:        remote.Location,
			Attendees:       remote.Attendees,
			IsRecurring:     remote.IsRecurring,
			Status:          remote.Status,
			SyncStatus:      model.SyncStatusSynced,
			LastModified:    now,
		}

		inserted, err := s.eventRepo.Upsert(ctx, entry)
		if err != nil {
			return nil, fmt.Errorf("イベントのUPSERTに失敗しました (external_event_id=%s): %w", remote.ExternalID, err)
		}
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
		keepIDs = append(keepIDs, remote.ExternalID)
	}

	pruned, err := s.eventRepo.DeleteMissing(ctx, ownerEmail, integration.CalendarID, start, end, keepIDs)
	if err != nil {
		return nil, fmt.Errorf("消失イベントの削除に失敗しました: %w", err)
	}
	result.Pruned = int(pruned)

	conflicts, err := s.refreshConflictFlags(ctx, ownerEmail)
	if err != nil {
		return nil, err
	}
	result.Conflicts = conflicts

	s.metrics.RecordPullSuccess(ownerEmail)
	s.metrics.RecordEventsUpserted(result.Inserted + result.Updated)
	s.metrics.RecordEventsPruned(result.Pruned)
	s.metrics.RecordConflictsDetected(result.Conflicts)

	s.logger.Info("カレンダー同期が完了しました",
		slog.String("owner", ownerEmail),
		slog.Int("fetched", result.Fetched),
		slog.Int("inserted", result.Inserted),
		slog.Int("updated", result.Updated),
		slog.Int("pruned", result.Pruned),
		slog.Int("conflicts", result.Conflicts),
	)

	return result, nil
}

// refreshConflictFlags はキャッシュ内で互いに重なるイベントへ衝突フラグを
// 付与し、重なりが解消したイベントのフラグを落とす。
// この結果はUI表示用で、スケジューリング時の衝突判定には使用されない。
func (s *Service) refreshConflictFlags(ctx context.Context, ownerEmail string) (int, error) {
	active, err := s.eventRepo.ListActiveByOwner(ctx, ownerEmail)
	if err != nil {
		return 0, fmt.Errorf("衝突判定用のイベント取得に失敗しました: %w", err)
	}

	mutual := conflict.FindMutualConflicts(active)
	for _, event := range active {
		details, conflicted := mutual[event.ID]
		if conflicted {
			if err := s.eventRepo.UpdateConflict(ctx, event.ID, true, details); err != nil {
				return 0, fmt.Errorf("衝突フラグの更新に失敗しました: %w", err)
			}
		} else if event.ConflictDetected {
			if err := s.eventRepo.UpdateConflict(ctx, event.ID, false, nil); err != nil {
				return 0, fmt.Errorf("衝突フラグの解除に失敗しました: %w", err)
			}
		}
	}

	return len(mutual), nil
}

// CheckConflictsForProposedShoot は提案された撮影区間とキャッシュ済み
// イベントの衝突を検出する。キャンセル済みイベントは対象外。
// 不正な区間（終了が開始以前）にはINVALID_INTERVALエラーを返す。
func (s *Service) CheckConflictsForProposedShoot(ctx context.Context, ownerEmail string, start, end time.Time) ([]model.ConflictDetail, error) {
	interval, err := conflict.NewInterval(start, end)
	if err != nil {
		return nil, err
	}

	active, err := s.eventRepo.ListActiveByOwner(ctx, ownerEmail)
	if err != nil {
		return nil, fmt.Errorf("衝突判定用のイベント取得に失敗しました: %w", err)
	}

	return conflict.FindConflicts(interval, active), nil
}

// CreateExternalEvent は撮影に対応するイベントを外部カレンダーへ作成し、
// 外部イベントIDを返す。失敗時はcalendar.ProviderErrorを返す。
//
// 作成成功後は次回の同期を待たずにキャッシュへも反映するが、
// キャッシュ反映の失敗は作成の成功を取り消さない（次回の同期で回復する）。
func (s *Service) CreateExternalEvent(ctx context.Context, ownerEmail string, shoot *model.Shoot) (string, error) {
	integration, err := s.integrationRepo.FindByOwner(ctx, ownerEmail)
	if err != nil {
		return "", fmt.Errorf("カレンダー連携情報の取得に失敗しました: %w", err)
	}
	if integration == nil {
		return "", model.NewIntegrationNotFoundError()
	}

	provider, err := s.providers.ProviderFor(integration)
	if err != nil {
		return "", fmt.Errorf("プロバイダの解決に失敗しました: %w", err)
	}

	draft := calendar.EventDraft{
		Title:       shoot.Title,
		Description: shoot.Notes,
		StartTime:   shoot.ScheduledAt,
		EndTime:     shoot.EndAt(),
		Location:    shoot.Location,
	}

	createStart := time.Now()
	externalID, err := provider.Create(ctx, integration.CalendarID, draft)
	s.metrics.RecordProviderLatency("create", time.Since(createStart))
	if err != nil {
		return "", err
	}

	now := time.Now()
	shootID := shoot.ID
	entry := &model.CalendarEvent{
		ID:              uuid.New().String(),
		OwnerEmail:      ownerEmail,
		CalendarID:      integration.CalendarID,
		ExternalEventID: externalID,
		Title:           shoot.Title,
		Description:     s.sanitizer.Sanitize(shoot.Notes),
		StartTime:       shoot.ScheduledAt,
		EndTime:         shoot.EndAt(),
		Location:        shoot.Location,
		Status:          "confirmed",
		ShootID:         &shootID,
		SyncStatus:      model.SyncStatusSynced,
		LastModified:    now,
	}
	if _, err := s.eventRepo.Upsert(ctx, entry); err != nil {
		s.logger.Warn("作成したイベントのキャッシュ反映に失敗しました。次回の同期で回復します",
			slog.String("owner", ownerEmail),
			slog.String("external_event_id", externalID),
			slog.String("error", err.Error()),
		)
		return externalID, nil
	}

	// UPSERTが既存行の更新だった場合はshoot_idが保持されるため、
	// 逆参照を明示的に張り直す
	if err := s.LinkEventToShoot(ctx, ownerEmail, integration.CalendarID, externalID, shoot.ID); err != nil {
		s.logger.Warn("作成したイベントの逆参照設定に失敗しました",
			slog.String("owner", ownerEmail),
			slog.String("external_event_id", externalID),
			slog.String("error", err.Error()),
		)
	}

	return externalID, nil
}

// LinkEventToShoot はキャッシュ済みイベントへ撮影の逆参照を設定する。
// 同一撮影への再リンクは何もしない（冪等）。別の撮影がすでにリンクされて
// いる場合は後勝ちで上書きし、データ整合性の警告として記録する。
// イベントがキャッシュに存在しない場合もエラーにはしない（弱い参照のため）。
func (s *Service) LinkEventToShoot(ctx context.Context, ownerEmail, calendarID, externalEventID string, shootID int64) error {
	existing, err := s.eventRepo.FindByKey(ctx, ownerEmail, calendarID, externalEventID)
	if err != nil {
		return fmt.Errorf("イベントの取得に失敗しました: %w", err)
	}
	if existing == nil {
		s.logger.Warn("リンク対象のイベントがキャッシュに存在しません",
			slog.String("owner", ownerEmail),
			slog.String("external_event_id", externalEventID),
			slog.Int64("shoot_id", shootID),
		)
		return nil
	}

	if existing.ShootID != nil {
		if *existing.ShootID == shootID {
			return nil
		}
		s.logger.Warn("イベントは別の撮影にリンク済みのため上書きします",
			slog.String("owner", ownerEmail),
			slog.String("external_event_id", externalEventID),
			slog.Int64("previous_shoot_id", *existing.ShootID),
			slog.Int64("shoot_id", shootID),
		)
	}

	if err := s.eventRepo.SetShootID(ctx, ownerEmail, calendarID, externalEventID, shootID); err != nil {
		return fmt.Errorf("逆参照の設定に失敗しました: %w", err)
	}
	return nil
}

// Reconcile は撮影とイベントキャッシュの間の参照の食い違いを修復する。
//
//   - 外部イベント作成後の状態更新が中断した等の理由でpending/errorのまま
//     残った撮影について、対応するイベントがキャッシュに存在すれば
//     synced状態へ修復する。
//   - synced状態の撮影が参照するイベントの逆参照が失われている、または
//     別の撮影を指している場合、逆参照を張り直す。
//
// 連携が未接続の場合は何もせず空の結果を返す。
func (s *Service) Reconcile(ctx context.Context, ownerEmail string) (*ReconcileResult, error) {
	result := &ReconcileResult{}

	integration, err := s.integrationRepo.FindByOwner(ctx, ownerEmail)
	if err != nil {
		return nil, fmt.Errorf("カレンダー連携情報の取得に失敗しました: %w", err)
	}
	if integration == nil {
		return result, nil
	}

	linked, err := s.eventRepo.ListLinked(ctx, ownerEmail)
	if err != nil {
		return nil, fmt.Errorf("リンク済みイベントの取得に失敗しました: %w", err)
	}
	byShootID := make(map[int64]*model.CalendarEvent, len(linked))
	for _, event := range linked {
		byShootID[*event.ShootID] = event
	}

	// pending/errorのまま残った撮影の同期状態を修復する
	for _, status := range []model.SyncStatus{model.SyncStatusPending, model.SyncStatusError} {
		shoots, err := s.shootRepo.ListBySyncStatus(ctx, ownerEmail, status)
		if err != nil {
			return nil, fmt.Errorf("同期状態 %s の撮影取得に失敗しました: %w", status, err)
		}
		for _, shoot := range shoots {
			event, ok := byShootID[shoot.ID]
			if !ok {
				continue
			}
			now := time.Now()
			if err := s.shootRepo.UpdateSyncState(ctx, shoot.ID, event.ExternalEventID, model.SyncStatusSynced, &now, ""); err != nil {
				return nil, fmt.Errorf("撮影の同期状態修復に失敗しました (shoot_id=%d): %w", shoot.ID, err)
			}
			s.logger.Info("撮影の同期状態を修復しました",
				slog.String("owner", ownerEmail),
				slog.Int64("shoot_id", shoot.ID),
				slog.String("previous_status", string(status)),
			)
			result.RepairedShoots++
		}
	}

	// synced撮影の逆参照の食い違いを修復する
	syncedShoots, err := s.shootRepo.ListBySyncStatus(ctx, ownerEmail, model.SyncStatusSynced)
	if err != nil {
		return nil, fmt.Errorf("synced状態の撮影取得に失敗しました: %w", err)
	}
	for _, shoot := range syncedShoots {
		if shoot.ExternalEventID == "" {
			continue
		}
		event, err := s.eventRepo.FindByKey(ctx, ownerEmail, integration.CalendarID, shoot.ExternalEventID)
		if err != nil {
			return nil, fmt.Errorf("イベントの取得に失敗しました: %w", err)
		}
		if event == nil {
			continue
		}
		if event.ShootID != nil && *event.ShootID == shoot.ID {
			continue
		}
		if err := s.LinkEventToShoot(ctx, ownerEmail, integration.CalendarID, shoot.ExternalEventID, shoot.ID); err != nil {
			return nil, err
		}
		result.RepairedLinks++
	}

	if result.RepairedShoots > 0 || result.RepairedLinks > 0 {
		s.logger.Info("同期修復が完了しました",
			slog.String("owner", ownerEmail),
			slog.Int("repaired_shoots", result.RepairedShoots),
			slog.Int("repaired_links", result.RepairedLinks),
		)
	}

	return result, nil
}
