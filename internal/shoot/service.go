// Package shoot は撮影のスケジューリングとライフサイクル管理を提供する。
package shoot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/shootman/internal/metrics"
	"github.com/hitoshi/shootman/internal/model"
	"github.com/hitoshi/shootman/internal/repository"
)

// スケジューリング結果のユーザー向けメッセージ
const (
	msgCreatedSynced     = "撮影を登録し、カレンダーにイベントを作成しました。"
	msgCreatedNoCalendar = "撮影を登録しました。カレンダーへの連携はスキップされました。"
	msgCreatedSyncFailed = "撮影を登録しましたが、カレンダーへのイベント作成に失敗しました。同期は後で自動的に再試行されます。"
)

// CalendarSync は撮影スケジューリングが利用するカレンダー同期操作。
type CalendarSync interface {
	// CheckConflictsForProposedShoot は提案区間とキャッシュ済みイベントの衝突を検出する。
	CheckConflictsForProposedShoot(ctx context.Context, ownerEmail string, start, end time.Time) ([]model.ConflictDetail, error)

	// CreateExternalEvent は撮影に対応するイベントを外部カレンダーへ作成する。
	CreateExternalEvent(ctx context.Context, ownerEmail string, shoot *model.Shoot) (string, error)
}

// ScheduleInput は撮影スケジューリングの入力を表す。
type ScheduleInput struct {
	Title           string
	ClientName      string
	Date            string // YYYY-MM-DD
	Time            string // HH:MM
	DurationMinutes int
	Location        string
	Notes           string

	// ForceCreate は衝突があっても撮影を作成する。
	ForceCreate bool
	// SkipCalendar は外部カレンダーへのイベント作成を行わない。
	SkipCalendar bool
}

// ScheduleResult は撮影スケジューリングの結果を表す。
// HasConflictsがtrueの場合、Shootは永続化されていない下書きで、
// Conflictsに衝突相手の一覧が入る。
type ScheduleResult struct {
	Shoot        *model.Shoot
	HasConflicts bool
	Conflicts    []model.ConflictDetail
	Message      string
}

// Service は撮影スケジューリングサービス。
//
// スケジューリングは「衝突確認 → 行の書き込み」の2段階のため、同一オーナーの
// 並行リクエストが互いの確認をすり抜けないよう、オーナー単位のミューテックスで
// 直列化する。異なるオーナー間の並行性には影響しない。
type Service struct {
	logger       *slog.Logger
	shootRepo    repository.ShootRepository
	clientRepo   repository.ClientRepository
	calendarSync CalendarSync
	metrics      metrics.MetricsCollector
	location     *time.Location

	// オーナー単位のロック。エントリ数は実オーナー数で抑えられるため掃除しない。
	mu     sync.Mutex
	owners map[string]*sync.Mutex
}

// NewService はServiceの新しいインスタンスを生成する。
// locationは撮影日時（date + time）の解釈に使用するタイムゾーン。
func NewService(
	logger *slog.Logger,
	shootRepo repository.ShootRepository,
	clientRepo repository.ClientRepository,
	calendarSync CalendarSync,
	collector metrics.MetricsCollector,
	location *time.Location,
) *Service {
	return &Service{
		logger:       logger,
		shootRepo:    shootRepo,
		clientRepo:   clientRepo,
		calendarSync: calendarSync,
		metrics:      collector,
		location:     location,
		owners:       make(map[string]*sync.Mutex),
	}
}

// ownerLock はオーナー単位のミューテックスを取得する。
func (s *Service) ownerLock(ownerEmail string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.owners[ownerEmail]
	if !ok {
		lock = &sync.Mutex{}
		s.owners[ownerEmail] = lock
	}
	return lock
}

// Schedule は撮影をスケジュールする。
//
// バリデーション → 衝突確認（ForceCreateでスキップ） → 行の書き込み →
// ベストエフォートの外部イベント作成、の順で処理する。
// 衝突が検出された場合は一切書き込まず、衝突一覧と未永続の下書きを返す。
// 外部イベント作成の失敗は撮影の行に記録され（sync_status=error）、
// 撮影の作成自体は取り消されない。
func (s *Service) Schedule(ctx context.Context, ownerEmail string, input ScheduleInput) (*ScheduleResult, error) {
	scheduledAt, err := s.validate(input)
	if err != nil {
		return nil, err
	}

	client, err := s.clientRepo.FindByName(ctx, ownerEmail, input.ClientName)
	if err != nil {
		return nil, fmt.Errorf("クライアントの検索に失敗しました: %w", err)
	}
	if client == nil {
		return nil, model.NewClientNotFoundError(input.ClientName)
	}

	now := time.Now()
	draft := &model.Shoot{
		OwnerEmail:      ownerEmail,
		Title:           input.Title,
		ClientID:        client.ID,
		ScheduledAt:     scheduledAt,
		DurationMinutes: input.DurationMinutes,
		Location:        input.Location,
		Status:          model.ShootStatusScheduled,
		Notes:           input.Notes,
		SyncStatus:      model.SyncStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	// 同一オーナーの衝突確認と書き込みを直列化する
	lock := s.ownerLock(ownerEmail)
	lock.Lock()
	defer lock.Unlock()

	if !input.ForceCreate {
		conflicts, err := s.calendarSync.CheckConflictsForProposedShoot(ctx, ownerEmail, scheduledAt, draft.EndAt())
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			s.metrics.RecordConflictsDetected(len(conflicts))
			s.logger.Info("衝突が検出されたため撮影を作成しませんでした",
				slog.String("owner", ownerEmail),
				slog.String("title", input.Title),
				slog.Int("conflicts", len(conflicts)),
			)
			return &ScheduleResult{
				Shoot:        draft,
				HasConflicts: true,
				Conflicts:    conflicts,
			}, nil
		}
	}

	if err := s.shootRepo.Create(ctx, draft); err != nil {
		return nil, fmt.Errorf("撮影の作成に失敗しました: %w", err)
	}

	result := &ScheduleResult{Shoot: draft}

	if input.SkipCalendar {
		result.Message = msgCreatedNoCalendar
		s.metrics.RecordShootCreated(false)
		return result, nil
	}

	externalID, err := s.calendarSync.CreateExternalEvent(ctx, ownerEmail, draft)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeIntegrationMissing {
			// 連携未接続はエラー扱いせず、pendingのまま残す
			result.Message = msgCreatedNoCalendar
			s.metrics.RecordShootCreated(false)
			return result, nil
		}

		// 外部イベント作成の失敗は行に記録し、撮影の作成は成功として返す
		if uerr := s.shootRepo.UpdateSyncState(ctx, draft.ID, "", model.SyncStatusError, nil, err.Error()); uerr != nil {
			s.logger.Error("同期エラー状態の記録に失敗しました",
				slog.Int64("shoot_id", draft.ID),
				slog.String("error", uerr.Error()),
			)
		}
		draft.SyncStatus = model.SyncStatusError
		draft.SyncError = err.Error()

		s.logger.Warn("カレンダーへのイベント作成に失敗しました",
			slog.String("owner", ownerEmail),
			slog.Int64("shoot_id", draft.ID),
			slog.String("error", err.Error()),
		)
		result.Message = msgCreatedSyncFailed
		s.metrics.RecordShootCreated(false)
		return result, nil
	}

	now = time.Now()
	if err := s.shootRepo.UpdateSyncState(ctx, draft.ID, externalID, model.SyncStatusSynced, &now, ""); err != nil {
		return nil, fmt.Errorf("同期状態の更新に失敗しました: %w", err)
	}
	draft.ExternalEventID = externalID
	draft.SyncStatus = model.SyncStatusSynced
	draft.LastSyncAt = &now

	s.logger.Info("撮影を作成しカレンダーに同期しました",
		slog.String("owner", ownerEmail),
		slog.Int64("shoot_id", draft.ID),
		slog.String("external_event_id", externalID),
	)
	result.Message = msgCreatedSynced
	s.metrics.RecordShootCreated(true)
	return result, nil
}

// validate は入力を検証し、設定タイムゾーンで解釈した開始時刻を返す。
func (s *Service) validate(input ScheduleInput) (time.Time, error) {
	if input.Title == "" {
		return time.Time{}, model.NewInvalidInputError("タイトルは必須です")
	}
	if input.ClientName == "" {
		return time.Time{}, model.NewInvalidInputError("クライアント名は必須です")
	}
	if input.DurationMinutes <= 0 {
		return time.Time{}, model.NewInvalidInputError("所要時間は1分以上である必要があります")
	}
	if input.Location == "" {
		return time.Time{}, model.NewInvalidInputError("場所は必須です")
	}

	scheduledAt, err := time.ParseInLocation("2006-01-02 15:04", input.Date+" "+input.Time, s.location)
	if err != nil {
		return time.Time{}, model.NewInvalidInputError("日付はYYYY-MM-DD、時刻はHH:MM形式で指定してください")
	}

	return scheduledAt, nil
}

// GetShoot は指定オーナーの撮影を取得する。
func (s *Service) GetShoot(ctx context.Context, ownerEmail string, id int64) (*model.Shoot, error) {
	shoot, err := s.shootRepo.FindByID(ctx, ownerEmail, id)
	if err != nil {
		return nil, fmt.Errorf("撮影の取得に失敗しました: %w", err)
	}
	if shoot == nil {
		return nil, model.NewShootNotFoundError(id)
	}
	return shoot, nil
}

// UpdateStatus は撮影のステータスを遷移させる。
// 許可される遷移はscheduled→active→completed、およびscheduled/active→cancelled。
func (s *Service) UpdateStatus(ctx context.Context, ownerEmail string, id int64, next model.ShootStatus) (*model.Shoot, error) {
	if !model.ValidShootStatus(next) {
		return nil, model.NewInvalidInputError(fmt.Sprintf("未知のステータスです: %s", next))
	}

	shoot, err := s.GetShoot(ctx, ownerEmail, id)
	if err != nil {
		return nil, err
	}

	if !shoot.Status.CanTransitionTo(next) {
		return nil, model.NewInvalidTransitionError(shoot.Status, next)
	}

	if err := s.shootRepo.UpdateStatus(ctx, id, next); err != nil {
		return nil, fmt.Errorf("ステータスの更新に失敗しました: %w", err)
	}
	shoot.Status = next

	s.logger.Info("撮影のステータスを更新しました",
		slog.String("owner", ownerEmail),
		slog.Int64("shoot_id", id),
		slog.String("status", string(next)),
	)
	return shoot, nil
}
