// Package timeline は撮影とカレンダーイベントを1本の時系列に統合する。
package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hitoshi/shootman/internal/model"
	"github.com/hitoshi/shootman/internal/repository"
)

// defaultWindowMonths はデフォルトの表示窓の長さ（今日から3ヶ月先まで）。
const defaultWindowMonths = 3

// ListOptions は統合タイムライン取得のオプションを表す。
type ListOptions struct {
	// Filter は表示対象の種別。空の場合はallとして扱う。
	Filter model.TimelineFilter
	// ClientID が非nilの場合、撮影をそのクライアントに絞り込む。
	// カレンダーイベントには影響しない。
	ClientID *int64
	// Start / End は表示窓 [Start, End)。ゼロ値の場合はデフォルト窓を使用する。
	Start time.Time
	End   time.Time
}

// Timeline は統合タイムラインの結果を表す。
type Timeline struct {
	Events        []model.UnifiedEvent
	ShootCount    int
	CalendarCount int
	Start         time.Time
	End           time.Time
}

// Service は統合タイムラインサービス。
type Service struct {
	logger       *slog.Logger
	shootRepo    repository.ShootRepository
	eventRepo    repository.CalendarEventRepository
	clientRepo   repository.ClientRepository
	postIdeaRepo repository.PostIdeaRepository
	location     *time.Location
}

// NewService はServiceの新しいインスタンスを生成する。
// locationはデフォルト表示窓の「今日」の判定に使用する。
func NewService(
	logger *slog.Logger,
	shootRepo repository.ShootRepository,
	eventRepo repository.CalendarEventRepository,
	clientRepo repository.ClientRepository,
	postIdeaRepo repository.PostIdeaRepository,
	location *time.Location,
) *Service {
	return &Service{
		logger:       logger,
		shootRepo:    shootRepo,
		eventRepo:    eventRepo,
		clientRepo:   clientRepo,
		postIdeaRepo: postIdeaRepo,
		location:     location,
	}
}

// List はオーナーの統合タイムラインを取得する。
//
// フィルタに応じて撮影とカレンダーイベントを集め、開始時刻の昇順で返す。
// 開始時刻が同一の場合は撮影がカレンダーイベントより先に並ぶ。
// 外部カレンダーに同期済みの撮影は、撮影とそのキャッシュ済みイベントの
// 両方が窓に入るため、重複排除によりちょうど1回だけ現れる。
func (s *Service) List(ctx context.Context, ownerEmail string, opts ListOptions) (*Timeline, error) {
	filter := opts.Filter
	if filter == "" {
		filter = model.TimelineFilterAll
	}
	if !model.ValidTimelineFilter(filter) {
		return nil, model.NewInvalidInputError(fmt.Sprintf("未知のフィルタです: %s", filter))
	}

	start, end := s.resolveWindow(opts)
	if !end.After(start) {
		return nil, model.NewInvalidIntervalError()
	}

	timeline := &Timeline{
		Events: make([]model.UnifiedEvent, 0),
		Start:  start,
		End:    end,
	}

	// 同期済み撮影のexternal_event_id集合。allモードの重複排除に使用する。
	shootExternalIDs := make(map[string]struct{})

	if filter == model.TimelineFilterShoots || filter == model.TimelineFilterAll {
		shoots, err := s.shootRepo.ListByOwner(ctx, ownerEmail, opts.ClientID, start, end)
		if err != nil {
			return nil, fmt.Errorf("撮影一覧の取得に失敗しました: %w", err)
		}

		ideaCounts, err := s.postIdeaCounts(ctx, shoots)
		if err != nil {
			return nil, err
		}
		clientNames, err := s.clientNames(ctx, shoots)
		if err != nil {
			return nil, err
		}

		for _, shoot := range shoots {
			if shoot.ExternalEventID != "" {
				shootExternalIDs[shoot.ExternalEventID] = struct{}{}
			}
			timeline.Events = append(timeline.Events, model.UnifiedEvent{
				Kind:      model.UnifiedEventKindShoot,
				StartTime: shoot.ScheduledAt,
				EndTime:   shoot.EndAt(),
				Shoot: &model.ShootEventDetail{
					ShootID:         shoot.ID,
					Title:           shoot.Title,
					ClientName:      clientNames[shoot.ClientID],
					DurationMinutes: shoot.DurationMinutes,
					Status:          shoot.Status,
					PostIdeaCount:   ideaCounts[shoot.ID],
				},
			})
			timeline.ShootCount++
		}
	}

	if filter == model.TimelineFilterCalendar || filter == model.TimelineFilterAll {
		events, err := s.eventRepo.ListByOwner(ctx, ownerEmail, start, end)
		if err != nil {
			return nil, fmt.Errorf("カレンダーイベント一覧の取得に失敗しました: %w", err)
		}

		for _, event := range events {
			// 撮影にリンク済みのイベントは撮影側の表示を正とする
			if event.ShootID != nil {
				continue
			}
			// 逆参照が失われていても、一覧中の撮影が参照するイベントは重複させない
			if _, linked := shootExternalIDs[event.ExternalEventID]; linked {
				continue
			}
			timeline.Events = append(timeline.Events, model.UnifiedEvent{
				Kind:      model.UnifiedEventKindCalendar,
				StartTime: event.StartTime,
				EndTime:   event.EndTime,
				Calendar: &model.CalendarEventDetail{
					ExternalEventID:  event.ExternalEventID,
					Title:            event.Title,
					Attendees:        event.Attendees,
					IsRecurring:      event.IsRecurring,
					ConflictDetected: event.ConflictDetected,
					LinkedShootID:    event.ShootID,
				},
			})
			timeline.CalendarCount++
		}
	}

	// 安定ソートのため、同時刻では先に追加した撮影が先に並ぶ
	sort.SliceStable(timeline.Events, func(i, j int) bool {
		return timeline.Events[i].StartTime.Before(timeline.Events[j].StartTime)
	})

	return timeline, nil
}

// resolveWindow は表示窓を決定する。未指定の場合は設定タイムゾーンの
// 今日の0時から3ヶ月先までとする。
func (s *Service) resolveWindow(opts ListOptions) (time.Time, time.Time) {
	start := opts.Start
	if start.IsZero() {
		now := time.Now().In(s.location)
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)
	}
	end := opts.End
	if end.IsZero() {
		end = start.AddDate(0, defaultWindowMonths, 0)
	}
	return start, end
}

// postIdeaCounts は撮影IDごとの投稿アイデア件数を取得する。
func (s *Service) postIdeaCounts(ctx context.Context, shoots []*model.Shoot) (map[int64]int, error) {
	if len(shoots) == 0 {
		return map[int64]int{}, nil
	}
	ids := make([]int64, 0, len(shoots))
	for _, shoot := range shoots {
		ids = append(ids, shoot.ID)
	}
	counts, err := s.postIdeaRepo.CountByShootIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("投稿アイデア件数の取得に失敗しました: %w", err)
	}
	return counts, nil
}

// clientNames は撮影が参照するクライアントの名前を解決する。
// 参照先が見つからない場合は空文字列のまま表示を継続する。
func (s *Service) clientNames(ctx context.Context, shoots []*model.Shoot) (map[int64]string, error) {
	names := make(map[int64]string)
	for _, shoot := range shoots {
		if _, ok := names[shoot.ClientID]; ok {
			continue
		}
		client, err := s.clientRepo.FindByID(ctx, shoot.ClientID)
		if err != nil {
			return nil, fmt.Errorf("クライアントの取得に失敗しました: %w", err)
		}
		if client == nil {
			s.logger.Warn("撮影が参照するクライアントが見つかりません",
				slog.Int64("shoot_id", shoot.ID),
				slog.Int64("client_id", shoot.ClientID),
			)
			names[shoot.ClientID] = ""
			continue
		}
		names[shoot.ClientID] = client.Name
	}
	return names, nil
}
