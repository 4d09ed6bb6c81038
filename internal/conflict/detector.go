// Package conflict は提案された撮影区間とキャッシュ済みカレンダーイベントの
// 衝突検出を提供する。純粋関数のみで構成され、副作用を持たない。
package conflict

import (
	"sort"
	"time"

	"github.com/hitoshi/shootman/internal/model"
)

// Interval は半開区間 [Start, End) を表す。
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval は検証済みの半開区間を生成する。
// EndがStart以前の場合（長さゼロを含む）はINVALID_INTERVALエラーを返す。
func NewInterval(start, end time.Time) (Interval, error) {
	if !end.After(start) {
		return Interval{}, model.NewInvalidIntervalError()
	}
	return Interval{Start: start, End: end}, nil
}

// Overlaps は2つの半開区間 [s1, e1) と [s2, e2) が重なるかを返す。
// 片方の終了時刻ともう片方の開始時刻が一致する場合は重ならない
// （14:00終了と14:00開始は衝突しない）。
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}

// FindConflicts は提案区間と重なるイベントを検出し、表示用スナップショットを
// 開始時刻の昇順で返す。衝突がない場合は空のスライスを返す。
//
// キャンセル済みイベントは対象外。繰り返しイベントは展開済みの単一インスタンス
// としてキャッシュされている前提で、個別に判定する。
func FindConflicts(proposed Interval, events []*model.CalendarEvent) []model.ConflictDetail {
	conflicts := make([]model.ConflictDetail, 0)

	for _, event := range events {
		if event.Status == model.EventStatusCancelled {
			continue
		}
		if Overlaps(proposed.Start, proposed.End, event.StartTime, event.EndTime) {
			conflicts = append(conflicts, model.ConflictDetail{
				Title:     event.Title,
				StartTime: event.StartTime,
				EndTime:   event.EndTime,
			})
		}
	}

	sortDetails(conflicts)
	return conflicts
}

// FindMutualConflicts はイベント集合内で互いに重なるイベントを検出し、
// イベント行IDごとの衝突詳細を返す。重なりのないイベントはマップに含まれない。
// 同期後のキャッシュへの衝突フラグ付与に使用する。
func FindMutualConflicts(events []*model.CalendarEvent) map[string][]model.ConflictDetail {
	result := make(map[string][]model.ConflictDetail)

	for i, event := range events {
		if event.Status == model.EventStatusCancelled {
			continue
		}
		for j, other := range events {
			if i == j || other.Status == model.EventStatusCancelled {
				continue
			}
			if Overlaps(event.StartTime, event.EndTime, other.StartTime, other.EndTime) {
				result[event.ID] = append(result[event.ID], model.ConflictDetail{
					Title:     other.Title,
					StartTime: other.StartTime,
					EndTime:   other.EndTime,
				})
			}
		}
		sortDetails(result[event.ID])
	}

	return result
}

// sortDetails は衝突詳細を開始時刻の昇順に整列する。
// 開始時刻が同一の場合は元の順序を保つ。
func sortDetails(details []model.ConflictDetail) {
	sort.SliceStable(details, func(i, j int) bool {
		return details[i].StartTime.Before(details[j].StartTime)
	})
}
