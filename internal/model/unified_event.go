// Package model はドメインモデルを定義する。
package model

import "time"

// UnifiedEventKind は統合イベントの由来を表すタグ。
type UnifiedEventKind string

const (
	// UnifiedEventKindShoot は撮影由来の統合イベント。
	UnifiedEventKindShoot UnifiedEventKind = "shoot"
	// UnifiedEventKindCalendar はカレンダー由来の統合イベント。
	UnifiedEventKindCalendar UnifiedEventKind = "calendar"
)

// UnifiedEvent は撮影とカレンダーイベントを1本の時系列に混在させるための
// 読み取り専用モデル。毎回のリクエストで生成され、永続化されない。
// Kindに応じてShootまたはCalendarのどちらか一方のみが非nilになる。
type UnifiedEvent struct {
	Kind      UnifiedEventKind
	StartTime time.Time
	EndTime   time.Time

	Shoot    *ShootEventDetail
	Calendar *CalendarEventDetail
}

// ShootEventDetail は撮影由来イベントの詳細。
type ShootEventDetail struct {
	ShootID         int64
	Title           string
	ClientName      string
	DurationMinutes int
	Status          ShootStatus
	PostIdeaCount   int
}

// CalendarEventDetail はカレンダー由来イベントの詳細。
type CalendarEventDetail struct {
	ExternalEventID  string
	Title            string
	Attendees        []string
	IsRecurring      bool
	ConflictDetected bool
	LinkedShootID    *int64
}

// TimelineFilter は統合タイムラインのフィルタ種別を表す。
type TimelineFilter string

const (
	// TimelineFilterShoots は撮影のみを表示するフィルタ。
	TimelineFilterShoots TimelineFilter = "shoots"
	// TimelineFilterCalendar はカレンダーイベントのみを表示するフィルタ。
	TimelineFilterCalendar TimelineFilter = "calendar"
	// TimelineFilterAll は両方を表示するフィルタ。
	TimelineFilterAll TimelineFilter = "all"
)

// ValidTimelineFilter はfilterが定義済みの値かを返す。
func ValidTimelineFilter(filter TimelineFilter) bool {
	switch filter {
	case TimelineFilterShoots, TimelineFilterCalendar, TimelineFilterAll:
		return true
	}
	return false
}
