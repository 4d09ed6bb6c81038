// Package model はドメインモデルを定義する。
package model

import "time"

// Shoot は撮影予定を表す。
// カレンダー同期属性（ExternalEventID / SyncStatus / LastSyncAt / SyncError）は
// sync層のみが更新する。
type Shoot struct {
	ID              int64
	OwnerEmail      string
	Title           string
	ClientID        int64
	ScheduledAt     time.Time
	DurationMinutes int
	Location        string
	Status          ShootStatus
	Notes           string

	// カレンダー同期属性
	ExternalEventID string
	SyncStatus      SyncStatus
	LastSyncAt      *time.Time
	SyncError       string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EndAt は撮影の終了時刻（開始 + duration）を返す。
func (s *Shoot) EndAt() time.Time {
	return s.ScheduledAt.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// ShootStatus は撮影のライフサイクル状態を表す。
type ShootStatus string

const (
	// ShootStatusScheduled は予定済みの状態。
	ShootStatusScheduled ShootStatus = "scheduled"
	// ShootStatusActive は撮影中の状態。
	ShootStatusActive ShootStatus = "active"
	// ShootStatusCompleted は完了した状態。
	ShootStatusCompleted ShootStatus = "completed"
	// ShootStatusCancelled はキャンセルされた状態。
	ShootStatusCancelled ShootStatus = "cancelled"
)

// CanTransitionTo は現在の状態からnextへの遷移が許可されているかを返す。
// 許可される遷移: scheduled→active→completed、および任意の状態→cancelled。
func (s ShootStatus) CanTransitionTo(next ShootStatus) bool {
	if next == ShootStatusCancelled {
		return s == ShootStatusScheduled || s == ShootStatusActive
	}
	switch s {
	case ShootStatusScheduled:
		return next == ShootStatusActive
	case ShootStatusActive:
		return next == ShootStatusCompleted
	default:
		return false
	}
}

// ValidShootStatus はstatusが定義済みの値かを返す。
func ValidShootStatus(status ShootStatus) bool {
	switch status {
	case ShootStatusScheduled, ShootStatusActive, ShootStatusCompleted, ShootStatusCancelled:
		return true
	}
	return false
}

// SyncStatus は撮影とカレンダーイベントの同期状態を表す。
type SyncStatus string

const (
	// SyncStatusPending は外部イベント未作成の状態。
	SyncStatusPending SyncStatus = "pending"
	// SyncStatusSynced は外部イベント作成・リンク済みの状態。
	SyncStatusSynced SyncStatus = "synced"
	// SyncStatusError は外部イベント作成に失敗した状態。
	SyncStatusError SyncStatus = "error"
)
