// Package model はドメインモデルを定義する。
package model

import "time"

// CalendarEvent は外部カレンダーから取り込んだイベントのローカルキャッシュエントリを表す。
// 同一性は (OwnerEmail, CalendarID, ExternalEventID) の複合キーで判定する。
// 繰り返しイベントは同期時に展開済みの単一インスタンスとして保存される。
type CalendarEvent struct {
	ID              string // 内部行ID（UUID）
	OwnerEmail      string
	CalendarID      string
	ExternalEventID string

	Title       string
	Description string // サニタイズ済み
	StartTime   time.Time
	EndTime     time.Time
	Location    string
	Attendees   []string
	IsRecurring bool
	Status      string // confirmed / tentative / cancelled

	// ShootID は撮影への弱い逆参照。所有関係ではない。
	// 双方向の整合性は同期時にベストエフォートで調整される。
	ShootID *int64

	ConflictDetected bool
	ConflictDetails  []ConflictDetail

	SyncStatus   SyncStatus
	LastModified time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EventStatusCancelled はキャンセル済みイベントのステータス値。
// 衝突検出の対象から除外される。
const EventStatusCancelled = "cancelled"

// ConflictDetail は衝突相手のイベントの表示用スナップショット。
type ConflictDetail struct {
	Title     string    `json:"title"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// CalendarIntegration はオーナーごとの外部カレンダー接続情報を表す。
// トークンの取得・更新フローはこのシステムの範囲外で、接続済みの資格情報のみを保持する。
type CalendarIntegration struct {
	ID         string // UUID
	OwnerEmail string
	Provider   IntegrationProvider
	CalendarID string

	// FeedURL はICSプロバイダ接続時の購読URL。RESTプロバイダでは空。
	FeedURL string
	// AccessToken はRESTプロバイダ接続時のアクセストークン。ICSプロバイダでは空。
	AccessToken string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IntegrationProvider は外部カレンダープロバイダの種別を表す。
type IntegrationProvider string

const (
	// IntegrationProviderREST はREST APIプロバイダ（取得・作成の両対応）。
	IntegrationProviderREST IntegrationProvider = "rest"
	// IntegrationProviderICS はICS購読プロバイダ（取得のみ）。
	IntegrationProviderICS IntegrationProvider = "ics"
)
