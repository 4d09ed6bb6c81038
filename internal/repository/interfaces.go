// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/shootman/internal/model"
)

// ShootRepository は撮影データの永続化インターフェース。
type ShootRepository interface {
	// Create は撮影を作成し、採番されたIDをshoot.IDに設定する。
	Create(ctx context.Context, shoot *model.Shoot) error

	// FindByID は指定オーナーの撮影を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, ownerEmail string, id int64) (*model.Shoot, error)

	// ListByOwner はオーナーの撮影一覧を時間窓 [start, end) で取得する。
	// clientIDが非nilの場合はそのクライアントの撮影のみ返す。
	// scheduled_at昇順で返す。
	ListByOwner(ctx context.Context, ownerEmail string, clientID *int64, start, end time.Time) ([]*model.Shoot, error)

	// UpdateSyncState は撮影のカレンダー同期属性のみを更新する。
	UpdateSyncState(ctx context.Context, id int64, externalEventID string, syncStatus model.SyncStatus, lastSyncAt *time.Time, syncError string) error

	// UpdateStatus は撮影のステータスを更新する。
	UpdateStatus(ctx context.Context, id int64, status model.ShootStatus) error

	// ListBySyncStatus はオーナーの指定同期状態の撮影を取得する。
	// 同期修復（リコンサイル）処理で使用する。
	ListBySyncStatus(ctx context.Context, ownerEmail string, status model.SyncStatus) ([]*model.Shoot, error)
}

// CalendarEventRepository はカレンダーイベントキャッシュの永続化インターフェース。
// 行の書き込みはsync層のみが行う。
type CalendarEventRepository interface {
	// Upsert は複合キー (owner_email, calendar_id, external_event_id) で
	// イベントを冪等にUPSERTする。新規挿入時はevent.IDの値を行IDとして使用する。
	// 戻り値は新規挿入ならtrue。
	Upsert(ctx context.Context, event *model.CalendarEvent) (inserted bool, err error)

	// FindByKey は複合キーでイベントを取得する。見つからない場合はnilを返す。
	FindByKey(ctx context.Context, ownerEmail, calendarID, externalEventID string) (*model.CalendarEvent, error)

	// ListByOwner はオーナーのイベントを時間窓 [start, end) で取得する。
	// start_time昇順で返す。
	ListByOwner(ctx context.Context, ownerEmail string, start, end time.Time) ([]*model.CalendarEvent, error)

	// ListActiveByOwner はオーナーのキャンセル済みでない全イベントを取得する。
	// 衝突検出の入力として使用する。start_time昇順で返す。
	ListActiveByOwner(ctx context.Context, ownerEmail string) ([]*model.CalendarEvent, error)

	// DeleteMissing は時間窓 [start, end) 内でkeepIDsに含まれない
	// external_event_idの行を削除し、削除件数を返す。
	// 外部プロバイダが報告しなくなったイベントの掃除に使用する。
	DeleteMissing(ctx context.Context, ownerEmail, calendarID string, start, end time.Time, keepIDs []string) (int64, error)

	// SetShootID はイベントのshoot_id逆参照を設定する。
	SetShootID(ctx context.Context, ownerEmail, calendarID, externalEventID string, shootID int64) error

	// UpdateConflict はイベントの衝突検出結果を更新する。
	UpdateConflict(ctx context.Context, id string, detected bool, details []model.ConflictDetail) error

	// ListLinked はオーナーのshoot_idが設定された全イベントを取得する。
	// 同期修復（リコンサイル）処理で使用する。
	ListLinked(ctx context.Context, ownerEmail string) ([]*model.CalendarEvent, error)
}

// ClientRepository はクライアントデータの永続化インターフェース。
// クライアント管理のCRUDは範囲外のため、名前解決に必要な操作のみ定義する。
type ClientRepository interface {
	// FindByName はオーナーとクライアント名でクライアントを検索する。
	// 見つからない場合はnilを返す。
	FindByName(ctx context.Context, ownerEmail, name string) (*model.Client, error)

	// FindByID は指定IDのクライアントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Client, error)
}

// IntegrationRepository はカレンダー連携情報の永続化インターフェース。
type IntegrationRepository interface {
	// FindByOwner はオーナーの連携情報を取得する。未接続の場合はnilを返す。
	FindByOwner(ctx context.Context, ownerEmail string) (*model.CalendarIntegration, error)

	// Upsert はオーナーの連携情報を作成または置換する。
	Upsert(ctx context.Context, integration *model.CalendarIntegration) error

	// ListAll は全オーナーの連携情報を取得する。同期ワーカーで使用する。
	ListAll(ctx context.Context) ([]*model.CalendarIntegration, error)
}

// PostIdeaRepository は投稿アイデアデータの永続化インターフェース。
// 投稿アイデアのCRUDは範囲外のため、件数集計のみ定義する。
type PostIdeaRepository interface {
	// CountByShootIDs は撮影IDごとの投稿アイデア件数を返す。
	// 件数0の撮影はマップに含まれない。
	CountByShootIDs(ctx context.Context, shootIDs []int64) (map[int64]int, error)
}
