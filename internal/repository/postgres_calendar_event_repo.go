package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/shootman/internal/model"
)

// PostgresCalendarEventRepo はPostgreSQLを使用したカレンダーイベントキャッシュリポジトリ。
// attendeesとconflict_detailsはJSONBカラムに保存する。
type PostgresCalendarEventRepo struct {
	db *sql.DB
}

// NewPostgresCalendarEventRepo はPostgresCalendarEventRepoを生成する。
func NewPostgresCalendarEventRepo(db *sql.DB) *PostgresCalendarEventRepo {
	return &PostgresCalendarEventRepo{db: db}
}

// eventColumns はイベント行のSELECT句。Scanの順序と一致させること。
const eventColumns = `id, owner_email, calendar_id, external_event_id, title, description,
	        start_time, end_time, location, attendees, is_recurring, status,
	        shoot_id, conflict_detected, conflict_details, sync_status,
	        last_modified, created_at, updated_at`

// scanEvent は1行を*model.CalendarEventに読み取る。
func scanEvent(scan func(dest ...any) error) (*model.CalendarEvent, error) {
	event := &model.CalendarEvent{}
	var attendeesJSON, detailsJSON []byte
	var shootID sql.NullInt64

	err := scan(
		&event.ID, &event.OwnerEmail, &event.CalendarID, &event.ExternalEventID,
		&event.Title, &event.Description,
		&event.StartTime, &event.EndTime, &event.Location,
		&attendeesJSON, &event.IsRecurring, &event.Status,
		&shootID, &event.ConflictDetected, &detailsJSON, &event.SyncStatus,
		&event.LastModified, &event.CreatedAt, &event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if shootID.Valid {
		id := shootID.Int64
		event.ShootID = &id
	}
	if len(attendeesJSON) > 0 {
		if err := json.Unmarshal(attendeesJSON, &event.Attendees); err != nil {
			return nil, fmt.Errorf("attendeesの復元に失敗しました: %w", err)
		}
	}
	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &event.ConflictDetails); err != nil {
			return nil, fmt.Errorf("conflict_detailsの復元に失敗しました: %w", err)
		}
	}

	return event, nil
}

// marshalAttendees は参加者リストをJSONに変換する。nilは空配列として保存する。
func marshalAttendees(attendees []string) ([]byte, error) {
	if attendees == nil {
		attendees = []string{}
	}
	return json.Marshal(attendees)
}

// marshalDetails は衝突詳細リストをJSONに変換する。nilは空配列として保存する。
func marshalDetails(details []model.ConflictDetail) ([]byte, error) {
	if details == nil {
		details = []model.ConflictDetail{}
	}
	return json.Marshal(details)
}

// Upsert は複合キーでイベントを冪等にUPSERTする。
// 既存行の更新ではshoot_idと行IDを保持する（リンクは同期取り込みで消えない）。
func (r *PostgresCalendarEventRepo) Upsert(ctx context.Context, event *model.CalendarEvent) (bool, error) {
	attendeesJSON, err := marshalAttendees(event.Attendees)
	if err != nil {
		return false, fmt.Errorf("attendeesの変換に失敗しました: %w", err)
	}
	detailsJSON, err := marshalDetails(event.ConflictDetails)
	if err != nil {
		return false, fmt.Errorf("conflict_detailsの変換に失敗しました: %w", err)
	}

	var inserted bool
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO calendar_events (id, owner_email, calendar_id, external_event_id,
		                              title, description, start_time, end_time, location,
		                              attendees, is_recurring, status, shoot_id,
		                              conflict_detected, conflict_details, sync_status,
		                              last_modified, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, now(), now())
		 ON CONFLICT (owner_email, calendar_id, external_event_id) DO UPDATE SET
		    title = EXCLUDED.title,
		    description = EXCLUDED.description,
		    start_time = EXCLUDED.start_time,
		    end_time = EXCLUDED.end_time,
		    location = EXCLUDED.location,
		    attendees = EXCLUDED.attendees,
		    is_recurring = EXCLUDED.is_recurring,
		    status = EXCLUDED.status,
		    sync_status = EXCLUDED.sync_status,
		    last_modified = EXCLUDED.last_modified,
		    updated_at = now()
		 RETURNING (xmax = 0)`,
		event.ID, event.OwnerEmail, event.CalendarID, event.ExternalEventID,
		event.Title, event.Description, event.StartTime, event.EndTime, event.Location,
		attendeesJSON, event.IsRecurring, event.Status, nullInt64(event.ShootID),
		event.ConflictDetected, detailsJSON, event.SyncStatus,
		event.LastModified,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("イベントのUPSERTに失敗しました: %w", err)
	}

	return inserted, nil
}

// FindByKey は複合キーでイベントを取得する。見つからない場合はnilを返す。
func (r *PostgresCalendarEventRepo) FindByKey(ctx context.Context, ownerEmail, calendarID, externalEventID string) (*model.CalendarEvent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+`
		 FROM calendar_events
		 WHERE owner_email = $1 AND calendar_id = $2 AND external_event_id = $3`,
		ownerEmail, calendarID, externalEventID,
	)

	event, err := scanEvent(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗しました: %w", err)
	}
	return event, nil
}

// ListByOwner はオーナーのイベントを時間窓 [start, end) で取得する。
func (r *PostgresCalendarEventRepo) ListByOwner(ctx context.Context, ownerEmail string, start, end time.Time) ([]*model.CalendarEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+`
		 FROM calendar_events
		 WHERE owner_email = $1 AND start_time >= $2 AND start_time < $3
		 ORDER BY start_time ASC`,
		ownerEmail, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("イベント一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ListActiveByOwner はオーナーのキャンセル済みでない全イベントを取得する。
func (r *PostgresCalendarEventRepo) ListActiveByOwner(ctx context.Context, ownerEmail string) ([]*model.CalendarEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+`
		 FROM calendar_events
		 WHERE owner_email = $1 AND status <> $2
		 ORDER BY start_time ASC`,
		ownerEmail, model.EventStatusCancelled,
	)
	if err != nil {
		return nil, fmt.Errorf("有効イベントの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ListLinked はオーナーのshoot_idが設定された全イベントを取得する。
func (r *PostgresCalendarEventRepo) ListLinked(ctx context.Context, ownerEmail string) ([]*model.CalendarEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+`
		 FROM calendar_events
		 WHERE owner_email = $1 AND shoot_id IS NOT NULL
		 ORDER BY start_time ASC`,
		ownerEmail,
	)
	if err != nil {
		return nil, fmt.Errorf("リンク済みイベントの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// collectEvents はrowsから全イベントを読み取る。
func collectEvents(rows *sql.Rows) ([]*model.CalendarEvent, error) {
	var events []*model.CalendarEvent
	for rows.Next() {
		event, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("イベントの読み取りに失敗しました: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("イベントの走査に失敗しました: %w", err)
	}
	return events, nil
}

// DeleteMissing は時間窓内でkeepIDsに含まれないexternal_event_idの行を削除する。
func (r *PostgresCalendarEventRepo) DeleteMissing(ctx context.Context, ownerEmail, calendarID string, start, end time.Time, keepIDs []string) (int64, error) {
	if keepIDs == nil {
		keepIDs = []string{}
	}
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM calendar_events
		 WHERE owner_email = $1 AND calendar_id = $2
		   AND start_time >= $3 AND start_time < $4
		   AND external_event_id <> ALL($5)`,
		ownerEmail, calendarID, start, end, pq.Array(keepIDs),
	)
	if err != nil {
		return 0, fmt.Errorf("消失イベントの削除に失敗しました: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return deleted, nil
}

// SetShootID はイベントのshoot_id逆参照を設定する。
func (r *PostgresCalendarEventRepo) SetShootID(ctx context.Context, ownerEmail, calendarID, externalEventID string, shootID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE calendar_events SET shoot_id = $4, updated_at = now()
		 WHERE owner_email = $1 AND calendar_id = $2 AND external_event_id = $3`,
		ownerEmail, calendarID, externalEventID, shootID,
	)
	if err != nil {
		return fmt.Errorf("shoot_idの設定に失敗しました: %w", err)
	}
	return nil
}

// UpdateConflict はイベントの衝突検出結果を更新する。
func (r *PostgresCalendarEventRepo) UpdateConflict(ctx context.Context, id string, detected bool, details []model.ConflictDetail) error {
	detailsJSON, err := marshalDetails(details)
	if err != nil {
		return fmt.Errorf("conflict_detailsの変換に失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE calendar_events SET conflict_detected = $2, conflict_details = $3, updated_at = now()
		 WHERE id = $1`,
		id, detected, detailsJSON,
	)
	if err != nil {
		return fmt.Errorf("衝突検出結果の更新に失敗しました: %w", err)
	}
	return nil
}

// nullInt64 は*int64をsql.NullInt64に変換する。
func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// compile-time interface check
var _ CalendarEventRepository = (*PostgresCalendarEventRepo)(nil)
