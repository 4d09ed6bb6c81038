package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/shootman/internal/model"
)

// PostgresShootRepo はPostgreSQLを使用した撮影リポジトリ。
type PostgresShootRepo struct {
	db *sql.DB
}

// NewPostgresShootRepo はPostgresShootRepoを生成する。
func NewPostgresShootRepo(db *sql.DB) *PostgresShootRepo {
	return &PostgresShootRepo{db: db}
}

// shootColumns は撮影行のSELECT句。Scanの順序と一致させること。
const shootColumns = `id, owner_email, title, client_id, scheduled_at, duration_minutes,
	        location, status, notes, external_event_id, sync_status,
	        last_sync_at, sync_error, created_at, updated_at`

// scanShoot は1行を*model.Shootに読み取る。
func scanShoot(scan func(dest ...any) error) (*model.Shoot, error) {
	shoot := &model.Shoot{}
	var externalEventID, syncError sql.NullString
	var lastSyncAt sql.NullTime

	err := scan(
		&shoot.ID, &shoot.OwnerEmail, &shoot.Title, &shoot.ClientID,
		&shoot.ScheduledAt, &shoot.DurationMinutes,
		&shoot.Location, &shoot.Status, &shoot.Notes,
		&externalEventID, &shoot.SyncStatus,
		&lastSyncAt, &syncError, &shoot.CreatedAt, &shoot.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	shoot.ExternalEventID = nullStringValue(externalEventID)
	shoot.SyncError = nullStringValue(syncError)
	if lastSyncAt.Valid {
		t := lastSyncAt.Time
		shoot.LastSyncAt = &t
	}

	return shoot, nil
}

// Create は撮影を作成し、採番されたIDをshoot.IDに設定する。
func (r *PostgresShootRepo) Create(ctx context.Context, shoot *model.Shoot) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO shoots (owner_email, title, client_id, scheduled_at, duration_minutes,
		                     location, status, notes, external_event_id, sync_status,
		                     last_sync_at, sync_error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id`,
		shoot.OwnerEmail, shoot.Title, shoot.ClientID, shoot.ScheduledAt, shoot.DurationMinutes,
		shoot.Location, shoot.Status, shoot.Notes,
		nullString(shoot.ExternalEventID), shoot.SyncStatus,
		nullTime(shoot.LastSyncAt), nullString(shoot.SyncError),
		shoot.CreatedAt, shoot.UpdatedAt,
	).Scan(&shoot.ID)
	if err != nil {
		return fmt.Errorf("撮影の作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定オーナーの撮影を取得する。見つからない場合はnilを返す。
func (r *PostgresShootRepo) FindByID(ctx context.Context, ownerEmail string, id int64) (*model.Shoot, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+shootColumns+` FROM shoots WHERE owner_email = $1 AND id = $2`,
		ownerEmail, id,
	)

	shoot, err := scanShoot(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("撮影の取得に失敗しました: %w", err)
	}
	return shoot, nil
}

// ListByOwner はオーナーの撮影一覧を時間窓 [start, end) で取得する。
func (r *PostgresShootRepo) ListByOwner(ctx context.Context, ownerEmail string, clientID *int64, start, end time.Time) ([]*model.Shoot, error) {
	query := `SELECT ` + shootColumns + `
	 FROM shoots
	 WHERE owner_email = $1 AND scheduled_at >= $2 AND scheduled_at < $3`
	args := []any{ownerEmail, start, end}

	if clientID != nil {
		query += ` AND client_id = $4`
		args = append(args, *clientID)
	}
	query += ` ORDER BY scheduled_at ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("撮影一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var shoots []*model.Shoot
	for rows.Next() {
		shoot, err := scanShoot(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("撮影一覧の読み取りに失敗しました: %w", err)
		}
		shoots = append(shoots, shoot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("撮影一覧の走査に失敗しました: %w", err)
	}

	return shoots, nil
}

// UpdateSyncState は撮影のカレンダー同期属性のみを更新する。
func (r *PostgresShootRepo) UpdateSyncState(ctx context.Context, id int64, externalEventID string, syncStatus model.SyncStatus, lastSyncAt *time.Time, syncError string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE shoots SET
		    external_event_id = $2,
		    sync_status = $3,
		    last_sync_at = $4,
		    sync_error = $5,
		    updated_at = now()
		 WHERE id = $1`,
		id, nullString(externalEventID), syncStatus, nullTime(lastSyncAt), nullString(syncError),
	)
	if err != nil {
		return fmt.Errorf("同期状態の更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateStatus は撮影のステータスを更新する。
func (r *PostgresShootRepo) UpdateStatus(ctx context.Context, id int64, status model.ShootStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE shoots SET status = $2, updated_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("ステータスの更新に失敗しました: %w", err)
	}
	return nil
}

// ListBySyncStatus はオーナーの指定同期状態の撮影を取得する。
func (r *PostgresShootRepo) ListBySyncStatus(ctx context.Context, ownerEmail string, status model.SyncStatus) ([]*model.Shoot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+shootColumns+`
		 FROM shoots
		 WHERE owner_email = $1 AND sync_status = $2
		 ORDER BY scheduled_at ASC`,
		ownerEmail, status,
	)
	if err != nil {
		return nil, fmt.Errorf("同期状態による撮影の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var shoots []*model.Shoot
	for rows.Next() {
		shoot, err := scanShoot(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("同期状態による撮影の読み取りに失敗しました: %w", err)
		}
		shoots = append(shoots, shoot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("同期状態による撮影の走査に失敗しました: %w", err)
	}

	return shoots, nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullTime は*time.Timeをsql.NullTimeに変換する。
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// compile-time interface check
var _ ShootRepository = (*PostgresShootRepo)(nil)
