package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/shootman/internal/model"
)

// PostgresIntegrationRepo はPostgreSQLを使用したカレンダー連携リポジトリ。
type PostgresIntegrationRepo struct {
	db *sql.DB
}

// NewPostgresIntegrationRepo はPostgresIntegrationRepoを生成する。
func NewPostgresIntegrationRepo(db *sql.DB) *PostgresIntegrationRepo {
	return &PostgresIntegrationRepo{db: db}
}

// scanIntegration は1行を*model.CalendarIntegrationに読み取る。
func scanIntegration(scan func(dest ...any) error) (*model.CalendarIntegration, error) {
	integration := &model.CalendarIntegration{}
	var feedURL, accessToken sql.NullString

	err := scan(
		&integration.ID, &integration.OwnerEmail, &integration.Provider,
		&integration.CalendarID, &feedURL, &accessToken,
		&integration.CreatedAt, &integration.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	integration.FeedURL = nullStringValue(feedURL)
	integration.AccessToken = nullStringValue(accessToken)
	return integration, nil
}

// FindByOwner はオーナーの連携情報を取得する。未接続の場合はnilを返す。
func (r *PostgresIntegrationRepo) FindByOwner(ctx context.Context, ownerEmail string) (*model.CalendarIntegration, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, owner_email, provider, calendar_id, feed_url, access_token,
		        created_at, updated_at
		 FROM calendar_integrations WHERE owner_email = $1`,
		ownerEmail,
	)

	integration, err := scanIntegration(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("カレンダー連携の取得に失敗しました: %w", err)
	}
	return integration, nil
}

// Upsert はオーナーの連携情報を作成または置換する。
func (r *PostgresIntegrationRepo) Upsert(ctx context.Context, integration *model.CalendarIntegration) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO calendar_integrations (id, owner_email, provider, calendar_id,
		                                    feed_url, access_token, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		 ON CONFLICT (owner_email) DO UPDATE SET
		    provider = EXCLUDED.provider,
		    calendar_id = EXCLUDED.calendar_id,
		    feed_url = EXCLUDED.feed_url,
		    access_token = EXCLUDED.access_token,
		    updated_at = now()`,
		integration.ID, integration.OwnerEmail, integration.Provider,
		integration.CalendarID, nullString(integration.FeedURL), nullString(integration.AccessToken),
	)
	if err != nil {
		return fmt.Errorf("カレンダー連携の保存に失敗しました: %w", err)
	}
	return nil
}

// ListAll は全オーナーの連携情報を取得する。
func (r *PostgresIntegrationRepo) ListAll(ctx context.Context) ([]*model.CalendarIntegration, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, owner_email, provider, calendar_id, feed_url, access_token,
		        created_at, updated_at
		 FROM calendar_integrations
		 ORDER BY owner_email ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("カレンダー連携一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var integrations []*model.CalendarIntegration
	for rows.Next() {
		integration, err := scanIntegration(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("カレンダー連携の読み取りに失敗しました: %w", err)
		}
		integrations = append(integrations, integration)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("カレンダー連携の走査に失敗しました: %w", err)
	}

	return integrations, nil
}

// compile-time interface check
var _ IntegrationRepository = (*PostgresIntegrationRepo)(nil)
