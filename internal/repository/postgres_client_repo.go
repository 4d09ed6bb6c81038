package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/shootman/internal/model"
)

// PostgresClientRepo はPostgreSQLを使用したクライアントリポジトリ。
type PostgresClientRepo struct {
	db *sql.DB
}

// NewPostgresClientRepo はPostgresClientRepoを生成する。
func NewPostgresClientRepo(db *sql.DB) *PostgresClientRepo {
	return &PostgresClientRepo{db: db}
}

// FindByName はオーナーとクライアント名でクライアントを検索する。見つからない場合はnilを返す。
func (r *PostgresClientRepo) FindByName(ctx context.Context, ownerEmail, name string) (*model.Client, error) {
	client := &model.Client{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, owner_email, name, created_at, updated_at
		 FROM clients WHERE owner_email = $1 AND name = $2`,
		ownerEmail, name,
	).Scan(&client.ID, &client.OwnerEmail, &client.Name, &client.CreatedAt, &client.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("クライアント名による検索に失敗しました: %w", err)
	}
	return client, nil
}

// FindByID は指定IDのクライアントを取得する。見つからない場合はnilを返す。
func (r *PostgresClientRepo) FindByID(ctx context.Context, id int64) (*model.Client, error) {
	client := &model.Client{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, owner_email, name, created_at, updated_at
		 FROM clients WHERE id = $1`,
		id,
	).Scan(&client.ID, &client.OwnerEmail, &client.Name, &client.CreatedAt, &client.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("クライアントの取得に失敗しました: %w", err)
	}
	return client, nil
}

// compile-time interface check
var _ ClientRepository = (*PostgresClientRepo)(nil)
