package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresPostIdeaRepo はPostgreSQLを使用した投稿アイデアリポジトリ。
// このコアではタイムライン表示用の件数集計のみを提供する。
type PostgresPostIdeaRepo struct {
	db *sql.DB
}

// NewPostgresPostIdeaRepo はPostgresPostIdeaRepoを生成する。
func NewPostgresPostIdeaRepo(db *sql.DB) *PostgresPostIdeaRepo {
	return &PostgresPostIdeaRepo{db: db}
}

// CountByShootIDs は撮影IDごとの投稿アイデア件数を返す。
// 件数0の撮影はマップに含まれない。
func (r *PostgresPostIdeaRepo) CountByShootIDs(ctx context.Context, shootIDs []int64) (map[int64]int, error) {
	counts := make(map[int64]int)
	if len(shootIDs) == 0 {
		return counts, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT shoot_id, COUNT(*)
		 FROM post_ideas
		 WHERE shoot_id = ANY($1)
		 GROUP BY shoot_id`,
		pq.Array(shootIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("投稿アイデア件数の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var shootID int64
		var count int
		if err := rows.Scan(&shootID, &count); err != nil {
			return nil, fmt.Errorf("投稿アイデア件数の読み取りに失敗しました: %w", err)
		}
		counts[shootID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("投稿アイデア件数の走査に失敗しました: %w", err)
	}

	return counts, nil
}

// compile-time interface check
var _ PostIdeaRepository = (*PostgresPostIdeaRepo)(nil)
