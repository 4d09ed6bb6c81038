// Package model はドメインモデルを定義する。
package model

import "time"

// Client は撮影を依頼するクライアントを表す。
// クライアント管理のCRUDはこのコアの範囲外で、名前解決にのみ使用する。
type Client struct {
	ID         int64
	OwnerEmail string
	Name       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PostIdea は撮影に紐づく投稿アイデアを表す。
// 投稿アイデアのCRUDはこのコアの範囲外で、タイムラインの件数表示にのみ使用する。
type PostIdea struct {
	ID        int64
	ShootID   int64
	Title     string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}
