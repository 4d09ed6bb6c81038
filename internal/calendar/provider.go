// Package calendar は外部カレンダープロバイダとの通信を提供する。
// REST APIプロバイダとICS購読プロバイダの2種類の実装を含む。
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Event は外部プロバイダから取得したイベントを表す。
// 繰り返しイベントは展開済みの単一インスタンスとして返される
// （展開はプロバイダ実装の責務）。
type Event struct {
	ExternalID  string
	Title       string
	Description string // 未サニタイズ
	StartTime   time.Time
	EndTime     time.Time
	Location    string
	Attendees   []string
	IsRecurring bool
	Status      string // confirmed / tentative / cancelled
}

// EventDraft は外部プロバイダに作成するイベントの下書きを表す。
type EventDraft struct {
	Title       string
	Description string
	StartTime   time.Time
	EndTime     time.Time
	Location    string
}

// Provider は外部カレンダープロバイダの抽象インターフェース。
// トークンの取得・更新フローは範囲外で、接続済みの資格情報を前提とする。
type Provider interface {
	// Pull は時間窓 [start, end) のイベントを取得する。
	// 失敗時はProviderErrorを返す。呼び出し元はキャッシュの既存内容を保持してよい。
	Pull(ctx context.Context, calendarID string, start, end time.Time) ([]Event, error)

	// Create はイベントを作成し、外部イベントIDを返す。
	// 失敗時はProviderErrorを返す。
	Create(ctx context.Context, calendarID string, draft EventDraft) (string, error)
}

// ErrorKind はプロバイダ呼び出しの失敗種別を表す。
type ErrorKind string

const (
	// ErrorKindAuthExpired は認証期限切れ（トークン失効など）。
	ErrorKindAuthExpired ErrorKind = "auth_expired"
	// ErrorKindPermissionDenied は権限不足または読み取り専用カレンダーへの書き込み。
	ErrorKindPermissionDenied ErrorKind = "permission_denied"
	// ErrorKindRateLimited はレート制限超過。
	ErrorKindRateLimited ErrorKind = "rate_limited"
	// ErrorKindUnknown はその他の失敗（タイムアウトを含む）。
	ErrorKindUnknown ErrorKind = "unknown"
)

// ProviderError はプロバイダ呼び出しの型付きエラー。
// 予期される失敗モードはすべてこの型で返され、呼び出し元が種別に応じて処理する。
type ProviderError struct {
	Kind ErrorKind
	Err  error
}

// Error はerrorインターフェースを実装する。
func (e *ProviderError) Error() string {
	return fmt.Sprintf("calendar provider error (%s): %v", e.Kind, e.Err)
}

// Unwrap はラップされたエラーを返す。
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError はProviderErrorを生成する。
func NewProviderError(kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Kind: kind, Err: err}
}

// KindOf はエラーからProviderErrorの種別を取り出す。
// 型付きでないエラー（タイムアウト等）はErrorKindUnknownとして扱う。
func KindOf(err error) ErrorKind {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return ErrorKindUnknown
}

// ClassifyHTTPStatus はプロバイダAPIのHTTPステータスコードを失敗種別に分類する。
func ClassifyHTTPStatus(statusCode int) ErrorKind {
	switch {
	case statusCode == 401:
		return ErrorKindAuthExpired
	case statusCode == 403:
		return ErrorKindPermissionDenied
	case statusCode == 429:
		return ErrorKindRateLimited
	default:
		return ErrorKindUnknown
	}
}
