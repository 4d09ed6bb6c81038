// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, schedule, calendar, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeInvalidInterval    = "INVALID_INTERVAL"
	ErrCodeClientNotFound     = "CLIENT_NOT_FOUND"
	ErrCodeShootNotFound      = "SHOOT_NOT_FOUND"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
	ErrCodeIntegrationMissing = "INTEGRATION_NOT_FOUND"
	ErrCodeInvalidFeedURL     = "INVALID_FEED_URL"
	ErrCodeSSRFBlocked        = "SSRF_BLOCKED"
	ErrCodeProviderAuth       = "PROVIDER_AUTH_EXPIRED"
	ErrCodeProviderPermission = "PROVIDER_PERMISSION_DENIED"
	ErrCodeProviderRateLimit  = "PROVIDER_RATE_LIMITED"
	ErrCodeProviderUnknown    = "PROVIDER_ERROR"
)

// NewInvalidInputError は入力バリデーションエラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("入力内容に誤りがあります: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewInvalidIntervalError は不正な時間区間エラーを生成する。
// 終了時刻が開始時刻以前の区間（長さゼロを含む）に対して返される。
func NewInvalidIntervalError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInterval,
		Message:  "時間区間が不正です。終了時刻は開始時刻より後である必要があります。",
		Category: "validation",
		Action:   "開始時刻と所要時間を確認してください。",
	}
}

// NewClientNotFoundError はクライアント未解決エラーを生成する。
func NewClientNotFoundError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeClientNotFound,
		Message:  fmt.Sprintf("指定されたクライアントが見つかりません: %s", name),
		Category: "schedule",
		Action:   "クライアント名を確認するか、先にクライアントを登録してください。",
	}
}

// NewShootNotFoundError は撮影未検出エラーを生成する。
func NewShootNotFoundError(shootID int64) *APIError {
	return &APIError{
		Code:     ErrCodeShootNotFound,
		Message:  fmt.Sprintf("指定された撮影が見つかりません: %d", shootID),
		Category: "schedule",
		Action:   "撮影IDを確認してください。",
	}
}

// NewInvalidTransitionError は不正なステータス遷移エラーを生成する。
func NewInvalidTransitionError(from, to ShootStatus) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTransition,
		Message:  fmt.Sprintf("ステータスを %s から %s に変更することはできません。", from, to),
		Category: "schedule",
		Action:   "現在のステータスから許可された遷移のみ実行できます。",
	}
}

// NewIntegrationNotFoundError はカレンダー連携未接続エラーを生成する。
func NewIntegrationNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeIntegrationMissing,
		Message:  "カレンダー連携が接続されていません。",
		Category: "calendar",
		Action:   "先にカレンダー連携を設定してください。",
	}
}

// NewInvalidFeedURLError は無効なICS購読URLエラーを生成する。
func NewInvalidFeedURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFeedURL,
		Message:  fmt.Sprintf("無効なカレンダーURLです: %s", reason),
		Category: "validation",
		Action:   "http:// https:// または webcal:// で始まる正しいURLを入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているカレンダーのURLを入力してください。プライベートネットワークへのアクセスは許可されていません。",
	}
}
