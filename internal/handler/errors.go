// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/shootman/internal/calendar"
	"github.com/hitoshi/shootman/internal/model"
)

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
// APIErrorはコードに応じたステータスで返し、プロバイダの型付きエラーは
// 失敗種別に応じたAPIErrorへ変換する。それ以外は詳細をログに残して500を返す。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	var perr *calendar.ProviderError
	if errors.As(err, &perr) {
		apiErr := providerErrorToAPIError(perr)
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidInput, model.ErrCodeInvalidInterval:
		return http.StatusBadRequest
	case model.ErrCodeClientNotFound:
		return http.StatusUnprocessableEntity
	case model.ErrCodeShootNotFound, model.ErrCodeIntegrationMissing:
		return http.StatusNotFound
	case model.ErrCodeInvalidTransition:
		return http.StatusConflict
	case model.ErrCodeInvalidFeedURL:
		return http.StatusBadRequest
	case model.ErrCodeSSRFBlocked:
		return http.StatusForbidden
	case model.ErrCodeProviderAuth:
		return http.StatusBadGateway
	case model.ErrCodeProviderPermission:
		return http.StatusBadGateway
	case model.ErrCodeProviderRateLimit:
		return http.StatusBadGateway
	case model.ErrCodeProviderUnknown:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// providerErrorToAPIError はプロバイダの型付きエラーをAPIErrorへ変換する。
func providerErrorToAPIError(perr *calendar.ProviderError) *model.APIError {
	switch perr.Kind {
	case calendar.ErrorKindAuthExpired:
		return &model.APIError{
			Code:     model.ErrCodeProviderAuth,
			Message:  "カレンダーの認証情報が期限切れです。",
			Category: "calendar",
			Action:   "カレンダー連携を再接続してください。",
		}
	case calendar.ErrorKindPermissionDenied:
		return &model.APIError{
			Code:     model.ErrCodeProviderPermission,
			Message:  "カレンダーへのアクセス権限がありません。",
			Category: "calendar",
			Action:   "カレンダーの共有設定と連携の権限を確認してください。",
		}
	case calendar.ErrorKindRateLimited:
		return &model.APIError{
			Code:     model.ErrCodeProviderRateLimit,
			Message:  "カレンダープロバイダのレート制限を超過しました。",
			Category: "calendar",
			Action:   "しばらく待ってから再度お試しください。",
		}
	default:
		return &model.APIError{
			Code:     model.ErrCodeProviderUnknown,
			Message:  "カレンダープロバイダとの通信に失敗しました。",
			Category: "calendar",
			Action:   "しばらく待ってから再度お試しください。",
		}
	}
}
