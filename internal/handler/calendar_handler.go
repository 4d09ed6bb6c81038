package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/shootman/internal/middleware"
	"github.com/hitoshi/shootman/internal/model"
	"github.com/hitoshi/shootman/internal/security"
	"github.com/hitoshi/shootman/internal/sync"
)

// CalendarSyncInterface はカレンダーハンドラーが必要とする同期サービス。
type CalendarSyncInterface interface {
	// PullEvents は外部カレンダーからイベントを取得しキャッシュへ反映する。
	PullEvents(ctx context.Context, ownerEmail string, start, end time.Time) (*sync.PullResult, error)
}

// CalendarEventLister はキャッシュ済みイベントの一覧取得インターフェース。
// repository.CalendarEventRepositoryの部分集合として定義する。
type CalendarEventLister interface {
	// ListByOwner はオーナーのイベントを時間窓 [start, end) で取得する。
	ListByOwner(ctx context.Context, ownerEmail string, start, end time.Time) ([]*model.CalendarEvent, error)
}

// IntegrationStore はカレンダー連携情報の読み書きインターフェース。
// repository.IntegrationRepositoryの部分集合として定義する。
type IntegrationStore interface {
	// FindByOwner はオーナーの連携情報を取得する。未接続の場合はnilを返す。
	FindByOwner(ctx context.Context, ownerEmail string) (*model.CalendarIntegration, error)
	// Upsert はオーナーの連携情報を作成または置換する。
	Upsert(ctx context.Context, integration *model.CalendarIntegration) error
}

// FeedURLValidator はICS購読URLの事前検証インターフェース。
type FeedURLValidator interface {
	// ValidateFeedURL はURLの安全性を検証し、検証済みの取得用URLを返す。
	ValidateFeedURL(rawURL string) (string, error)
}

// CalendarHandler はカレンダー連携と同期のHTTPハンドラー。
type CalendarHandler struct {
	syncService    CalendarSyncInterface
	eventLister    CalendarEventLister
	integrations   IntegrationStore
	urlValidator   FeedURLValidator
	location       *time.Location
	syncWindowDays int
}

// NewCalendarHandler はCalendarHandlerを生成する。
func NewCalendarHandler(
	syncService CalendarSyncInterface,
	eventLister CalendarEventLister,
	integrations IntegrationStore,
	urlValidator FeedURLValidator,
	location *time.Location,
	syncWindowDays int,
) *CalendarHandler {
	return &CalendarHandler{
		syncService:    syncService,
		eventLister:    eventLister,
		integrations:   integrations,
		urlValidator:   urlValidator,
		location:       location,
		syncWindowDays: syncWindowDays,
	}
}

// syncRequest はオンデマンド同期リクエストのボディ。ボディは省略可能。
type syncRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// syncResponse はオンデマンド同期の結果レスポンス。
type syncResponse struct {
	Fetched   int `json:"fetched"`
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Pruned    int `json:"pruned"`
	Conflicts int `json:"conflicts"`
}

// calendarEventResponse はキャッシュ済みイベントのAPIレスポンス。
type calendarEventResponse struct {
	ExternalEventID  string                 `json:"external_event_id"`
	Title            string                 `json:"title"`
	Description      string                 `json:"description,omitempty"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Location         string                 `json:"location,omitempty"`
	Attendees        []string               `json:"attendees,omitempty"`
	IsRecurring      bool                   `json:"is_recurring"`
	Status           string                 `json:"status"`
	ShootID          *int64                 `json:"shoot_id,omitempty"`
	ConflictDetected bool                   `json:"conflict_detected"`
	ConflictDetails  []model.ConflictDetail `json:"conflict_details,omitempty"`
}

// putIntegrationRequest は連携設定リクエストのボディ。
type putIntegrationRequest struct {
	Provider    string `json:"provider"`
	CalendarID  string `json:"calendar_id"`
	FeedURL     string `json:"feed_url"`
	AccessToken string `json:"access_token"`
}

// integrationResponse は連携情報のAPIレスポンス。
// アクセストークンは返さない。
type integrationResponse struct {
	Provider   string    `json:"provider"`
	CalendarID string    `json:"calendar_id"`
	FeedURL    string    `json:"feed_url,omitempty"`
	HasToken   bool      `json:"has_token"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SyncCalendar はオンデマンドの同期取得を処理する。
// POST /api/calendar/sync
//
// ボディを省略した場合は設定された同期窓（今日からSYNC_WINDOW_DAYS日間）を使用する。
// プロバイダ側の失敗は型付きコードで報告され、キャッシュは変更されない。
func (h *CalendarHandler) SyncCalendar(w http.ResponseWriter, r *http.Request) {
	owner, err := middleware.OwnerFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	start, end, err := h.resolveWindow(req.StartDate, req.EndDate)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("日付はYYYY-MM-DD形式で指定してください"))
		return
	}

	result, err := h.syncService.PullEvents(r.Context(), owner, start, end)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(syncResponse{
		Fetched:   result.Fetched,
		Inserted:  result.Inserted,
		Updated:   result.Updated,
		Pruned:    result.Pruned,
		Conflicts: result.Conflicts,
	})
}

// ListEvents はキャッシュ済みのカレンダーイベント一覧を取得する。
// GET /api/calendar/events?start_date=&end_date=
func (h *CalendarHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	owner, err := middleware.OwnerFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	start, end, err := h.resolveWindow(r.URL.Query().Get("start_date"), r.URL.Query().Get("end_date"))
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("日付はYYYY-MM-DD形式で指定してください"))
		return
	}

	events, err := h.eventLister.ListByOwner(r.Context(), owner, start, end)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]calendarEventResponse, 0, len(events))
	for _, event := range events {
		responses = append(responses, calendarEventResponse{
			ExternalEventID:  event.ExternalEventID,
			Title:            event.Title,
			Description:      event.Description,
			StartTime:        event.StartTime,
			EndTime:          event.EndTime,
			Location:         event.Location,
			Attendees:        event.Attendees,
			IsRecurring:      event.IsRecurring,
			Status:           event.Status,
			ShootID:          event.ShootID,
			ConflictDetected: event.ConflictDetected,
			ConflictDetails:  event.ConflictDetails,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"events": responses,
		"count":  len(responses),
	})
}

// PutIntegration はカレンダー連携の接続・置換を処理する。
// PUT /api/calendar/integration
//
// ICS購読URLは保存前にSSRF検証を行い、webcal://はhttps://として保存する。
func (h *CalendarHandler) PutIntegration(w http.ResponseWriter, r *http.Request) {
	owner, err := middleware.OwnerFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req putIntegrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	provider := model.IntegrationProvider(req.Provider)
	integration := &model.CalendarIntegration{
		ID:         uuid.New().String(),
		OwnerEmail: owner,
		Provider:   provider,
		CalendarID: strings.TrimSpace(req.CalendarID),
	}

	switch provider {
	case model.IntegrationProviderREST:
		if req.AccessToken == "" {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("RESTプロバイダにはaccess_tokenが必要です"))
			return
		}
		integration.AccessToken = req.AccessToken
	case model.IntegrationProviderICS:
		if req.FeedURL == "" {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("ICSプロバイダにはfeed_urlが必要です"))
			return
		}
		validated, err := h.urlValidator.ValidateFeedURL(req.FeedURL)
		if err != nil {
			if errors.Is(err, security.ErrBlockedURL) {
				writeAPIErrorResponse(w, http.StatusForbidden, model.NewSSRFBlockedError())
				return
			}
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidFeedURLError(err.Error()))
			return
		}
		integration.FeedURL = validated
	default:
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("providerはrestまたはicsを指定してください"))
		return
	}

	if integration.CalendarID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("calendar_idは必須です"))
		return
	}

	if err := h.integrations.Upsert(r.Context(), integration); err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toIntegrationResponse(integration))
}

// GetIntegration は現在のカレンダー連携情報を取得する。
// GET /api/calendar/integration
func (h *CalendarHandler) GetIntegration(w http.ResponseWriter, r *http.Request) {
	owner, err := middleware.OwnerFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	integration, err := h.integrations.FindByOwner(r.Context(), owner)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if integration == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewIntegrationNotFoundError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toIntegrationResponse(integration))
}

// resolveWindow は日付文字列の組を時間窓に変換する。
// 未指定の場合は設定タイムゾーンの今日から同期窓の日数分とする。
// end側の日付は表示に含める最終日で、半開区間の終端は翌日0時になる。
func (h *CalendarHandler) resolveWindow(startDate, endDate string) (time.Time, time.Time, error) {
	now := time.Now().In(h.location)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, h.location)

	if startDate != "" {
		parsed, err := time.ParseInLocation("2006-01-02", startDate, h.location)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = parsed
	}

	end := start.AddDate(0, 0, h.syncWindowDays)
	if endDate != "" {
		parsed, err := time.ParseInLocation("2006-01-02", endDate, h.location)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = parsed.AddDate(0, 0, 1)
	}

	return start, end, nil
}

// toIntegrationResponse はCalendarIntegrationをAPIレスポンスに変換する。
func toIntegrationResponse(integration *model.CalendarIntegration) integrationResponse {
	return integrationResponse{
		Provider:   string(integration.Provider),
		CalendarID: integration.CalendarID,
		FeedURL:    integration.FeedURL,
		HasToken:   integration.AccessToken != "",
		CreatedAt:  integration.CreatedAt,
		UpdatedAt:  integration.UpdatedAt,
	}
}
