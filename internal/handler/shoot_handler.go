package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/shootman/internal/middleware"
	"github.com/hitoshi/shootman/internal/model"
	"github.com/hitoshi/shootman/internal/shoot"
	"github.com/hitoshi/shootman/internal/timeline"
)

// ShootSchedulerInterface は撮影ハンドラーが必要とするスケジューリングサービス。
type ShootSchedulerInterface interface {
	// Schedule は撮影をスケジュールする。
	Schedule(ctx context.Context, ownerEmail string, input shoot.ScheduleInput) (*shoot.ScheduleResult, error)
	// GetShoot は撮影を取得する。
	GetShoot(ctx context.Context, ownerEmail string, id int64) (*model.Shoot, error)
	// UpdateStatus は撮影のステータスを遷移させる。
	UpdateStatus(ctx context.Context, ownerEmail string, id int64, next model.ShootStatus) (*model.Shoot, error)
}

// TimelineServiceInterface は撮影ハンドラーが必要とする統合タイムラインサービス。
type TimelineServiceInterface interface {
	// List は統合タイムラインを取得する。
	List(ctx context.Context, ownerEmail string, opts timeline.ListOptions) (*timeline.Timeline, error)
}

// ShootHandler は撮影管理のHTTPハンドラー。
type ShootHandler struct {
	scheduler ShootSchedulerInterface
	timeline  TimelineServiceInterface
	location  *time.Location
}

// NewShootHandler はShootHandlerを生成する。
// locationはクエリパラメータの日付解釈に使用するタイムゾーン。
func NewShootHandler(scheduler ShootSchedulerInterface, timelineService TimelineServiceInterface, location *time.Location) *ShootHandler {
	return &ShootHandler{
		scheduler: scheduler,
		timeline:  timelineService,
		location:  location,
	}
}

// createShootRequest は撮影作成リクエストのボディ。
type createShootRequest struct {
	Title           string `json:"title"`
	ClientName      string `json:"client_name"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	DurationMinutes int    `json:"duration_minutes"`
	Location        string `json:"location"`
	Notes           string `json:"notes"`
	ForceCreate     bool   `json:"force_create"`
	SkipCalendar    bool   `json:"skip_calendar"`
}

// updateStatusRequest はステータス更新リクエストのボディ。
type updateStatusRequest struct {
	Status string `json:"status"`
}

// shootResponse は撮影情報のAPIレスポンス。
type shootResponse struct {
	ID              int64      `json:"id"`
	Title           string     `json:"title"`
	ClientID        int64      `json:"client_id"`
	ScheduledAt     time.Time  `json:"scheduled_at"`
	EndAt           time.Time  `json:"end_at"`
	DurationMinutes int        `json:"duration_minutes"`
	Location        string     `json:"location"`
	Status          string     `json:"status"`
	Notes           string     `json:"notes,omitempty"`
	ExternalEventID string     `json:"external_event_id,omitempty"`
	SyncStatus      string     `json:"sync_status"`
	LastSyncAt      *time.Time `json:"last_sync_at,omitempty"`
	SyncError       string     `json:"sync_error,omitempty"`
}

// createShootResponse は撮影作成成功時のレスポンス。
type createShootResponse struct {
	HasConflicts bool          `json:"has_conflicts"`
	Shoot        shootResponse `json:"shoot"`
	Message      string        `json:"message"`
}

// conflictResponse は衝突検出時のレスポンス。
// draftには永続化されていない撮影の下書きが入る。
type conflictResponse struct {
	HasConflicts bool                   `json:"has_conflicts"`
	Conflicts    []model.ConflictDetail `json:"conflicts"`
	Draft        shootResponse          `json:"draft"`
}

// unifiedEventResponse は統合タイムラインの1イベント。
type unifiedEventResponse struct {
	Kind      string    `json:"kind"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	Shoot    *shootEventDetailResponse    `json:"shoot,omitempty"`
	Calendar *calendarEventDetailResponse `json:"calendar_event,omitempty"`
}

type shootEventDetailResponse struct {
	ShootID         int64  `json:"shoot_id"`
	Title           string `json:"title"`
	ClientName      string `json:"client_name"`
	DurationMinutes int    `json:"duration_minutes"`
	Status          string `json:"status"`
	PostIdeaCount   int    `json:"post_idea_count"`
}

type calendarEventDetailResponse struct {
	ExternalEventID  string   `json:"external_event_id"`
	Title            string   `json:"title"`
	Attendees        []string `json:"attendees,omitempty"`
	IsRecurring      bool     `json:"is_recurring"`
	ConflictDetected bool     `json:"conflict_detected"`
	LinkedShootID    *int64   `json:"linked_shoot_id,omitempty"`
}

// timelineResponse は統合タイムラインのレスポンス。
type timelineResponse struct {
	Events        []unifiedEventResponse `json:"events"`
	ShootCount    int                    `json:"shoot_count"`
	CalendarCount int                    `json:"calendar_count"`
	Start         time.Time              `json:"start"`
	End           time.Time              `json:"end"`
}

// ListShoots は統合タイムラインを取得する。
// GET /api/shoots?client_id=&filter=shoots|calendar|all&start_date=&end_date=
func (h *ShootHandler) ListShoots(w http.ResponseWriter, r *http.Request) {
	owner, err := middleware.OwnerFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	opts := timeline.ListOptions{
		Filter: model.TimelineFilter(r.URL.Query().Get("filter")),
	}

	if raw := r.URL.Query().Get("client_id"); raw != "" {
		clientID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("client_idは整数で指定してください"))
			return
		}
		opts.ClientID = &clientID
	}

	opts.Start, opts.End, err = h.parseDateWindow(r)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("日付はYYYY-MM-DD形式で指定してください"))
		return
	}

	result, err := h.timeline.List(r.Context(), owner, opts)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toTimelineResponse(result))
}

// CreateShoot は撮影のスケジューリングを処理する。
// POST /api/shoots
//
// 衝突が検出された場合は409で衝突一覧と未永続の下書きを返す。
// force_createが指定された場合は衝突確認をスキップする。
func (h *ShootHandler) CreateShoot(w http.ResponseWriter, r *http.Request) {
	owner, err := middleware.OwnerFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req createShootRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	result, err := h.scheduler.Schedule(r.Context(), owner, shoot.ScheduleInput{
		Title:           req.Title,
		ClientName:      req.ClientName,
		Date:            req.Date,
		Time:            req.Time,
		DurationMinutes: req.DurationMinutes,
		Location:        req.Location,
		Notes:           req.Notes,
		ForceCreate:     req.ForceCreate,
		SkipCalendar:    req.SkipCalendar,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if result.HasConflicts {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(conflictResponse{
			HasConflicts: true,
			Conflicts:    result.Conflicts,
			Draft:        toShootResponse(result.Shoot),
		})
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(createShootResponse{
		HasConflicts: false,
		Shoot:        toShootResponse(result.Shoot),
		Message:      result.Message,
	})
}

// GetShoot は撮影詳細を取得する。
// GET /api/shoots/{id}
func (h *ShootHandler) GetShoot(w http.ResponseWriter, r *http.Request) {
	owner, err := middleware.OwnerFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	id, ok := parseShootID(w, r)
	if !ok {
		return
	}

	found, err := h.scheduler.GetShoot(r.Context(), owner, id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toShootResponse(found))
}

// UpdateShootStatus は撮影のステータス遷移を処理する。
// PUT /api/shoots/{id}/status
func (h *ShootHandler) UpdateShootStatus(w http.ResponseWriter, r *http.Request) {
	owner, err := middleware.OwnerFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	id, ok := parseShootID(w, r)
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	updated, err := h.scheduler.UpdateStatus(r.Context(), owner, id, model.ShootStatus(req.Status))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toShootResponse(updated))
}

// parseDateWindow はstart_date / end_dateクエリパラメータを時間窓に変換する。
// end_dateは表示に含める最終日で、半開区間の終端は翌日0時になる。
// 未指定のパラメータはゼロ値のまま返し、サービス側のデフォルト窓に委ねる。
func (h *ShootHandler) parseDateWindow(r *http.Request) (time.Time, time.Time, error) {
	var start, end time.Time

	if raw := r.URL.Query().Get("start_date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, h.location)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = parsed
	}
	if raw := r.URL.Query().Get("end_date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, h.location)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = parsed.AddDate(0, 0, 1)
	}

	return start, end, nil
}

// parseShootID はURLパスの撮影IDを解析する。不正な場合は400を書き込みfalseを返す。
func parseShootID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("撮影IDは整数で指定してください"))
		return 0, false
	}
	return id, true
}

// writeUnauthorized は401の統一レスポンスを書き込む。
func writeUnauthorized(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusUnauthorized, &model.APIError{
		Code:     "UNAUTHORIZED",
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "認証プロキシ経由でアクセスしてください。",
	})
}

// toShootResponse はShootをAPIレスポンスに変換する。
func toShootResponse(s *model.Shoot) shootResponse {
	return shootResponse{
		ID:              s.ID,
		Title:           s.Title,
		ClientID:        s.ClientID,
		ScheduledAt:     s.ScheduledAt,
		EndAt:           s.EndAt(),
		DurationMinutes: s.DurationMinutes,
		Location:        s.Location,
		Status:          string(s.Status),
		Notes:           s.Notes,
		ExternalEventID: s.ExternalEventID,
		SyncStatus:      string(s.SyncStatus),
		LastSyncAt:      s.LastSyncAt,
		SyncError:       s.SyncError,
	}
}

// toTimelineResponse はTimelineをAPIレスポンスに変換する。
func toTimelineResponse(t *timeline.Timeline) timelineResponse {
	events := make([]unifiedEventResponse, 0, len(t.Events))
	for _, event := range t.Events {
		resp := unifiedEventResponse{
			Kind:      string(event.Kind),
			StartTime: event.StartTime,
			EndTime:   event.EndTime,
		}
		if event.Shoot != nil {
			resp.Shoot = &shootEventDetailResponse{
				ShootID:         event.Shoot.ShootID,
				Title:           event.Shoot.Title,
				ClientName:      event.Shoot.ClientName,
				DurationMinutes: event.Shoot.DurationMinutes,
				Status:          string(event.Shoot.Status),
				PostIdeaCount:   event.Shoot.PostIdeaCount,
			}
		}
		if event.Calendar != nil {
			resp.Calendar = &calendarEventDetailResponse{
				ExternalEventID:  event.Calendar.ExternalEventID,
				Title:            event.Calendar.Title,
				Attendees:        event.Calendar.Attendees,
				IsRecurring:      event.Calendar.IsRecurring,
				ConflictDetected: event.Calendar.ConflictDetected,
				LinkedShootID:    event.Calendar.LinkedShootID,
			}
		}
		events = append(events, resp)
	}

	return timelineResponse{
		Events:        events,
		ShootCount:    t.ShootCount,
		CalendarCount: t.CalendarCount,
		Start:         t.Start,
		End:           t.End,
	}
}
