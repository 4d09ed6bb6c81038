package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// RESTClient はJSON REST APIプロバイダのクライアント。
// Googleカレンダー互換のAPIを想定し、取得と作成の両方に対応する。
// サーバー側で singleEvents 相当の展開を要求するため、
// 繰り返しイベントも展開済みの単一インスタンスとして返される。
type RESTClient struct {
	httpClient  *http.Client
	logger      *slog.Logger
	baseURL     string
	accessToken string
}

// NewRESTClient はRESTClientの新しいインスタンスを生成する。
// accessTokenは接続済み連携の資格情報で、取得・更新フローは範囲外。
func NewRESTClient(httpClient *http.Client, logger *slog.Logger, baseURL, accessToken string) *RESTClient {
	return &RESTClient{
		httpClient:  httpClient,
		logger:      logger,
		baseURL:     baseURL,
		accessToken: accessToken,
	}
}

// --- ワイヤ型 ---

// wireEvent はプロバイダAPIのイベント表現。
type wireEvent struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Location    string    `json:"location"`
	Attendees   []string  `json:"attendees"`
	Recurring   bool      `json:"recurring"`
	Status      string    `json:"status"`
}

// wireEventList はイベント一覧レスポンス。
type wireEventList struct {
	Items []wireEvent `json:"items"`
}

// wireDraft はイベント作成リクエスト。
type wireDraft struct {
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Location    string    `json:"location,omitempty"`
}

// wireCreated はイベント作成レスポンス。
type wireCreated struct {
	ID string `json:"id"`
}

// Pull は時間窓 [start, end) のイベントを取得する。
func (c *RESTClient) Pull(ctx context.Context, calendarID string, start, end time.Time) ([]Event, error) {
	reqURL := fmt.Sprintf("%s/calendars/%s/events?timeMin=%s&timeMax=%s&singleEvents=true",
		c.baseURL,
		url.PathEscape(calendarID),
		url.QueryEscape(start.UTC().Format(time.RFC3339)),
		url.QueryEscape(end.UTC().Format(time.RFC3339)),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, NewProviderError(ErrorKindUnknown, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("プロバイダAPIの呼び出しに失敗しました",
			slog.String("calendar_id", calendarID),
			slog.String("error", err.Error()),
		)
		// タイムアウトを含むトランスポート層の失敗はunknown扱い
		return nil, NewProviderError(ErrorKindUnknown, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(calendarID, resp.StatusCode)
	}

	var list wireEventList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, NewProviderError(ErrorKindUnknown, fmt.Errorf("レスポンスの解析に失敗しました: %w", err))
	}

	events := make([]Event, 0, len(list.Items))
	for _, item := range list.Items {
		events = append(events, Event{
			ExternalID:  item.ID,
			Title:       item.Summary,
			Description: item.Description,
			StartTime:   item.Start,
			EndTime:     item.End,
			Location:    item.Location,
			Attendees:   item.Attendees,
			IsRecurring: item.Recurring,
			Status:      item.Status,
		})
	}

	return events, nil
}

// Create はイベントを作成し、外部イベントIDを返す。
func (c *RESTClient) Create(ctx context.Context, calendarID string, draft EventDraft) (string, error) {
	body, err := json.Marshal(wireDraft{
		Summary:     draft.Title,
		Description: draft.Description,
		Start:       draft.StartTime,
		End:         draft.EndTime,
		Location:    draft.Location,
	})
	if err != nil {
		return "", NewProviderError(ErrorKindUnknown, fmt.Errorf("リクエストボディの生成に失敗しました: %w", err))
	}

	reqURL := fmt.Sprintf("%s/calendars/%s/events", c.baseURL, url.PathEscape(calendarID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return "", NewProviderError(ErrorKindUnknown, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("プロバイダへのイベント作成に失敗しました",
			slog.String("calendar_id", calendarID),
			slog.String("error", err.Error()),
		)
		return "", NewProviderError(ErrorKindUnknown, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", c.statusError(calendarID, resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", NewProviderError(ErrorKindUnknown, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err))
	}

	var created wireCreated
	if err := json.Unmarshal(respBody, &created); err != nil {
		return "", NewProviderError(ErrorKindUnknown, fmt.Errorf("レスポンスの解析に失敗しました: %w", err))
	}
	if created.ID == "" {
		return "", NewProviderError(ErrorKindUnknown, fmt.Errorf("プロバイダがイベントIDを返しませんでした"))
	}

	return created.ID, nil
}

// statusError はHTTPステータスコードを型付きエラーに変換する。
func (c *RESTClient) statusError(calendarID string, statusCode int) error {
	kind := ClassifyHTTPStatus(statusCode)
	c.logger.Warn("プロバイダAPIがエラーステータスを返しました",
		slog.String("calendar_id", calendarID),
		slog.Int("http_status", statusCode),
		slog.String("kind", string(kind)),
	)
	return NewProviderError(kind, fmt.Errorf("プロバイダがステータス %d を返しました", statusCode))
}

// compile-time interface check
var _ Provider = (*RESTClient)(nil)
