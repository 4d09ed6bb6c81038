package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// TestRESTClient_Pull_Success はイベント一覧の取得とフィールド変換を検証する。
func TestRESTClient_Pull_Success(t *testing.T) {
	var gotPath, gotAuth, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"items": [
				{
					"id": "ext-1",
					"summary": "定例ミーティング",
					"description": "週次の進捗確認",
					"start": "2026-09-15T13:00:00Z",
					"end": "2026-09-15T14:00:00Z",
					"location": "会議室A",
					"attendees": ["alice@example.com", "bob@example.com"],
					"recurring": true,
					"status": "confirmed"
				}
			]
		}`)
	}))
	defer server.Close()

	c := NewRESTClient(server.Client(), testLogger(), server.URL, "token-abc")

	start := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 9, 16, 0, 0, 0, 0, time.UTC)

	events, err := c.Pull(context.Background(), "primary", start, end)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	if gotPath != "/calendars/primary/events" {
		t.Errorf("path = %q, want /calendars/primary/events", gotPath)
	}
	if gotAuth != "Bearer token-abc" {
		t.Errorf("authorization = %q, want Bearer token-abc", gotAuth)
	}
	if !strings.Contains(gotQuery, "singleEvents=true") {
		t.Errorf("query should request expanded instances: %q", gotQuery)
	}

	e := events[0]
	if e.ExternalID != "ext-1" {
		t.Errorf("external_id = %q, want ext-1", e.ExternalID)
	}
	if e.Title != "定例ミーティング" {
		t.Errorf("title = %q, want 定例ミーティング", e.Title)
	}
	if !e.StartTime.Equal(time.Date(2026, 9, 15, 13, 0, 0, 0, time.UTC)) {
		t.Errorf("start_time = %v, want 2026-09-15 13:00 UTC", e.StartTime)
	}
	if !e.IsRecurring {
		t.Error("recurring flag should be carried through")
	}
	if len(e.Attendees) != 2 {
		t.Errorf("attendees = %v, want 2 entries", e.Attendees)
	}
}

// TestRESTClient_Pull_SendsWindowAsRFC3339 は時間窓がUTCのRFC3339で
// クエリに渡されることを検証する。
func TestRESTClient_Pull_SendsWindowAsRFC3339(t *testing.T) {
	var gotMin, gotMax string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMin = r.URL.Query().Get("timeMin")
		gotMax = r.URL.Query().Get("timeMax")
		fmt.Fprint(w, `{"items": []}`)
	}))
	defer server.Close()

	c := NewRESTClient(server.Client(), testLogger(), server.URL, "token-abc")

	jst := time.FixedZone("JST", 9*60*60)
	start := time.Date(2026, 9, 15, 9, 0, 0, 0, jst)
	end := time.Date(2026, 9, 16, 9, 0, 0, 0, jst)

	if _, err := c.Pull(context.Background(), "primary", start, end); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotMin != "2026-09-15T00:00:00Z" {
		t.Errorf("timeMin = %q, want 2026-09-15T00:00:00Z", gotMin)
	}
	if gotMax != "2026-09-16T00:00:00Z" {
		t.Errorf("timeMax = %q, want 2026-09-16T00:00:00Z", gotMax)
	}
}

// TestRESTClient_Pull_EmptyList は空の一覧が空スライスとして返ることを検証する。
func TestRESTClient_Pull_EmptyList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items": []}`)
	}))
	defer server.Close()

	c := NewRESTClient(server.Client(), testLogger(), server.URL, "token-abc")

	events, err := c.Pull(context.Background(), "primary", time.Now(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected 0 events, got %d", len(events))
	}
}

// TestRESTClient_Pull_ErrorStatus はHTTPエラーステータスが失敗種別に
// 分類されることを検証する。
func TestRESTClient_Pull_ErrorStatus(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantKind   ErrorKind
	}{
		{"認証期限切れ", http.StatusUnauthorized, ErrorKindAuthExpired},
		{"権限不足", http.StatusForbidden, ErrorKindPermissionDenied},
		{"レート制限", http.StatusTooManyRequests, ErrorKindRateLimited},
		{"サーバーエラー", http.StatusBadGateway, ErrorKindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			c := NewRESTClient(server.Client(), testLogger(), server.URL, "token-abc")

			_, err := c.Pull(context.Background(), "primary", time.Now(), time.Now().Add(time.Hour))
			if err == nil {
				t.Fatal("expected error")
			}
			if got := KindOf(err); got != tt.wantKind {
				t.Errorf("kind = %q, want %q", got, tt.wantKind)
			}
		})
	}
}

// TestRESTClient_Pull_InvalidJSON は解析できないレスポンスがunknownエラーに
// なることを検証する。
func TestRESTClient_Pull_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json")
	}))
	defer server.Close()

	c := NewRESTClient(server.Client(), testLogger(), server.URL, "token-abc")

	_, err := c.Pull(context.Background(), "primary", time.Now(), time.Now().Add(time.Hour))
	if err == nil {
		t.Fatal("expected error")
	}
	if got := KindOf(err); got != ErrorKindUnknown {
		t.Errorf("kind = %q, want %q", got, ErrorKindUnknown)
	}
}

// TestRESTClient_Create_Success はイベント作成が外部イベントIDを返すことを検証する。
func TestRESTClient_Create_Success(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": "ext-created-1"}`)
	}))
	defer server.Close()

	c := NewRESTClient(server.Client(), testLogger(), server.URL, "token-abc")

	draft := EventDraft{
		Title:       "撮影: 商品撮影",
		Description: "スタジオ撮影",
		StartTime:   time.Date(2026, 9, 15, 13, 0, 0, 0, time.UTC),
		EndTime:     time.Date(2026, 9, 15, 14, 30, 0, 0, time.UTC),
		Location:    "スタジオA",
	}

	id, err := c.Create(context.Background(), "primary", draft)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "ext-created-1" {
		t.Errorf("id = %q, want ext-created-1", id)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %q, want POST", gotMethod)
	}
	if gotPath != "/calendars/primary/events" {
		t.Errorf("path = %q, want /calendars/primary/events", gotPath)
	}
	if gotBody["summary"] != "撮影: 商品撮影" {
		t.Errorf("summary = %v, want 撮影: 商品撮影", gotBody["summary"])
	}
	if gotBody["location"] != "スタジオA" {
		t.Errorf("location = %v, want スタジオA", gotBody["location"])
	}
}

// TestRESTClient_Create_ErrorStatus は作成失敗のステータスが失敗種別に
// 分類されることを検証する。
func TestRESTClient_Create_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	c := NewRESTClient(server.Client(), testLogger(), server.URL, "token-abc")

	draft := EventDraft{
		Title:     "撮影",
		StartTime: time.Now(),
		EndTime:   time.Now().Add(time.Hour),
	}

	_, err := c.Create(context.Background(), "primary", draft)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := KindOf(err); got != ErrorKindPermissionDenied {
		t.Errorf("kind = %q, want %q", got, ErrorKindPermissionDenied)
	}
}

// TestRESTClient_Create_MissingID はIDのない作成レスポンスがエラーになることを検証する。
func TestRESTClient_Create_MissingID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	c := NewRESTClient(server.Client(), testLogger(), server.URL, "token-abc")

	draft := EventDraft{
		Title:     "撮影",
		StartTime: time.Now(),
		EndTime:   time.Now().Add(time.Hour),
	}

	_, err := c.Create(context.Background(), "primary", draft)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := KindOf(err); got != ErrorKindUnknown {
		t.Errorf("kind = %q, want %q", got, ErrorKindUnknown)
	}
}
