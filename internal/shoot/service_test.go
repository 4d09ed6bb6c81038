package shoot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/shootman/internal/calendar"
	"github.com/hitoshi/shootman/internal/model"
)

// --- モック ---

type mockShootRepo struct {
	findByIDFunc func(ctx context.Context, ownerEmail string, id int64) (*model.Shoot, error)

	created         []*model.Shoot
	syncStateUpdate *syncStateCall
	statusUpdates   []model.ShootStatus
}

type syncStateCall struct {
	externalEventID string
	syncStatus      model.SyncStatus
	syncError       string
}

func (m *mockShootRepo) Create(ctx context.Context, shoot *model.Shoot) error {
	shoot.ID = int64(len(m.created) + 1)
	m.created = append(m.created, shoot)
	return nil
}

func (m *mockShootRepo) FindByID(ctx context.Context, ownerEmail string, id int64) (*model.Shoot, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, ownerEmail, id)
	}
	return nil, nil
}

func (m *mockShootRepo) ListByOwner(ctx context.Context, ownerEmail string, clientID *int64, start, end time.Time) ([]*model.Shoot, error) {
	return nil, errors.New("not implemented")
}

func (m *mockShootRepo) UpdateSyncState(ctx context.Context, id int64, externalEventID string, syncStatus model.SyncStatus, lastSyncAt *time.Time, syncError string) error {
	m.syncStateUpdate = &syncStateCall{
		externalEventID: externalEventID,
		syncStatus:      syncStatus,
		syncError:       syncError,
	}
	return nil
}

func (m *mockShootRepo) UpdateStatus(ctx context.Context, id int64, status model.ShootStatus) error {
	m.statusUpdates = append(m.statusUpdates, status)
	return nil
}

func (m *mockShootRepo) ListBySyncStatus(ctx context.Context, ownerEmail string, status model.SyncStatus) ([]*model.Shoot, error) {
	return nil, errors.New("not implemented")
}

type mockClientRepo struct {
	clients map[string]*model.Client
}

func (m *mockClientRepo) FindByName(ctx context.Context, ownerEmail, name string) (*model.Client, error) {
	return m.clients[name], nil
}

func (m *mockClientRepo) FindByID(ctx context.Context, id int64) (*model.Client, error) {
	return nil, errors.New("not implemented")
}

type mockCalendarSync struct {
	conflicts  []model.ConflictDetail
	createErr  error
	externalID string

	checkCalls  int
	createCalls int
}

func (m *mockCalendarSync) CheckConflictsForProposedShoot(ctx context.Context, ownerEmail string, start, end time.Time) ([]model.ConflictDetail, error) {
	m.checkCalls++
	return m.conflicts, nil
}

func (m *mockCalendarSync) CreateExternalEvent(ctx context.Context, ownerEmail string, shoot *model.Shoot) (string, error) {
	m.createCalls++
	if m.createErr != nil {
		return "", m.createErr
	}
	return m.externalID, nil
}

type nopMetrics struct{}

func (nopMetrics) RecordPullSuccess(ownerEmail string)                            {}
func (nopMetrics) RecordPullFailure(ownerEmail string, kind string)               {}
func (nopMetrics) RecordEventsUpserted(count int)                                 {}
func (nopMetrics) RecordEventsPruned(count int)                                   {}
func (nopMetrics) RecordConflictsDetected(count int)                              {}
func (nopMetrics) RecordShootCreated(synced bool)                                 {}
func (nopMetrics) RecordProviderLatency(operation string, duration time.Duration) {}

// --- ヘルパー ---

func newTestService(shootRepo *mockShootRepo, clientRepo *mockClientRepo, calendarSync *mockCalendarSync) *Service {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewService(logger, shootRepo, clientRepo, calendarSync, nopMetrics{}, time.UTC)
}

func validInput() ScheduleInput {
	return ScheduleInput{
		Title:           "商品撮影",
		ClientName:      "アクメ社",
		Date:            "2026-09-15",
		Time:            "13:00",
		DurationMinutes: 90,
		Location:        "スタジオA",
	}
}

func knownClients() *mockClientRepo {
	return &mockClientRepo{clients: map[string]*model.Client{
		"アクメ社": {ID: 5, Name: "アクメ社"},
	}}
}

// --- Schedule ---

func TestSchedule_CreatesAndSyncs(t *testing.T) {
	shootRepo := &mockShootRepo{}
	calendarSync := &mockCalendarSync{externalID: "ext-1"}
	service := newTestService(shootRepo, knownClients(), calendarSync)

	result, err := service.Schedule(context.Background(), "owner@example.com", validInput())
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	if result.HasConflicts {
		t.Error("HasConflicts = true, want false")
	}
	if result.Message != msgCreatedSynced {
		t.Errorf("Message = %s", result.Message)
	}
	if len(shootRepo.created) != 1 {
		t.Fatalf("作成された撮影数 = %d, want 1", len(shootRepo.created))
	}

	created := shootRepo.created[0]
	if created.ClientID != 5 {
		t.Errorf("ClientID = %d, want 5", created.ClientID)
	}
	want := time.Date(2026, 9, 15, 13, 0, 0, 0, time.UTC)
	if !created.ScheduledAt.Equal(want) {
		t.Errorf("ScheduledAt = %v, want %v", created.ScheduledAt, want)
	}
	if created.Status != model.ShootStatusScheduled {
		t.Errorf("Status = %s, want scheduled", created.Status)
	}
	if shootRepo.syncStateUpdate == nil || shootRepo.syncStateUpdate.syncStatus != model.SyncStatusSynced {
		t.Errorf("syncStateUpdate = %+v, want synced", shootRepo.syncStateUpdate)
	}
	if result.Shoot.ExternalEventID != "ext-1" {
		t.Errorf("ExternalEventID = %s, want ext-1", result.Shoot.ExternalEventID)
	}
}

func TestSchedule_SetsCreationTimestamps(t *testing.T) {
	shootRepo := &mockShootRepo{}
	calendarSync := &mockCalendarSync{externalID: "ext-1"}
	service := newTestService(shootRepo, knownClients(), calendarSync)

	before := time.Now()
	if _, err := service.Schedule(context.Background(), "owner@example.com", validInput()); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	after := time.Now()

	if len(shootRepo.created) != 1 {
		t.Fatalf("作成された撮影数 = %d, want 1", len(shootRepo.created))
	}
	created := shootRepo.created[0]
	if created.CreatedAt.Before(before) || created.CreatedAt.After(after) {
		t.Errorf("CreatedAt = %v, want between %v and %v", created.CreatedAt, before, after)
	}
	if created.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set before persisting")
	}
	if !created.UpdatedAt.Equal(created.CreatedAt) {
		t.Errorf("UpdatedAt = %v, want equal to CreatedAt %v", created.UpdatedAt, created.CreatedAt)
	}
}

func TestSchedule_ConflictWritesNothing(t *testing.T) {
	shootRepo := &mockShootRepo{}
	calendarSync := &mockCalendarSync{
		conflicts: []model.ConflictDetail{
			{Title: "定例会議", StartTime: time.Date(2026, 9, 15, 13, 0, 0, 0, time.UTC)},
		},
	}
	service := newTestService(shootRepo, knownClients(), calendarSync)

	result, err := service.Schedule(context.Background(), "owner@example.com", validInput())
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	if !result.HasConflicts {
		t.Fatal("HasConflicts = false, want true")
	}
	if len(result.Conflicts) != 1 || result.Conflicts[0].Title != "定例会議" {
		t.Errorf("Conflicts = %v", result.Conflicts)
	}
	// 衝突拒否時は一切書き込まない
	if len(shootRepo.created) != 0 {
		t.Errorf("作成された撮影数 = %d, want 0", len(shootRepo.created))
	}
	if calendarSync.createCalls != 0 {
		t.Errorf("CreateExternalEvent呼び出し回数 = %d, want 0", calendarSync.createCalls)
	}
	// 下書きは未永続で返される
	if result.Shoot == nil || result.Shoot.ID != 0 {
		t.Errorf("Shoot = %+v, want 未永続の下書き", result.Shoot)
	}
}

func TestSchedule_ForceCreateSkipsConflictCheck(t *testing.T) {
	shootRepo := &mockShootRepo{}
	calendarSync := &mockCalendarSync{
		conflicts:  []model.ConflictDetail{{Title: "定例会議"}},
		externalID: "ext-1",
	}
	service := newTestService(shootRepo, knownClients(), calendarSync)

	input := validInput()
	input.ForceCreate = true
	result, err := service.Schedule(context.Background(), "owner@example.com", input)
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	if result.HasConflicts {
		t.Error("HasConflicts = true, want false")
	}
	if calendarSync.checkCalls != 0 {
		t.Errorf("衝突確認の呼び出し回数 = %d, want 0", calendarSync.checkCalls)
	}
	if len(shootRepo.created) != 1 {
		t.Errorf("作成された撮影数 = %d, want 1", len(shootRepo.created))
	}
}

func TestSchedule_SkipCalendar(t *testing.T) {
	shootRepo := &mockShootRepo{}
	calendarSync := &mockCalendarSync{externalID: "ext-1"}
	service := newTestService(shootRepo, knownClients(), calendarSync)

	input := validInput()
	input.SkipCalendar = true
	result, err := service.Schedule(context.Background(), "owner@example.com", input)
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	if result.Message != msgCreatedNoCalendar {
		t.Errorf("Message = %s", result.Message)
	}
	if calendarSync.createCalls != 0 {
		t.Errorf("CreateExternalEvent呼び出し回数 = %d, want 0", calendarSync.createCalls)
	}
	if result.Shoot.SyncStatus != model.SyncStatusPending {
		t.Errorf("SyncStatus = %s, want pending", result.Shoot.SyncStatus)
	}
}

func TestSchedule_CalendarFailureDoesNotUnwindShoot(t *testing.T) {
	shootRepo := &mockShootRepo{}
	calendarSync := &mockCalendarSync{
		createErr: calendar.NewProviderError(calendar.ErrorKindAuthExpired, errors.New("token expired")),
	}
	service := newTestService(shootRepo, knownClients(), calendarSync)

	result, err := service.Schedule(context.Background(), "owner@example.com", validInput())
	if err != nil {
		t.Fatalf("Schedule() error = %v, 撮影の作成は成功として返される", err)
	}

	if result.Message != msgCreatedSyncFailed {
		t.Errorf("Message = %s", result.Message)
	}
	if len(shootRepo.created) != 1 {
		t.Errorf("作成された撮影数 = %d, want 1", len(shootRepo.created))
	}
	if shootRepo.syncStateUpdate == nil || shootRepo.syncStateUpdate.syncStatus != model.SyncStatusError {
		t.Errorf("syncStateUpdate = %+v, want error", shootRepo.syncStateUpdate)
	}
	if shootRepo.syncStateUpdate.syncError == "" {
		t.Error("sync_errorに失敗理由が記録されていない")
	}
	if result.Shoot.SyncStatus != model.SyncStatusError {
		t.Errorf("SyncStatus = %s, want error", result.Shoot.SyncStatus)
	}
}

func TestSchedule_NoIntegrationIsNotAnError(t *testing.T) {
	shootRepo := &mockShootRepo{}
	calendarSync := &mockCalendarSync{createErr: model.NewIntegrationNotFoundError()}
	service := newTestService(shootRepo, knownClients(), calendarSync)

	result, err := service.Schedule(context.Background(), "owner@example.com", validInput())
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	if result.Message != msgCreatedNoCalendar {
		t.Errorf("Message = %s", result.Message)
	}
	// 連携未接続はエラー状態にしない
	if shootRepo.syncStateUpdate != nil {
		t.Errorf("syncStateUpdate = %+v, want nil", shootRepo.syncStateUpdate)
	}
}

func TestSchedule_ClientNotFound(t *testing.T) {
	service := newTestService(&mockShootRepo{}, &mockClientRepo{clients: map[string]*model.Client{}}, &mockCalendarSync{})

	_, err := service.Schedule(context.Background(), "owner@example.com", validInput())

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeClientNotFound {
		t.Errorf("error = %v, want CLIENT_NOT_FOUND", err)
	}
}

func TestSchedule_Validation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(input *ScheduleInput)
	}{
		{"タイトルが空", func(input *ScheduleInput) { input.Title = "" }},
		{"クライアント名が空", func(input *ScheduleInput) { input.ClientName = "" }},
		{"所要時間がゼロ", func(input *ScheduleInput) { input.DurationMinutes = 0 }},
		{"所要時間が負", func(input *ScheduleInput) { input.DurationMinutes = -30 }},
		{"場所が空", func(input *ScheduleInput) { input.Location = "" }},
		{"日付の形式が不正", func(input *ScheduleInput) { input.Date = "15/09/2026" }},
		{"時刻の形式が不正", func(input *ScheduleInput) { input.Time = "1pm" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shootRepo := &mockShootRepo{}
			service := newTestService(shootRepo, knownClients(), &mockCalendarSync{})

			input := validInput()
			tt.modify(&input)

			_, err := service.Schedule(context.Background(), "owner@example.com", input)

			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidInput {
				t.Errorf("error = %v, want INVALID_INPUT", err)
			}
			if len(shootRepo.created) != 0 {
				t.Errorf("バリデーション失敗時に撮影が作成された")
			}
		})
	}
}

func TestSchedule_ParsesInConfiguredTimezone(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	shootRepo := &mockShootRepo{}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	service := NewService(logger, shootRepo, knownClients(), &mockCalendarSync{externalID: "ext-1"}, nopMetrics{}, tokyo)

	if _, err := service.Schedule(context.Background(), "owner@example.com", validInput()); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	want := time.Date(2026, 9, 15, 13, 0, 0, 0, tokyo)
	if !shootRepo.created[0].ScheduledAt.Equal(want) {
		t.Errorf("ScheduledAt = %v, want %v", shootRepo.created[0].ScheduledAt, want)
	}
}

// --- UpdateStatus ---

func TestUpdateStatus(t *testing.T) {
	tests := []struct {
		name     string
		current  model.ShootStatus
		next     model.ShootStatus
		wantCode string
	}{
		{"scheduledからactive", model.ShootStatusScheduled, model.ShootStatusActive, ""},
		{"activeからcompleted", model.ShootStatusActive, model.ShootStatusCompleted, ""},
		{"scheduledからcancelled", model.ShootStatusScheduled, model.ShootStatusCancelled, ""},
		{"activeからcancelled", model.ShootStatusActive, model.ShootStatusCancelled, ""},
		{"scheduledからcompletedは不可", model.ShootStatusScheduled, model.ShootStatusCompleted, model.ErrCodeInvalidTransition},
		{"completedからcancelledは不可", model.ShootStatusCompleted, model.ShootStatusCancelled, model.ErrCodeInvalidTransition},
		{"未知のステータス", model.ShootStatusScheduled, "paused", model.ErrCodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shootRepo := &mockShootRepo{
				findByIDFunc: func(ctx context.Context, ownerEmail string, id int64) (*model.Shoot, error) {
					return &model.Shoot{ID: id, OwnerEmail: ownerEmail, Status: tt.current}, nil
				},
			}
			service := newTestService(shootRepo, knownClients(), &mockCalendarSync{})

			updated, err := service.UpdateStatus(context.Background(), "owner@example.com", 1, tt.next)

			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("UpdateStatus() error = %v", err)
				}
				if updated.Status != tt.next {
					t.Errorf("Status = %s, want %s", updated.Status, tt.next)
				}
				return
			}

			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != tt.wantCode {
				t.Errorf("error = %v, want %s", err, tt.wantCode)
			}
			if len(shootRepo.statusUpdates) != 0 {
				t.Error("不正な遷移でステータスが更新された")
			}
		})
	}
}

func TestUpdateStatus_NotFound(t *testing.T) {
	service := newTestService(&mockShootRepo{}, knownClients(), &mockCalendarSync{})

	_, err := service.UpdateStatus(context.Background(), "owner@example.com", 99, model.ShootStatusActive)

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeShootNotFound {
		t.Errorf("error = %v, want SHOOT_NOT_FOUND", err)
	}
}
