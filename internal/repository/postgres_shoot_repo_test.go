package repository

import (
	"testing"
	"time"

	"github.com/hitoshi/shootman/internal/model"
)

// PostgresShootRepoはShootRepositoryインターフェースを満たすことを検証
func TestPostgresShootRepo_ImplementsInterface(t *testing.T) {
	var _ ShootRepository = (*PostgresShootRepo)(nil)
}

// NewPostgresShootRepoが正しく初期化されることを検証
func TestNewPostgresShootRepo_Initializes(t *testing.T) {
	repo := NewPostgresShootRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// Shootモデルのフィールドが正しく構築されることを検証
func TestPostgresShootRepo_ShootModel_Fields(t *testing.T) {
	scheduledAt := time.Date(2026, 9, 15, 13, 0, 0, 0, time.UTC)
	shoot := &model.Shoot{
		ID:              42,
		OwnerEmail:      "alice@example.com",
		Title:           "商品撮影",
		ClientID:        5,
		ScheduledAt:     scheduledAt,
		DurationMinutes: 90,
		Location:        "スタジオA",
		Status:          model.ShootStatusScheduled,
		SyncStatus:      model.SyncStatusPending,
	}

	if shoot.ID != 42 {
		t.Errorf("shoot.ID = %d, want 42", shoot.ID)
	}
	if shoot.Status != model.ShootStatusScheduled {
		t.Errorf("shoot.Status = %q, want %q", shoot.Status, model.ShootStatusScheduled)
	}
	if !shoot.EndAt().Equal(scheduledAt.Add(90 * time.Minute)) {
		t.Errorf("shoot.EndAt() = %v, want %v", shoot.EndAt(), scheduledAt.Add(90*time.Minute))
	}
}

// Shootの同期属性がnil許容であることを検証
func TestPostgresShootRepo_ShootModel_SyncFieldsOptional(t *testing.T) {
	shoot := &model.Shoot{
		ID:     1,
		Title:  "ロケハン",
		Status: model.ShootStatusScheduled,
	}

	if shoot.LastSyncAt != nil {
		t.Error("last_sync_at should be nil by default")
	}
	if shoot.ExternalEventID != "" {
		t.Error("external_event_id should be empty by default")
	}
	if shoot.SyncError != "" {
		t.Error("sync_error should be empty by default")
	}
}
