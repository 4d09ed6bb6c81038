package repository

import (
	"testing"

	"github.com/hitoshi/shootman/internal/model"
)

// PostgresIntegrationRepoはIntegrationRepositoryインターフェースを満たすことを検証
func TestPostgresIntegrationRepo_ImplementsInterface(t *testing.T) {
	var _ IntegrationRepository = (*PostgresIntegrationRepo)(nil)
}

// NewPostgresIntegrationRepoが正しく初期化されることを検証
func TestNewPostgresIntegrationRepo_Initializes(t *testing.T) {
	repo := NewPostgresIntegrationRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// CalendarIntegrationモデルがプロバイダ種別ごとに正しく構築されることを検証
func TestPostgresIntegrationRepo_IntegrationModel_Fields(t *testing.T) {
	rest := &model.CalendarIntegration{
		ID:          "integ-1",
		OwnerEmail:  "alice@example.com",
		Provider:    model.IntegrationProviderREST,
		CalendarID:  "primary",
		AccessToken: "token-abc",
	}
	if rest.Provider != model.IntegrationProviderREST {
		t.Errorf("provider = %q, want %q", rest.Provider, model.IntegrationProviderREST)
	}
	if rest.FeedURL != "" {
		t.Error("feed_url should be empty for REST integrations")
	}

	ics := &model.CalendarIntegration{
		ID:         "integ-2",
		OwnerEmail: "bob@example.com",
		Provider:   model.IntegrationProviderICS,
		CalendarID: "team",
		FeedURL:    "https://example.com/cal.ics",
	}
	if ics.Provider != model.IntegrationProviderICS {
		t.Errorf("provider = %q, want %q", ics.Provider, model.IntegrationProviderICS)
	}
	if ics.AccessToken != "" {
		t.Error("access_token should be empty for ICS integrations")
	}
}
