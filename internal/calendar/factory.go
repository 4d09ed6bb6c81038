package calendar

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/shootman/internal/model"
	"github.com/hitoshi/shootman/internal/security"
)

// Factory は連携情報の種別に応じたプロバイダ実装を生成する。
// ICS購読URLはオーナーが入力した外部URLのため、SSRF防止機能付きの
// HTTPクライアントで取得する。REST APIのベースURLは運用者が設定するため
// 通常のクライアントを使用する。
type Factory struct {
	logger      *slog.Logger
	baseURL     string
	maxBodySize int64

	restClient *http.Client
	safeClient *http.Client
}

// NewFactory はFactoryの新しいインスタンスを生成する。
func NewFactory(logger *slog.Logger, guard security.SSRFGuardService, baseURL string, timeout time.Duration, maxBodySize int64) *Factory {
	return &Factory{
		logger:      logger,
		baseURL:     baseURL,
		maxBodySize: maxBodySize,
		restClient:  &http.Client{Timeout: timeout},
		safeClient:  guard.NewSafeClient(timeout),
	}
}

// ProviderFor は連携情報に対応するプロバイダを返す。
func (f *Factory) ProviderFor(integration *model.CalendarIntegration) (Provider, error) {
	switch integration.Provider {
	case model.IntegrationProviderREST:
		if f.baseURL == "" {
			return nil, fmt.Errorf("RESTプロバイダのベースURLが設定されていません")
		}
		return NewRESTClient(f.restClient, f.logger, f.baseURL, integration.AccessToken), nil
	case model.IntegrationProviderICS:
		if integration.FeedURL == "" {
			return nil, fmt.Errorf("ICS連携に購読URLが設定されていません")
		}
		return NewICSProvider(f.safeClient, f.logger, integration.FeedURL, f.maxBodySize), nil
	default:
		return nil, fmt.Errorf("未知のプロバイダ種別です: %s", integration.Provider)
	}
}
