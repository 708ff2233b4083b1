package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	verifactuapp "github.com/invoices/backend/internal/application/verifactu"
	"github.com/invoices/backend/internal/domain/invoicing"
	"github.com/invoices/backend/internal/infrastructure/auth"
	"github.com/invoices/backend/internal/infrastructure/config"
	"github.com/invoices/backend/internal/interfaces/http/handler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMetrics struct{}

func (stubMetrics) Snapshot(context.Context) (*verifactuapp.Snapshot, error) {
	return &verifactuapp.Snapshot{Pending: 2}, nil
}

func (stubMetrics) TopErrors(context.Context, int) ([]verifactuapp.ErrorStat, error) {
	return nil, nil
}

func (stubMetrics) DailyTrend(context.Context, int) ([]verifactuapp.TrendPoint, error) {
	return nil, nil
}

func (stubMetrics) BatchSummary(context.Context) (*verifactuapp.BatchSummary, error) {
	return &verifactuapp.BatchSummary{}, nil
}

type stubWebhook struct{}

func (stubWebhook) Handle(_ context.Context, _ []byte, _, _ string) (*verifactuapp.WebhookResult, error) {
	return &verifactuapp.WebhookResult{InvoiceID: uuid.New(), Status: invoicing.StatusAccepted}, nil
}

func testEngineConfig(secret string) EngineConfig {
	return EngineConfig{
		App: config.AppConfig{Name: "verifactu", Env: "test"},
		HTTP: config.HTTPConfig{
			MaxBodySize:          1 << 20,
			WebhookMaxBody:       64,
			WebhookRatePerSecond: 100,
			WebhookBurst:         100,
			CORSAllowOrigins:     []string{"https://dashboard.example.com"},
			CORSAllowMethods:     []string{http.MethodGet, http.MethodOptions},
			CORSAllowHeaders:     []string{"Authorization", "Content-Type"},
		},
		JWT:    auth.NewJWTService(config.JWTConfig{Secret: secret, Issuer: "verifactu", TokenTTL: time.Hour}),
		Scrape: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics\n")) }),
	}
}

func testHandlers() Handlers {
	return Handlers{
		Webhook: handler.NewWebhookHandler(stubWebhook{}, nil),
		Metrics: handler.NewMetricsHandler(stubMetrics{}),
		Health:  handler.NewHealthHandler(nil),
	}
}

func do(t *testing.T, secret string, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	engine, err := NewEngine(testEngineConfig(secret), testHandlers())
	require.NoError(t, err)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestNewEngine_PublicRoutes(t *testing.T) {
	w := do(t, "", httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = do(t, "", httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "# metrics")
}

func TestNewEngine_WebhookBodyLimit(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/verifactu", strings.NewReader(strings.Repeat("x", 65)))
	w := do(t, "", req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/verifactu", strings.NewReader(`{}`))
	w = do(t, "", req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewEngine_OperatorAuth(t *testing.T) {
	const secret = "0123456789abcdef0123456789abcdef"
	jwtSvc := auth.NewJWTService(config.JWTConfig{Secret: secret, Issuer: "verifactu", TokenTTL: time.Hour})
	readToken, _, err := jwtSvc.Issue("ops@example.com", auth.ScopeRead)
	require.NoError(t, err)
	retryToken, _, err := jwtSvc.Issue("ops@example.com", auth.ScopeRetry)
	require.NoError(t, err)

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"garbage token", "not-a-jwt", http.StatusUnauthorized},
		{"wrong scope", retryToken, http.StatusForbidden},
		{"read scope", readToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/verifactu/metrics", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := do(t, secret, req)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestNewEngine_OperatorRoutesOpenWithoutSecret(t *testing.T) {
	w := do(t, "", httptest.NewRequest(http.MethodGet, "/api/v1/verifactu/metrics/batch", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewEngine_CORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/verifactu/metrics", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	w := do(t, "", req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://dashboard.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestOperatorRoutes_Listing(t *testing.T) {
	g := OperatorRoutes(testEngineConfig(""), Handlers{
		Verifactu: handler.NewVerifactuHandler(nil, nil, nil, nil),
		Invoices:  handler.NewInvoiceListHandler(nil),
	}, nil)

	var paths []string
	for _, r := range g.Routes() {
		paths = append(paths, r.Method+" "+r.Path)
	}
	assert.Contains(t, paths, "POST /verifactu/invoices/:id/submit")
	assert.Contains(t, paths, "POST /verifactu/invoices/:id/retry")
	assert.Contains(t, paths, "GET /verifactu/companies/:id/chain/verify")
	assert.Contains(t, paths, "GET /verifactu/invoices")
}
