package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/request-engine/internal/api/http/handlers"
	"github.com/spec-kit/request-engine/internal/auth"
	"github.com/spec-kit/request-engine/internal/config"
	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/expr"
	"github.com/spec-kit/request-engine/internal/observability"
	"github.com/spec-kit/request-engine/internal/persistence"
	"github.com/spec-kit/request-engine/internal/repository/memory"
	"github.com/spec-kit/request-engine/internal/service"
)

const password = "correct horse"

type apiClient struct {
	t   *testing.T
	app *fiber.App
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (c *apiClient) do(method, path, token string, body any) (int, envelope) {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.app.Test(req, -1)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	if len(raw) > 0 {
		require.NoError(c.t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

func (c *apiClient) login(email string) string {
	c.t.Helper()
	status, env := c.do(fiber.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(c.t, nethttp.StatusOK, status)
	var data struct {
		Auth struct {
			Token string `json:"token"`
		} `json:"auth"`
	}
	require.NoError(c.t, json.Unmarshal(env.Data, &data))
	return data.Auth.Token
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()
	store := memory.New()
	hash, err := auth.HashPassword(password, 4)
	require.NoError(t, err)
	for _, m := range []domain.Member{
		{ID: "requester", Email: "requester@example.com", Role: domain.RoleUser},
		{ID: "alice", Email: "alice@example.com", Role: domain.RoleManager, JobRole: "it_support"},
		{ID: "bob", Email: "bob@example.com", Role: domain.RoleManager},
		{ID: "admin", Email: "admin@example.com", Role: domain.RoleAdmin},
	} {
		m.OrganizationID = "org-1"
		m.PasswordHash = hash
		m.Active = true
		require.NoError(t, store.Members().Create(context.Background(), &m))
	}

	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	notifier := service.NewEventNotifier(nil, logger, nil)
	assignment := service.NewAssignmentService(service.AssignmentDependencies{
		RequestRepo:  store.Requests(),
		TicketRepo:   store.Tickets(),
		ActivityRepo: store.Activity(),
		Matcher:      service.NewRuleMatcher(store.Rules(), logger, metrics, expr.Limits{}),
		Resolver:     service.NewEligibilityResolver(store.Members(), logger),
		Selector:     service.NewStrategySelector(store.Requests()),
		Notifier:     notifier,
		Metrics:      metrics,
	})
	authService := service.NewAuthService(config.AuthConfig{JWTSecret: "test-secret", AccessTokenTTLMinutes: 5, BcryptCost: 4}, store.Members())

	requests := service.NewRequestService(service.RequestDependencies{
		RequestRepo:  store.Requests(),
		ActivityRepo: store.Activity(),
		Assignment:   assignment,
		Notifier:     notifier,
		Metrics:      metrics,
	})

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logger)})
	RegisterMiddlewares(app, logger, metrics, 0)
	RegisterRoutes(app, RouteConfig{
		Health: handlers.NewHealthHandler("request-engine", "test", nil, &persistence.Redis{}),
		Auth:   handlers.NewAuthHandler(authService),
		Requests: handlers.NewRequestsHandler(
			requests,
			service.NewAcceptanceService(service.AcceptanceDependencies{
				RequestRepo:  store.Requests(),
				ActivityRepo: store.Activity(),
				Notifier:     notifier,
				Metrics:      metrics,
			}),
		),
		Rules:          handlers.NewRulesHandler(service.NewRuleService(store.Rules(), logger)),
		Analytics:      handlers.NewAnalyticsHandler(requests),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager(), store.Members()),
		Metrics:        metrics,
	})
	return &apiClient{t: t, app: app}
}

func TestAuthRequired(t *testing.T) {
	api := newTestAPI(t)

	status, env := api.do(fiber.MethodGet, "/requests/whatever", "", nil)
	assert.Equal(t, nethttp.StatusUnauthorized, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	status, _ = api.do(fiber.MethodPost, "/auth/login", "", map[string]string{"email": "alice@example.com", "password": "nope"})
	assert.Equal(t, nethttp.StatusUnauthorized, status)

	status, _ = api.do(fiber.MethodGet, "/requests/whatever", "not-a-token", nil)
	assert.Equal(t, nethttp.StatusUnauthorized, status)
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)

	status, _ := api.do(fiber.MethodGet, "/health/live", "", nil)
	assert.Equal(t, nethttp.StatusOK, status)

	req := httptest.NewRequest(fiber.MethodGet, "/health/ready", nil)
	resp, err := api.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(fiber.MethodGet, "/metrics", nil)
	resp, err = api.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
}

func TestAcceptRaceOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	adminToken := api.login("admin@example.com")
	aliceToken := api.login("alice@example.com")
	bobToken := api.login("bob@example.com")
	requesterToken := api.login("requester@example.com")

	rule := map[string]any{
		"rule_name":  "managers",
		"rule_type":  "role_based",
		"conditions": map[string]any{"roles": []string{"manager"}},
	}
	status, _ := api.do(fiber.MethodPost, "/request-types/it/rules", aliceToken, rule)
	assert.Equal(t, nethttp.StatusForbidden, status)
	status, _ = api.do(fiber.MethodPost, "/request-types/it/rules", adminToken, rule)
	require.Equal(t, nethttp.StatusCreated, status)

	status, env := api.do(fiber.MethodPost, "/requests", requesterToken, map[string]any{
		"request_type_id": "it",
		"title":           "VPN broken",
		"priority":        "high",
	})
	require.Equal(t, nethttp.StatusCreated, status)
	var created struct {
		ID         string   `json:"id"`
		Status     string   `json:"status"`
		AssignedTo []string `json:"assigned_to"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "under_review", created.Status)
	assert.Equal(t, []string{"alice", "bob"}, created.AssignedTo)

	status, _ = api.do(fiber.MethodPost, "/requests/"+created.ID+"/accept", requesterToken, nil)
	assert.Equal(t, nethttp.StatusForbidden, status)

	status, _ = api.do(fiber.MethodPost, "/requests/"+created.ID+"/accept", aliceToken, nil)
	require.Equal(t, nethttp.StatusOK, status)

	status, env = api.do(fiber.MethodPost, "/requests/"+created.ID+"/accept", bobToken, nil)
	assert.Equal(t, nethttp.StatusConflict, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "ALREADY_ACCEPTED", env.Error.Code)
	assert.Equal(t, "alice", env.Error.Details["accepted_by"])

	status, env = api.do(fiber.MethodPost, "/requests/"+created.ID+"/complete", bobToken, map[string]string{"notes": "x"})
	assert.Equal(t, nethttp.StatusForbidden, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_ACCEPTOR", env.Error.Code)

	status, _ = api.do(fiber.MethodPost, "/requests/"+created.ID+"/complete", aliceToken, map[string]string{"notes": "reset the token"})
	assert.Equal(t, nethttp.StatusOK, status)

	status, env = api.do(fiber.MethodGet, "/requests/"+created.ID+"/timeline", requesterToken, nil)
	require.Equal(t, nethttp.StatusOK, status)
	var timeline []struct {
		UpdateType string `json:"update_type"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &timeline))
	var types []string
	for _, e := range timeline {
		types = append(types, e.UpdateType)
	}
	assert.Equal(t, []string{"created", "assigned", "accepted", "completed"}, types)

	status, env = api.do(fiber.MethodGet, "/requests/missing", aliceToken, nil)
	assert.Equal(t, nethttp.StatusNotFound, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestAssignmentAnalyticsOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	adminToken := api.login("admin@example.com")
	aliceToken := api.login("alice@example.com")
	requesterToken := api.login("requester@example.com")

	status, _ := api.do(fiber.MethodPost, "/request-types/it/rules", adminToken, map[string]any{
		"rule_name":  "managers",
		"rule_type":  "role_based",
		"conditions": map[string]any{"roles": []string{"manager"}},
	})
	require.Equal(t, nethttp.StatusCreated, status)

	var ids []string
	for _, title := range []string{"VPN broken", "Printer jam"} {
		status, env := api.do(fiber.MethodPost, "/requests", requesterToken, map[string]any{
			"request_type_id": "it",
			"title":           title,
			"priority":        "medium",
		})
		require.Equal(t, nethttp.StatusCreated, status)
		var created struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &created))
		ids = append(ids, created.ID)
	}
	status, _ = api.do(fiber.MethodPost, "/requests/"+ids[0]+"/accept", aliceToken, nil)
	require.Equal(t, nethttp.StatusOK, status)

	status, env := api.do(fiber.MethodGet, "/analytics/assignments", aliceToken, nil)
	assert.Equal(t, nethttp.StatusForbidden, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	status, env = api.do(fiber.MethodGet, "/analytics/assignments?days=1000", adminToken, nil)
	assert.Equal(t, nethttp.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)

	status, env = api.do(fiber.MethodGet, "/analytics/assignments", adminToken, nil)
	require.Equal(t, nethttp.StatusOK, status)
	var stats struct {
		TotalAssignments int `json:"total_assignments"`
		AcceptedCount    int `json:"accepted_count"`
		JobRoleBreakdown []struct {
			JobRole         string `json:"job_role"`
			AssignmentCount int    `json:"assignment_count"`
			AcceptedCount   int    `json:"accepted_count"`
		} `json:"job_role_breakdown"`
		Trend []struct {
			Assignments int `json:"assignments"`
		} `json:"trend"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 2, stats.TotalAssignments)
	assert.Equal(t, 1, stats.AcceptedCount)
	require.Len(t, stats.JobRoleBreakdown, 2)
	roles := map[string][2]int{}
	for _, r := range stats.JobRoleBreakdown {
		roles[r.JobRole] = [2]int{r.AssignmentCount, r.AcceptedCount}
	}
	assert.Equal(t, map[string][2]int{"it_support": {1, 1}, "unspecified": {1, 0}}, roles)

	require.Len(t, stats.Trend, domain.AssignmentTrendDays)
	var trendTotal int
	for _, p := range stats.Trend {
		trendTotal += p.Assignments
	}
	assert.Equal(t, 2, trendTotal)
}
