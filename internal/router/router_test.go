package router_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/doctor-branch-service/internal/directory"
	associationHandler "github.com/jwalitptl/doctor-branch-service/internal/handler/association"
	"github.com/jwalitptl/doctor-branch-service/internal/handler/health"
	softdeleteHandler "github.com/jwalitptl/doctor-branch-service/internal/handler/softdelete"
	transferHandler "github.com/jwalitptl/doctor-branch-service/internal/handler/transfer"
	"github.com/jwalitptl/doctor-branch-service/internal/middleware"
	"github.com/jwalitptl/doctor-branch-service/internal/model"
	"github.com/jwalitptl/doctor-branch-service/internal/repository/memory"
	"github.com/jwalitptl/doctor-branch-service/internal/router"
	"github.com/jwalitptl/doctor-branch-service/internal/service/access"
	"github.com/jwalitptl/doctor-branch-service/internal/service/association"
	"github.com/jwalitptl/doctor-branch-service/internal/service/softdelete"
	"github.com/jwalitptl/doctor-branch-service/internal/service/transfer"
	"github.com/jwalitptl/doctor-branch-service/internal/testutil"
	"github.com/jwalitptl/doctor-branch-service/pkg/auth"
	"github.com/jwalitptl/doctor-branch-service/pkg/logger"
	"github.com/jwalitptl/doctor-branch-service/pkg/metrics"
	"github.com/jwalitptl/doctor-branch-service/pkg/validator"
)

type testResponse struct {
	Code    int             `json:"-"`
	Status  string          `json:"status"`
	Message string          `json:"message"`
	ErrCode string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

func (r testResponse) IsSuccess() bool {
	return r.Status == "success"
}

func (r testResponse) decode(t *testing.T, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Data, v))
}

type testAPI struct {
	engine *gin.Engine
	store  *memory.Store
	tokens *auth.JWT
	admin  string
}

func newTestAPI(t *testing.T, branches ...uuid.UUID) *testAPI {
	t.Helper()
	require.NoError(t, validator.RegisterGin())

	store := memory.NewStore()
	dir := directory.NewStatic(branches...)
	clock := testutil.NewClock()
	log := logger.Nop()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg, "test", "api")

	assocs := association.NewService(store, dir, log, m, association.WithClock(clock.Now))
	branchStatus := softdelete.NewCoordinator(store, log, m, softdelete.WithClock(clock.Now))
	transfers := transfer.NewCoordinator(store, dir, access.NewClaimsAuthorizer(), log, m, transfer.WithClock(clock.Now))

	tokens := auth.NewJWT("test-secret", "doctor-branch-service")
	ah := associationHandler.NewHandler(assocs)
	r := router.NewRouter(middleware.NewAuthMiddleware(tokens), router.Handlers{
		Health: health.NewHandler(reg, nil),
		API:    []router.Handler{ah, softdeleteHandler.NewHandler(branchStatus), transferHandler.NewHandler(transfers)},
		Admin:  []router.AdminHandler{ah},
	}, log, m, router.RouterConfig{CORSConfig: middleware.DefaultCORSConfig(), Mode: gin.TestMode})
	r.Setup()

	admin, err := tokens.Issue(model.Actor{ID: "admin-1", Roles: []string{model.RoleAdmin}}, time.Hour)
	require.NoError(t, err)

	return &testAPI{engine: r.Engine(), store: store, tokens: tokens, admin: admin}
}

func (a *testAPI) makeRequest(t *testing.T, method, path string, body interface{}, token string) testResponse {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	resp := testResponse{Code: w.Code}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return resp
}

func TestAssociationFlow(t *testing.T) {
	x, y, z := uuid.New(), uuid.New(), uuid.New()
	api := newTestAPI(t, x, y, z)
	d := testutil.SeedDoctor(api.store, "Dr. Flow")

	resp := api.makeRequest(t, http.MethodPost, fmt.Sprintf("/doctors/%s/branches", d), map[string]interface{}{
		"branch_id":     x,
		"practice_role": "CONSULTANT",
	}, api.admin)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Message)
	assert.True(t, resp.IsSuccess())

	resp = api.makeRequest(t, http.MethodPost, fmt.Sprintf("/doctors/%s/branches", d), map[string]interface{}{
		"branch_id":     x,
		"practice_role": "CONSULTANT",
	}, api.admin)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "already associated", resp.ErrCode)

	resp = api.makeRequest(t, http.MethodPost, fmt.Sprintf("/doctors/%s/branches/batch", d), map[string]interface{}{
		"items": []map[string]interface{}{
			{"branch_id": y, "practice_role": "CONSULTANT"},
			{"branch_id": uuid.New(), "practice_role": "RESIDENT"},
		},
	}, api.admin)
	require.Equal(t, http.StatusOK, resp.Code, resp.Message)
	var batch model.BatchResult
	resp.decode(t, &batch)
	assert.Len(t, batch.Added, 1)
	assert.Len(t, batch.Warnings, 1)

	resp = api.makeRequest(t, http.MethodGet, fmt.Sprintf("/doctors/%s/branches/roles/consultant", d), nil, api.admin)
	require.Equal(t, http.StatusOK, resp.Code, resp.Message)
	var byRole model.AssociationPage
	resp.decode(t, &byRole)
	assert.Len(t, byRole.Items, 2)

	resp = api.makeRequest(t, http.MethodGet, fmt.Sprintf("/doctors/%s/branches/roles/surgeon", d), nil, api.admin)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = api.makeRequest(t, http.MethodGet, fmt.Sprintf("/doctors/%s/branches/current", d), nil, api.admin)
	require.Equal(t, http.StatusOK, resp.Code)
	var current model.CurrentBranches
	resp.decode(t, &current)
	assert.True(t, current.IsMultiBranch)
	require.NotNil(t, current.PrimaryBranchID)
	assert.Equal(t, x, *current.PrimaryBranchID)

	resp = api.makeRequest(t, http.MethodPost, fmt.Sprintf("/doctors/%s/transfers", d), map[string]interface{}{
		"source_branch_id": x,
		"target_branch_id": z,
		"transfer_type":    "BRANCH_TRANSFER",
	}, api.admin)
	require.Equal(t, http.StatusOK, resp.Code, resp.Message)
	var result model.TransferResult
	resp.decode(t, &result)
	assert.Equal(t, model.TransferSuccess, result.Status)
	require.NotNil(t, result.RollbackID)
	assert.Equal(t, y, *result.PrimaryBranchID)

	resp = api.makeRequest(t, http.MethodGet, fmt.Sprintf("/doctors/%s/branches?status=inactive", d), nil, api.admin)
	require.Equal(t, http.StatusOK, resp.Code)
	var page model.AssociationPage
	resp.decode(t, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, x, page.Items[0].BranchID)

	resp = api.makeRequest(t, http.MethodPost, fmt.Sprintf("/transfers/rollback/%s", *result.RollbackID), nil, api.admin)
	require.Equal(t, http.StatusOK, resp.Code, resp.Message)

	resp = api.makeRequest(t, http.MethodPost, fmt.Sprintf("/transfers/rollback/%s", *result.RollbackID), nil, api.admin)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	resp = api.makeRequest(t, http.MethodDelete, fmt.Sprintf("/doctors/%s/branches/%s/roles/consultant?reason=left", d, y), nil, api.admin)
	require.Equal(t, http.StatusOK, resp.Code, resp.Message)

	resp = api.makeRequest(t, http.MethodDelete, fmt.Sprintf("/doctors/%s/branches/%s/roles/consultant", d, y), nil, api.admin)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Equal(t, "not associated", resp.ErrCode)

	resp = api.makeRequest(t, http.MethodPost, fmt.Sprintf("/doctors/%s/branches/deactivate", d), map[string]interface{}{
		"branch_ids":           []uuid.UUID{x},
		"reason":               "closing",
		"update_global_status": true,
	}, api.admin)
	require.Equal(t, http.StatusOK, resp.Code, resp.Message)
	var summary model.SoftDeleteSummary
	resp.decode(t, &summary)
	assert.Equal(t, 0, summary.RemainingActiveBranches)
	assert.True(t, summary.GlobalStatusChanged)

	resp = api.makeRequest(t, http.MethodPut, fmt.Sprintf("/doctors/%s/status", d), map[string]interface{}{
		"status": "ACTIVE",
	}, api.admin)
	require.Equal(t, http.StatusOK, resp.Code, resp.Message)

	testutil.RequireInvariants(t, api.store, d)
}

func TestAuthentication(t *testing.T) {
	x := uuid.New()
	api := newTestAPI(t, x)
	d := testutil.SeedDoctor(api.store, "Dr. Auth")
	path := fmt.Sprintf("/doctors/%s/branches/current", d)

	resp := api.makeRequest(t, http.MethodGet, path, nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = api.makeRequest(t, http.MethodGet, path, nil, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	clerk, err := api.tokens.Issue(model.Actor{ID: "clerk", BranchIDs: []uuid.UUID{x}}, time.Hour)
	require.NoError(t, err)
	resp = api.makeRequest(t, http.MethodGet, path, nil, clerk)
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = api.makeRequest(t, http.MethodDelete, fmt.Sprintf("/admin/doctors/%s/associations", d), nil, clerk)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = api.makeRequest(t, http.MethodDelete, fmt.Sprintf("/admin/doctors/%s/associations", d), nil, api.admin)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestValidationErrors(t *testing.T) {
	x := uuid.New()
	api := newTestAPI(t, x)
	d := testutil.SeedDoctor(api.store, "Dr. Valid")

	resp := api.makeRequest(t, http.MethodPost, fmt.Sprintf("/doctors/%s/branches", d), map[string]interface{}{
		"branch_id":     x,
		"practice_role": "JANITOR",
	}, api.admin)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Message, "unknown practice role")

	resp = api.makeRequest(t, http.MethodGet, "/doctors/not-a-uuid/branches", nil, api.admin)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = api.makeRequest(t, http.MethodGet, fmt.Sprintf("/doctors/%s/branches", uuid.New()), nil, api.admin)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = api.makeRequest(t, http.MethodGet, fmt.Sprintf("/doctors/%s/transfers/check", d), nil, api.admin)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.makeRequest(t, http.MethodGet, "/health/live", nil, "")
	assert.Equal(t, http.StatusOK, resp.Code)
	resp = api.makeRequest(t, http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusOK, resp.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/metrics", nil)
	w := httptest.NewRecorder()
	api.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_api_http_requests_total")
}
