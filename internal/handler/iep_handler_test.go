package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/iep-collab-api/internal/dto"
	"github.com/noah-isme/iep-collab-api/internal/middleware"
	"github.com/noah-isme/iep-collab-api/internal/models"
	"github.com/noah-isme/iep-collab-api/internal/service"
	"github.com/noah-isme/iep-collab-api/pkg/approval"
	appErrors "github.com/noah-isme/iep-collab-api/pkg/errors"
)

const testWebhookSecret = "hook-secret"

type approvalAuthorityStub struct{}

func (approvalAuthorityStub) Submit(ctx context.Context, req approval.SubmitRequest) (*approval.SubmitResponse, error) {
	return &approval.SubmitResponse{RequestID: "req-" + req.ResourceID, Status: "pending"}, nil
}

type envelope struct {
	Data  json.RawMessage        `json:"data"`
	Error *appErrors.Error       `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

func buildIEPRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	lifecycle := service.NewLifecycleStateMachine()
	store := service.NewDocumentStore(lifecycle, service.DocumentStoreConfig{})
	coordinator := service.NewApprovalCoordinator(approvalAuthorityStub{}, store, lifecycle, service.ApprovalCoordinatorConfig{
		RequiredRoles: []string{"SPECIAL_ED_COORDINATOR", "PRINCIPAL"},
	}, nil)
	svc := service.NewIEPService(store, lifecycle, coordinator, nil, nil, nil)
	iep := NewIEPHandler(svc, service.NewExportService(svc, nil, nil, nil))
	webhooks := NewWebhookHandler(coordinator, testWebhookSecret, nil)

	router := gin.New()
	router.POST("/webhooks/approvals", webhooks.Approvals)
	api := router.Group("/ieps")
	api.Use(func(c *gin.Context) {
		if user := c.GetHeader("X-Test-User"); user != "" {
			c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: user, Role: models.RoleCaseManager})
		}
		c.Next()
	})
	api.POST("", iep.Create)
	api.GET("", iep.List)
	api.GET("/:id", iep.Get)
	api.PUT("/:id/draft", iep.SaveDraft)
	api.POST("/:id/submit", iep.Submit)
	api.POST("/:id/goals", iep.AddGoal)
	api.POST("/:id/accommodations", iep.AddAccommodation)
	api.POST("/:id/sync", iep.Sync)
	api.POST("/:id/resolve", iep.Resolve)
	api.GET("/:id/history", iep.History)
	api.POST("/:id/archive", iep.Archive)
	api.GET("/:id/export", iep.Export)
	return router
}

func call(t *testing.T, router *gin.Engine, method, path, user string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	var env envelope
	if strings.HasPrefix(recorder.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &env))
	}
	return recorder, env
}

func postWebhook(t *testing.T, router *gin.Engine, deliveryID string, event dto.ApprovalWebhook, secret string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(event)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/approvals", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(DeliveryHeader, deliveryID)
	if secret != "" {
		req.Header.Set(SignatureHeader, SignWebhookBody(secret, body))
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestIEPRoutesLifecycle(t *testing.T) {
	router := buildIEPRouter(t)

	resp, env := call(t, router, http.MethodPost, "/ieps", "cm-1", dto.CreateIEPRequest{StudentID: "S1", StudentName: "Sam Lee", SchoolYear: "2024-2025"})
	require.Equal(t, http.StatusCreated, resp.Code)
	var doc models.IEPDocument
	require.NoError(t, json.Unmarshal(env.Data, &doc))
	base := "/ieps/" + doc.ID

	resp, env = call(t, router, http.MethodPost, base+"/submit", "cm-1", nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	result := env.Meta["result"].(map[string]interface{})
	assert.Equal(t, false, result["success"])
	assert.NotEmpty(t, result["errors"])

	resp, _ = call(t, router, http.MethodPost, base+"/goals", "cm-1", dto.GoalInput{Title: "Reading", Description: "Decode words", MeasurableCriteria: "80%"})
	require.Equal(t, http.StatusCreated, resp.Code)
	resp, _ = call(t, router, http.MethodPost, base+"/accommodations", "cm-1", dto.AccommodationInput{Title: "Extra time", Description: "1.5x"})
	require.Equal(t, http.StatusCreated, resp.Code)

	resp, env = call(t, router, http.MethodPut, base+"/draft", "cm-1", dto.SaveDraftRequest{Operations: []dto.OperationInput{
		{OperationType: models.OperationUpdate, Path: "present_levels", Value: json.RawMessage(`"Reads at grade 2"`)},
		{OperationType: models.OperationUpdate, Path: "goals.4.title", Value: json.RawMessage(`"x"`)},
	}})
	require.Equal(t, http.StatusOK, resp.Code)
	var draft dto.SaveDraftResult
	require.NoError(t, json.Unmarshal(env.Data, &draft))
	assert.Equal(t, []models.OperationType{models.OperationUpdate}, draft.Applied)
	require.Len(t, draft.Failed, 1)
	assert.Equal(t, uint64(4), draft.Version)
	assert.Equal(t, false, env.Meta["result"].(map[string]interface{})["success"])

	resp, env = call(t, router, http.MethodPost, base+"/submit", "cm-1", nil)
	require.Equal(t, http.StatusAccepted, resp.Code)
	var submitted dto.SubmitResult
	require.NoError(t, json.Unmarshal(env.Data, &submitted))
	assert.Equal(t, "req-"+doc.ID, submitted.ApprovalRequestID)

	resp, env = call(t, router, http.MethodPut, base+"/draft", "cm-1", dto.SaveDraftRequest{Operations: []dto.OperationInput{
		{OperationType: models.OperationUpdate, Path: "placement", Value: json.RawMessage(`"resource room"`)},
	}})
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(env.Data, &draft))
	assert.Empty(t, draft.Applied)

	completed := dto.ApprovalWebhook{EventType: dto.ApprovalEventCompleted, Data: dto.ApprovalWebhookData{
		ResourceID: doc.ID,
		Approvals: []dto.ApprovalDecision{
			{ApproverID: "coord-1", ApproverRole: "SPECIAL_ED_COORDINATOR"},
			{ApproverID: "principal-1", ApproverRole: "PRINCIPAL"},
		},
	}}
	require.Equal(t, http.StatusUnauthorized, postWebhook(t, router, "d-1", completed, "wrong").Code)
	require.Equal(t, http.StatusOK, postWebhook(t, router, "d-1", completed, testWebhookSecret).Code)
	require.Equal(t, http.StatusOK, postWebhook(t, router, "d-1", completed, testWebhookSecret).Code)

	resp, env = call(t, router, http.MethodGet, base, "cm-1", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(env.Data, &doc))
	assert.Equal(t, models.IEPStatusApproved, doc.Status)
	assert.Equal(t, 0, doc.PendingApprovalCount)
	assert.Len(t, doc.ApprovalRecords, 2)

	resp, _ = call(t, router, http.MethodGet, base+"/export?format=csv", "cm-1", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "text/csv", resp.Header().Get("Content-Type"))
	assert.Contains(t, resp.Header().Get("Content-Disposition"), ".csv")
	assert.Contains(t, resp.Body.String(), "Goal 1")

	resp, env = call(t, router, http.MethodGet, base+"/history?limit=2", "cm-1", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var history []models.OperationRecord
	require.NoError(t, json.Unmarshal(env.Data, &history))
	assert.Len(t, history, 2)

	resp, env = call(t, router, http.MethodPost, base+"/archive", "admin-1", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(env.Data, &doc))
	assert.Equal(t, models.IEPStatusArchived, doc.Status)

	resp, env = call(t, router, http.MethodGet, "/ieps?studentId=S1", "cm-1", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.EqualValues(t, 1, env.Meta["total"])
}

func TestIEPRoutesSyncAndResolve(t *testing.T) {
	router := buildIEPRouter(t)
	_, env := call(t, router, http.MethodPost, "/ieps", "cm-1", dto.CreateIEPRequest{StudentID: "S1", StudentName: "Sam Lee", SchoolYear: "2024-2025"})
	var doc models.IEPDocument
	require.NoError(t, json.Unmarshal(env.Data, &doc))
	base := "/ieps/" + doc.ID

	records := []models.OperationRecord{
		{Type: models.OperationUpdate, Path: "placement", Value: json.RawMessage(`"general education"`), Author: "remote", Timestamp: doc.CreatedAt.Add(1e9)},
		{Type: models.OperationInsert, Path: "special_factors", Value: json.RawMessage(`"vision"`), Author: "remote", Timestamp: doc.CreatedAt.Add(2e9)},
	}
	resp, env := call(t, router, http.MethodPost, base+"/sync", "cm-1", dto.SyncRequest{Operations: records})
	require.Equal(t, http.StatusOK, resp.Code)
	var result dto.SyncResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.True(t, result.Changed)
	assert.Equal(t, 2, result.Applied)

	_, env = call(t, router, http.MethodPost, base+"/sync", "cm-1", dto.SyncRequest{Operations: records})
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.False(t, result.Changed)
	assert.Equal(t, 2, result.Skipped)

	resp, _ = call(t, router, http.MethodPost, base+"/resolve", "cm-1", nil)
	assert.Equal(t, http.StatusNoContent, resp.Code)
	resp, _ = call(t, router, http.MethodPost, "/ieps/missing/resolve", "cm-1", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestIEPRoutesRejectBadRequests(t *testing.T) {
	router := buildIEPRouter(t)

	cases := []struct {
		method, path, user string
		body               interface{}
		want               int
	}{
		{http.MethodPost, "/ieps", "", dto.CreateIEPRequest{StudentID: "S1"}, http.StatusUnauthorized},
		{http.MethodPost, "/ieps", "cm-1", dto.CreateIEPRequest{StudentID: "S1"}, http.StatusBadRequest},
		{http.MethodGet, "/ieps/missing", "cm-1", nil, http.StatusNotFound},
		{http.MethodPut, "/ieps/missing/draft", "cm-1", dto.SaveDraftRequest{}, http.StatusNotFound},
		{http.MethodPost, "/ieps/missing/submit", "cm-1", nil, http.StatusNotFound},
		{http.MethodGet, "/ieps/missing/history?limit=-1", "cm-1", nil, http.StatusBadRequest},
		{http.MethodGet, "/ieps/missing/export?format=docx", "cm-1", nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s %s", tc.method, tc.path), func(t *testing.T) {
			resp, _ := call(t, router, tc.method, tc.path, tc.user, tc.body)
			assert.Equal(t, tc.want, resp.Code)
		})
	}

	req := httptest.NewRequest(http.MethodPut, "/ieps/x/draft", strings.NewReader(`{"operations":`))
	req.Header.Set("X-Test-User", "cm-1")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestWebhookRejectsUnresolvableAndMalformed(t *testing.T) {
	router := buildIEPRouter(t)

	unknown := dto.ApprovalWebhook{EventType: dto.ApprovalEventCompleted, Data: dto.ApprovalWebhookData{ResourceID: "ghost"}}
	assert.Equal(t, http.StatusUnprocessableEntity, postWebhook(t, router, "d-9", unknown, testWebhookSecret).Code)

	blank := dto.ApprovalWebhook{EventType: dto.ApprovalEventRejected}
	assert.Equal(t, http.StatusUnprocessableEntity, postWebhook(t, router, "d-10", blank, testWebhookSecret).Code)

	bogus := dto.ApprovalWebhook{EventType: "SOMETHING", Data: dto.ApprovalWebhookData{ResourceID: "ghost"}}
	assert.Equal(t, http.StatusBadRequest, postWebhook(t, router, "d-11", bogus, testWebhookSecret).Code)

	body := []byte(`{"event_type":`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/approvals", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, SignWebhookBody(testWebhookSecret, body))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/approvals", bytes.NewReader(body))
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestMetricsHandlerEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	h := NewMetricsHandler(metrics,
		ReadinessCheck{Name: "memory", Check: func(ctx context.Context) error { return nil }},
		ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error { return fmt.Errorf("connection refused") }},
	)
	router := gin.New()
	router.GET("/metrics", h.Prometheus)
	router.GET("/metrics/summary", h.Summary)
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)

	for path, want := range map[string]int{
		"/metrics":         http.StatusOK,
		"/metrics/summary": http.StatusOK,
		"/health":          http.StatusOK,
		"/ready":           http.StatusServiceUnavailable,
	} {
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, recorder.Code, path)
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Contains(t, recorder.Body.String(), "connection refused")
}
