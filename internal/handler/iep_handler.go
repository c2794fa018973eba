package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/iep-collab-api/internal/dto"
	"github.com/noah-isme/iep-collab-api/internal/models"
	"github.com/noah-isme/iep-collab-api/internal/service"
	appErrors "github.com/noah-isme/iep-collab-api/pkg/errors"
	"github.com/noah-isme/iep-collab-api/pkg/response"
)

type iepService interface {
	CreateDocument(ctx context.Context, req dto.CreateIEPRequest, createdBy string) (*models.IEPDocument, error)
	ListDocuments(ctx context.Context, studentID string) ([]models.IEPDocument, error)
	GetDocument(ctx context.Context, id string) (*models.IEPDocument, error)
	SaveDraft(ctx context.Context, id string, inputs []dto.OperationInput, updatedBy string) (*dto.SaveDraftResult, error)
	SubmitForApproval(ctx context.Context, id, submittedBy string) (*dto.SubmitResult, error)
	AddGoal(ctx context.Context, id string, input dto.GoalInput, addedBy string) (*models.Goal, error)
	AddAccommodation(ctx context.Context, id string, input dto.AccommodationInput, addedBy string) (*models.Accommodation, error)
	Sync(ctx context.Context, id string, req dto.SyncRequest, actor string) (*dto.SyncResult, error)
	ResolveConflicts(ctx context.Context, id string) error
	GetHistory(ctx context.Context, id string, limit int) ([]models.OperationRecord, error)
	Archive(ctx context.Context, id, actor string) (*models.IEPDocument, error)
}

type iepExporter interface {
	Export(ctx context.Context, id string, format dto.ExportFormat) (*service.ExportResult, error)
}

// IEPHandler exposes the collaborative IEP document endpoints.
type IEPHandler struct {
	service  iepService
	exporter iepExporter
}

// NewIEPHandler constructs the handler.
func NewIEPHandler(service iepService, exporter iepExporter) *IEPHandler {
	return &IEPHandler{service: service, exporter: exporter}
}

// Create godoc
// @Summary Create an IEP draft
// @Tags IEPs
// @Accept json
// @Produce json
// @Param payload body dto.CreateIEPRequest true "IEP payload"
// @Success 201 {object} response.Envelope
// @Router /ieps [post]
func (h *IEPHandler) Create(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.CreateIEPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid iep payload"))
		return
	}
	doc, err := h.service.CreateDocument(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, doc, nil)
}

// List godoc
// @Summary List IEP documents
// @Tags IEPs
// @Produce json
// @Param studentId query string false "Student filter"
// @Success 200 {object} response.Envelope
// @Router /ieps [get]
func (h *IEPHandler) List(c *gin.Context) {
	docs, err := h.service.ListDocuments(c.Request.Context(), c.Query("studentId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, docs, map[string]interface{}{"total": len(docs)})
}

// Get godoc
// @Summary Get an IEP document
// @Tags IEPs
// @Produce json
// @Param id path string true "IEP ID"
// @Success 200 {object} response.Envelope
// @Router /ieps/{id} [get]
func (h *IEPHandler) Get(c *gin.Context) {
	doc, err := h.service.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// SaveDraft godoc
// @Summary Apply a batch of draft operations
// @Description Each operation is attempted independently; failures are reported without rolling back earlier successes.
// @Tags IEPs
// @Accept json
// @Produce json
// @Param id path string true "IEP ID"
// @Param payload body dto.SaveDraftRequest true "Operations"
// @Success 200 {object} response.Envelope
// @Router /ieps/{id}/draft [put]
func (h *IEPHandler) SaveDraft(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.SaveDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid draft payload"))
		return
	}
	result, err := h.service.SaveDraft(c.Request.Context(), c.Param("id"), req.Operations, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	var (
		outcome error
		details []string
	)
	if len(result.Failed) > 0 {
		outcome = appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%d of %d operations failed", len(result.Failed), len(req.Operations)))
		for _, failed := range result.Failed {
			details = append(details, fmt.Sprintf("%s %s: %s", failed.OperationType, failed.Path, failed.Error))
		}
	}
	response.JSON(c, http.StatusOK, result, map[string]interface{}{"result": response.Result(outcome, "draft saved", details...)})
}

// Submit godoc
// @Summary Submit an IEP for dual approval
// @Tags IEPs
// @Produce json
// @Param id path string true "IEP ID"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /ieps/{id}/submit [post]
func (h *IEPHandler) Submit(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	result, err := h.service.SubmitForApproval(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	if len(result.ValidationErrors) > 0 {
		response.ErrorWithResult(c, appErrors.Clone(appErrors.ErrValidation, "document is incomplete"), result.ValidationErrors...)
		return
	}
	response.JSON(c, http.StatusAccepted, result, map[string]interface{}{"result": response.Result(nil, "submitted for approval")})
}

// AddGoal godoc
// @Summary Add a goal
// @Tags IEPs
// @Accept json
// @Produce json
// @Param id path string true "IEP ID"
// @Param payload body dto.GoalInput true "Goal"
// @Success 201 {object} response.Envelope
// @Router /ieps/{id}/goals [post]
func (h *IEPHandler) AddGoal(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.GoalInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid goal payload"))
		return
	}
	goal, err := h.service.AddGoal(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, goal, nil)
}

// AddAccommodation godoc
// @Summary Add an accommodation
// @Tags IEPs
// @Accept json
// @Produce json
// @Param id path string true "IEP ID"
// @Param payload body dto.AccommodationInput true "Accommodation"
// @Success 201 {object} response.Envelope
// @Router /ieps/{id}/accommodations [post]
func (h *IEPHandler) AddAccommodation(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.AccommodationInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid accommodation payload"))
		return
	}
	acc, err := h.service.AddAccommodation(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, acc, nil)
}

// Sync godoc
// @Summary Merge operations from another replica
// @Tags IEPs
// @Accept json
// @Produce json
// @Param id path string true "IEP ID"
// @Param payload body dto.SyncRequest true "Remote operations"
// @Success 200 {object} response.Envelope
// @Router /ieps/{id}/sync [post]
func (h *IEPHandler) Sync(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req dto.SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid sync payload"))
		return
	}
	result, err := h.service.Sync(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Resolve godoc
// @Summary Re-sort the operation log by timestamp
// @Tags IEPs
// @Param id path string true "IEP ID"
// @Success 204
// @Router /ieps/{id}/resolve [post]
func (h *IEPHandler) Resolve(c *gin.Context) {
	if err := h.service.ResolveConflicts(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// History godoc
// @Summary Operation log tail
// @Tags IEPs
// @Produce json
// @Param id path string true "IEP ID"
// @Param limit query int false "Maximum entries (default 100)"
// @Success 200 {object} response.Envelope
// @Router /ieps/{id}/history [get]
func (h *IEPHandler) History(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	records, err := h.service.GetHistory(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, map[string]interface{}{"limit": limit})
}

// Archive godoc
// @Summary Archive an approved or rejected IEP
// @Tags IEPs
// @Produce json
// @Param id path string true "IEP ID"
// @Success 200 {object} response.Envelope
// @Router /ieps/{id}/archive [post]
func (h *IEPHandler) Archive(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	doc, err := h.service.Archive(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// Export godoc
// @Summary Download an IEP as CSV or PDF
// @Tags IEPs
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "IEP ID"
// @Param format query string false "csv or pdf (default pdf)"
// @Success 200 {file} file
// @Router /ieps/{id}/export [get]
func (h *IEPHandler) Export(c *gin.Context) {
	if h.exporter == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "export not configured"))
		return
	}
	result, err := h.exporter.Export(c.Request.Context(), c.Param("id"), dto.ExportFormat(c.Query("format")))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, result.ContentType, result.Data)
}
