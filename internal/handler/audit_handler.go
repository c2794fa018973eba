package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/iep-collab-api/internal/dto"
	"github.com/noah-isme/iep-collab-api/internal/models"
	appErrors "github.com/noah-isme/iep-collab-api/pkg/errors"
	"github.com/noah-isme/iep-collab-api/pkg/response"
)

const maxAuditLimit = 200

type auditTrailReader interface {
	ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]models.AuditLog, error)
}

type documentLookup interface {
	GetDocument(ctx context.Context, id string) (*models.IEPDocument, error)
}

// AuditHandler serves the compliance audit trail of a document.
type AuditHandler struct {
	audit     auditTrailReader
	documents documentLookup
}

// NewAuditHandler constructs the handler.
func NewAuditHandler(audit auditTrailReader, documents documentLookup) *AuditHandler {
	return &AuditHandler{audit: audit, documents: documents}
}

// Trail godoc
// @Summary Audit trail of an IEP
// @Description Submission, approval, rejection, archive and export actions, newest first.
// @Tags IEPs
// @Produce json
// @Param id path string true "IEP ID"
// @Param limit query int false "Maximum entries (default 50, max 200)"
// @Success 200 {object} response.Envelope
// @Router /ieps/{id}/audit [get]
func (h *AuditHandler) Trail(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	id := c.Param("id")
	if _, err := h.documents.GetDocument(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	logs, err := h.audit.ListByResource(c.Request.Context(), "iep", id, limit)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit trail"))
		return
	}
	entries := make([]dto.AuditEntry, 0, len(logs))
	for _, log := range logs {
		entries = append(entries, auditEntry(log))
	}
	response.JSON(c, http.StatusOK, entries, map[string]interface{}{"total": len(entries)})
}

func auditEntry(log models.AuditLog) dto.AuditEntry {
	entry := dto.AuditEntry{ID: log.ID, Action: log.Action, Source: log.UserAgent, CreatedAt: log.CreatedAt}
	if log.UserID != nil {
		entry.Actor = *log.UserID
	}
	if len(log.NewValues) > 0 && json.Valid(log.NewValues) {
		entry.Changes = append(json.RawMessage(nil), log.NewValues...)
	}
	return entry
}
