package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/iep-collab-api/internal/dto"
	appErrors "github.com/noah-isme/iep-collab-api/pkg/errors"
	"github.com/noah-isme/iep-collab-api/pkg/response"
)

const (
	// SignatureHeader carries "sha256=<hex hmac of the raw body>".
	SignatureHeader = "X-Approval-Signature"
	// DeliveryHeader identifies one delivery attempt series; retries reuse it.
	DeliveryHeader = "X-Delivery-ID"

	maxWebhookBody = 1 << 20
)

type approvalCallbackHandler interface {
	HandleCallback(ctx context.Context, deliveryID string, event dto.ApprovalWebhook) error
}

// WebhookHandler receives approval authority callbacks.
type WebhookHandler struct {
	coordinator approvalCallbackHandler
	secret      []byte
	logger      *zap.Logger
}

// NewWebhookHandler constructs the handler. An empty secret disables signature checks.
func NewWebhookHandler(coordinator approvalCallbackHandler, secret string, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{coordinator: coordinator, secret: []byte(secret), logger: logger}
}

// Approvals godoc
// @Summary Approval authority callback
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param X-Approval-Signature header string false "sha256=<hex hmac>"
// @Param X-Delivery-ID header string false "Delivery id"
// @Param payload body dto.ApprovalWebhook true "Callback"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /webhooks/approvals [post]
func (h *WebhookHandler) Approvals(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unable to read callback body"))
		return
	}
	if len(h.secret) > 0 && !h.validSignature(body, c.GetHeader(SignatureHeader)) {
		h.logger.Warn("approval callback signature mismatch", zap.String("client_ip", c.ClientIP()))
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid callback signature"))
		return
	}

	var event dto.ApprovalWebhook
	if err := json.Unmarshal(body, &event); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid callback payload"))
		return
	}
	deliveryID := c.GetHeader(DeliveryHeader)
	if deliveryID == "" {
		deliveryID = event.DeliveryID
	}

	if err := h.coordinator.HandleCallback(c.Request.Context(), deliveryID, event); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"acknowledged": true, "deliveryId": deliveryID}, nil)
}

func (h *WebhookHandler) validSignature(body []byte, header string) bool {
	provided, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// SignWebhookBody returns the signature header value for body under secret.
func SignWebhookBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
