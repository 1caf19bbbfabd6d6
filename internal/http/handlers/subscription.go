package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/questline-backend/internal/http/response"
	"github.com/yungbote/questline-backend/internal/platform/logger"
	"github.com/yungbote/questline-backend/internal/services"
)

// maxWebhookBody matches the payload ceiling Stripe documents.
const maxWebhookBody = 65536

type SubscriptionHandler struct {
	log  *logger.Logger
	subs services.SubscriptionService
}

func NewSubscriptionHandler(log *logger.Logger, subs services.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{log: log.With("handler", "SubscriptionHandler"), subs: subs}
}

// GET /api/subscriptions/plans
func (h *SubscriptionHandler) ListPlans(c *gin.Context) {
	response.RespondOK(c, gin.H{"plans": h.subs.ListPlans()})
}

// GET /api/subscriptions/me
func (h *SubscriptionHandler) GetMine(c *gin.Context) {
	out, err := h.subs.GetMySubscription(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, out)
}

type checkoutRequest struct {
	PlanID string `json:"plan_id" binding:"required,max=64"`
}

// POST /api/subscriptions/checkout
func (h *SubscriptionHandler) Checkout(c *gin.Context) {
	var req checkoutRequest
	if !response.BindJSON(c, &req) {
		return
	}
	session, err := h.subs.CreateCheckout(c.Request.Context(), req.PlanID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"checkout": session})
}

// POST /api/subscriptions/portal
func (h *SubscriptionHandler) Portal(c *gin.Context) {
	url, err := h.subs.CreatePortal(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"url": url})
}

// POST /api/subscriptions/cancel
func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	sub, err := h.subs.CancelAtPeriodEnd(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"subscription": sub})
}

// POST /api/subscriptions/resume
func (h *SubscriptionHandler) Resume(c *gin.Context) {
	sub, err := h.subs.Resume(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"subscription": sub})
}

// POST /api/webhooks/stripe
// The raw body is needed for signature verification. Non-2xx responses make
// Stripe redeliver, so only failures worth retrying return 5xx.
func (h *SubscriptionHandler) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.RespondError(c, http.StatusRequestEntityTooLarge, "payload_too_large", err)
			return
		}
		response.RespondError(c, http.StatusBadRequest, "invalid_payload", err)
		return
	}
	res, err := h.subs.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, res)
}
