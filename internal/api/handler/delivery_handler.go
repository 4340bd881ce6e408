package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/product-video/internal/dispatch"
)

const maxDeliveryBodyBytes = 64 << 10

// DeliveryHandler accepts signed job deliveries from the external scheduler
type DeliveryHandler struct {
	logger    *slog.Logger
	verifier  SignatureVerifier
	publisher dispatch.Publisher
	skip      bool
}

// NewDeliveryHandler creates a new DeliveryHandler
func NewDeliveryHandler(deps *Dependencies) *DeliveryHandler {
	return &DeliveryHandler{
		logger:    deps.Logger,
		verifier:  deps.Verifier,
		publisher: deps.Deliveries,
		skip:      deps.SkipSignatureVerification,
	}
}

// Deliver handles POST /api/v1/deliveries/video-jobs.
// The body must be authenticated before anything is decoded or enqueued.
func (h *DeliveryHandler) Deliver(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDeliveryBodyBytes))
	if err != nil {
		h.logger.Error("Failed to read delivery body", slog.String("error", err.Error()))
		writeError(c, http.StatusBadRequest, "invalid_request", "Failed to read body")
		return
	}

	if !h.skip {
		if h.verifier == nil {
			h.logger.Error("Delivery rejected - no signing keys configured")
			writeError(c, http.StatusUnauthorized, "unauthorized", "Invalid signature")
			return
		}
		if err := h.verifier.Verify(c.GetHeader(dispatch.SignatureHeader), body); err != nil {
			h.logger.Warn("Delivery rejected - signature verification failed",
				slog.String("remote_addr", c.ClientIP()),
				slog.String("error", err.Error()),
			)
			writeError(c, http.StatusUnauthorized, "unauthorized", "Invalid signature")
			return
		}
	}

	msg, err := dispatch.Decode(body)
	if err != nil {
		h.logger.Error("Invalid delivery payload", slog.String("error", err.Error()))
		writeError(c, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}

	if err := h.publisher.Enqueue(c.Request.Context(), msg); err != nil {
		h.logger.Error("Failed to enqueue delivered job",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		writeError(c, http.StatusServiceUnavailable, "dispatch_failed", "Failed to enqueue job")
		return
	}

	h.logger.Info("Delivery accepted", slog.String("job_id", msg.JobID))
	c.JSON(http.StatusAccepted, gin.H{"job_id": msg.JobID})
}
