package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-exam-api/internal/models"
	"github.com/noah-isme/sma-exam-api/internal/service"
	appErrors "github.com/noah-isme/sma-exam-api/pkg/errors"
	"github.com/noah-isme/sma-exam-api/pkg/response"
)

// CallbackHandler receives grading results from the worker.
type CallbackHandler struct {
	callbacks *service.CallbackService
}

// NewCallbackHandler constructs handler.
func NewCallbackHandler(callbacks *service.CallbackService) *CallbackHandler {
	return &CallbackHandler{callbacks: callbacks}
}

// Receive godoc
// @Summary Apply an asynchronous grading result
// @Tags Grading
// @Accept json
// @Produce json
// @Param payload body models.GradingCallback true "Grading result"
// @Success 200 {object} response.Envelope
// @Router /grading/callback [post]
func (h *CallbackHandler) Receive(c *gin.Context) {
	var callback models.GradingCallback
	if err := c.ShouldBindJSON(&callback); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.callbacks.Process(c.Request.Context(), callback)
	if err != nil {
		response.Error(c, err)
		return
	}
	// Duplicates and scheduled retries are accepted deliveries; the worker
	// must not re-send them.
	response.JSON(c, http.StatusOK, result, nil)
}
