package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-exam-api/internal/service"
	"github.com/noah-isme/sma-exam-api/pkg/response"
)

// CorrectionHandler exposes the exam correction endpoints.
type CorrectionHandler struct {
	corrections *service.CorrectionService
	dispatcher  *service.DispatchService
}

// NewCorrectionHandler constructs handler.
func NewCorrectionHandler(corrections *service.CorrectionService, dispatcher *service.DispatchService) *CorrectionHandler {
	return &CorrectionHandler{corrections: corrections, dispatcher: dispatcher}
}

// Correct godoc
// @Summary Run a correction pass over an exam
// @Tags Correction
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200 {object} response.Envelope
// @Router /exams/{id}/correct [post]
func (h *CorrectionHandler) Correct(c *gin.Context) {
	result, err := h.corrections.CorrectExam(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Answers godoc
// @Summary List current grades for an exam's responses
// @Tags Correction
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200 {object} response.Envelope
// @Router /exams/{id}/answers [get]
func (h *CorrectionHandler) Answers(c *gin.Context) {
	grades, err := h.corrections.GetAnswersForExam(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grades, nil)
}

// Dispatch godoc
// @Summary Re-scan an exam and enqueue pending open answers
// @Tags Correction
// @Produce json
// @Param id path string true "Exam ID"
// @Success 200 {object} response.Envelope
// @Router /exams/{id}/dispatch [post]
func (h *CorrectionHandler) Dispatch(c *gin.Context) {
	published, err := h.dispatcher.DispatchExam(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"published": published}, nil)
}
