package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-exam-api/internal/models"
	"github.com/noah-isme/sma-exam-api/internal/service"
	appErrors "github.com/noah-isme/sma-exam-api/pkg/errors"
	"github.com/noah-isme/sma-exam-api/pkg/response"
)

// GradeSpecHandler exposes the per-class grade specification.
type GradeSpecHandler struct {
	specs *service.GradeSpecService
}

// NewGradeSpecHandler constructs handler.
func NewGradeSpecHandler(specs *service.GradeSpecService) *GradeSpecHandler {
	return &GradeSpecHandler{specs: specs}
}

// Get godoc
// @Summary Read a class's grade specification
// @Tags GradeSpec
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/grade-spec [get]
func (h *GradeSpecHandler) Get(c *gin.Context) {
	spec, err := h.specs.GetForClass(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, spec.Document(), nil)
}

// Put godoc
// @Summary Replace a class's grade specification
// @Tags GradeSpec
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body models.GradeSpecDocument true "Specification document"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/grade-spec [put]
func (h *GradeSpecHandler) Put(c *gin.Context) {
	var doc models.GradeSpecDocument
	if err := c.ShouldBindJSON(&doc); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	spec, err := h.specs.Replace(c.Request.Context(), c.Param("id"), doc)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, spec.Document(), nil)
}
