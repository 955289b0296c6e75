package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/uni-enroll-api/internal/service"
	"github.com/noah-isme/uni-enroll-api/pkg/response"
)

// ReenrollmentHandler exposes the administrative sweep trigger.
type ReenrollmentHandler struct {
	reenrollment *service.ReenrollmentService
	metrics      *service.MetricsService
}

// NewReenrollmentHandler constructs ReenrollmentHandler.
func NewReenrollmentHandler(reenrollment *service.ReenrollmentService, metrics *service.MetricsService) *ReenrollmentHandler {
	return &ReenrollmentHandler{reenrollment: reenrollment, metrics: metrics}
}

// Run godoc
// @Summary Run the reenrollment sweep across active enrollments
// @Tags Reenrollment
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /reenrollment/run [post]
func (h *ReenrollmentHandler) Run(c *gin.Context) {
	start := time.Now()
	summary, err := h.reenrollment.Run(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.ObserveSweep(time.Since(start))
	response.JSON(c, http.StatusOK, summary, nil)
}
