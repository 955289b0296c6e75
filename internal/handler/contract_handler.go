package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/uni-enroll-api/internal/models"
	"github.com/noah-isme/uni-enroll-api/internal/service"
	appErrors "github.com/noah-isme/uni-enroll-api/pkg/errors"
	"github.com/noah-isme/uni-enroll-api/pkg/response"
)

// ContractHandler exposes contract lifecycle endpoints.
type ContractHandler struct {
	contracts *service.ContractService
	metrics   *service.MetricsService
}

// NewContractHandler constructs ContractHandler.
func NewContractHandler(contracts *service.ContractService, metrics *service.MetricsService) *ContractHandler {
	return &ContractHandler{contracts: contracts, metrics: metrics}
}

// Generate godoc
// @Summary Issue a term contract for an enrollment
// @Tags Contracts
// @Accept json
// @Produce json
// @Param payload body service.GenerateContractRequest true "Contract payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope "DUPLICATE_CONTRACT"
// @Router /contracts [post]
func (h *ContractHandler) Generate(c *gin.Context) {
	var req service.GenerateContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	contract, err := h.contracts.Generate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordContractIssued()
	response.Created(c, contract)
}

// Accept godoc
// @Summary Accept a contract
// @Tags Contracts
// @Produce json
// @Param id path string true "Contract ID"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope "CONTRACT_ALREADY_ACCEPTED"
// @Router /contracts/{id}/accept [post]
func (h *ContractHandler) Accept(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	contract, err := h.contracts.Accept(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordContractAccepted()
	response.JSON(c, http.StatusOK, contract, nil)
}

// List godoc
// @Summary List contracts
// @Tags Contracts
// @Produce json
// @Param enrollmentId query string false "Filter by enrollment"
// @Param semester query int false "Filter by semester"
// @Param year query int false "Filter by year"
// @Param accepted query bool false "Filter by acceptance"
// @Success 200 {object} response.Envelope
// @Router /contracts [get]
func (h *ContractHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var filter models.ContractFilter
	filter.EnrollmentID = c.Query("enrollmentId")
	if semester, err := strconv.Atoi(c.Query("semester")); err == nil {
		filter.Semester = semester
	}
	if year, err := strconv.Atoi(c.Query("year")); err == nil {
		filter.Year = year
	}
	if accepted := c.Query("accepted"); accepted != "" {
		value := strings.EqualFold(accepted, "true")
		filter.Accepted = &value
	}
	contracts, err := h.contracts.List(c.Request.Context(), filter, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, contracts, nil)
}

// Get godoc
// @Summary Get contract metadata with a signed download token
// @Tags Contracts
// @Produce json
// @Param id path string true "Contract ID"
// @Success 200 {object} response.Envelope
// @Router /contracts/{id} [get]
func (h *ContractHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	contract, err := h.contracts.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	token, err := h.contracts.GetDownloadURL(c.Request.Context(), contract.ID, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"contract": contract, "download_token": token}, nil)
}

// Download godoc
// @Summary Download the rendered contract PDF via signed token
// @Tags Contracts
// @Produce octet-stream
// @Param id path string true "Contract ID"
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Router /contracts/{id}/download [get]
func (h *ContractHandler) Download(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	token := c.Query("token")
	if strings.TrimSpace(token) == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	result, err := h.contracts.Download(c.Request.Context(), c.Param("id"), token, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.Content.Close() //nolint:errcheck
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", result.FileName))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, -1, "application/pdf", result.Content, nil)
}
