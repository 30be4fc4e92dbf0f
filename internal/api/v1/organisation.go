package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/api/dto"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/service"
)

type OrganisationHandler struct {
	service service.OrganisationService
	log     *logger.Logger
}

func NewOrganisationHandler(service service.OrganisationService, log *logger.Logger) *OrganisationHandler {
	return &OrganisationHandler{service: service, log: log}
}

// @Summary Create organisation
// @Description Create a billing organisation
// @Tags Organisations
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param organisation body dto.CreateOrganisationRequest true "Organisation"
// @Success 201 {object} dto.OrganisationResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /organisations [post]
func (h *OrganisationHandler) CreateOrganisation(c *gin.Context) {
	var req dto.CreateOrganisationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Error("Failed to bind JSON", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to create organisation", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// @Summary Get organisation
// @Description Get an organisation by ID
// @Tags Organisations
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Organisation ID"
// @Success 200 {object} dto.OrganisationResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /organisations/{id} [get]
func (h *OrganisationHandler) GetOrganisation(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("id is required").
			WithHint("Organisation ID is required").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.log.Error("Failed to get organisation", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary List organisations
// @Description List live organisations
// @Tags Organisations
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} dto.ListOrganisationsResponse
// @Router /organisations [get]
func (h *OrganisationHandler) ListOrganisations(c *gin.Context) {
	resp, err := h.service.List(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to list organisations", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Update organisation
// @Description Rename an organisation or change its currency
// @Tags Organisations
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Organisation ID"
// @Param organisation body dto.UpdateOrganisationRequest true "Changes"
// @Success 200 {object} dto.OrganisationResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /organisations/{id} [put]
func (h *OrganisationHandler) UpdateOrganisation(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("id is required").
			WithHint("Organisation ID is required").
			Mark(ierr.ErrValidation))
		return
	}

	var req dto.UpdateOrganisationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Error("Failed to bind JSON", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.Update(c.Request.Context(), id, &req)
	if err != nil {
		h.log.Error("Failed to update organisation", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Delete organisation
// @Description Archive an organisation; invoices and payments are preserved
// @Tags Organisations
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Organisation ID"
// @Success 204
// @Failure 404 {object} ierr.ErrorResponse
// @Router /organisations/{id} [delete]
func (h *OrganisationHandler) DeleteOrganisation(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("id is required").
			WithHint("Organisation ID is required").
			Mark(ierr.ErrValidation))
		return
	}

	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		h.log.Error("Failed to delete organisation", "error", err)
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}
