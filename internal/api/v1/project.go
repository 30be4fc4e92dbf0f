package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meterline/meterline/internal/api/dto"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/service"
)

type ProjectHandler struct {
	service service.ProjectService
	log     *logger.Logger
}

func NewProjectHandler(service service.ProjectService, log *logger.Logger) *ProjectHandler {
	return &ProjectHandler{service: service, log: log}
}

// @Summary Create project
// @Description Create a project; the response carries the API key exactly once
// @Tags Projects
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param project body dto.CreateProjectRequest true "Project"
// @Success 201 {object} dto.ProjectResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /projects [post]
func (h *ProjectHandler) CreateProject(c *gin.Context) {
	var req dto.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Error("Failed to bind JSON", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to create project", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// @Summary Get project
// @Description Get a project by ID; the key hash is never returned
// @Tags Projects
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Project ID"
// @Success 200 {object} dto.ProjectResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /projects/{id} [get]
func (h *ProjectHandler) GetProject(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("id is required").
			WithHint("Project ID is required").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.log.Error("Failed to get project", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary List projects
// @Description List the organisation's projects
// @Tags Projects
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} dto.ListProjectsResponse
// @Router /projects [get]
func (h *ProjectHandler) ListProjects(c *gin.Context) {
	resp, err := h.service.List(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to list projects", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Update project
// @Description Rename a project or toggle ingest
// @Tags Projects
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Project ID"
// @Param project body dto.UpdateProjectRequest true "Changes"
// @Success 200 {object} dto.ProjectResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /projects/{id} [put]
func (h *ProjectHandler) UpdateProject(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("id is required").
			WithHint("Project ID is required").
			Mark(ierr.ErrValidation))
		return
	}

	var req dto.UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Error("Failed to bind JSON", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.Update(c.Request.Context(), id, &req)
	if err != nil {
		h.log.Error("Failed to update project", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Delete project
// @Description Archive a project; its API key stops authenticating
// @Tags Projects
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Project ID"
// @Success 204
// @Failure 404 {object} ierr.ErrorResponse
// @Router /projects/{id} [delete]
func (h *ProjectHandler) DeleteProject(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("id is required").
			WithHint("Project ID is required").
			Mark(ierr.ErrValidation))
		return
	}

	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		h.log.Error("Failed to delete project", "error", err)
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

// @Summary Rotate project API key
// @Description Mint a fresh API key; the old key stops working immediately
// @Tags Projects
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Project ID"
// @Success 200 {object} dto.ProjectResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /projects/{id}/rotate-key [post]
func (h *ProjectHandler) RotateKey(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.Error(ierr.NewError("id is required").
			WithHint("Project ID is required").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.RotateKey(c.Request.Context(), id)
	if err != nil {
		h.log.Error("Failed to rotate project key", "error", err)
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
