package softdelete

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/doctor-branch-service/internal/handler"
	"github.com/jwalitptl/doctor-branch-service/internal/model"
	softdeleteService "github.com/jwalitptl/doctor-branch-service/internal/service/softdelete"
)

type Handler struct {
	service softdeleteService.BranchStatusServicer
}

func NewHandler(service softdeleteService.BranchStatusServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	doctors := r.Group("/doctors/:id")
	{
		doctors.POST("/branches/deactivate", h.DeactivateBranches)
		doctors.POST("/branches/activate", h.ActivateBranches)
		doctors.PUT("/status", h.UpdateDoctorStatus)
	}
}

func (h *Handler) DeactivateBranches(c *gin.Context) {
	h.changeBranches(c, h.service.DeactivateBranches)
}

func (h *Handler) ActivateBranches(c *gin.Context) {
	h.changeBranches(c, h.service.ActivateBranches)
}

type branchFunc func(ctx context.Context, doctorID uuid.UUID, req model.BranchStatusRequest) (*model.SoftDeleteSummary, error)

func (h *Handler) changeBranches(c *gin.Context, fn branchFunc) {
	doctorID, ok := handler.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req model.BranchStatusRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	summary, err := fn(c.Request.Context(), doctorID, req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(summary))
}

func (h *Handler) UpdateDoctorStatus(c *gin.Context) {
	doctorID, ok := handler.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req model.UpdateDoctorStatusRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	doctor, err := h.service.UpdateDoctorStatus(c.Request.Context(), doctorID, req.Status, req.Reason)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(doctor))
}
