package association

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/doctor-branch-service/internal/handler"
	"github.com/jwalitptl/doctor-branch-service/internal/model"
	associationService "github.com/jwalitptl/doctor-branch-service/internal/service/association"
	apperrors "github.com/jwalitptl/doctor-branch-service/pkg/errors"
)

type Handler struct {
	service associationService.AssociationServicer
}

func NewHandler(service associationService.AssociationServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	doctors := r.Group("/doctors/:id/branches")
	{
		doctors.POST("", h.AddAssociation)
		doctors.POST("/batch", h.AddBatch)
		doctors.GET("", h.ListByDoctor)
		doctors.GET("/current", h.GetCurrentBranches)
		doctors.GET("/roles/:role", h.ListByRole)
		doctors.DELETE("/:branch_id/roles/:role", h.RemoveAssociation)
	}
	r.GET("/branches/:branch_id/doctors", h.ListByBranch)
}

// RegisterAdminRoutes mounts the hard-delete cascades. r must already be
// restricted to administrators.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.DELETE("/doctors/:id/associations", h.PurgeDoctor)
	r.DELETE("/branches/:branch_id/associations", h.PurgeBranch)
}

func (h *Handler) AddAssociation(c *gin.Context) {
	doctorID, ok := handler.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req model.AddAssociationRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	assoc, err := h.service.AddAssociation(c.Request.Context(), doctorID, req.BranchID, req.Role)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(assoc))
}

func (h *Handler) AddBatch(c *gin.Context) {
	doctorID, ok := handler.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req model.BatchAssociationRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	items := make([]model.BatchItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, model.BatchItem{BranchID: it.BranchID, Role: it.Role})
	}
	result, err := h.service.AddBatch(c.Request.Context(), doctorID, items)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}

func (h *Handler) RemoveAssociation(c *gin.Context) {
	doctorID, ok := handler.UUIDParam(c, "id")
	if !ok {
		return
	}
	branchID, ok := handler.UUIDParam(c, "branch_id")
	if !ok {
		return
	}
	role, err := model.ParsePracticeRole(c.Param("role"))
	if err != nil {
		handler.Fail(c, apperrors.Wrapf(apperrors.ErrInvalidRequest, "%v", err))
		return
	}

	if err := h.service.RemoveAssociation(c.Request.Context(), doctorID, branchID, role, c.Query("reason")); err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(nil))
}

// filter reads the optional status and role query parameters.
func filter(c *gin.Context) (model.AssociationFilter, bool) {
	var f model.AssociationFilter
	if s := c.Query("status"); s != "" {
		status := model.AssociationStatus(strings.ToUpper(s))
		if !status.Valid() {
			handler.Fail(c, apperrors.Wrapf(apperrors.ErrInvalidRequest, "unknown status %q", s))
			return f, false
		}
		f.Status = &status
	}
	if r := c.Query("role"); r != "" {
		role, err := model.ParsePracticeRole(r)
		if err != nil {
			handler.Fail(c, apperrors.Wrapf(apperrors.ErrInvalidRequest, "%v", err))
			return f, false
		}
		f.Role = &role
	}
	return f, true
}

func (h *Handler) ListByDoctor(c *gin.Context) {
	h.list(c, "id", h.service.ListByDoctor)
}

func (h *Handler) ListByBranch(c *gin.Context) {
	h.list(c, "branch_id", h.service.ListByBranch)
}

// ListByRole lists the doctor's ACTIVE associations under one practice role.
func (h *Handler) ListByRole(c *gin.Context) {
	doctorID, ok := handler.UUIDParam(c, "id")
	if !ok {
		return
	}
	role, err := model.ParsePracticeRole(c.Param("role"))
	if err != nil {
		handler.Fail(c, apperrors.Wrapf(apperrors.ErrInvalidRequest, "%v", err))
		return
	}
	page, ok := handler.Page(c)
	if !ok {
		return
	}

	result, err := h.service.ListByRole(c.Request.Context(), doctorID, role, page)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}

type listFunc func(ctx context.Context, id uuid.UUID, f model.AssociationFilter, p *model.Pagination) (*model.AssociationPage, error)

func (h *Handler) list(c *gin.Context, param string, fn listFunc) {
	id, ok := handler.UUIDParam(c, param)
	if !ok {
		return
	}
	f, ok := filter(c)
	if !ok {
		return
	}
	page, ok := handler.Page(c)
	if !ok {
		return
	}

	result, err := fn(c.Request.Context(), id, f, page)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}

func (h *Handler) GetCurrentBranches(c *gin.Context) {
	doctorID, ok := handler.UUIDParam(c, "id")
	if !ok {
		return
	}
	current, err := h.service.GetCurrentBranches(c.Request.Context(), doctorID)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(current))
}

func (h *Handler) PurgeDoctor(c *gin.Context) {
	doctorID, ok := handler.UUIDParam(c, "id")
	if !ok {
		return
	}
	n, err := h.service.PurgeDoctor(c.Request.Context(), doctorID)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"doctor_id": doctorID, "deleted": n}))
}

func (h *Handler) PurgeBranch(c *gin.Context) {
	branchID, ok := handler.UUIDParam(c, "branch_id")
	if !ok {
		return
	}
	n, err := h.service.PurgeBranch(c.Request.Context(), branchID)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"branch_id": branchID, "deleted": n}))
}
