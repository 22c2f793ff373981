package transfer

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/doctor-branch-service/internal/handler"
	"github.com/jwalitptl/doctor-branch-service/internal/model"
	transferService "github.com/jwalitptl/doctor-branch-service/internal/service/transfer"
	apperrors "github.com/jwalitptl/doctor-branch-service/pkg/errors"
)

type Handler struct {
	service transferService.TransferServicer
}

func NewHandler(service transferService.TransferServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	doctors := r.Group("/doctors/:id/transfers")
	{
		doctors.POST("", h.TransferDoctor)
		doctors.POST("/emergency", h.EmergencyTransfer)
		doctors.GET("/check", h.CanTransferDoctor)
	}
	transfers := r.Group("/transfers")
	{
		transfers.GET("/:transfer_id", h.GetTransfer)
		transfers.POST("/rollback/:rollback_id", h.Rollback)
	}
}

// respond writes a transfer result. A FAILED transfer is reported with 422
// and the result body so callers can read its errors.
func respond(c *gin.Context, result *model.TransferResult) {
	if result.Status == model.TransferFailed {
		resp := handler.NewErrorResponse("transfer failed")
		resp.Data = result
		c.JSON(http.StatusUnprocessableEntity, resp)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}

func (h *Handler) TransferDoctor(c *gin.Context) {
	doctorID, ok := handler.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req model.TransferRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	req.DoctorID = doctorID

	result, err := h.service.TransferDoctor(c.Request.Context(), req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	respond(c, result)
}

func (h *Handler) EmergencyTransfer(c *gin.Context) {
	doctorID, ok := handler.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req model.EmergencyTransferRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	result, err := h.service.EmergencyTransfer(c.Request.Context(), doctorID, req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	respond(c, result)
}

func (h *Handler) CanTransferDoctor(c *gin.Context) {
	doctorID, ok := handler.UUIDParam(c, "id")
	if !ok {
		return
	}
	target, err := uuid.Parse(c.Query("target_branch_id"))
	if err != nil {
		handler.Fail(c, apperrors.Wrapf(apperrors.ErrInvalidRequest, "target_branch_id is required"))
		return
	}

	out, err := h.service.CanTransferDoctor(c.Request.Context(), doctorID, target)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(out))
}

func (h *Handler) GetTransfer(c *gin.Context) {
	transferID, ok := handler.UUIDParam(c, "transfer_id")
	if !ok {
		return
	}
	rec, err := h.service.GetTransfer(c.Request.Context(), transferID)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(rec))
}

func (h *Handler) Rollback(c *gin.Context) {
	rollbackID, ok := handler.UUIDParam(c, "rollback_id")
	if !ok {
		return
	}
	result, err := h.service.Rollback(c.Request.Context(), rollbackID)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}
