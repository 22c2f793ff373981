package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/doctor-branch-service/internal/model"
	apperrors "github.com/jwalitptl/doctor-branch-service/pkg/errors"
	"github.com/jwalitptl/doctor-branch-service/pkg/validator"
)

type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Code    string      `json:"code,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Message: message,
	}
}

// Fail records err on the gin context and aborts. The error middleware writes
// the response.
func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// BindJSON binds the body into req, failing the request on error.
func BindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		Fail(c, apperrors.Wrapf(apperrors.ErrInvalidRequest, "%s", validator.Describe(err)))
		return false
	}
	return true
}

// UUIDParam parses the named path parameter.
func UUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		Fail(c, apperrors.Wrapf(apperrors.ErrInvalidRequest, "invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}

// Page reads page and page_size from the query. Absent both, it returns nil
// and callers list everything.
func Page(c *gin.Context) (*model.Pagination, bool) {
	page, size := c.Query("page"), c.Query("page_size")
	if page == "" && size == "" {
		return nil, true
	}
	var p model.Pagination
	var err error
	if page != "" {
		if p.Page, err = strconv.Atoi(page); err != nil {
			Fail(c, apperrors.Wrapf(apperrors.ErrInvalidRequest, "invalid page"))
			return nil, false
		}
	}
	if size != "" {
		if p.PageSize, err = strconv.Atoi(size); err != nil {
			Fail(c, apperrors.Wrapf(apperrors.ErrInvalidRequest, "invalid page_size"))
			return nil, false
		}
	}
	return &p, true
}

// ErrorCode names the domain error for clients, e.g. "already associated".
func ErrorCode(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}

// WriteError renders err with the status its code maps to. Details of
// unexpected errors are not exposed.
func WriteError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	resp := NewErrorResponse(err.Error())
	resp.Code = ErrorCode(err)
	if status == http.StatusInternalServerError {
		resp.Message = "internal server error"
	}
	c.JSON(status, resp)
}
