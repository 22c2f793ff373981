package transfer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/doctor-branch-service/internal/handler"
	"github.com/jwalitptl/doctor-branch-service/internal/middleware"
	"github.com/jwalitptl/doctor-branch-service/internal/model"
	apperrors "github.com/jwalitptl/doctor-branch-service/pkg/errors"
	"github.com/jwalitptl/doctor-branch-service/pkg/logger"
	"github.com/jwalitptl/doctor-branch-service/pkg/validator"
)

type mockTransferService struct {
	mock.Mock
}

func (m *mockTransferService) TransferDoctor(ctx context.Context, req model.TransferRequest) (*model.TransferResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*model.TransferResult)
	return res, args.Error(1)
}

func (m *mockTransferService) EmergencyTransfer(ctx context.Context, doctorID uuid.UUID, req model.EmergencyTransferRequest) (*model.TransferResult, error) {
	args := m.Called(ctx, doctorID, req)
	res, _ := args.Get(0).(*model.TransferResult)
	return res, args.Error(1)
}

func (m *mockTransferService) Rollback(ctx context.Context, rollbackID uuid.UUID) (*model.RollbackResult, error) {
	args := m.Called(ctx, rollbackID)
	res, _ := args.Get(0).(*model.RollbackResult)
	return res, args.Error(1)
}

func (m *mockTransferService) CanTransferDoctor(ctx context.Context, doctorID, targetBranchID uuid.UUID) (*model.TransferEligibility, error) {
	args := m.Called(ctx, doctorID, targetBranchID)
	res, _ := args.Get(0).(*model.TransferEligibility)
	return res, args.Error(1)
}

func (m *mockTransferService) GetTransfer(ctx context.Context, transferID uuid.UUID) (*model.TransferRecord, error) {
	args := m.Called(ctx, transferID)
	res, _ := args.Get(0).(*model.TransferRecord)
	return res, args.Error(1)
}

func setup(svc *mockTransferService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	if err := validator.RegisterGin(); err != nil {
		panic(err)
	}
	engine := gin.New()
	engine.Use(middleware.ErrorHandler(logger.Nop()))
	NewHandler(svc).RegisterRoutes(engine.Group(""))
	return engine
}

func do(engine *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, handler.Response) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	var resp handler.Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestTransferDoctor_PassesDoctorFromPath(t *testing.T) {
	svc := new(mockTransferService)
	d, src, dst := uuid.New(), uuid.New(), uuid.New()

	svc.On("TransferDoctor", mock.Anything, mock.MatchedBy(func(req model.TransferRequest) bool {
		return req.DoctorID == d && req.SourceBranchID == src && req.TargetBranchID == dst &&
			req.Options.ValidateTargetBranchCapacity
	})).Return(&model.TransferResult{DoctorID: d, Status: model.TransferSuccess}, nil).Once()

	body := `{"source_branch_id":"` + src.String() + `","target_branch_id":"` + dst.String() + `","options":{"validate_target_branch_capacity":true}}`
	w, resp := do(setup(svc), http.MethodPost, "/doctors/"+d.String()+"/transfers", body)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", resp.Status)
	svc.AssertExpectations(t)
}

func TestTransferDoctor_FailedResultIs422WithBody(t *testing.T) {
	svc := new(mockTransferService)
	d := uuid.New()
	svc.On("TransferDoctor", mock.Anything, mock.Anything).Return(&model.TransferResult{
		DoctorID: d,
		Status:   model.TransferFailed,
		Errors:   []string{"store transfer snapshot: boom"},
	}, nil).Once()

	body := `{"source_branch_id":"` + uuid.NewString() + `","target_branch_id":"` + uuid.NewString() + `"}`
	w, resp := do(setup(svc), http.MethodPost, "/doctors/"+d.String()+"/transfers", body)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "error", resp.Status)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "FAILED", data["status"])
}

func TestTransferDoctor_DomainErrors(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{apperrors.Wrapf(apperrors.ErrBranchAccessDenied, "no"), http.StatusForbidden},
		{apperrors.Wrapf(apperrors.ErrCapacityExceeded, "full"), http.StatusUnprocessableEntity},
		{apperrors.Wrapf(apperrors.ErrDoctorNotFound, "gone"), http.StatusNotFound},
		{apperrors.Wrap(apperrors.ErrIntegrationFailure, context.DeadlineExceeded), http.StatusBadGateway},
	}
	for _, tc := range cases {
		svc := new(mockTransferService)
		svc.On("TransferDoctor", mock.Anything, mock.Anything).Return(nil, tc.err).Once()

		body := `{"source_branch_id":"` + uuid.NewString() + `","target_branch_id":"` + uuid.NewString() + `"}`
		w, _ := do(setup(svc), http.MethodPost, "/doctors/"+uuid.NewString()+"/transfers", body)
		assert.Equal(t, tc.code, w.Code, tc.err.Error())
	}
}

func TestTransferDoctor_MissingBranches(t *testing.T) {
	svc := new(mockTransferService)
	w, resp := do(setup(svc), http.MethodPost, "/doctors/"+uuid.NewString()+"/transfers", `{}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, resp.Message, "source_branch_id is required")
	svc.AssertNotCalled(t, "TransferDoctor", mock.Anything, mock.Anything)
}

func TestEmergencyTransfer_RequiresReason(t *testing.T) {
	svc := new(mockTransferService)
	body := `{"source_branch_id":"` + uuid.NewString() + `","target_branch_id":"` + uuid.NewString() + `"}`
	w, _ := do(setup(svc), http.MethodPost, "/doctors/"+uuid.NewString()+"/transfers/emergency", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRollback(t *testing.T) {
	svc := new(mockTransferService)
	id := uuid.New()
	svc.On("Rollback", mock.Anything, id).Return(&model.RollbackResult{RollbackID: id, Status: model.TransferRolledBack}, nil).Once()

	w, resp := do(setup(svc), http.MethodPost, "/transfers/rollback/"+id.String(), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", resp.Status)
	svc.AssertExpectations(t)
}
