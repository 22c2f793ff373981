//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/jwalitptl/doctor-branch-service/internal/directory"
	"github.com/jwalitptl/doctor-branch-service/internal/model"
	"github.com/jwalitptl/doctor-branch-service/internal/repository"
	"github.com/jwalitptl/doctor-branch-service/internal/repository/postgres"
	"github.com/jwalitptl/doctor-branch-service/internal/service/access"
	"github.com/jwalitptl/doctor-branch-service/internal/service/association"
	"github.com/jwalitptl/doctor-branch-service/internal/service/transfer"
	apperrors "github.com/jwalitptl/doctor-branch-service/pkg/errors"
)

type PostgresSuite struct {
	suite.Suite
	container *tcpostgres.PostgresContainer
	db        *sqlx.DB
	store     *postgres.Store
	outbox    repository.OutboxRepository
	x, y, z   uuid.UUID
	dir       *directory.Static
	ctx       context.Context
}

func TestPostgresSuite(t *testing.T) {
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupSuite() {
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("doctor_branch"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		tcpostgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.db, err = sqlx.Connect("postgres", dsn)
	s.Require().NoError(err)
	s.Require().NoError(postgres.Migrate(s.db, "file://../../../migrations"))

	s.store = postgres.NewStore(s.db)
	s.outbox = postgres.NewOutboxRepository(s.store.BaseRepository)
}

func (s *PostgresSuite) TearDownSuite() {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *PostgresSuite) SetupTest() {
	_, err := s.db.Exec(`TRUNCATE outbox_events, doctor_transfers, doctor_branch_associations, doctors`)
	s.Require().NoError(err)
	s.x, s.y, s.z = uuid.New(), uuid.New(), uuid.New()
	s.dir = directory.NewStatic(s.x, s.y, s.z)
	s.ctx = access.WithActor(context.Background(), model.Actor{ID: "admin", Roles: []string{model.RoleAdmin}})
}

func (s *PostgresSuite) newDoctor() uuid.UUID {
	id := uuid.New()
	_, err := s.db.Exec(`INSERT INTO doctors (id, name, status) VALUES ($1, 'Dr Test', 'ACTIVE')`, id)
	s.Require().NoError(err)
	return id
}

func (s *PostgresSuite) doctor(id uuid.UUID) *model.Doctor {
	d, err := s.store.GetDoctor(context.Background(), id)
	s.Require().NoError(err)
	return d
}

func (s *PostgresSuite) TestAssociationLifecycle() {
	svc := association.NewService(s.store, s.dir, nil, nil)
	d := s.newDoctor()

	_, err := svc.AddAssociation(s.ctx, d, s.x, model.RoleConsultant)
	s.Require().NoError(err)
	_, err = svc.AddAssociation(s.ctx, d, s.y, model.RoleSpecialist)
	s.Require().NoError(err)

	doc := s.doctor(d)
	s.Require().NotNil(doc.PrimaryBranchID)
	s.Equal(s.x, *doc.PrimaryBranchID)
	s.True(doc.IsMultiBranch)

	_, err = svc.AddAssociation(s.ctx, d, s.x, model.RoleConsultant)
	s.ErrorIs(err, apperrors.ErrAlreadyAssociated)

	s.Require().NoError(svc.RemoveAssociation(s.ctx, d, s.x, model.RoleConsultant, "left"))
	doc = s.doctor(d)
	s.Require().NotNil(doc.PrimaryBranchID)
	s.Equal(s.y, *doc.PrimaryBranchID)
	s.False(doc.IsMultiBranch)

	row, err := s.store.Get(context.Background(), model.AssociationKey{DoctorID: d, BranchID: s.x, Role: model.RoleConsultant})
	s.Require().NoError(err)
	s.Equal(model.AssociationInactive, row.Status)
	s.Require().NotNil(row.DeactivationReason)
	s.Equal("left", *row.DeactivationReason)
}

func (s *PostgresSuite) TestTransferAndRollback() {
	svc := association.NewService(s.store, s.dir, nil, nil)
	transfers := transfer.NewCoordinator(s.store, s.dir, access.NewClaimsAuthorizer(), nil, nil)
	d := s.newDoctor()

	_, err := svc.AddAssociation(s.ctx, d, s.x, model.RoleConsultant)
	s.Require().NoError(err)
	_, err = svc.AddAssociation(s.ctx, d, s.y, model.RoleSpecialist)
	s.Require().NoError(err)

	res, err := transfers.TransferDoctor(s.ctx, model.TransferRequest{DoctorID: d, SourceBranchID: s.x, TargetBranchID: s.z})
	s.Require().NoError(err)
	s.Require().Equal(model.TransferSuccess, res.Status)
	s.Require().NotNil(res.RollbackID)

	rec, err := transfers.GetTransfer(s.ctx, res.TransferID)
	s.Require().NoError(err)
	s.NotEmpty(rec.Snapshot.Entries)

	rb, err := transfers.Rollback(s.ctx, *res.RollbackID)
	s.Require().NoError(err)
	s.Equal(model.TransferRolledBack, rb.Status)

	doc := s.doctor(d)
	s.Require().NotNil(doc.PrimaryBranchID)
	s.Equal(s.x, *doc.PrimaryBranchID)

	_, err = transfers.Rollback(s.ctx, *res.RollbackID)
	s.ErrorIs(err, apperrors.ErrRollbackUnavailable)
}

func (s *PostgresSuite) TestConcurrentAddsSerialize() {
	svc := association.NewService(s.store, s.dir, nil, nil)
	d := s.newDoctor()

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.AddAssociation(s.ctx, d, s.x, model.RoleConsultant)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		}
	}
	s.Equal(1, ok)

	status := model.AssociationActive
	rows, err := s.store.ListByDoctor(context.Background(), d, &status)
	s.Require().NoError(err)
	s.Len(rows, 1)
}

func (s *PostgresSuite) TestOutboxClaimAndCleanup() {
	svc := association.NewService(s.store, s.dir, nil, nil)
	d := s.newDoctor()
	_, err := svc.AddAssociation(s.ctx, d, s.x, model.RoleConsultant)
	s.Require().NoError(err)

	ctx := context.Background()
	events, err := s.outbox.ClaimPending(ctx, 10)
	s.Require().NoError(err)
	s.Require().NotEmpty(events)
	s.Equal(model.OutboxStatusProcessing, events[0].Status)

	again, err := s.outbox.ClaimPending(ctx, 10)
	s.Require().NoError(err)
	s.Empty(again)

	for _, e := range events {
		s.Require().NoError(s.outbox.MarkProcessed(ctx, e.ID))
	}
	n, err := s.outbox.DeleteProcessedBefore(ctx, time.Now().Add(time.Minute))
	s.Require().NoError(err)
	s.Equal(int64(len(events)), n)

	assert.ErrorIs(s.T(), s.outbox.MarkProcessed(ctx, uuid.New()), repository.ErrNotFound)
}
