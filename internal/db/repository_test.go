//go:build integration

package db_test

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"kassa-service/internal/db"
	"kassa-service/internal/model"
	"kassa-service/internal/testhelpers"
)

type PaymentRepositoryTestSuite struct {
	suite.Suite
	pgContainer *testhelpers.PostgresContainer
	pool        *pgxpool.Pool
	sut         *db.PaymentRepository
	ctx         context.Context
}

func (s *PaymentRepositoryTestSuite) SetupSuite() {
	time.Local = time.UTC

	s.ctx = context.Background()
	pgContainer, err := testhelpers.CreatePostgresContainer(s.ctx)
	if err != nil {
		log.Fatal(err)
	}
	s.pgContainer = pgContainer

	if err := db.RunMigrations(pgContainer.ConnectionString, "../../migrations"); err != nil {
		log.Fatal(err)
	}

	pool, err := db.GetPool(s.ctx, pgContainer.ConnectionString)
	if err != nil {
		log.Fatal(err)
	}

	s.pool = pool
	s.sut = db.NewPaymentRepository(pool)
}

func (s *PaymentRepositoryTestSuite) TearDownSuite() {
	s.pool.Close()

	if err := s.pgContainer.Terminate(s.ctx); err != nil {
		log.Fatalf("error terminating postgres container: %s", err)
	}
}

func (s *PaymentRepositoryTestSuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, "DELETE FROM kassa_payment")
	if err != nil {
		log.Fatalf("error truncating kassa_payment table: %s", err)
	}
}

func record(siteID int, id string) *model.PaymentRecord {
	return &model.PaymentRecord{
		SiteID:           siteID,
		GatewayPaymentID: id,
		Contract:         "123",
		Amount:           decimal.RequireFromString("1500"),
		Email:            "a@b.ru",
		Payer:            model.Payer{Surname: "Иванов", Name: "Пётр", Patronym: "Ильич"},
		Status:           model.StatusPending,
	}
}

func (s *PaymentRepositoryTestSuite) TestInsertAndFind() {
	t := s.T()

	err := s.sut.Insert(s.ctx, record(1, "abc-1"))
	require.NoError(t, err)

	found, err := s.sut.FindByGatewayID(s.ctx, "abc-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, found.SiteID)
	assert.Equal(t, "abc-1", found.GatewayPaymentID)
	assert.Equal(t, "1500.00", found.Amount.StringFixed(2))
	assert.Equal(t, model.Payer{Surname: "Иванов", Name: "Пётр", Patronym: "Ильич"}, found.Payer)
	assert.Equal(t, model.StatusPending, found.Status)
	assert.Nil(t, found.LastError)
	assert.False(t, found.CreatedAt.IsZero())
}

func (s *PaymentRepositoryTestSuite) TestInsertDuplicate() {
	t := s.T()

	require.NoError(t, s.sut.Insert(s.ctx, record(1, "abc-1")))

	err := s.sut.Insert(s.ctx, record(1, "abc-1"))
	var dup *model.DuplicateError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "abc-1", dup.GatewayPaymentID)

	assert.NoError(t, s.sut.Insert(s.ctx, record(2, "abc-1")))
}

func (s *PaymentRepositoryTestSuite) TestFindMissing() {
	t := s.T()

	_, err := s.sut.FindByGatewayID(s.ctx, "missing", 1)
	var notFound *model.NotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func (s *PaymentRepositoryTestSuite) TestWriteErrorThenUpdateStatus() {
	t := s.T()

	require.NoError(t, s.sut.Insert(s.ctx, record(1, "abc-1")))

	require.NoError(t, s.sut.WriteError(s.ctx, "abc-1", 1, "integrity mismatch"))
	found, err := s.sut.FindByGatewayID(s.ctx, "abc-1", 1)
	require.NoError(t, err)
	require.NotNil(t, found.LastError)
	assert.Equal(t, "integrity mismatch", *found.LastError)
	assert.Equal(t, model.StatusPending, found.Status)

	require.NoError(t, s.sut.UpdateStatus(s.ctx, "abc-1", 1, model.StatusSucceeded))
	found, err = s.sut.FindByGatewayID(s.ctx, "abc-1", 1)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSucceeded, found.Status)
	assert.Nil(t, found.LastError)
}

func (s *PaymentRepositoryTestSuite) TestUpdateMissing() {
	t := s.T()

	var notFound *model.NotFoundError
	assert.True(t, errors.As(s.sut.UpdateStatus(s.ctx, "missing", 1, model.StatusSucceeded), &notFound))
	assert.True(t, errors.As(s.sut.WriteError(s.ctx, "missing", 1, "boom"), &notFound))
}

func TestPaymentRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(PaymentRepositoryTestSuite))
}
