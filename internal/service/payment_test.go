package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kassa-service/internal/credentials"
	"kassa-service/internal/db"
	"kassa-service/internal/gateway"
	"kassa-service/internal/model"
	"kassa-service/internal/payload"
	"kassa-service/internal/validation"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreatePayment(ctx context.Context, creds credentials.Credentials, req gateway.CreateRequest, idempotencyKey string) (*payload.Payment, error) {
	args := m.Called(ctx, creds, req, idempotencyKey)
	payment, _ := args.Get(0).(*payload.Payment)
	return payment, args.Error(1)
}

var (
	testScope = Scope{
		SiteID:      1,
		Domain:      "shop.example.ru",
		Credentials: credentials.Record{LiveShopID: "100", LiveKey: "live_key", TestShopID: "200", TestKey: "test_key"},
	}
	testCreds = credentials.Credentials{ShopID: "200", SecretKey: "test_key"}
)

func validForm() map[string]string {
	return map[string]string{
		"contract": "123",
		"surname":  "иванов",
		"name":     " Пётр ",
		"patronym": "Ильич",
		"sum":      "1500",
		"email":    "a@b.ru",
	}
}

func createdPayment(id, status string) *payload.Payment {
	return &payload.Payment{
		ID:           id,
		Status:       status,
		Amount:       payload.Amount{Value: "1500.00", Currency: "RUB"},
		Confirmation: &payload.Confirmation{Type: "redirect", ConfirmationURL: "https://kassa.test/checkout/" + id},
	}
}

func newService(gw Gateway, store Store) *PaymentService {
	return NewPaymentService(validation.New(), gw, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPaymentService_Submit(t *testing.T) {
	// Arrange
	ctx := context.Background()
	gw := new(mockGateway)
	store := db.NewMemoryPaymentRepository()
	sut := newService(gw, store)

	gw.On("CreatePayment", mock.Anything, testCreds, mock.MatchedBy(func(req gateway.CreateRequest) bool {
		return req.Form.Amount.StringFixed(2) == "1500.00" &&
			req.Form.Payer == model.Payer{Surname: "Иванов", Name: "Пётр", Patronym: "Ильич"} &&
			req.ReturnURL == "https://shop.example.ru"
	}), "key-1").Return(createdPayment("abc-1", "pending"), nil).Once()

	// Act
	submission, err := sut.Submit(ctx, testScope, validForm(), "key-1", true)

	// Assert
	require.NoError(t, err)
	assert.False(t, submission.Duplicate)
	assert.Equal(t, "https://kassa.test/checkout/abc-1", submission.ConfirmationURL)

	stored, err := store.FindByGatewayID(ctx, "abc-1", 1)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, stored.Status)
	assert.Equal(t, int16(1), int16(stored.Status))
	assert.Equal(t, "1500.00", stored.Amount.StringFixed(2))
	assert.Equal(t, "123", stored.Contract)
	gw.AssertExpectations(t)
}

func TestPaymentService_SubmitSameKeyTwice(t *testing.T) {
	ctx := context.Background()
	gw := new(mockGateway)
	store := db.NewMemoryPaymentRepository()
	sut := newService(gw, store)

	// the gateway answers a replayed idempotency key with the same payment
	gw.On("CreatePayment", mock.Anything, testCreds, mock.Anything, "key-1").
		Return(createdPayment("abc-1", "pending"), nil).Twice()

	first, err := sut.Submit(ctx, testScope, validForm(), "key-1", false)
	require.NoError(t, err)
	second, err := sut.Submit(ctx, testScope, validForm(), "key-1", false)
	require.NoError(t, err)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Record.GatewayPaymentID, second.Record.GatewayPaymentID)
	assert.Equal(t, "https://kassa.test/checkout/abc-1", second.ConfirmationURL)
	gw.AssertExpectations(t)
}

func TestPaymentService_ValidationBeforeNetwork(t *testing.T) {
	tests := []struct {
		field string
		value string
	}{
		{field: "surname", value: "Ivanov"},
		{field: "name", value: "Пётр1"},
		{field: "patronym", value: "Иль-ич"},
		{field: "surname", value: "Иванов Петров"},
		{field: "sum", value: "0"},
		{field: "sum", value: "abc"},
		{field: "email", value: "not-an-email"},
		{field: "contract", value: "  "},
		{field: "contract", value: strings.Repeat("7", 65)},
		{field: "sum", value: "1e12"},
		{field: "sum", value: "1e9999999"},
		{field: "sum", value: "10000000000.00"},
	}

	for _, tt := range tests {
		t.Run(tt.field+"="+tt.value, func(t *testing.T) {
			gw := new(mockGateway)
			store := db.NewMemoryPaymentRepository()
			sut := newService(gw, store)

			raw := validForm()
			raw[tt.field] = tt.value

			submission, err := sut.Submit(context.Background(), testScope, raw, "key-1", true)

			assert.Nil(t, submission)
			var validationErr *model.ValidationError
			require.True(t, errors.As(err, &validationErr))
			assert.Equal(t, tt.field, validationErr.Field)
			gw.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestPaymentService_GatewayErrors(t *testing.T) {
	tests := []struct {
		name   string
		gwErr  error
		target any
	}{
		{name: "retry", gwErr: &model.RetryableError{RetryAfter: 2}, target: new(*model.RetryableError)},
		{name: "transport", gwErr: &model.TransportError{Op: "create", Err: errors.New("timeout")}, target: new(*model.TransportError)},
		{name: "unexpected", gwErr: &model.UnexpectedResponseError{Op: "create", Code: 500}, target: new(*model.UnexpectedResponseError)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			gw := new(mockGateway)
			store := db.NewMemoryPaymentRepository()
			sut := newService(gw, store)

			gw.On("CreatePayment", mock.Anything, testCreds, mock.Anything, "key-1").Return(nil, tt.gwErr).Once()

			submission, err := sut.Submit(ctx, testScope, validForm(), "key-1", true)

			assert.Nil(t, submission)
			assert.True(t, errors.As(err, tt.target))
		})
	}
}

func TestPaymentService_MissingCredentials(t *testing.T) {
	gw := new(mockGateway)
	sut := newService(gw, db.NewMemoryPaymentRepository())

	scope := testScope
	scope.Live = true
	scope.Credentials.LiveKey = ""

	_, err := sut.Submit(context.Background(), scope, validForm(), "key-1", true)

	var cfgErr *model.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	gw.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentService_UnknownGatewayStatus(t *testing.T) {
	ctx := context.Background()
	gw := new(mockGateway)
	store := db.NewMemoryPaymentRepository()
	sut := newService(gw, store)

	gw.On("CreatePayment", mock.Anything, testCreds, mock.Anything, "key-1").
		Return(createdPayment("abc-1", "refunded"), nil).Once()

	_, err := sut.Submit(ctx, testScope, validForm(), "key-1", false)
	require.NoError(t, err)

	stored, err := store.FindByGatewayID(ctx, "abc-1", 1)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnknown, stored.Status)
}
