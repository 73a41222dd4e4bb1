package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kassa-service/internal/config"
	"kassa-service/internal/credentials"
	"kassa-service/internal/gateway"
	"kassa-service/internal/model"
)

var creds = credentials.Credentials{ShopID: "200", SecretKey: "test_key"}

func newTestServer(t *testing.T, processingRate float64) (*httptest.Server, *gateway.Client) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(newGatewayServer("http://mock", "", processingRate, logger).routes())
	t.Cleanup(srv.Close)

	client := gateway.NewClient(config.Kassa{APIURL: srv.URL + "/v3", TimeoutMs: 1000}, logger)
	return srv, client
}

func createRequest() gateway.CreateRequest {
	return gateway.CreateRequest{
		Form: model.Form{
			Contract: "123",
			Payer:    model.Payer{Surname: "Иванов", Name: "Пётр", Patronym: "Ильич"},
			Amount:   decimal.RequireFromString("1500"),
			Email:    "a@b.ru",
		},
		ReturnURL: "https://shop.example.ru",
	}
}

func TestGatewayMock_IdempotentCreate(t *testing.T) {
	_, client := newTestServer(t, 0)
	ctx := context.Background()

	first, err := client.CreatePayment(ctx, creds, createRequest(), "key-1")
	require.NoError(t, err)
	second, err := client.CreatePayment(ctx, creds, createRequest(), "key-1")
	require.NoError(t, err)
	other, err := client.CreatePayment(ctx, creds, createRequest(), "key-2")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, first.ID, other.ID)
	assert.Equal(t, "pending", first.Status)
	assert.Equal(t, "1500.00", first.Amount.Value)
	assert.Equal(t, "http://mock/checkout/"+first.ID, first.Confirmation.ConfirmationURL)
}

func TestGatewayMock_FetchEchoesMetadata(t *testing.T) {
	_, client := newTestServer(t, 0)
	ctx := context.Background()

	created, err := client.CreatePayment(ctx, creds, createRequest(), "key-1")
	require.NoError(t, err)

	fetched, err := client.FetchPayment(ctx, creds, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Иванов", fetched.Metadata.Get("surname"))
	assert.Equal(t, "1500.00", fetched.Metadata.Get("sum"))
	assert.NotEmpty(t, fetched.Metadata.Get("iKeyCapture"))

	_, err = client.FetchPayment(ctx, creds, "missing")
	var unexpected *model.UnexpectedResponseError
	require.True(t, errors.As(err, &unexpected))
	assert.Equal(t, http.StatusNotFound, unexpected.Code)
}

func TestGatewayMock_Capture(t *testing.T) {
	srv, client := newTestServer(t, 0)
	ctx := context.Background()

	created, err := client.CreatePayment(ctx, creds, createRequest(), "key-1")
	require.NoError(t, err)

	// a pending payment cannot be captured
	err = client.ConfirmPayment(ctx, creds, created.ID, "capture-1")
	var unexpected *model.UnexpectedResponseError
	require.True(t, errors.As(err, &unexpected))

	resp, err := http.Post(srv.URL+"/mock/payments/"+created.ID+"/waiting_for_capture", contentType, nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, client.ConfirmPayment(ctx, creds, created.ID, "capture-1"))

	fetched, err := client.FetchPayment(ctx, creds, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "succeeded", fetched.Status)
	assert.True(t, fetched.Paid)
}

func TestGatewayMock_Processing(t *testing.T) {
	_, client := newTestServer(t, 1)

	_, err := client.CreatePayment(context.Background(), creds, createRequest(), "key-1")

	var retryErr *model.RetryableError
	require.True(t, errors.As(err, &retryErr))
	assert.Equal(t, 2, int(retryErr.RetryAfter.Seconds()))
}

func TestGatewayMock_RequiresAuthAndKey(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	resp, err := http.Post(srv.URL+"/v3/payments/", contentType, strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v3/payments/", strings.NewReader(`{}`))
	require.NoError(t, err)
	req.SetBasicAuth("200", "test_key")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "invalid_request", body.Code)
}
