package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"kassa-service/internal/config"
	"kassa-service/internal/credentials"
	"kassa-service/internal/model"
	"kassa-service/internal/payload"
)

const (
	OpCreate  = "create"
	OpFetch   = "fetch"
	OpConfirm = "confirm"

	headerIdempotenceKey = "Idempotence-Key"
	contentType          = "application/json"
	defaultTimeoutMs     = 10_000
	defaultRetryAfter    = time.Second
)

// CreateRequest is a validated payment form plus the page the payer returns to.
type CreateRequest struct {
	Form      model.Form
	ReturnURL string
}

// ReturnURL builds the redirect target for the site, https when the payer's
// connection is secure.
func ReturnURL(secure bool, domain string) string {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	return scheme + "://" + domain
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.client = httpClient
	}
}

// WithTestLog makes the client append every response received in test mode to w.
func WithTestLog(w io.Writer) Option {
	return func(c *Client) {
		c.testLog = w
	}
}

// Client calls the gateway's payments API. Credentials are passed per call.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	testLogMu sync.Mutex
	testLog   io.Writer
}

func NewClient(cfg config.Kassa, logger *slog.Logger, opts ...Option) *Client {
	timeoutMs := cfg.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = defaultTimeoutMs
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.APIURL, "/"),
		client:  &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreatePayment registers a new auto-captured payment. A fresh capture idempotency
// key is generated and stored in the payment metadata.
func (c *Client) CreatePayment(ctx context.Context, creds credentials.Credentials, req CreateRequest, idempotencyKey string) (*payload.Payment, error) {
	body, err := json.Marshal(newCreateBody(req))
	if err != nil {
		return nil, errors.Wrap(err, "encode create payment request")
	}

	code, respBody, err := c.do(ctx, OpCreate, creds, http.MethodPost, c.baseURL+"/payments/", body, idempotencyKey)
	if err != nil {
		return nil, err
	}

	switch code {
	case http.StatusOK:
		var payment payload.Payment
		if err := json.Unmarshal(respBody, &payment); err != nil || payment.ID == "" {
			return nil, c.unexpected(OpCreate, code, respBody)
		}
		c.count(OpCreate, "success")
		return &payment, nil
	case http.StatusAccepted:
		var processing payload.Processing
		if err := json.Unmarshal(respBody, &processing); err != nil {
			c.logger.WarnContext(ctx, "Error decoding processing response", "error", err, "body", string(respBody))
		}
		delay := retryAfter(processing.RetryAfter)
		if delay <= 0 {
			delay = defaultRetryAfter
		}
		c.count(OpCreate, "retry")
		return nil, &model.RetryableError{RetryAfter: delay}
	default:
		return nil, c.unexpected(OpCreate, code, respBody)
	}
}

// FetchPayment reads the gateway's own record of a payment.
func (c *Client) FetchPayment(ctx context.Context, creds credentials.Credentials, paymentID string) (*payload.Payment, error) {
	code, respBody, err := c.do(ctx, OpFetch, creds, http.MethodGet, c.paymentURL(paymentID), nil, "")
	if err != nil {
		return nil, err
	}

	if code != http.StatusOK {
		return nil, c.unexpected(OpFetch, code, respBody)
	}

	trimmed := bytes.TrimSpace(respBody)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		c.count(OpFetch, "not_found")
		return nil, &model.NotFoundError{Resource: "gateway payment", ID: paymentID}
	}

	var payment payload.Payment
	if err := json.Unmarshal(trimmed, &payment); err != nil {
		return nil, c.unexpected(OpFetch, code, respBody)
	}
	if payment.ID == "" {
		c.count(OpFetch, "not_found")
		return nil, &model.NotFoundError{Resource: "gateway payment", ID: paymentID}
	}

	c.count(OpFetch, "success")
	return &payment, nil
}

// ConfirmPayment captures a payment waiting for capture. 202 means the gateway took
// the capture and finishes it asynchronously, so it is a success here.
func (c *Client) ConfirmPayment(ctx context.Context, creds credentials.Credentials, paymentID, captureKey string) error {
	code, respBody, err := c.do(ctx, OpConfirm, creds, http.MethodPost, c.paymentURL(paymentID)+"/capture", nil, captureKey)
	if err != nil {
		return err
	}

	switch code {
	case http.StatusOK, http.StatusAccepted:
		c.count(OpConfirm, "success")
		return nil
	default:
		return c.unexpected(OpConfirm, code, respBody)
	}
}

func (c *Client) paymentURL(paymentID string) string {
	return c.baseURL + "/payments/" + paymentID
}

func (c *Client) do(ctx context.Context, op string, creds credentials.Credentials, method, url string, body []byte, idempotencyKey string) (int, []byte, error) {
	startTime := time.Now()

	var reqBody io.Reader = http.NoBody
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "build %s request", op)
	}
	req.SetBasicAuth(creds.ShopID, creds.SecretKey)
	req.Header.Set("Content-Type", contentType)
	if idempotencyKey != "" {
		req.Header.Set(headerIdempotenceKey, idempotencyKey)
	}

	c.logger.InfoContext(ctx, "Sending gateway request", "op", op, "method", method, "url", url, "shop", creds.ShopID)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "Gateway request failed", "op", op, "error", err)
		c.count(op, "transport_error")
		return 0, nil, &model.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.ErrorContext(ctx, "Error reading gateway response", "op", op, "error", err)
		c.count(op, "transport_error")
		return 0, nil, &model.TransportError{Op: op, Err: err}
	}

	metrics.GetOrCreateHistogram(fmt.Sprintf(`kassa_gateway_request_duration_milliseconds{op=%q}`, op)).
		Update(float64(time.Since(startTime).Milliseconds()))

	c.logger.InfoContext(ctx, "Gateway response", "op", op, "status", resp.StatusCode)

	if !creds.Live {
		c.writeTestLog(op, url, resp.StatusCode, respBody)
	}

	return resp.StatusCode, respBody, nil
}

func (c *Client) unexpected(op string, code int, body []byte) error {
	c.count(op, "unexpected_response")
	return &model.UnexpectedResponseError{Op: op, Code: code, Body: string(body)}
}

func (c *Client) count(op, result string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`kassa_gateway_requests_total{op=%q,result=%q}`, op, result)).Inc()
}

func (c *Client) writeTestLog(op, url string, code int, body []byte) {
	if c.testLog == nil {
		return
	}

	c.testLogMu.Lock()
	defer c.testLogMu.Unlock()

	_, err := fmt.Fprintf(c.testLog, "%s %s %s -> %d\n%s\n\n", time.Now().Format(time.RFC3339), op, url, code, body)
	if err != nil {
		c.logger.Warn("Error writing gateway test log", "error", err)
	}
}

// retryAfter converts the gateway's millisecond hint to whole seconds, rounding up.
func retryAfter(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(float64(ms)/1000)) * time.Second
}

func newCreateBody(req CreateRequest) payload.CreatePayment {
	form := req.Form
	sum := form.Amount.StringFixed(2)
	amount := payload.Amount{Value: sum, Currency: payload.CurrencyRUB}

	return payload.CreatePayment{
		Amount:      amount,
		Description: fmt.Sprintf("Дог. № %s. %s", form.Contract, form.Payer.FullName()),
		Receipt: payload.Receipt{
			Items: []payload.ReceiptItem{
				{
					Description: fmt.Sprintf("Оплата по договору № %s", form.Contract),
					Quantity:    "1.000",
					Amount:      amount,
					VatCode:     1,
				},
			},
			Email: form.Email,
		},
		Confirmation: payload.Confirmation{
			Type:      payload.ConfirmationRedirect,
			ReturnURL: req.ReturnURL,
		},
		Metadata: payload.Metadata{
			payload.MetaSurname:    form.Payer.Surname,
			payload.MetaName:       form.Payer.Name,
			payload.MetaPatronym:   form.Payer.Patronym,
			payload.MetaContract:   form.Contract,
			payload.MetaEmail:      form.Email,
			payload.MetaSum:        sum,
			payload.MetaCaptureKey: uuid.New().String(),
		},
		Capture: true,
	}
}
