package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"

	"kassa-service/internal/credentials"
	"kassa-service/internal/gateway"
	"kassa-service/internal/logcontext"
	"kassa-service/internal/model"
	"kassa-service/internal/payload"
)

var unknownStatusCounter = metrics.GetOrCreateCounter(`kassa_unknown_gateway_status_total`)

type Gateway interface {
	CreatePayment(ctx context.Context, creds credentials.Credentials, req gateway.CreateRequest, idempotencyKey string) (*payload.Payment, error)
}

type Store interface {
	Insert(ctx context.Context, record *model.PaymentRecord) error
	FindByGatewayID(ctx context.Context, gatewayPaymentID string, siteID int) (*model.PaymentRecord, error)
}

type FormParser interface {
	Parse(raw map[string]string) (model.Form, error)
}

// Scope is the tenant a payment is submitted for.
type Scope struct {
	SiteID      int
	Domain      string
	Credentials credentials.Record
	Live        bool
}

type Submission struct {
	Record          *model.PaymentRecord
	ConfirmationURL string
	// Duplicate is set when the payment was already recorded by an earlier
	// submission with the same idempotency key.
	Duplicate bool
}

type PaymentService struct {
	parser  FormParser
	gateway Gateway
	store   Store
	logger  *slog.Logger
}

func NewPaymentService(parser FormParser, gateway Gateway, store Store, logger *slog.Logger) *PaymentService {
	return &PaymentService{
		parser:  parser,
		gateway: gateway,
		store:   store,
		logger:  logger,
	}
}

// Submit validates the form, creates the payment at the gateway and records it.
// secure tells whether the payer reached the site over https.
func (s *PaymentService) Submit(ctx context.Context, scope Scope, raw map[string]string, idempotencyKey string, secure bool) (*Submission, error) {
	ctx = logcontext.AppendCtx(ctx, slog.Int("siteId", scope.SiteID), slog.String("idempotencyKey", idempotencyKey))

	submission, err := s.submit(ctx, scope, raw, idempotencyKey, secure)
	if err != nil {
		countSubmission(submissionResult(err))
		s.logger.WarnContext(ctx, "Payment submission failed", "error", err)
		return nil, err
	}

	result := "created"
	if submission.Duplicate {
		result = "duplicate"
	}
	countSubmission(result)
	s.logger.InfoContext(ctx, "Payment submitted", "paymentId", submission.Record.GatewayPaymentID, "result", result)
	return submission, nil
}

func (s *PaymentService) submit(ctx context.Context, scope Scope, raw map[string]string, idempotencyKey string, secure bool) (*Submission, error) {
	form, err := s.parser.Parse(raw)
	if err != nil {
		return nil, err
	}

	creds, err := credentials.Resolve(scope.Credentials, scope.Live)
	if err != nil {
		return nil, err
	}

	payment, err := s.gateway.CreatePayment(ctx, creds, gateway.CreateRequest{
		Form:      form,
		ReturnURL: gateway.ReturnURL(secure, scope.Domain),
	}, idempotencyKey)
	if err != nil {
		return nil, err
	}

	status, ok := model.StatusFromGateway(payment.Status)
	if !ok {
		unknownStatusCounter.Inc()
		s.logger.WarnContext(ctx, "Unknown gateway status, storing as unknown", "paymentId", payment.ID, "status", payment.Status)
	}

	var confirmationURL string
	if payment.Confirmation != nil {
		confirmationURL = payment.Confirmation.ConfirmationURL
	}

	record := &model.PaymentRecord{
		SiteID:           scope.SiteID,
		GatewayPaymentID: payment.ID,
		Contract:         form.Contract,
		Amount:           form.Amount,
		Email:            form.Email,
		Payer:            form.Payer,
		Status:           status,
	}

	err = s.store.Insert(ctx, record)
	var dup *model.DuplicateError
	switch {
	case err == nil:
		return &Submission{Record: record, ConfirmationURL: confirmationURL}, nil
	case errors.As(err, &dup):
		existing, err := s.store.FindByGatewayID(ctx, payment.ID, scope.SiteID)
		if err != nil {
			return nil, err
		}
		return &Submission{Record: existing, ConfirmationURL: confirmationURL, Duplicate: true}, nil
	default:
		return nil, err
	}
}

func submissionResult(err error) string {
	var (
		validationErr *model.ValidationError
		cfgErr        *model.ConfigurationError
		retryErr      *model.RetryableError
		transportErr  *model.TransportError
		unexpectedErr *model.UnexpectedResponseError
	)
	switch {
	case errors.As(err, &validationErr):
		return "validation_error"
	case errors.As(err, &cfgErr):
		return "configuration_error"
	case errors.As(err, &retryErr):
		return "retry"
	case errors.As(err, &transportErr), errors.As(err, &unexpectedErr):
		return "gateway_error"
	default:
		return "error"
	}
}

func countSubmission(result string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`kassa_submissions_total{result=%q}`, result)).Inc()
}
