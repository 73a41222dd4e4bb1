// Package event reconciles gateway notifications with stored payments.
//
// A notification only tells the processor which payment to look at. Every decision
// is made from the stored record and a fresh copy of the payment fetched from the
// gateway; notification fields other than the event type, the payment id and the
// capture key are ignored.
package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"

	"kassa-service/internal/credentials"
	"kassa-service/internal/logcontext"
	"kassa-service/internal/message"
	"kassa-service/internal/model"
	"kassa-service/internal/payload"
)

type Gateway interface {
	FetchPayment(ctx context.Context, creds credentials.Credentials, paymentID string) (*payload.Payment, error)
	ConfirmPayment(ctx context.Context, creds credentials.Credentials, paymentID, captureKey string) error
}

type Store interface {
	FindByGatewayID(ctx context.Context, gatewayPaymentID string, siteID int) (*model.PaymentRecord, error)
	UpdateStatus(ctx context.Context, gatewayPaymentID string, siteID int, status model.Status) error
}

type Publisher interface {
	Publish(ctx context.Context, event message.PaymentStatusChanged) error
}

// Scope is the tenant a notification was delivered for.
type Scope struct {
	SiteID      int
	Credentials credentials.Record
	Live        bool
}

type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeApplied
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "failed"
	}
}

type Option func(*Processor)

func WithPublisher(publisher Publisher) Option {
	return func(p *Processor) {
		p.publisher = publisher
	}
}

type Processor struct {
	gateway   Gateway
	store     Store
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewProcessor(gateway Gateway, store Store, logger *slog.Logger, opts ...Option) *Processor {
	p := &Processor{
		gateway: gateway,
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process applies one notification. On error the stored status is unchanged and the
// caller is expected to record the error against the payment.
func (p *Processor) Process(ctx context.Context, scope Scope, n payload.Notification) (Outcome, error) {
	ctx = logcontext.AppendCtx(ctx,
		slog.Int("siteId", scope.SiteID),
		slog.String("paymentId", n.Object.ID),
		slog.String("event", n.Event))

	p.logger.InfoContext(ctx, "Processing notification")

	outcome, err := p.process(ctx, scope, n)
	if err != nil {
		countResult(errorResult(err))
		p.logger.ErrorContext(ctx, "Notification failed", "error", err)
		return OutcomeFailed, err
	}

	countResult(outcome.String())
	p.logger.InfoContext(ctx, "Notification processed", "outcome", outcome.String())
	return outcome, nil
}

func (p *Processor) process(ctx context.Context, scope Scope, n payload.Notification) (Outcome, error) {
	if n.Event == "" {
		return OutcomeFailed, &model.MalformedNotificationError{Reason: "event is missing"}
	}
	if n.Object.ID == "" {
		return OutcomeFailed, &model.MalformedNotificationError{Reason: "object.id is missing"}
	}

	creds, err := credentials.Resolve(scope.Credentials, scope.Live)
	if err != nil {
		return OutcomeFailed, err
	}

	record, err := p.store.FindByGatewayID(ctx, n.Object.ID, scope.SiteID)
	if err != nil {
		return OutcomeFailed, err
	}

	var target model.Status
	switch n.Event {
	case payload.EventWaitingForCapture:
		target = model.StatusWaitingForCapture
	case payload.EventSucceeded:
		target = model.StatusSucceeded
	default:
		return OutcomeFailed, &model.UnknownEventTypeError{Event: n.Event}
	}

	if record.Status == target {
		p.logger.WarnContext(ctx, "Duplicate notification, status already applied", "status", target.String())
		return OutcomeDuplicate, nil
	}
	if !record.Status.CanTransitionTo(target) {
		return OutcomeFailed, &model.InvalidTransitionError{PaymentID: record.GatewayPaymentID, From: record.Status, To: target}
	}

	var captureKey string
	if target == model.StatusWaitingForCapture {
		captureKey = n.Object.Metadata.Get(payload.MetaCaptureKey)
		if captureKey == "" {
			return OutcomeFailed, &model.MalformedNotificationError{Reason: "metadata." + payload.MetaCaptureKey + " is missing"}
		}
	}

	payment, err := p.gateway.FetchPayment(ctx, creds, record.GatewayPaymentID)
	if err != nil {
		return OutcomeFailed, err
	}
	if err := verifyIntegrity(record, target, payment); err != nil {
		return OutcomeFailed, err
	}

	if captureKey != "" {
		if err := p.gateway.ConfirmPayment(ctx, creds, record.GatewayPaymentID, captureKey); err != nil {
			return OutcomeFailed, err
		}
		p.logger.InfoContext(ctx, "Payment capture confirmed")
	}

	if err := p.store.UpdateStatus(ctx, record.GatewayPaymentID, scope.SiteID, target); err != nil {
		return OutcomeFailed, err
	}

	p.publish(ctx, scope.SiteID, record.GatewayPaymentID, target)
	return OutcomeApplied, nil
}

// publish is best effort: the status is already stored, a lost event is only logged.
func (p *Processor) publish(ctx context.Context, siteID int, paymentID string, status model.Status) {
	if p.publisher == nil {
		return
	}

	event := message.PaymentStatusChanged{
		SiteID:     siteID,
		PaymentID:  paymentID,
		Status:     status.String(),
		StatusCode: int16(status),
		OccurredAt: p.now().UTC(),
	}
	if err := p.publisher.Publish(ctx, event); err != nil {
		p.logger.WarnContext(ctx, "Error publishing status event", "error", err)
	}
}

func errorResult(err error) string {
	switch {
	case asType[*model.MalformedNotificationError](err):
		return "malformed"
	case asType[*model.ConfigurationError](err):
		return "configuration_error"
	case asType[*model.NotFoundError](err):
		return "not_found"
	case asType[*model.UnknownEventTypeError](err):
		return "unknown_event"
	case asType[*model.InvalidTransitionError](err):
		return "invalid_transition"
	case asType[*model.IntegrityMismatchError](err):
		return "integrity_mismatch"
	default:
		return "error"
	}
}

func asType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

func countResult(result string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`kassa_notifications_total{result=%q}`, result)).Inc()
}
