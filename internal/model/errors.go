package model

import (
	"fmt"
	"strings"
	"time"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Message
}

// TransportError wraps a failure to reach the gateway, timeouts included.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("gateway %s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RetryableError means the gateway accepted the request but has not processed it yet.
// The caller may repeat the same request after RetryAfter.
type RetryableError struct {
	RetryAfter time.Duration
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("gateway has not processed the request yet, retry in %d s", int64(e.RetryAfter/time.Second))
}

type UnexpectedResponseError struct {
	Op   string
	Code int
	Body string
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("gateway %s: unexpected response code %d: %s", e.Op, e.Code, e.Body)
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

type MalformedNotificationError struct {
	Reason string
}

func (e *MalformedNotificationError) Error() string {
	return "malformed notification: " + e.Reason
}

type UnknownEventTypeError struct {
	Event string
}

func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("unknown notification event type %q", e.Event)
}

// IntegrityMismatchError carries both compared tuples for diagnostics.
type IntegrityMismatchError struct {
	PaymentID string
	Local     []string
	Remote    []string
}

func (e *IntegrityMismatchError) Error() string {
	return fmt.Sprintf("payment %s does not match the gateway record: local [%s], gateway [%s]",
		e.PaymentID, strings.Join(e.Local, ", "), strings.Join(e.Remote, ", "))
}

type DuplicateError struct {
	GatewayPaymentID string
	SiteID           int
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("payment %s already recorded for site %d", e.GatewayPaymentID, e.SiteID)
}

// InvalidTransitionError rejects a notification that would move a payment backwards.
type InvalidTransitionError struct {
	PaymentID string
	From      Status
	To        Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("payment %s: transition %s -> %s is not allowed", e.PaymentID, e.From, e.To)
}
