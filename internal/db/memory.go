package db

import (
	"context"
	"sync"
	"time"

	"kassa-service/internal/model"
)

type paymentKey struct {
	siteID           int
	gatewayPaymentID string
}

// MemoryPaymentRepository keeps payments in process memory. It backs the
// "memory" database driver and tests; contents are lost on restart.
type MemoryPaymentRepository struct {
	mu       sync.RWMutex
	payments map[paymentKey]model.PaymentRecord
}

func NewMemoryPaymentRepository() *MemoryPaymentRepository {
	return &MemoryPaymentRepository{payments: make(map[paymentKey]model.PaymentRecord)}
}

func (r *MemoryPaymentRepository) Insert(_ context.Context, record *model.PaymentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := paymentKey{siteID: record.SiteID, gatewayPaymentID: record.GatewayPaymentID}
	if _, exists := r.payments[key]; exists {
		return &model.DuplicateError{GatewayPaymentID: record.GatewayPaymentID, SiteID: record.SiteID}
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	r.payments[key] = clone(*record)
	return nil
}

func (r *MemoryPaymentRepository) FindByGatewayID(_ context.Context, gatewayPaymentID string, siteID int) (*model.PaymentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.payments[paymentKey{siteID: siteID, gatewayPaymentID: gatewayPaymentID}]
	if !exists {
		return nil, &model.NotFoundError{Resource: "payment", ID: gatewayPaymentID}
	}
	found := clone(record)
	return &found, nil
}

func (r *MemoryPaymentRepository) UpdateStatus(_ context.Context, gatewayPaymentID string, siteID int, status model.Status) error {
	return r.update(gatewayPaymentID, siteID, func(record *model.PaymentRecord) {
		record.Status = status
		record.LastError = nil
	})
}

func (r *MemoryPaymentRepository) WriteError(_ context.Context, gatewayPaymentID string, siteID int, message string) error {
	return r.update(gatewayPaymentID, siteID, func(record *model.PaymentRecord) {
		record.LastError = &message
	})
}

func (r *MemoryPaymentRepository) update(gatewayPaymentID string, siteID int, apply func(*model.PaymentRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := paymentKey{siteID: siteID, gatewayPaymentID: gatewayPaymentID}
	record, exists := r.payments[key]
	if !exists {
		return &model.NotFoundError{Resource: "payment", ID: gatewayPaymentID}
	}
	apply(&record)
	r.payments[key] = record
	return nil
}

func clone(record model.PaymentRecord) model.PaymentRecord {
	if record.LastError != nil {
		msg := *record.LastError
		record.LastError = &msg
	}
	return record
}
