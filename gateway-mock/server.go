package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"kassa-service/internal/model"
	"kassa-service/internal/payload"
)

const (
	headerIdempotenceKey = "Idempotence-Key"
	contentType          = "application/json"
	retryAfterMs         = 1800
)

type ErrorResponse struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

// gatewayServer imitates the payments API: it keeps payments in memory and
// answers a repeated idempotence key with the payment created the first time.
type gatewayServer struct {
	mu       sync.Mutex
	payments map[string]*payload.Payment
	byKey    map[string]string

	baseURL        string
	processingRate float64
	notifyURL      string
	client         *http.Client
	logger         *slog.Logger
}

func newGatewayServer(baseURL, notifyURL string, processingRate float64, logger *slog.Logger) *gatewayServer {
	return &gatewayServer{
		payments:       make(map[string]*payload.Payment),
		byKey:          make(map[string]string),
		baseURL:        baseURL,
		processingRate: processingRate,
		notifyURL:      notifyURL,
		client:         &http.Client{Timeout: 5 * time.Second},
		logger:         logger,
	}
}

func (s *gatewayServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(loggingMiddleware(s.logger))

	r.Route("/v3/payments", func(r chi.Router) {
		r.Use(requireBasicAuth)
		r.Post("/", s.createPayment)
		r.Get("/{id}", s.getPayment)
		r.Post("/{id}/capture", s.capturePayment)
	})
	// moves a payment to a new status and notifies the webhook, as the real gateway
	// does once the payer has paid
	r.Post("/mock/payments/{id}/{status}", s.setStatus)

	return r
}

func requireBasicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shopID, key, ok := r.BasicAuth(); !ok || shopID == "" || key == "" {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Type: "error", Code: "invalid_credentials", Description: "basic auth is required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *gatewayServer) createPayment(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(headerIdempotenceKey)
	if key == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Type: "error", Code: "invalid_request", Description: "Idempotence-Key header is required"})
		return
	}

	var req payload.CreatePayment
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Type: "error", Code: "invalid_request", Description: err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[key]; ok {
		writeJSON(w, http.StatusOK, s.payments[id])
		return
	}

	if rand.Float64() < s.processingRate {
		writeJSON(w, http.StatusAccepted, payload.Processing{Type: "processing", RetryAfter: retryAfterMs})
		return
	}

	id := uuid.New().String()
	payment := &payload.Payment{
		ID:          id,
		Status:      model.StatusPending.GatewayName(),
		Amount:      req.Amount,
		Description: req.Description,
		Confirmation: &payload.Confirmation{
			Type:            payload.ConfirmationRedirect,
			ReturnURL:       req.Confirmation.ReturnURL,
			ConfirmationURL: s.baseURL + "/checkout/" + id,
		},
		Metadata:  req.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	s.payments[id] = payment
	s.byKey[key] = id

	writeJSON(w, http.StatusOK, payment)
}

func (s *gatewayServer) getPayment(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[chi.URLParam(r, "id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Type: "error", Code: "not_found", Description: "payment not found"})
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (s *gatewayServer) capturePayment(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(headerIdempotenceKey) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Type: "error", Code: "invalid_request", Description: "Idempotence-Key header is required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[chi.URLParam(r, "id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Type: "error", Code: "not_found", Description: "payment not found"})
		return
	}

	switch payment.Status {
	case model.StatusWaitingForCapture.GatewayName():
		payment.Status = model.StatusSucceeded.GatewayName()
		payment.Paid = true
	case model.StatusSucceeded.GatewayName():
	default:
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Type: "error", Code: "invalid_request", Description: "payment is " + payment.Status})
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (s *gatewayServer) setStatus(w http.ResponseWriter, r *http.Request) {
	status, ok := model.StatusFromGateway(chi.URLParam(r, "status"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Type: "error", Code: "invalid_request", Description: "unknown status"})
		return
	}

	s.mu.Lock()
	payment, found := s.payments[chi.URLParam(r, "id")]
	if found {
		payment.Status = status.GatewayName()
		payment.Paid = status == model.StatusSucceeded || status == model.StatusWaitingForCapture
	}
	var snapshot payload.Payment
	if found {
		snapshot = *payment
	}
	s.mu.Unlock()

	if !found {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Type: "error", Code: "not_found", Description: "payment not found"})
		return
	}

	s.notify(snapshot)
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *gatewayServer) notify(payment payload.Payment) {
	if s.notifyURL == "" {
		return
	}

	body, err := json.Marshal(payload.Notification{
		Type:   "notification",
		Event:  "payment." + payment.Status,
		Object: payment,
	})
	if err != nil {
		s.logger.Error("Error encoding notification", "error", err)
		return
	}

	resp, err := s.client.Post(s.notifyURL, contentType, bytes.NewReader(body))
	if err != nil {
		s.logger.Error("Error sending notification", "paymentId", payment.ID, "error", err)
		return
	}
	defer resp.Body.Close()
	s.logger.Info("Notification sent", "paymentId", payment.ID, "status", resp.StatusCode)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
