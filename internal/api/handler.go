// Package api exposes the payment form and the gateway webhook over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"kassa-service/internal/charset"
	"kassa-service/internal/config"
	"kassa-service/internal/event"
	"kassa-service/internal/model"
	"kassa-service/internal/payload"
	"kassa-service/internal/service"
)

const fieldIdempotencyKey = "uniqid"

type PaymentSubmitter interface {
	Submit(ctx context.Context, scope service.Scope, raw map[string]string, idempotencyKey string, secure bool) (*service.Submission, error)
}

type NotificationProcessor interface {
	Process(ctx context.Context, scope event.Scope, n payload.Notification) (event.Outcome, error)
}

type ErrorRecorder interface {
	WriteError(ctx context.Context, gatewayPaymentID string, siteID int, message string) error
}

type site struct {
	config.Site
	codec *charset.Codec
}

type Handler struct {
	sites         map[int]site
	live          bool
	payments      PaymentSubmitter
	notifications NotificationProcessor
	recorder      ErrorRecorder
	logger        *slog.Logger
}

func NewHandler(cfg *config.Config, payments PaymentSubmitter, notifications NotificationProcessor, errorRecorder ErrorRecorder, logger *slog.Logger) (*Handler, error) {
	sites := make(map[int]site, len(cfg.Sites))
	for _, s := range cfg.Sites {
		codec, err := charset.New(s.Charset)
		if err != nil {
			return nil, errors.Wrapf(err, "site %d", s.ID)
		}
		sites[s.ID] = site{Site: s, codec: codec}
	}

	return &Handler{
		sites:         sites,
		live:          cfg.Kassa.LiveMode,
		payments:      payments,
		notifications: notifications,
		recorder:      errorRecorder,
		logger:        logger,
	}, nil
}

func (h *Handler) liveness(w http.ResponseWriter, _ *http.Request) {
	_ = writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type paymentResponse struct {
	PaymentID       string `json:"payment_id"`
	Status          string `json:"status"`
	StatusCode      int16  `json:"status_code"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
	Duplicate       bool   `json:"duplicate,omitempty"`
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	s, ok := h.site(w, r)
	if !ok {
		return
	}

	raw, err := readForm(w, r, s.codec)
	if err != nil {
		_ = writeJSONError(w, http.StatusBadRequest, "cannot read payment form: "+err.Error())
		return
	}

	idempotencyKey := strings.TrimSpace(raw[fieldIdempotencyKey])
	if idempotencyKey == "" {
		idempotencyKey = uuid.New().String()
	}

	scope := service.Scope{
		SiteID:      s.ID,
		Domain:      s.Domain,
		Credentials: s.Credentials(),
		Live:        h.live,
	}

	submission, err := h.payments.Submit(r.Context(), scope, raw, idempotencyKey, isSecure(r))
	if err != nil {
		h.writeSubmitError(w, r, err)
		return
	}

	status := http.StatusCreated
	if submission.Duplicate {
		status = http.StatusOK
	}
	_ = writeJSON(w, status, paymentResponse{
		PaymentID:       submission.Record.GatewayPaymentID,
		Status:          submission.Record.Status.String(),
		StatusCode:      int16(submission.Record.Status),
		ConfirmationURL: submission.ConfirmationURL,
		Duplicate:       submission.Duplicate,
	})
}

func (h *Handler) writeSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *model.ValidationError
		retryErr      *model.RetryableError
		transportErr  *model.TransportError
		unexpectedErr *model.UnexpectedResponseError
		cfgErr        *model.ConfigurationError
	)

	switch {
	case errors.As(err, &validationErr):
		_ = writeJSONError(w, http.StatusUnprocessableEntity, validationErr.Message)
	case errors.As(err, &retryErr):
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryErr.RetryAfter.Seconds()), 10))
		_ = writeJSONError(w, http.StatusServiceUnavailable,
			fmt.Sprintf("the payment is being processed, repeat the request in %d seconds", int64(retryErr.RetryAfter.Seconds())))
	case errors.As(err, &transportErr), errors.As(err, &unexpectedErr):
		_ = writeJSONError(w, http.StatusBadGateway, "the payment service is unavailable, try again later")
	case errors.As(err, &cfgErr):
		h.logger.ErrorContext(r.Context(), "Site is misconfigured", "error", err)
		_ = writeJSONError(w, http.StatusInternalServerError, "payments are not configured for this site")
	default:
		h.logger.ErrorContext(r.Context(), "Error creating payment", "error", err)
		_ = writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

type notificationResponse struct {
	Outcome string `json:"outcome"`
}

// handleNotification answers 200 to every parsable notification. Processing
// failures are stored against the payment instead of being returned to the gateway.
func (h *Handler) handleNotification(w http.ResponseWriter, r *http.Request) {
	s, ok := h.site(w, r)
	if !ok {
		return
	}

	var n payload.Notification
	if err := readJSON(w, r, &n); err != nil {
		_ = writeJSONError(w, http.StatusBadRequest, "invalid notification body")
		return
	}

	scope := event.Scope{
		SiteID:      s.ID,
		Credentials: s.Credentials(),
		Live:        h.live,
	}

	outcome, err := h.notifications.Process(r.Context(), scope, n)
	if err != nil && n.Object.ID != "" {
		if writeErr := h.recorder.WriteError(r.Context(), n.Object.ID, s.ID, err.Error()); writeErr != nil {
			h.logger.WarnContext(r.Context(), "Error recording notification failure",
				"paymentId", n.Object.ID, "error", writeErr)
		}
	}

	_ = writeJSON(w, http.StatusOK, notificationResponse{Outcome: outcome.String()})
}

func (h *Handler) site(w http.ResponseWriter, r *http.Request) (site, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "siteID"))
	if err != nil {
		_ = writeJSONError(w, http.StatusNotFound, "unknown site")
		return site{}, false
	}
	s, ok := h.sites[id]
	if !ok {
		_ = writeJSONError(w, http.StatusNotFound, "unknown site")
		return site{}, false
	}
	return s, true
}

// readForm accepts a JSON object or a url-encoded form. Form values arrive in the
// site's charset and are decoded to UTF-8.
func readForm(w http.ResponseWriter, r *http.Request, codec *charset.Codec) (map[string]string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		raw := make(map[string]string)
		if err := readJSON(w, r, &raw); err != nil {
			return nil, err
		}
		return raw, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	raw := make(map[string]string, len(r.PostForm))
	for key := range r.PostForm {
		raw[key] = r.PostForm.Get(key)
	}
	return codec.DecodeMap(raw)
}

// isSecure reports whether the payer's connection to the site is https.
func isSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	_, port, err := net.SplitHostPort(r.Host)
	return err == nil && port == "443"
}
