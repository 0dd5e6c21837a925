package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"PaymentReconciler/internal/ledger"
	"PaymentReconciler/internal/models"
	"PaymentReconciler/internal/services"
	"PaymentReconciler/internal/validation"
	"PaymentReconciler/internal/worker"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const defaultMaxBodyBytes = 1 << 20

type Handler struct {
	Webhooks        *services.WebhookService
	Views           services.LedgerViews
	Retry           *worker.RetryScheduler
	SignatureHeader string
	MaxBodyBytes    int64
	Log             *slog.Logger
}

type webhookResponse struct {
	Message     string             `json:"message"`
	PaymentID   int64              `json:"payment_id"`
	Status      string             `json:"status"`
	OrderStatus models.OrderStatus `json:"order_status,omitempty"`
	Warning     string             `json:"warning,omitempty"`
	Error       string             `json:"error,omitempty"`
}

type retryRequest struct {
	MaxRetries int `json:"max_retries"`
}

type statsResponse struct {
	PaymentStats   models.PaymentSummary  `json:"payment_stats"`
	RecentActivity []models.AuditLogEntry `json:"recent_activity"`
	Timestamp      string                 `json:"timestamp"`
}

type orderResponse struct {
	Order    models.Order     `json:"order"`
	Payments []models.Payment `json:"payments"`
	Refunds  []models.Refund  `json:"refunds"`
}

type paymentResponse struct {
	Payment   models.Payment         `json:"payment"`
	Order     models.Order           `json:"order"`
	Refunds   []models.Refund        `json:"refunds"`
	AuditLogs []models.AuditLogEntry `json:"audit_logs"`
}

func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	limit := h.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	res, err := h.Webhooks.Ingest(r.Context(), body, r.Header.Get(h.SignatureHeader))
	if err != nil {
		h.writeIngestError(w, r, err)
		return
	}

	resp := webhookResponse{PaymentID: res.PaymentID, Status: string(res.Status)}
	switch res.Status {
	case services.StatusProcessed:
		resp.Message = "Webhook processed successfully"
		resp.OrderStatus = res.OrderStatus
	case services.StatusAlreadyProcessed:
		resp.Message = "Webhook already processed"
	case services.StatusAcceptedPendingRetry:
		resp.Message = "Webhook received, reconciliation will be retried"
		resp.Warning = "Reconciliation failed, will retry"
	case services.StatusProcessingFailed:
		resp.Message = "Webhook received, reconciliation failed"
		resp.Error = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeIngestError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "Unauthorized: Invalid signature")
	case errors.Is(err, services.ErrInvalidRequest):
		var fe validation.FieldErrors
		if errors.As(err, &fe) {
			fields := make([]string, 0, len(fe))
			for k := range fe {
				fields = append(fields, k)
			}
			sort.Strings(fields)
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "Missing or invalid fields: " + strings.Join(fields, ", "),
				"fields": fe,
			})
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
	case errors.Is(err, services.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, ledger.ErrUnknownOutcome):
		h.Log.Error("webhook payment write outcome unknown", "err", err, "request_id", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusInternalServerError, "Payment write outcome unknown, redeliver to resolve")
	case errors.Is(err, services.ErrPaymentNotRecorded):
		h.Log.Error("webhook payment not recorded", "err", err, "request_id", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusInternalServerError, "Payment not recorded, safe to redeliver")
	default:
		h.Log.Error("webhook failed", "err", err, "request_id", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *Handler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	var requested int
	if raw := r.URL.Query().Get("maxRetries"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "maxRetries must be a positive integer")
			return
		}
		requested = n
	} else if r.ContentLength != 0 && r.Body != nil {
		var req retryRequest
		err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if req.MaxRetries < 0 {
			writeError(w, http.StatusBadRequest, "max_retries must be a positive integer")
			return
		}
		requested = req.MaxRetries
	}

	summary, err := h.Retry.RunOnce(r.Context(), requested)
	if err != nil {
		h.Log.Error("retry run failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Retry process failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Views.Stats(r.Context())
	if err != nil {
		h.Log.Error("stats failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		PaymentStats:   stats.Summary,
		RecentActivity: nonNil(stats.RecentActivity),
		Timestamp:      stats.Timestamp.Format(time.RFC3339),
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	od, err := h.Views.OrderDetails(r.Context(), orderID)
	if err != nil {
		h.writeReadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResponse{
		Order:    od.Order,
		Payments: nonNil(od.Payments),
		Refunds:  nonNil(od.Refunds),
	})
}

func (h *Handler) GetOrderPayments(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	pays, err := h.Views.OrderPayments(r.Context(), orderID)
	if err != nil {
		h.writeReadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order_id": orderID, "payments": nonNil(pays)})
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentIDParam(w, r)
	if !ok {
		return
	}
	pd, err := h.Views.PaymentDetails(r.Context(), id)
	if err != nil {
		h.writeReadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentResponse{
		Payment:   pd.Payment,
		Order:     pd.Order,
		Refunds:   nonNil(pd.Refunds),
		AuditLogs: nonNil(pd.AuditLogs),
	})
}

func (h *Handler) GetPaymentAuditLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := paymentIDParam(w, r)
	if !ok {
		return
	}
	logs, err := h.Views.PaymentAuditLogs(r.Context(), id)
	if err != nil {
		h.writeReadError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment_id": id, "audit_logs": nonNil(logs)})
}

func paymentIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "paymentId"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid payment id")
		return 0, false
	}
	return id, true
}

func (h *Handler) writeReadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, services.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, "Payment not found")
	case ledger.IsTransient(err):
		h.Log.Warn("read failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "Temporarily unavailable")
	default:
		h.Log.Error("read failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
