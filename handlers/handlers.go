package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"mollie-ideal/config"
	"mollie-ideal/logging"
	"mollie-ideal/models"
	"mollie-ideal/service"
)

// Payments is the payment flow the handlers drive
type Payments interface {
	PrepareInitiate(ctx context.Context, orderID, bankID string) (models.InitiateRequest, error)
	InitiatePayment(ctx context.Context, req models.InitiateRequest) (string, error)
	ReconcileReport(ctx context.Context, transactionID string) (models.Disposition, error)
	EvaluateReturn(ctx context.Context, transactionID, callerCustomerID string) (models.ReturnResult, error)
	Banks(ctx context.Context) ([]models.Bank, error)
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// PaymentHandler handles HTTP requests for iDEAL payments
type PaymentHandler struct {
	payments Payments
	carts    service.CartStore
	db       Pinger
	cfg      config.IDEALConfig
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(payments Payments, carts service.CartStore, db Pinger, cfg config.IDEALConfig) *PaymentHandler {
	return &PaymentHandler{
		payments: payments,
		carts:    carts,
		db:       db,
		cfg:      cfg,
	}
}

// Register mounts the payment routes on r
func (h *PaymentHandler) Register(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)

	idl := r.Group("/mpm/idl")
	idl.GET("/payment", h.Payment)
	idl.GET("/report", h.Report)
	idl.POST("/report", h.Report)
	idl.GET("/return", h.Return)
	idl.POST("/form", h.Form)
	idl.GET("/banks", h.Banks)
	idl.GET("/eligibility", h.Eligibility)
}

// Payment starts the payment of an order and redirects the customer to the bank
func (h *PaymentHandler) Payment(c *gin.Context) {
	ctx := c.Request.Context()
	orderID := c.Query("order_id")
	bankID := c.Query("bank_id")
	if orderID == "" || bankID == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "order_id and bank_id are required", OrderID: orderID})
		return
	}

	req, err := h.payments.PrepareInitiate(ctx, orderID, bankID)
	if err != nil {
		h.fail(c, err, zap.String("order_id", orderID))
		return
	}

	redirectURL, err := h.payments.InitiatePayment(ctx, req)
	if err != nil {
		h.fail(c, err, zap.String("order_id", orderID), zap.String("bank_id", bankID))
		return
	}

	trace.SpanFromContext(ctx).AddEvent("redirect_to_bank")
	c.Redirect(http.StatusFound, redirectURL)
}

// Report is the webhook the gateway calls when a payment status is known
func (h *PaymentHandler) Report(c *gin.Context) {
	ctx := c.Request.Context()
	txID := c.Query("transaction_id")
	if txID == "" {
		txID = c.PostForm("transaction_id")
	}

	disposition, err := h.payments.ReconcileReport(ctx, txID)
	if err != nil {
		h.fail(c, err, zap.String("transaction_id", txID))
		return
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.String("payment.disposition", string(disposition)))
	c.JSON(http.StatusOK, gin.H{"transaction_id": txID, "disposition": disposition})
}

// Return handles the customer coming back from the bank
func (h *PaymentHandler) Return(c *gin.Context) {
	ctx := c.Request.Context()
	txID := c.Query("transaction_id")
	customerID := c.GetString(CustomerKey)

	result, err := h.payments.EvaluateReturn(ctx, txID, customerID)
	if err != nil {
		h.fail(c, err, zap.String("transaction_id", txID))
		return
	}

	switch result.Outcome {
	case models.ReturnUnauthenticated:
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "login required"})

	case models.ReturnForbidden:
		c.Redirect(http.StatusFound, h.cfg.PublicBaseURL+"/")

	case models.ReturnShowSuccess:
		if err := h.carts.ClearItems(ctx, customerID); err != nil {
			logging.FromContext(ctx).Error("Failed to clear cart",
				zap.Error(err),
				zap.String("customer_id", customerID),
				zap.String("order_id", result.OrderID),
			)
		}
		c.Redirect(http.StatusFound, h.cfg.SuccessURL)

	default:
		banks, err := h.payments.Banks(ctx)
		if err != nil {
			logging.FromContext(ctx).Warn("Bank list unavailable for retry form",
				zap.Error(err),
				zap.String("order_id", result.OrderID),
			)
			banks = []models.Bank{}
		}
		c.JSON(http.StatusOK, models.RetryFormResponse{
			Outcome: result.Outcome,
			OrderID: result.OrderID,
			Banks:   banks,
			FormURL: h.cfg.FormURL(),
		})
	}
}

// Form takes a new bank selection and restarts the payment of the same order
func (h *PaymentHandler) Form(c *gin.Context) {
	orderID := c.PostForm("order_id")
	bankID := c.PostForm("bank_id")
	if orderID == "" || bankID == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "order_id and bank_id are required", OrderID: orderID})
		return
	}

	q := url.Values{}
	q.Set("order_id", orderID)
	q.Set("bank_id", bankID)
	c.Redirect(http.StatusFound, h.cfg.PaymentURL()+"?"+q.Encode())
}

// Banks lists the iDEAL issuers
func (h *PaymentHandler) Banks(c *gin.Context) {
	banks, err := h.payments.Banks(c.Request.Context())
	if err != nil {
		logging.FromContext(c.Request.Context()).Error("Bank list failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, models.ErrorResponse{Error: "bank list unavailable"})
		return
	}
	c.JSON(http.StatusOK, banks)
}

// Eligibility tells the checkout whether iDEAL may be offered
func (h *PaymentHandler) Eligibility(c *gin.Context) {
	country := c.Query("country")
	currency := c.DefaultQuery("currency", "EUR")
	c.JSON(http.StatusOK, models.EligibilityResponse{
		Method:   models.IDEAL.Code,
		Country:  country,
		Currency: currency,
		Eligible: models.IDEAL.Eligible(country, currency),
	})
}

// HealthCheck handles health check requests
func (h *PaymentHandler) HealthCheck(c *gin.Context) {
	if h.db != nil {
		if err := h.db.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *PaymentHandler) fail(c *gin.Context, err error, fields ...zap.Field) {
	status, orderID := statusFor(err)

	span := trace.SpanFromContext(c.Request.Context())
	span.RecordError(err)
	logger := logging.WithTraceContext(span)
	fields = append(fields, zap.Error(err), zap.Int("http_status", status))
	if status >= http.StatusInternalServerError {
		logger.Error("Payment request failed", fields...)
	} else {
		logger.Warn("Payment request rejected", fields...)
	}

	c.JSON(status, models.ErrorResponse{Error: err.Error(), OrderID: orderID})
}

// statusFor maps service errors to HTTP status codes. A 5xx on the report
// endpoint makes the gateway retry the webhook.
func statusFor(err error) (int, string) {
	var (
		tooLow      *service.AmountTooLowError
		notPayable  *service.OrderNotPayableError
		notFound    *service.OrderNotFoundError
		noPayment   *service.PaymentNotFoundError
		gatewayErr  *service.GatewayError
		reconcileEr *service.ReconciliationError
	)
	switch {
	case errors.As(err, &tooLow):
		return http.StatusBadRequest, ""
	case errors.As(err, &notPayable):
		return http.StatusBadRequest, notPayable.OrderID
	case errors.Is(err, service.ErrMissingTransactionID):
		return http.StatusBadRequest, ""
	case errors.As(err, &reconcileEr):
		return http.StatusInternalServerError, reconcileEr.OrderID
	case errors.As(err, &notFound):
		return http.StatusNotFound, notFound.OrderID
	case errors.As(err, &noPayment):
		return http.StatusNotFound, ""
	case errors.As(err, &gatewayErr):
		return http.StatusBadGateway, gatewayErr.OrderID
	}
	return http.StatusInternalServerError, ""
}
