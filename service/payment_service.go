package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"mollie-ideal/logging"
	"mollie-ideal/models"
	"mollie-ideal/money"
	"mollie-ideal/monitoring"
)

// Order history reasons
const (
	ReasonRedirected = "redirected to bank"
	ReasonRetry      = "consumer retries"
	ReasonProcessed  = "payment processed"
	ReasonFraud      = "amount mismatch: possible fraud"
	ReasonCancelled  = "payment cancelled by consumer"
)

// Options are the merchant settings the reconciler needs
type Options struct {
	MinAmountCents int64
	// Description is the payment description template, every % becomes the order id
	Description    string
	ReturnURL      string
	ReportURL      string
	GatewayTimeout time.Duration
}

// PaymentReconciler drives the iDEAL payment of an order from bank selection
// to the final order state
type PaymentReconciler struct {
	tracer   trace.Tracer
	store    Store
	gateway  GatewayClient
	notifier Notifier
	locker   Locker
	opts     Options
}

// NewPaymentReconciler creates a new payment reconciler
func NewPaymentReconciler(tracer trace.Tracer, store Store, gateway GatewayClient, notifier Notifier, locker Locker, opts Options) *PaymentReconciler {
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 10 * time.Second
	}
	return &PaymentReconciler{
		tracer:   tracer,
		store:    store,
		gateway:  gateway,
		notifier: notifier,
		locker:   locker,
		opts:     opts,
	}
}

// Banks lists the issuers the consumer can choose from
func (s *PaymentReconciler) Banks(ctx context.Context) ([]models.Bank, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	defer cancel()
	return s.gateway.Banks(ctx)
}

// PrepareInitiate builds the initiation request for an order and bank
func (s *PaymentReconciler) PrepareInitiate(ctx context.Context, orderID, bankID string) (models.InitiateRequest, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return models.InitiateRequest{}, err
	}
	return models.InitiateRequest{
		OrderID:     order.IncrementID,
		BankID:      bankID,
		AmountCents: money.Cents(order.GrandTotal),
		Description: strings.ReplaceAll(s.opts.Description, "%", order.IncrementID),
		ReturnURL:   s.opts.ReturnURL,
		ReportURL:   s.opts.ReportURL,
	}, nil
}

// InitiatePayment creates the payment at the gateway and returns the bank URL
// the customer is redirected to
func (s *PaymentReconciler) InitiatePayment(ctx context.Context, req models.InitiateRequest) (string, error) {
	ctx, span := s.tracer.Start(ctx, "initiate_payment")
	defer span.End()

	span.SetAttributes(
		attribute.String("payment.order_id", req.OrderID),
		attribute.String("payment.bank_id", req.BankID),
		attribute.Int64("payment.amount_cents", req.AmountCents),
	)

	logger := logging.WithTraceContext(span)
	logger.Info("Initiating payment",
		zap.String("order_id", req.OrderID),
		zap.String("bank_id", req.BankID),
		zap.Int64("amount_cents", req.AmountCents),
	)

	if req.AmountCents <= 0 || req.AmountCents < s.opts.MinAmountCents {
		err := &AmountTooLowError{AmountCents: req.AmountCents, MinimumCents: s.opts.MinAmountCents}
		s.initiateFailed(ctx, span, logger, req, "rejected", err)
		return "", err
	}

	order, err := s.loadOrder(ctx, req.OrderID)
	if err != nil {
		s.initiateFailed(ctx, span, logger, req, "rejected", err)
		return "", err
	}
	if order.Status != models.StatusPendingPayment && order.Status != models.StatusCanceled {
		err := &OrderNotPayableError{OrderID: req.OrderID, Status: order.Status}
		s.initiateFailed(ctx, span, logger, req, "rejected", err)
		return "", err
	}

	gctx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	created, err := s.gateway.CreatePayment(gctx, req.BankID, req.AmountCents, req.Description, req.ReturnURL, req.ReportURL)
	cancel()
	if err != nil {
		gerr := &GatewayError{OrderID: req.OrderID, Message: err.Error(), Err: err}
		s.initiateFailed(ctx, span, logger, req, "gateway_error", gerr)
		return "", gerr
	}

	reason := ReasonRedirected
	if order.Status == models.StatusCanceled {
		reason = ReasonRetry
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.Insert(ctx, req.OrderID, created.TransactionID, models.MethodTag); err != nil {
			return err
		}
		if err := s.store.AddPaymentTransaction(ctx, models.OrderPaymentTransaction{
			OrderID:       req.OrderID,
			TransactionID: created.TransactionID,
			Type:          models.TxnAuthorization,
			Closed:        false,
		}); err != nil {
			return err
		}
		return s.store.SetState(ctx, req.OrderID, models.StateChange{
			State:  models.StateProcessing,
			Status: models.StatusPendingPayment,
			Reason: reason,
		}, models.StatusPendingPayment, models.StatusCanceled)
	})
	if err != nil {
		err = fmt.Errorf("record payment %s for order %s: %w", created.TransactionID, req.OrderID, err)
		s.initiateFailed(ctx, span, logger, req, "storage_error", err)
		return "", err
	}

	monitoring.PaymentsInitiated.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "success")))
	monitoring.PaymentAmount.Record(ctx, req.AmountCents)

	span.SetAttributes(attribute.String("payment.transaction_id", created.TransactionID))
	logger.Info("Payment created, redirecting to bank",
		zap.String("order_id", req.OrderID),
		zap.String("transaction_id", created.TransactionID),
	)
	return created.RedirectURL, nil
}

func (s *PaymentReconciler) initiateFailed(ctx context.Context, span trace.Span, logger *zap.Logger, req models.InitiateRequest, status string, err error) {
	monitoring.PaymentsInitiated.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	span.RecordError(err)
	span.SetStatus(codes.Error, status)
	logger.Error("Payment initiation failed",
		zap.Error(err),
		zap.String("order_id", req.OrderID),
		zap.String("bank_id", req.BankID),
		zap.Int64("amount_cents", req.AmountCents),
	)
}

// ReconcileReport applies the gateway's final status of a payment to its order
func (s *PaymentReconciler) ReconcileReport(ctx context.Context, transactionID string) (models.Disposition, error) {
	if transactionID == "" {
		return "", ErrMissingTransactionID
	}

	ctx, span := s.tracer.Start(ctx, "reconcile_report")
	defer span.End()
	span.SetAttributes(attribute.String("payment.transaction_id", transactionID))
	logger := logging.WithTraceContext(span).With(zap.String("transaction_id", transactionID))

	disposition, orderID, err := s.reconcile(ctx, span, transactionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconciliation failed")
		monitoring.Reconciliations.Add(ctx, 1, metric.WithAttributes(attribute.String("disposition", "error")))
		logger.Error("Payment report failed", zap.Error(err), zap.String("order_id", orderID))
		return "", err
	}

	span.SetAttributes(attribute.String("payment.disposition", string(disposition)))
	monitoring.Reconciliations.Add(ctx, 1, metric.WithAttributes(attribute.String("disposition", string(disposition))))
	logger.Info("Payment report handled",
		zap.String("order_id", orderID),
		zap.String("disposition", string(disposition)),
	)
	return disposition, nil
}

func (s *PaymentReconciler) reconcile(ctx context.Context, span trace.Span, transactionID string) (models.Disposition, string, error) {
	fail := func(orderID string, err error) (models.Disposition, string, error) {
		return "", orderID, &ReconciliationError{TransactionID: transactionID, OrderID: orderID, Err: err}
	}

	unlock, err := s.locker.Lock(ctx, transactionID)
	if err != nil {
		return fail("", fmt.Errorf("lock: %w", err))
	}
	defer unlock()

	record, err := s.store.FindByTransactionID(ctx, transactionID)
	if errors.Is(err, models.ErrNotFound) {
		return "", "", &PaymentNotFoundError{TransactionID: transactionID}
	}
	if err != nil {
		return fail("", err)
	}
	orderID := record.OrderID
	span.SetAttributes(attribute.String("payment.order_id", orderID))
	// a stored bank status means this transaction already ran; a retry may
	// have put the order back to pending_payment since
	if record.BankStatus != models.BankStatusUnset {
		return models.DispositionAlreadyReconciled, orderID, nil
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return fail(orderID, err)
	}
	if order.Status != models.StatusPendingPayment {
		return models.DispositionAlreadyReconciled, orderID, nil
	}

	gctx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	status, err := s.gateway.QueryStatus(gctx, transactionID)
	cancel()
	if err != nil {
		return fail(orderID, fmt.Errorf("query status: %w", err))
	}
	span.SetAttributes(
		attribute.String("payment.bank_status", string(status.BankStatus)),
		attribute.Bool("payment.paid", status.Paid),
	)
	if !status.Paid && (status.BankStatus == models.BankStatusSuccess || !status.BankStatus.Terminal()) {
		return fail(orderID, fmt.Errorf("%w: %q", ErrUnconfirmedStatus, status.BankStatus))
	}

	expected := money.Cents(order.GrandTotal)
	var disposition models.Disposition
	switch {
	case status.Paid && status.AmountCents == expected:
		disposition = models.DispositionProcessed
	case status.Paid:
		disposition = models.DispositionFraudFlagged
	default:
		disposition = models.DispositionCancelled
	}

	var sendEmail bool
	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		switch disposition {
		case models.DispositionProcessed:
			if err := s.store.ResetCanceledItems(ctx, orderID); err != nil {
				return err
			}
			if err := s.store.UpdateStatus(ctx, transactionID, status.BankStatus, status.ConsumerAccount); err != nil {
				return err
			}
			if err := s.store.AddPaymentTransaction(ctx, models.OrderPaymentTransaction{
				OrderID:       orderID,
				TransactionID: transactionID,
				Type:          models.TxnCapture,
				Closed:        true,
			}); err != nil {
				return err
			}
			if err := s.store.SetState(ctx, orderID, models.StateChange{
				State:  models.StateProcessing,
				Status: models.StatusProcessing,
				Reason: ReasonProcessed,
				Notify: true,
			}, models.StatusPendingPayment); err != nil {
				return err
			}
			var err error
			sendEmail, err = s.store.MarkEmailSent(ctx, orderID)
			return err

		case models.DispositionFraudFlagged:
			if err := s.store.UpdateStatus(ctx, transactionID, status.BankStatus, ""); err != nil {
				return err
			}
			return s.store.SetState(ctx, orderID, models.StateChange{
				State:  models.StatePaymentReview,
				Status: models.StatusFraud,
				Reason: ReasonFraud,
			}, models.StatusPendingPayment)

		default:
			if err := s.store.UpdateStatus(ctx, transactionID, status.BankStatus, ""); err != nil {
				return err
			}
			if err := s.store.Cancel(ctx, orderID); err != nil {
				return err
			}
			return s.store.SetState(ctx, orderID, models.StateChange{
				State:  models.StateCanceled,
				Status: models.StatusCanceled,
				Reason: ReasonCancelled,
			}, models.StatusPendingPayment)
		}
	})
	if errors.Is(err, models.ErrStateConflict) || errors.Is(err, models.ErrNotCancelable) {
		// another report moved the order first; our writes were rolled back
		return models.DispositionAlreadyReconciled, orderID, nil
	}
	if err != nil {
		return fail(orderID, err)
	}

	if disposition == models.DispositionFraudFlagged {
		logging.WithTraceContext(span).Warn("Paid amount does not match order total",
			zap.String("transaction_id", transactionID),
			zap.String("order_id", orderID),
			zap.Int64("paid_cents", status.AmountCents),
			zap.Int64("expected_cents", expected),
		)
	}
	s.publish(ctx, order, transactionID, status, disposition, sendEmail)
	return disposition, orderID, nil
}

// publish runs after commit. Delivery failures are logged and do not undo the
// reconciliation.
func (s *PaymentReconciler) publish(ctx context.Context, order *models.Order, transactionID string, status models.PaymentStatus, disposition models.Disposition, sendEmail bool) {
	logger := logging.FromContext(ctx)

	if sendEmail {
		if err := s.notifier.SendOrderConfirmation(ctx, models.OrderConfirmationEvent{
			OrderID:       order.IncrementID,
			CustomerID:    order.CustomerID,
			TransactionID: transactionID,
			GrandTotal:    order.GrandTotal.StringFixed(2),
			Currency:      order.Currency,
		}); err != nil {
			logger.Error("Failed to send order confirmation",
				zap.Error(err),
				zap.String("order_id", order.IncrementID),
				zap.String("transaction_id", transactionID),
			)
		}
	}

	if err := s.notifier.PaymentReconciled(ctx, models.PaymentReconciledEvent{
		TransactionID: transactionID,
		OrderID:       order.IncrementID,
		Disposition:   disposition,
		BankStatus:    status.BankStatus,
		AmountCents:   status.AmountCents,
		ReconciledAt:  time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		logger.Error("Failed to publish reconciliation",
			zap.Error(err),
			zap.String("order_id", order.IncrementID),
			zap.String("transaction_id", transactionID),
		)
	}
}

// EvaluateReturn decides what the customer coming back from the bank sees.
// It reads the stored bank status only and never calls the gateway.
func (s *PaymentReconciler) EvaluateReturn(ctx context.Context, transactionID, callerCustomerID string) (models.ReturnResult, error) {
	if callerCustomerID == "" {
		return models.ReturnResult{Outcome: models.ReturnUnauthenticated}, nil
	}
	if transactionID == "" {
		return models.ReturnResult{}, ErrMissingTransactionID
	}

	ctx, span := s.tracer.Start(ctx, "evaluate_return")
	defer span.End()
	span.SetAttributes(attribute.String("payment.transaction_id", transactionID))

	record, err := s.store.FindByTransactionID(ctx, transactionID)
	if errors.Is(err, models.ErrNotFound) {
		return models.ReturnResult{}, &PaymentNotFoundError{TransactionID: transactionID}
	}
	if err != nil {
		return models.ReturnResult{}, fmt.Errorf("find payment %s: %w", transactionID, err)
	}

	order, err := s.loadOrder(ctx, record.OrderID)
	if err != nil {
		return models.ReturnResult{}, err
	}
	if order.CustomerID != callerCustomerID {
		logging.WithTraceContext(span).Warn("Return for another customer's order",
			zap.String("transaction_id", transactionID),
			zap.String("order_id", record.OrderID),
			zap.String("customer_id", callerCustomerID),
		)
		return models.ReturnResult{Outcome: models.ReturnForbidden}, nil
	}

	outcome := models.ReturnShowRetryForm
	if record.BankStatus == models.BankStatusSuccess {
		outcome = models.ReturnShowSuccess
	}
	span.SetAttributes(attribute.String("payment.return_outcome", string(outcome)))
	return models.ReturnResult{Outcome: outcome, OrderID: record.OrderID}, nil
}

func (s *PaymentReconciler) loadOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.store.LoadByOrderID(ctx, orderID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, &OrderNotFoundError{OrderID: orderID}
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	return order, nil
}
