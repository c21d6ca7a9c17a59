package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"

	"mollie-ideal/lock"
	"mollie-ideal/models"
)

// memStore keeps orders and payment records in memory. WithinTx snapshots
// the data and restores it when fn fails. calls holds committed writes only.
// Transactions are serialized like a single sqlite writer.
type memStore struct {
	txMu    sync.Mutex
	mu      sync.Mutex
	orders  map[string]*models.Order
	records map[string]*models.PaymentTransaction
	calls   []string

	failOn map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		orders:  make(map[string]*models.Order),
		records: make(map[string]*models.PaymentTransaction),
		failOn:  make(map[string]error),
	}
}

func (m *memStore) addOrder(id, customer, total string, status models.OrderStatus, items ...models.OrderItem) {
	state := models.StatePendingPayment
	switch status {
	case models.StatusProcessing:
		state = models.StateProcessing
	case models.StatusCanceled:
		state = models.StateCanceled
	case models.StatusFraud:
		state = models.StatePaymentReview
	}
	m.orders[id] = &models.Order{
		IncrementID: id,
		CustomerID:  customer,
		GrandTotal:  decimal.RequireFromString(total),
		Currency:    "EUR",
		State:       state,
		Status:      status,
		Items:       items,
	}
}

func (m *memStore) addRecord(txID, orderID string, status models.BankStatus) {
	m.records[txID] = &models.PaymentTransaction{TransactionID: txID, OrderID: orderID, Method: models.MethodTag, BankStatus: status}
}

func (m *memStore) order(id string) models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.orders[id]
}

func (m *memStore) writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *memStore) write(op, detail string) error {
	if err, ok := m.failOn[op]; ok {
		return err
	}
	m.calls = append(m.calls, op+" "+detail)
	return nil
}

func copyOrder(o *models.Order) *models.Order {
	c := *o
	c.Items = append([]models.OrderItem(nil), o.Items...)
	c.History = append([]models.OrderStateHistory(nil), o.History...)
	c.Transactions = append([]models.OrderPaymentTransaction(nil), o.Transactions...)
	return &c
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	orders := make(map[string]*models.Order, len(m.orders))
	for k, v := range m.orders {
		orders[k] = copyOrder(v)
	}
	records := make(map[string]*models.PaymentTransaction, len(m.records))
	for k, v := range m.records {
		r := *v
		records[k] = &r
	}
	calls := len(m.calls)
	m.mu.Unlock()

	err := fn(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.orders, m.records, m.calls = orders, records, m.calls[:calls]
	}
	return err
}

func (m *memStore) LoadByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, models.ErrNotFound)
	}
	return copyOrder(o), nil
}

func (m *memStore) SetState(ctx context.Context, orderID string, change models.StateChange, expected ...models.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return models.ErrNotFound
	}
	match := len(expected) == 0
	for _, s := range expected {
		if o.Status == s {
			match = true
		}
	}
	if !match {
		return models.ErrStateConflict
	}
	if err := m.write("SetState", fmt.Sprintf("%s %s/%s", orderID, change.State, change.Status)); err != nil {
		return err
	}
	o.History = append(o.History, models.OrderStateHistory{
		OrderID:    orderID,
		FromState:  o.State,
		FromStatus: o.Status,
		ToState:    change.State,
		ToStatus:   change.Status,
		Reason:     change.Reason,
		Notified:   change.Notify,
	})
	o.State, o.Status = change.State, change.Status
	return nil
}

func (m *memStore) Cancel(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[orderID]
	if o.Status == models.StatusCanceled {
		return models.ErrNotCancelable
	}
	if err := m.write("Cancel", orderID); err != nil {
		return err
	}
	for i := range o.Items {
		o.Items[i].QtyCanceled = o.Items[i].QtyOrdered
	}
	return nil
}

func (m *memStore) ResetCanceledItems(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write("ResetCanceledItems", orderID); err != nil {
		return err
	}
	o := m.orders[orderID]
	for i := range o.Items {
		o.Items[i].QtyCanceled = 0
	}
	return nil
}

func (m *memStore) AddPaymentTransaction(ctx context.Context, txn models.OrderPaymentTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.write("AddPaymentTransaction", fmt.Sprintf("%s %s", txn.OrderID, txn.Type)); err != nil {
		return err
	}
	o := m.orders[txn.OrderID]
	o.Transactions = append(o.Transactions, txn)
	return nil
}

func (m *memStore) MarkEmailSent(ctx context.Context, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[orderID]
	if o.EmailSent {
		return false, nil
	}
	if err := m.write("MarkEmailSent", orderID); err != nil {
		return false, err
	}
	o.EmailSent = true
	return true, nil
}

func (m *memStore) Insert(ctx context.Context, orderID, transactionID, method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[transactionID]; ok {
		return models.ErrDuplicateTransaction
	}
	if err := m.write("Insert", transactionID); err != nil {
		return err
	}
	m.records[transactionID] = &models.PaymentTransaction{TransactionID: transactionID, OrderID: orderID, Method: method}
	return nil
}

func (m *memStore) UpdateStatus(ctx context.Context, transactionID string, status models.BankStatus, bankAccount string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[transactionID]
	if !ok {
		return models.ErrNotFound
	}
	if r.BankStatus != models.BankStatusUnset {
		return models.ErrStateConflict
	}
	if err := m.write("UpdateStatus", fmt.Sprintf("%s %s", transactionID, status)); err != nil {
		return err
	}
	r.BankStatus = status
	if bankAccount != "" {
		r.BankAccount = bankAccount
	}
	return nil
}

func (m *memStore) FindByTransactionID(ctx context.Context, transactionID string) (*models.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[transactionID]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *r
	return &c, nil
}

// MockGateway answers with the configured functions and counts calls
type MockGateway struct {
	mu sync.Mutex

	CreatePaymentFunc func(ctx context.Context, bankID string, amountCents int64, description string) (models.CreatedPayment, error)
	QueryStatusFunc   func(ctx context.Context, transactionID string) (models.PaymentStatus, error)

	createCalls int
	queryCalls  int
}

func (g *MockGateway) Banks(ctx context.Context) ([]models.Bank, error) {
	return []models.Bank{{ID: "0031", Name: "ABN AMRO"}, {ID: "0721", Name: "ING"}}, nil
}

func (g *MockGateway) CreatePayment(ctx context.Context, bankID string, amountCents int64, description, returnURL, reportURL string) (models.CreatedPayment, error) {
	g.mu.Lock()
	g.createCalls++
	g.mu.Unlock()
	if g.CreatePaymentFunc == nil {
		return models.CreatedPayment{}, fmt.Errorf("CreatePayment not expected")
	}
	return g.CreatePaymentFunc(ctx, bankID, amountCents, description)
}

func (g *MockGateway) QueryStatus(ctx context.Context, transactionID string) (models.PaymentStatus, error) {
	g.mu.Lock()
	g.queryCalls++
	g.mu.Unlock()
	if g.QueryStatusFunc == nil {
		return models.PaymentStatus{}, fmt.Errorf("QueryStatus not expected")
	}
	return g.QueryStatusFunc(ctx, transactionID)
}

func (g *MockGateway) calls() (create, query int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createCalls, g.queryCalls
}

type recordingNotifier struct {
	mu            sync.Mutex
	confirmations []models.OrderConfirmationEvent
	reconciled    []models.PaymentReconciledEvent
	err           error
}

func (n *recordingNotifier) SendOrderConfirmation(ctx context.Context, event models.OrderConfirmationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmations = append(n.confirmations, event)
	return n.err
}

func (n *recordingNotifier) PaymentReconciled(ctx context.Context, event models.PaymentReconciledEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reconciled = append(n.reconciled, event)
	return n.err
}

func paidStatus(txID string, cents int64) func(context.Context, string) (models.PaymentStatus, error) {
	return func(context.Context, string) (models.PaymentStatus, error) {
		return models.PaymentStatus{
			TransactionID:   txID,
			BankStatus:      models.BankStatusSuccess,
			Paid:            true,
			AmountCents:     cents,
			ConsumerAccount: "NL91ABNA0417164300",
			ConsumerName:    "J. Jansen",
		}, nil
	}
}

func newTestReconciler(store *memStore, gw *MockGateway, n *recordingNotifier) *PaymentReconciler {
	return NewPaymentReconciler(noop.NewTracerProvider().Tracer("test"), store, gw, n, lock.NewLocal(), Options{
		MinAmountCents: 118,
		Description:    "Order %",
		ReturnURL:      "https://shop.example/mpm/idl/return",
		ReportURL:      "https://shop.example/mpm/idl/report",
	})
}
