package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"mollie-ideal/models"
)

// createTestRepository opens a migrated sqlite database in a temp dir
func createTestRepository(t *testing.T) *Repository {
	t.Helper()

	db, err := Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}

	repo := New(db)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedOrder(t *testing.T, repo *Repository, id string, status models.OrderStatus) *models.Order {
	t.Helper()
	order := &models.Order{
		IncrementID:    id,
		CustomerID:     "cust-1",
		GrandTotal:     decimal.RequireFromString("19.99"),
		Currency:       "EUR",
		BillingCountry: "NL",
		State:          models.OrderState(status),
		Status:         status,
		Items: []models.OrderItem{
			{SKU: "sku-1", QtyOrdered: 2},
			{SKU: "sku-2", QtyOrdered: 1},
		},
	}
	if err := repo.CreateOrder(context.Background(), order); err != nil {
		t.Fatalf("CreateOrder() error: %v", err)
	}
	return order
}

func TestLoadByOrderID(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()
	seedOrder(t, repo, "100000001", models.StatusPendingPayment)

	order, err := repo.LoadByOrderID(ctx, "100000001")
	if err != nil {
		t.Fatalf("LoadByOrderID() error: %v", err)
	}
	if len(order.Items) != 2 {
		t.Errorf("got %d items, want 2", len(order.Items))
	}
	if !order.GrandTotal.Equal(decimal.RequireFromString("19.99")) {
		t.Errorf("GrandTotal = %s", order.GrandTotal)
	}

	if _, err := repo.LoadByOrderID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing order error = %v, want ErrNotFound", err)
	}
}

func TestSetStateCompareAndSwap(t *testing.T) {
	tests := []struct {
		name        string
		status      models.OrderStatus
		expected    []models.OrderStatus
		wantErr     error
		wantHistory int
	}{
		{
			name:        "Given pending order When expecting pending Then transitions and records history",
			status:      models.StatusPendingPayment,
			expected:    []models.OrderStatus{models.StatusPendingPayment},
			wantHistory: 1,
		},
		{
			name:        "Given processing order When expecting pending Then conflict and no history",
			status:      models.StatusProcessing,
			expected:    []models.OrderStatus{models.StatusPendingPayment},
			wantErr:     ErrStateConflict,
			wantHistory: 0,
		},
		{
			name:        "Given canceled order When expecting pending or canceled Then transitions",
			status:      models.StatusCanceled,
			expected:    []models.OrderStatus{models.StatusPendingPayment, models.StatusCanceled},
			wantHistory: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := createTestRepository(t)
			ctx := context.Background()
			seedOrder(t, repo, "100000001", tt.status)

			change := models.StateChange{
				State:  models.StateProcessing,
				Status: models.StatusPendingPayment,
				Reason: "redirected to bank",
			}
			err := repo.SetState(ctx, "100000001", change, tt.expected...)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("SetState() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("SetState() error: %v", err)
			}

			history, err := repo.History(ctx, "100000001")
			if err != nil {
				t.Fatal(err)
			}
			if len(history) != tt.wantHistory {
				t.Fatalf("got %d history entries, want %d", len(history), tt.wantHistory)
			}
			if tt.wantHistory == 1 {
				h := history[0]
				if h.FromStatus != tt.status || h.ToState != models.StateProcessing || h.Reason != "redirected to bank" {
					t.Errorf("history = %+v", h)
				}
			}
		})
	}
}

func TestSetStateUnknownOrder(t *testing.T) {
	repo := createTestRepository(t)
	err := repo.SetState(context.Background(), "nope", models.StateChange{State: models.StateCanceled, Status: models.StatusCanceled})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("SetState() error = %v, want ErrNotFound", err)
	}
}

func TestCancelBeforeStateTransition(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()
	seedOrder(t, repo, "100000001", models.StatusPendingPayment)

	if err := repo.Cancel(ctx, "100000001"); err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
	order, _ := repo.LoadByOrderID(ctx, "100000001")
	for _, item := range order.Items {
		if item.QtyCanceled != item.QtyOrdered {
			t.Errorf("item %s canceled %d of %d", item.SKU, item.QtyCanceled, item.QtyOrdered)
		}
	}

	canceled := models.StateChange{State: models.StateCanceled, Status: models.StatusCanceled, Reason: "payment cancelled by consumer"}
	if err := repo.SetState(ctx, "100000001", canceled, models.StatusPendingPayment); err != nil {
		t.Fatalf("SetState() error: %v", err)
	}

	// once the status is canceled, cancel no longer releases stock
	if err := repo.Cancel(ctx, "100000001"); !errors.Is(err, ErrNotCancelable) {
		t.Errorf("Cancel() after transition error = %v, want ErrNotCancelable", err)
	}
}

func TestResetCanceledItems(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()
	seedOrder(t, repo, "100000001", models.StatusPendingPayment)

	if err := repo.Cancel(ctx, "100000001"); err != nil {
		t.Fatal(err)
	}
	if err := repo.ResetCanceledItems(ctx, "100000001"); err != nil {
		t.Fatalf("ResetCanceledItems() error: %v", err)
	}

	order, _ := repo.LoadByOrderID(ctx, "100000001")
	for _, item := range order.Items {
		if item.QtyCanceled != 0 {
			t.Errorf("item %s still canceled %d", item.SKU, item.QtyCanceled)
		}
	}
}

func TestPaymentRecords(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()

	if err := repo.Insert(ctx, "100000001", "tx-1", models.MethodTag); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if err := repo.Insert(ctx, "100000001", "tx-1", models.MethodTag); !errors.Is(err, ErrDuplicateTransaction) {
		t.Errorf("second Insert() error = %v, want ErrDuplicateTransaction", err)
	}
	if err := repo.Insert(ctx, "", "tx-2", models.MethodTag); err == nil {
		t.Error("Insert() without order id should fail")
	}

	if err := repo.UpdateStatus(ctx, "tx-1", models.BankStatusSuccess, "NL91ABNA0417164300"); err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}
	// a transaction keeps its first bank status
	if err := repo.UpdateStatus(ctx, "tx-1", models.BankStatusCancelled, ""); !errors.Is(err, ErrStateConflict) {
		t.Errorf("second UpdateStatus() error = %v, want ErrStateConflict", err)
	}

	record, err := repo.FindByTransactionID(ctx, "tx-1")
	if err != nil {
		t.Fatalf("FindByTransactionID() error: %v", err)
	}
	if record.BankStatus != models.BankStatusSuccess {
		t.Errorf("BankStatus = %q, want Success", record.BankStatus)
	}
	if record.BankAccount != "NL91ABNA0417164300" {
		t.Errorf("BankAccount = %q, want it kept", record.BankAccount)
	}
	if record.Method != models.MethodTag || record.OrderID != "100000001" {
		t.Errorf("record = %+v", record)
	}

	if err := repo.UpdateStatus(ctx, "missing", models.BankStatusSuccess, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateStatus(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := repo.FindByTransactionID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindByTransactionID(missing) error = %v, want ErrNotFound", err)
	}

	// a status-only update never clears the account
	if err := repo.Insert(ctx, "100000001", "tx-3", models.MethodTag); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if err := repo.UpdateStatus(ctx, "tx-3", models.BankStatusExpired, ""); err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}
	record, err = repo.FindByTransactionID(ctx, "tx-3")
	if err != nil {
		t.Fatalf("FindByTransactionID() error: %v", err)
	}
	if record.BankStatus != models.BankStatusExpired || record.BankAccount != "" {
		t.Errorf("record = %+v", record)
	}
}

func TestUpdateStatusInsideRolledBackTx(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()
	if err := repo.Insert(ctx, "100000001", "tx-1", models.MethodTag); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	boom := errors.New("boom")
	err := repo.WithinTx(ctx, func(ctx context.Context) error {
		if err := repo.UpdateStatus(ctx, "tx-1", models.BankStatusCancelled, ""); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx() error = %v, want boom", err)
	}

	// the rolled back status does not block the next report
	if err := repo.UpdateStatus(ctx, "tx-1", models.BankStatusSuccess, "NL91ABNA0417164300"); err != nil {
		t.Errorf("UpdateStatus() after rollback error: %v", err)
	}
}

func TestWithinTxRollsBack(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()
	seedOrder(t, repo, "100000001", models.StatusPendingPayment)

	boom := errors.New("boom")
	err := repo.WithinTx(ctx, func(ctx context.Context) error {
		if err := repo.Insert(ctx, "100000001", "tx-1", models.MethodTag); err != nil {
			return err
		}
		change := models.StateChange{State: models.StateProcessing, Status: models.StatusPendingPayment}
		if err := repo.SetState(ctx, "100000001", change, models.StatusPendingPayment); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx() error = %v, want boom", err)
	}

	if _, err := repo.FindByTransactionID(ctx, "tx-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("record survived rollback: %v", err)
	}
	history, _ := repo.History(ctx, "100000001")
	if len(history) != 0 {
		t.Errorf("history survived rollback: %+v", history)
	}
	order, _ := repo.LoadByOrderID(ctx, "100000001")
	if order.State != models.StatePendingPayment {
		t.Errorf("state = %q, want pending_payment", order.State)
	}
}

func TestMarkEmailSentOnce(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()
	seedOrder(t, repo, "100000001", models.StatusProcessing)

	first, err := repo.MarkEmailSent(ctx, "100000001")
	if err != nil || !first {
		t.Fatalf("first MarkEmailSent() = %v, %v", first, err)
	}
	second, err := repo.MarkEmailSent(ctx, "100000001")
	if err != nil || second {
		t.Fatalf("second MarkEmailSent() = %v, %v", second, err)
	}
}

func TestCart(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()

	for _, item := range []*models.CartItem{
		{CustomerID: "cust-1", SKU: "sku-1", Qty: 1},
		{CustomerID: "cust-1", SKU: "sku-2", Qty: 3},
		{CustomerID: "cust-2", SKU: "sku-1", Qty: 1},
	} {
		if err := repo.AddCartItem(ctx, item); err != nil {
			t.Fatal(err)
		}
	}

	if err := repo.ClearItems(ctx, "cust-1"); err != nil {
		t.Fatalf("ClearItems() error: %v", err)
	}

	mine, _ := repo.CartItems(ctx, "cust-1")
	if len(mine) != 0 {
		t.Errorf("cust-1 cart has %d items after clear", len(mine))
	}
	theirs, _ := repo.CartItems(ctx, "cust-2")
	if len(theirs) != 1 {
		t.Errorf("cust-2 cart has %d items, want 1", len(theirs))
	}
}
