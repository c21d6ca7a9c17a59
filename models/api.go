package models

// Disposition is the outcome of reconciling a payment report
type Disposition string

const (
	DispositionProcessed         Disposition = "processed"
	DispositionFraudFlagged      Disposition = "fraud_flagged"
	DispositionCancelled         Disposition = "cancelled"
	DispositionAlreadyReconciled Disposition = "already_reconciled"
)

// ReturnOutcome tells the return endpoint what to show the customer
type ReturnOutcome string

const (
	ReturnShowSuccess     ReturnOutcome = "show_success"
	ReturnShowRetryForm   ReturnOutcome = "show_retry_form"
	ReturnForbidden       ReturnOutcome = "forbidden"
	ReturnUnauthenticated ReturnOutcome = "unauthenticated"
)

// ReturnResult carries the outcome and the order it refers to
type ReturnResult struct {
	Outcome ReturnOutcome
	OrderID string
}

// InitiateRequest is the input of a payment initiation
type InitiateRequest struct {
	OrderID     string
	BankID      string
	AmountCents int64
	Description string
	ReturnURL   string
	ReportURL   string
}

// PaymentReconciledEvent is published after a report changed an order
type PaymentReconciledEvent struct {
	TransactionID string      `json:"transaction_id"`
	OrderID       string      `json:"order_id"`
	Disposition   Disposition `json:"disposition"`
	BankStatus    BankStatus  `json:"bank_status"`
	AmountCents   int64       `json:"amount_cents"`
	ReconciledAt  string      `json:"reconciled_at"`
}

// OrderConfirmationEvent asks the mail service to send the new-order email
type OrderConfirmationEvent struct {
	OrderID       string `json:"order_id"`
	CustomerID    string `json:"customer_id"`
	TransactionID string `json:"transaction_id"`
	GrandTotal    string `json:"grand_total"`
	Currency      string `json:"currency"`
}

// RetryFormResponse is returned to a customer whose payment did not succeed
type RetryFormResponse struct {
	Outcome ReturnOutcome `json:"outcome"`
	OrderID string        `json:"order_id"`
	Banks   []Bank        `json:"banks"`
	FormURL string        `json:"form_url"`
}

// ErrorResponse is the JSON body of a failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	OrderID string `json:"order_id,omitempty"`
}

// EligibilityResponse answers whether iDEAL may be offered
type EligibilityResponse struct {
	Method   string `json:"method"`
	Country  string `json:"country"`
	Currency string `json:"currency"`
	Eligible bool   `json:"eligible"`
}
