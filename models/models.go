package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BankStatus is the payment status reported by the iDEAL gateway
type BankStatus string

const (
	BankStatusUnset         BankStatus = ""
	BankStatusSuccess       BankStatus = "Success"
	BankStatusCancelled     BankStatus = "Cancelled"
	BankStatusFailure       BankStatus = "Failure"
	BankStatusExpired       BankStatus = "Expired"
	BankStatusCheckedBefore BankStatus = "CheckedBefore"
)

// Terminal reports whether the status is a final outcome of a payment attempt.
// CheckedBefore only says the status was fetched already.
func (s BankStatus) Terminal() bool {
	switch s {
	case BankStatusSuccess, BankStatusCancelled, BankStatusFailure, BankStatusExpired:
		return true
	}
	return false
}

// OrderState is the coarse order lifecycle state
type OrderState string

const (
	StatePendingPayment OrderState = "pending_payment"
	StateProcessing     OrderState = "processing"
	StatePaymentReview  OrderState = "payment_review"
	StateCanceled       OrderState = "canceled"
)

// OrderStatus is the fine grained status shown to merchants and customers
type OrderStatus string

const (
	StatusPendingPayment OrderStatus = "pending_payment"
	StatusProcessing     OrderStatus = "processing"
	StatusFraud          OrderStatus = "fraud"
	StatusCanceled       OrderStatus = "canceled"
)

// PaymentTxnType mirrors the sales payment transaction types
type PaymentTxnType string

const (
	TxnAuthorization PaymentTxnType = "authorization"
	TxnCapture       PaymentTxnType = "capture"
)

// MethodTag is stored on every PaymentTransaction row
const MethodTag = "idl"

// PaymentTransaction is the local record of one iDEAL payment attempt
type PaymentTransaction struct {
	ID            uint       `gorm:"primaryKey" json:"-"`
	TransactionID string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"transaction_id"`
	OrderID       string     `gorm:"type:varchar(64);not null;index" json:"order_id"`
	Method        string     `gorm:"type:varchar(16);not null" json:"method"`
	BankStatus    BankStatus `gorm:"type:varchar(16)" json:"bank_status,omitempty"`
	BankAccount   string     `gorm:"type:varchar(64)" json:"bank_account,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (PaymentTransaction) TableName() string { return "mollie_payments" }

// Order is the subset of a webshop order the payment flow reads and mutates
type Order struct {
	ID             uint                      `gorm:"primaryKey" json:"-"`
	IncrementID    string                    `gorm:"type:varchar(64);not null;uniqueIndex" json:"order_id"`
	CustomerID     string                    `gorm:"type:varchar(64);index" json:"customer_id"`
	GrandTotal     decimal.Decimal           `gorm:"type:decimal(12,4);not null" json:"grand_total"`
	Currency       string                    `gorm:"type:varchar(3);not null;default:'EUR'" json:"currency"`
	BillingCountry string                    `gorm:"type:varchar(2)" json:"billing_country"`
	State          OrderState                `gorm:"type:varchar(32);not null" json:"state"`
	Status         OrderStatus               `gorm:"type:varchar(32);not null;index" json:"status"`
	EmailSent      bool                      `gorm:"not null;default:false" json:"email_sent"`
	Items          []OrderItem               `gorm:"foreignKey:OrderID;references:IncrementID" json:"items"`
	History        []OrderStateHistory       `gorm:"foreignKey:OrderID;references:IncrementID" json:"history,omitempty"`
	Transactions   []OrderPaymentTransaction `gorm:"foreignKey:OrderID;references:IncrementID" json:"transactions,omitempty"`
	CreatedAt      time.Time                 `json:"created_at"`
	UpdatedAt      time.Time                 `json:"updated_at"`
}

func (Order) TableName() string { return "sales_orders" }

// OrderItem is one ordered product line
type OrderItem struct {
	ID          uint   `gorm:"primaryKey" json:"-"`
	OrderID     string `gorm:"type:varchar(64);not null;index" json:"-"`
	SKU         string `gorm:"type:varchar(64);not null" json:"sku"`
	QtyOrdered  int    `gorm:"not null" json:"qty_ordered"`
	QtyCanceled int    `gorm:"not null;default:0" json:"qty_canceled"`
}

func (OrderItem) TableName() string { return "sales_order_items" }

// OrderStateHistory is one append-only state transition of an order
type OrderStateHistory struct {
	ID         uint        `gorm:"primaryKey" json:"-"`
	OrderID    string      `gorm:"type:varchar(64);not null;index" json:"-"`
	FromState  OrderState  `gorm:"type:varchar(32)" json:"from_state"`
	FromStatus OrderStatus `gorm:"type:varchar(32)" json:"from_status"`
	ToState    OrderState  `gorm:"type:varchar(32);not null" json:"to_state"`
	ToStatus   OrderStatus `gorm:"type:varchar(32);not null" json:"to_status"`
	Reason     string      `gorm:"type:text" json:"reason"`
	Notified   bool        `json:"notified"`
	CreatedAt  time.Time   `json:"created_at"`
}

func (OrderStateHistory) TableName() string { return "sales_order_status_history" }

// OrderPaymentTransaction records an authorization or capture against the order payment
type OrderPaymentTransaction struct {
	ID            uint           `gorm:"primaryKey" json:"-"`
	OrderID       string         `gorm:"type:varchar(64);not null;index" json:"-"`
	TransactionID string         `gorm:"type:varchar(64);not null" json:"transaction_id"`
	Type          PaymentTxnType `gorm:"type:varchar(16);not null" json:"type"`
	Closed        bool           `gorm:"not null" json:"closed"`
	CreatedAt     time.Time      `json:"created_at"`
}

func (OrderPaymentTransaction) TableName() string { return "sales_payment_transactions" }

// CartItem is one line of a customer's active cart
type CartItem struct {
	ID         uint   `gorm:"primaryKey" json:"-"`
	CustomerID string `gorm:"type:varchar(64);not null;index" json:"customer_id"`
	SKU        string `gorm:"type:varchar(64);not null" json:"sku"`
	Qty        int    `gorm:"not null" json:"qty"`
}

func (CartItem) TableName() string { return "quote_items" }

// StateChange describes one order state transition
type StateChange struct {
	State  OrderState
	Status OrderStatus
	Reason string
	Notify bool
}

// Bank is an iDEAL issuer the consumer can pick
type Bank struct {
	ID   string `json:"bank_id"`
	Name string `json:"bank_name"`
}

// CreatedPayment is returned by the gateway when a payment is created
type CreatedPayment struct {
	TransactionID string
	RedirectURL   string
}

// PaymentStatus is the gateway's view of a payment
type PaymentStatus struct {
	TransactionID   string
	BankStatus      BankStatus
	Paid            bool
	AmountCents     int64
	ConsumerAccount string
	ConsumerName    string
}
