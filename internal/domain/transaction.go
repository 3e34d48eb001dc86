package domain

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Payment method values accepted on ingestion.
const (
	PaymentMethodCard         = "card"
	PaymentMethodBankTransfer = "bank_transfer"
	PaymentMethodMobileMoney  = "mobile_money"
	PaymentMethodCrypto       = "crypto"
	PaymentMethodUSSD         = "ussd"
)

// MaxTransactionAmount is the hard ingestion cap, currency-unit scoped.
const MaxTransactionAmount = 50_000_000

// SupportedCurrencies lists the ISO-4217 codes the engine accepts.
var SupportedCurrencies = map[string]bool{
	"NGN": true,
	"USD": true,
	"EUR": true,
	"GBP": true,
}

// Transaction is the immutable, normalized input to the scoring engine.
type Transaction struct {
	// Core identifiers
	TransactionID string `json:"transactionId"`
	UserID        int64  `json:"userId"`

	// Financial details
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	// Counterparty and channel
	MerchantID    string `json:"merchantId"`
	PaymentMethod string `json:"paymentMethod"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	// Optional context
	IPAddress         string `json:"ipAddress,omitempty"`
	DeviceFingerprint string `json:"deviceFingerprint,omitempty"`

	// Optional geolocation context for the location-anomaly rule
	Country string `json:"country,omitempty"`

	// Free-form metadata passed through to expression rules
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// TransactionRequest is the API request payload for transaction assessment.
type TransactionRequest struct {
	TransactionID     string                 `json:"transactionId,omitempty"`
	UserID            int64                  `json:"userId"`
	Amount            float64                `json:"amount"`
	Currency          string                 `json:"currency"`
	MerchantID        string                 `json:"merchantId,omitempty"`
	PaymentMethod     string                 `json:"paymentMethod,omitempty"`
	Timestamp         *time.Time             `json:"timestamp,omitempty"`
	IPAddress         string                 `json:"ipAddress,omitempty"`
	DeviceFingerprint string                 `json:"deviceFingerprint,omitempty"`
	Country           string                 `json:"country,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// ToTransaction normalizes a request into a Transaction domain object.
// Missing identifiers and timestamps are filled in; no validation happens here.
func (r *TransactionRequest) ToTransaction() *Transaction {
	now := time.Now().UTC()

	ts := now
	if r.Timestamp != nil {
		ts = r.Timestamp.UTC()
	}

	txID := r.TransactionID
	if txID == "" {
		txID = NewTransactionID(ts)
	}

	method := r.PaymentMethod
	if method == "" {
		method = PaymentMethodCard
	}

	merchant := r.MerchantID
	if merchant == "" {
		merchant = "unknown"
	}

	return &Transaction{
		TransactionID:     txID,
		UserID:            r.UserID,
		Amount:            r.Amount,
		Currency:          strings.ToUpper(r.Currency),
		MerchantID:        merchant,
		PaymentMethod:     method,
		Timestamp:         ts,
		CreatedAt:         now,
		IPAddress:         r.IPAddress,
		DeviceFingerprint: r.DeviceFingerprint,
		Country:           r.Country,
		Metadata:          r.Metadata,
	}
}

// NewTransactionID generates an ingestion-side transaction identifier.
func NewTransactionID(ts time.Time) string {
	return fmt.Sprintf("TXN_%s_%s", ts.Format("20060102"), uuid.New().String()[:8])
}

// Validate checks a transaction before any scoring begins.
// A failed validation is surfaced as ErrInvalidTransaction; no partial
// assessment is ever produced for a rejected transaction.
func (t *Transaction) Validate() error {
	var problems []string

	if t.TransactionID == "" {
		problems = append(problems, "transactionId is required")
	}
	if t.UserID <= 0 {
		problems = append(problems, "userId must be positive")
	}
	if t.Amount <= 0 {
		problems = append(problems, "amount must be greater than 0")
	} else if t.Amount > MaxTransactionAmount {
		problems = append(problems, "amount exceeds maximum limit")
	}
	if !SupportedCurrencies[t.Currency] {
		problems = append(problems, fmt.Sprintf("unsupported currency: %s", t.Currency))
	}
	if t.Timestamp.IsZero() {
		problems = append(problems, "timestamp is required")
	}
	if t.IPAddress != "" && net.ParseIP(t.IPAddress) == nil {
		problems = append(problems, "invalid IP address format")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTransaction, strings.Join(problems, "; "))
	}
	return nil
}
