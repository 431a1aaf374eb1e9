// Package mpesa defines M-Pesa transaction status types.
package mpesa

import "time"

// Result is the outcome of a transaction status query.
type Result string

const (
	ResultCompleted Result = "completed"
	ResultPending   Result = "pending"
	ResultFailed    Result = "failed"
	ResultNotFound  Result = "not_found"
	// ResultUnknown means the status API itself could not be reached.
	ResultUnknown Result = "unknown"
)

// Status is the resolved state of one transaction.
type Status struct {
	TransactionID string    `json:"transaction_id"`
	Result        Result    `json:"result"`
	ResultDesc    string    `json:"result_desc,omitempty"`
	Amount        float64   `json:"amount,omitempty"`
	CheckedAt     time.Time `json:"checked_at"`
}
