package ledger

import "time"

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// Failure reasons recorded on reversed withdrawals.
const (
	ReasonInsufficientBalance = "INSUFFICIENT_BALANCE"
	ReasonInvalidPayment      = "INVALID_PAYMENT"
	ReasonPathfindingTimeout  = "PATHFINDING_TIMEOUT"
	ReasonRouteNotFound       = "ROUTE_NOT_FOUND"
	ReasonUnknownFailure      = "UNKNOWN_FAILURE"
)

type Withdrawal struct {
	ID             string
	UserID         string
	UserName       string
	Hash           string
	Bolt11         string
	MsatsPaying    int64
	MsatsFeePaying int64
	MsatsPaid      *int64
	MsatsFeePaid   *int64
	Status         string
	FailureReason  *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Invoice struct {
	ID             string
	UserID         string
	UserName       string
	Hash           string
	Bolt11         string
	MsatsRequested int64
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

type CreateWithdrawalInput struct {
	UserID         string
	Hash           string
	Bolt11         string
	MsatsPaying    int64
	MsatsFeePaying int64
}

type CreateInvoiceInput struct {
	UserID         string
	Hash           string
	Bolt11         string
	MsatsRequested int64
	ExpiresAt      time.Time
}
