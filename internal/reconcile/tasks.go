package reconcile

// Task type constants
const (
	TaskConfirmWithdrawal = "withdrawal:confirm"
	TaskReverseWithdrawal = "withdrawal:reverse"
)

// ConfirmPayload settles a withdrawal that the node paid out.
type ConfirmPayload struct {
	WithdrawalID string `json:"withdrawal_id"`
	PaidMsats    int64  `json:"paid_msats"`
	FeeMsats     int64  `json:"fee_msats"`
}

// ReversePayload refunds a withdrawal the node could not pay.
type ReversePayload struct {
	WithdrawalID string `json:"withdrawal_id"`
	Reason       string `json:"reason"`
}
