package wallet

import (
	"time"

	"github.com/stacksats/walletd/internal/ledger"
)

// InvoiceResponse is the API view of an invoice.
type InvoiceResponse struct {
	ID             string    `json:"id"`
	UserName       string    `json:"user"`
	Hash           string    `json:"hash"`
	Bolt11         string    `json:"bolt11"`
	MsatsRequested int64     `json:"msats_requested"`
	SatsRequested  int64     `json:"sats_requested"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// WithdrawalResponse is the API view of a withdrawal. The sats fields are
// derived from the msats fields by floored division.
type WithdrawalResponse struct {
	ID             string    `json:"id"`
	UserName       string    `json:"user"`
	Hash           string    `json:"hash"`
	Bolt11         string    `json:"bolt11"`
	MsatsPaying    int64     `json:"msats_paying"`
	SatsPaying     int64     `json:"sats_paying"`
	MsatsFeePaying int64     `json:"msats_fee_paying"`
	SatsFeePaying  int64     `json:"sats_fee_paying"`
	MsatsPaid      int64     `json:"msats_paid"`
	SatsPaid       int64     `json:"sats_paid"`
	MsatsFeePaid   int64     `json:"msats_fee_paid"`
	SatsFeePaid    int64     `json:"sats_fee_paid"`
	Status         string    `json:"status"`
	FailureReason  string    `json:"failure_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toInvoiceResponse(inv ledger.Invoice) InvoiceResponse {
	return InvoiceResponse{
		ID:             inv.ID,
		UserName:       inv.UserName,
		Hash:           inv.Hash,
		Bolt11:         inv.Bolt11,
		MsatsRequested: inv.MsatsRequested,
		SatsRequested:  inv.MsatsRequested / 1000,
		ExpiresAt:      inv.ExpiresAt,
		CreatedAt:      inv.CreatedAt,
	}
}

func toWithdrawalResponse(w ledger.Withdrawal) WithdrawalResponse {
	resp := WithdrawalResponse{
		ID:             w.ID,
		UserName:       w.UserName,
		Hash:           w.Hash,
		Bolt11:         w.Bolt11,
		MsatsPaying:    w.MsatsPaying,
		SatsPaying:     w.MsatsPaying / 1000,
		MsatsFeePaying: w.MsatsFeePaying,
		SatsFeePaying:  w.MsatsFeePaying / 1000,
		Status:         w.Status,
		CreatedAt:      w.CreatedAt,
		UpdatedAt:      w.UpdatedAt,
	}
	if w.MsatsPaid != nil {
		resp.MsatsPaid = *w.MsatsPaid
		resp.SatsPaid = *w.MsatsPaid / 1000
	}
	if w.MsatsFeePaid != nil {
		resp.MsatsFeePaid = *w.MsatsFeePaid
		resp.SatsFeePaid = *w.MsatsFeePaid / 1000
	}
	if w.FailureReason != nil {
		resp.FailureReason = *w.FailureReason
	}
	return resp
}
