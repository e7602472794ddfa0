package wallet

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/stacksats/walletd/internal/ledger"
	"github.com/stacksats/walletd/internal/lnd"
)

const (
	invoiceExpiry      = 3 * time.Hour
	pathfindingTimeout = 30 * time.Second

	// headroom past the node-side timeout before a send call is abandoned
	// and the outcome is resolved by tracking instead
	dispatchGrace = time.Minute
)

var (
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrInvalidFee     = errors.New("max fee must not be negative")
	ErrInvalidInvoice = errors.New("could not decode invoice")
	ErrUpstream       = errors.New("payment gateway error")
)

// Gateway is the Lightning node surface the orchestrator needs.
type Gateway interface {
	GetInfo(ctx context.Context) (lnd.NodeInfo, error)
	DecodeInvoice(ctx context.Context, bolt11 string) (lnd.DecodedInvoice, error)
	AddInvoice(ctx context.Context, params lnd.InvoiceParameters) (hash, bolt11 string, err error)
	PayInvoice(ctx context.Context, params lnd.PaymentParameters) (lnd.PaymentOutcome, error)
	TrackPayment(ctx context.Context, paymentHash string) (lnd.PaymentOutcome, error)
}

// Ledger is the slice of the store the orchestrator needs.
type Ledger interface {
	CreateInvoice(ctx context.Context, input ledger.CreateInvoiceInput) (ledger.Invoice, error)
	CreateWithdrawal(ctx context.Context, input ledger.CreateWithdrawalInput) (ledger.Withdrawal, error)
	GetInvoice(ctx context.Context, id string) (ledger.Invoice, error)
	GetWithdrawal(ctx context.Context, id string) (ledger.Withdrawal, error)
	ListWithdrawals(ctx context.Context, limit int) ([]ledger.Withdrawal, error)
	GetWalletBalance(ctx context.Context, userID string) (int64, error)
}

// Settler hands terminal payment outcomes to the settlement queue.
type Settler interface {
	EnqueueConfirm(withdrawalID string, paidMsats, feeMsats int64) error
	EnqueueReverse(withdrawalID, reason string) error
}

// Service orchestrates invoices and withdrawals between the Lightning node
// and the ledger. It holds no state of its own.
type Service struct {
	Ledger     Ledger
	Node       Gateway
	Settle     Settler
	NodeSocket string // host:port peers connect to, e.g. LND_SOCKET
}

func NewService(l Ledger, node Gateway, settle Settler, nodeSocket string) *Service {
	return &Service{
		Ledger:     l,
		Node:       node,
		Settle:     settle,
		NodeSocket: nodeSocket,
	}
}

// CreateInvoice asks the node for a receive invoice and records it. The
// invoice expires 3 hours out; no balance moves until it is paid.
func (s *Service) CreateInvoice(ctx context.Context, userID, userName string, amountSats int64) (ledger.Invoice, error) {
	if amountSats <= 0 {
		return ledger.Invoice{}, ErrInvalidAmount
	}

	expiresAt := time.Now().Add(invoiceExpiry)
	memo := fmt.Sprintf("%d sats for @%s on stacksats", amountSats, userName)

	hash, bolt11, err := s.Node.AddInvoice(ctx, lnd.InvoiceParameters{
		Memo:      memo,
		ValueMsat: amountSats * 1000,
		Expiry:    int64(invoiceExpiry / time.Second),
	})
	if err != nil {
		return ledger.Invoice{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	return s.Ledger.CreateInvoice(ctx, ledger.CreateInvoiceInput{
		UserID:         userID,
		Hash:           hash,
		Bolt11:         bolt11,
		MsatsRequested: amountSats * 1000,
		ExpiresAt:      expiresAt,
	})
}

// CreateWithdrawal decodes the invoice, atomically reserves amount + max fee
// against the user's balance, and dispatches the payment. It returns the
// pending withdrawal without waiting for the payment outcome; settlement
// arrives later through the reconcile queue.
func (s *Service) CreateWithdrawal(ctx context.Context, userID, bolt11 string, maxFeeSats int64) (ledger.Withdrawal, error) {
	if maxFeeSats < 0 {
		return ledger.Withdrawal{}, ErrInvalidFee
	}

	decoded, err := s.Node.DecodeInvoice(ctx, bolt11)
	if err != nil {
		return ledger.Withdrawal{}, ErrInvalidInvoice
	}
	if decoded.NumMsat <= 0 {
		return ledger.Withdrawal{}, ErrInvalidInvoice
	}

	w, err := s.Ledger.CreateWithdrawal(ctx, ledger.CreateWithdrawalInput{
		UserID:         userID,
		Hash:           decoded.PaymentHash,
		Bolt11:         bolt11,
		MsatsPaying:    decoded.NumMsat,
		MsatsFeePaying: maxFeeSats * 1000,
	})
	if err != nil {
		return ledger.Withdrawal{}, err
	}

	go s.dispatch(w.ID, bolt11, decoded.PaymentHash, maxFeeSats*1000)

	return w, nil
}

// dispatch runs detached from the originating request: it blocks on the node
// until the payment reaches a terminal state, then enqueues the matching
// settlement task. The ledger is never touched from here.
//
// The node enforces the pathfinding timeout and reports it as a failure of
// its own. An error from the send call itself proves nothing about the
// payment, which may still settle, so the true state is recovered by
// tracking before any refund is enqueued.
func (s *Service) dispatch(withdrawalID, bolt11, paymentHash string, feeLimitMsat int64) {
	ctx, cancel := context.WithTimeout(context.Background(), pathfindingTimeout+dispatchGrace)
	outcome, err := s.Node.PayInvoice(ctx, lnd.PaymentParameters{
		Invoice:        bolt11,
		FeeLimitMsat:   feeLimitMsat,
		TimeoutSeconds: int64(pathfindingTimeout / time.Second),
	})
	cancel()
	if err != nil {
		log.Printf("[wallet] payment dispatch interrupted for withdrawal %s: %v", withdrawalID, err)
		var known bool
		outcome, known = s.resolveOutcome(withdrawalID, paymentHash)
		if !known {
			// the node never accepted the payment, nothing left the wallet
			s.settleReverse(withdrawalID, ledger.ReasonUnknownFailure)
			return
		}
	}

	if outcome.Confirmed {
		s.settleConfirm(withdrawalID, outcome.PaidMsat, outcome.FeeMsat)
		return
	}

	s.settleReverse(withdrawalID, failureReason(outcome))
}

// resolveOutcome asks the node for the terminal state of a payment whose
// send call was interrupted. Refunding here without an answer could double
// the user's money, so this keeps asking until the node responds. Reports
// known=false only when the node has no record of the payment.
func (s *Service) resolveOutcome(withdrawalID, paymentHash string) (outcome lnd.PaymentOutcome, known bool) {
	backoff := time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), pathfindingTimeout+dispatchGrace)
		outcome, err := s.Node.TrackPayment(ctx, paymentHash)
		cancel()
		if err == nil {
			return outcome, true
		}
		if errors.Is(err, lnd.ErrPaymentNotFound) {
			return lnd.PaymentOutcome{}, false
		}
		log.Printf("[wallet][ERROR] payment state lookup for withdrawal %s failed: %v", withdrawalID, err)
		time.Sleep(backoff)
		if backoff < time.Minute {
			backoff *= 2
		}
	}
}

// failureReason maps gateway failure flags onto the recorded reason.
// First matching flag wins.
func failureReason(outcome lnd.PaymentOutcome) string {
	switch {
	case outcome.IsInsufficientBalance:
		return ledger.ReasonInsufficientBalance
	case outcome.IsInvalidPayment:
		return ledger.ReasonInvalidPayment
	case outcome.IsPathfindingTimeout:
		return ledger.ReasonPathfindingTimeout
	case outcome.IsRouteNotFound:
		return ledger.ReasonRouteNotFound
	default:
		return ledger.ReasonUnknownFailure
	}
}

func (s *Service) settleConfirm(withdrawalID string, paidMsats, feeMsats int64) {
	s.withEnqueueRetry(withdrawalID, func() error {
		return s.Settle.EnqueueConfirm(withdrawalID, paidMsats, feeMsats)
	})
}

func (s *Service) settleReverse(withdrawalID, reason string) {
	s.withEnqueueRetry(withdrawalID, func() error {
		return s.Settle.EnqueueReverse(withdrawalID, reason)
	})
}

// withEnqueueRetry keeps trying to hand the outcome to the settlement queue
// until it succeeds. Losing the outcome would strand reserved funds on a
// pending withdrawal, so this never gives up.
func (s *Service) withEnqueueRetry(withdrawalID string, enqueue func() error) {
	backoff := time.Second
	for attempt := 1; ; attempt++ {
		err := enqueue()
		if err == nil {
			return
		}
		log.Printf("[wallet][ERROR] settlement enqueue for withdrawal %s failed (attempt %d): %v", withdrawalID, attempt, err)
		time.Sleep(backoff)
		if backoff < time.Minute {
			backoff *= 2
		}
	}
}

// ConnectAddress returns the node's public connect string, pubkey@host:port.
func (s *Service) ConnectAddress(ctx context.Context) (string, error) {
	info, err := s.Node.GetInfo(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return info.IdentityPubkey + "@" + s.NodeSocket, nil
}
