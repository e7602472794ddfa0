package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/stacksats/walletd/internal/ledger"
)

type fakeLedger struct {
	confirmErr   error
	reverseErr   error
	confirmCalls int
	reverseCalls int
	lastID       string
	lastPaid     int64
	lastFee      int64
	lastReason   string
}

func (f *fakeLedger) ConfirmWithdrawal(ctx context.Context, id string, paidMsats, feeMsats int64) error {
	f.confirmCalls++
	f.lastID = id
	f.lastPaid = paidMsats
	f.lastFee = feeMsats
	return f.confirmErr
}

func (f *fakeLedger) ReverseWithdrawal(ctx context.Context, id, reason string) error {
	f.reverseCalls++
	f.lastID = id
	f.lastReason = reason
	return f.reverseErr
}

func confirmTask(t *testing.T, p ConfirmPayload) *asynq.Task {
	t.Helper()
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return asynq.NewTask(TaskConfirmWithdrawal, b)
}

func reverseTask(t *testing.T, p ReversePayload) *asynq.Task {
	t.Helper()
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return asynq.NewTask(TaskReverseWithdrawal, b)
}

func TestHandleConfirm(t *testing.T) {
	l := &fakeLedger{}
	var notified string
	w := &Worker{Ledger: l, Notify: func(id string) { notified = id }}

	task := confirmTask(t, ConfirmPayload{WithdrawalID: "wd-1", PaidMsats: 1_000_000, FeeMsats: 3000})
	if err := w.HandleConfirm(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if l.lastID != "wd-1" || l.lastPaid != 1_000_000 || l.lastFee != 3000 {
		t.Errorf("wrong settlement applied: %+v", l)
	}
	if notified != "wd-1" {
		t.Errorf("expected notification for wd-1, got %q", notified)
	}
}

func TestHandleConfirmAlreadySettled(t *testing.T) {
	// the reverse landed first; confirm must not retry forever
	l := &fakeLedger{confirmErr: ledger.ErrAlreadySettled}
	w := &Worker{Ledger: l}

	task := confirmTask(t, ConfirmPayload{WithdrawalID: "wd-1", PaidMsats: 1, FeeMsats: 1})
	if err := w.HandleConfirm(context.Background(), task); err != nil {
		t.Fatalf("already-settled must be swallowed, got %v", err)
	}
}

func TestHandleConfirmNotFoundSkipsRetry(t *testing.T) {
	l := &fakeLedger{confirmErr: ledger.ErrNotFound}
	w := &Worker{Ledger: l}

	task := confirmTask(t, ConfirmPayload{WithdrawalID: "nope"})
	err := w.HandleConfirm(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestHandleConfirmTransientErrorRetries(t *testing.T) {
	l := &fakeLedger{confirmErr: errors.New("connection reset")}
	w := &Worker{Ledger: l}

	task := confirmTask(t, ConfirmPayload{WithdrawalID: "wd-1"})
	err := w.HandleConfirm(context.Background(), task)
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("transient error must be retried, got %v", err)
	}
}

func TestHandleReverse(t *testing.T) {
	l := &fakeLedger{}
	var notified string
	w := &Worker{Ledger: l, Notify: func(id string) { notified = id }}

	task := reverseTask(t, ReversePayload{WithdrawalID: "wd-2", Reason: ledger.ReasonRouteNotFound})
	if err := w.HandleReverse(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if l.lastID != "wd-2" || l.lastReason != ledger.ReasonRouteNotFound {
		t.Errorf("wrong reversal applied: %+v", l)
	}
	if notified != "wd-2" {
		t.Errorf("expected notification for wd-2, got %q", notified)
	}
}

func TestHandleReverseAlreadySettled(t *testing.T) {
	l := &fakeLedger{reverseErr: ledger.ErrAlreadySettled}
	w := &Worker{Ledger: l}

	task := reverseTask(t, ReversePayload{WithdrawalID: "wd-2", Reason: ledger.ReasonUnknownFailure})
	if err := w.HandleReverse(context.Background(), task); err != nil {
		t.Fatalf("already-settled must be swallowed, got %v", err)
	}
}

func TestHandleBadPayloadSkipsRetry(t *testing.T) {
	w := &Worker{Ledger: &fakeLedger{}}

	task := asynq.NewTask(TaskConfirmWithdrawal, []byte("{not json"))
	if err := w.HandleConfirm(context.Background(), task); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for bad payload, got %v", err)
	}

	task = asynq.NewTask(TaskReverseWithdrawal, []byte("{not json"))
	if err := w.HandleReverse(context.Background(), task); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for bad payload, got %v", err)
	}
}
