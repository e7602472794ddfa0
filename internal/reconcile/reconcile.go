package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/stacksats/walletd/internal/alerts"
	"github.com/stacksats/walletd/internal/ledger"
)

// Ledger is the slice of the store the worker settles against.
type Ledger interface {
	ConfirmWithdrawal(ctx context.Context, id string, paidMsats, feeMsats int64) error
	ReverseWithdrawal(ctx context.Context, id, reason string) error
}

// Worker applies terminal payment outcomes to the ledger. Settlement tasks
// are delivered at least once and retried until the ledger accepts them;
// the ledger's status guard makes duplicate delivery harmless.
type Worker struct {
	Ledger Ledger
	// Notify is invoked after a settlement lands, with the withdrawal id.
	Notify func(withdrawalID string)
}

var (
	client *asynq.Client
	server *asynq.Server
)

// Init starts the settlement queue client and server.
func Init(w *Worker) {
	opts := asynq.RedisClientOpt{Addr: redisAddr()}
	client = asynq.NewClient(opts)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskConfirmWithdrawal, w.HandleConfirm)
	mux.HandleFunc(TaskReverseWithdrawal, w.HandleReverse)

	server = asynq.NewServer(opts, asynq.Config{
		Concurrency: 5,
		Queues: map[string]int{
			"ledger": 10,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(escalate),
	})
	go func() {
		if err := server.Run(mux); err != nil {
			log.Printf("[reconcile] server stopped: %v", err)
		}
	}()

	log.Printf("[reconcile] settlement queue initialized (addr=%s)", redisAddr())
}

// Close releases client and stops server.
func Close() {
	if client != nil {
		_ = client.Close()
	}
	if server != nil {
		server.Shutdown()
	}
}

// EnqueueConfirm schedules the confirmed-payment settlement for a withdrawal.
func EnqueueConfirm(withdrawalID string, paidMsats, feeMsats int64) error {
	return enqueue(TaskConfirmWithdrawal, ConfirmPayload{
		WithdrawalID: withdrawalID,
		PaidMsats:    paidMsats,
		FeeMsats:     feeMsats,
	})
}

// EnqueueReverse schedules the refund for a failed withdrawal.
func EnqueueReverse(withdrawalID, reason string) error {
	return enqueue(TaskReverseWithdrawal, ReversePayload{
		WithdrawalID: withdrawalID,
		Reason:       reason,
	})
}

func enqueue(taskType string, payload any) error {
	if client == nil {
		return errors.New("reconcile: not initialized")
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	// a pending withdrawal holds reserved funds, so settlement must not be
	// given up on lightly
	_, err = client.Enqueue(
		asynq.NewTask(taskType, b),
		asynq.Queue("ledger"),
		asynq.MaxRetry(25),
		asynq.Timeout(30*time.Second),
	)
	return err
}

func (w *Worker) HandleConfirm(ctx context.Context, t *asynq.Task) error {
	var p ConfirmPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("bad confirm payload: %v: %w", err, asynq.SkipRetry)
	}

	err := w.Ledger.ConfirmWithdrawal(ctx, p.WithdrawalID, p.PaidMsats, p.FeeMsats)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrAlreadySettled):
		// the other terminal outcome landed first; first transition wins
		log.Printf("[reconcile] confirm ignored, withdrawal %s already settled", p.WithdrawalID)
	case errors.Is(err, ledger.ErrNotFound):
		return fmt.Errorf("withdrawal %s not found: %w", p.WithdrawalID, asynq.SkipRetry)
	default:
		return err
	}

	log.Printf("[reconcile] withdrawal %s confirmed (paid=%d fee=%d)", p.WithdrawalID, p.PaidMsats, p.FeeMsats)
	if w.Notify != nil {
		w.Notify(p.WithdrawalID)
	}
	return nil
}

func (w *Worker) HandleReverse(ctx context.Context, t *asynq.Task) error {
	var p ReversePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("bad reverse payload: %v: %w", err, asynq.SkipRetry)
	}

	err := w.Ledger.ReverseWithdrawal(ctx, p.WithdrawalID, p.Reason)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrAlreadySettled):
		log.Printf("[reconcile] reverse ignored, withdrawal %s already settled", p.WithdrawalID)
	case errors.Is(err, ledger.ErrNotFound):
		return fmt.Errorf("withdrawal %s not found: %w", p.WithdrawalID, asynq.SkipRetry)
	default:
		return err
	}

	log.Printf("[reconcile] withdrawal %s reversed (%s)", p.WithdrawalID, p.Reason)
	if w.Notify != nil {
		w.Notify(p.WithdrawalID)
	}
	return nil
}

// escalate pages the operators once a settlement task has burned through its
// retries: reserved funds are stuck until someone intervenes.
func escalate(ctx context.Context, task *asynq.Task, err error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	log.Printf("[reconcile][ERROR] %s failed (attempt %d/%d): %v", task.Type(), retried, maxRetry, err)
	if retried >= maxRetry {
		msg := fmt.Sprintf("settlement task %s exhausted retries: %v\npayload: %s", task.Type(), err, task.Payload())
		if aerr := alerts.EnqueueOpsAlert("critical", "withdrawal settlement stuck", msg); aerr != nil {
			log.Printf("[reconcile][ERROR] ops alert failed: %v", aerr)
		}
	}
}

func redisAddr() string {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}
	if host := os.Getenv("REDIS_HOST"); host != "" {
		port := os.Getenv("REDIS_PORT")
		if port == "" {
			port = "6379"
		}
		return host + ":" + port
	}
	return "127.0.0.1:6379"
}
