package alerts

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/hibiken/asynq"
)

var (
	client *asynq.Client
	server *asynq.Server
)

// Init starts the Asynq server and initializes a shared client.
func Init() {
	opts := asynq.RedisClientOpt{Addr: redisAddr()}
	client = asynq.NewClient(opts)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskOpsAlert, handleOpsAlert)

	server = asynq.NewServer(opts, asynq.Config{
		Concurrency: 2,
		Queues: map[string]int{
			"alerts": 5,
		},
	})
	go func() {
		if err := server.Run(mux); err != nil {
			log.Printf("Asynq alerts server stopped: %v", err)
		}
	}()

	log.Printf("Alerts initialized (addr=%s)", redisAddr())
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

// ensureClient returns a usable client instance
func ensureClient() *asynq.Client {
	if client == nil {
		Init()
	}
	return client
}

// EnqueueOpsAlert sends an alert to the operators
func EnqueueOpsAlert(severity, subject, message string) error {
	to := os.Getenv("OPS_EMAIL")
	if to == "" {
		to = "ops@stacksats.local"
	}
	env := EmailEnvelope{To: to, Subject: subject, Body: message}
	payload := OpsAlertPayload{Severity: severity, Message: message, Envelope: env, SentAt: time.Now()}
	b, _ := json.Marshal(payload)
	task := asynq.NewTask(TaskOpsAlert, b)
	_, err := ensureClient().Enqueue(task, asynq.Queue("alerts"))
	return err
}

func handleOpsAlert(_ context.Context, t *asynq.Task) error {
	var p OpsAlertPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return err
	}
	if err := SendEmail(p.Envelope.To, p.Envelope.Subject, p.Envelope.Body); err != nil {
		log.Printf("[notify][ERROR] OpsAlert send failed: %v", err)
		return err
	}
	log.Printf("[notify] OpsAlert sent -> severity=%s to=%s", p.Severity, p.Envelope.To)
	return nil
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
