package main

import (
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/stacksats/walletd/internal/alerts"
	"github.com/stacksats/walletd/internal/auth"
	"github.com/stacksats/walletd/internal/db"
	"github.com/stacksats/walletd/internal/ledger"
	"github.com/stacksats/walletd/internal/lnd"
	appmw "github.com/stacksats/walletd/internal/middleware"
	"github.com/stacksats/walletd/internal/reconcile"
	"github.com/stacksats/walletd/internal/wallet"
)

// queueSettler hands payment outcomes to the reconcile queue
type queueSettler struct{}

func (queueSettler) EnqueueConfirm(id string, paidMsats, feeMsats int64) error {
	return reconcile.EnqueueConfirm(id, paidMsats, feeMsats)
}

func (queueSettler) EnqueueReverse(id, reason string) error {
	return reconcile.EnqueueReverse(id, reason)
}

func main() {
	_ = godotenv.Load()

	// Init subsystems
	db.Init()
	alerts.Init()

	store := ledger.New(db.Conn)
	node := lnd.NewClient(
		os.Getenv("LND_HOST"),
		os.Getenv("LND_MACAROON"),
		os.Getenv("LND_TLS_INSECURE") == "true",
	)
	svc := wallet.NewService(store, node, queueSettler{}, os.Getenv("LND_SOCKET"))
	h := wallet.NewHandler(svc)

	reconcile.Init(&reconcile.Worker{
		Ledger: store,
		Notify: h.NotifyWithdrawal,
	})

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// Health
	e.GET("/health", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// Public routes
	e.POST("/signup", auth.Signup)
	e.POST("/login", auth.Login)
	e.GET("/node/address", h.ConnectAddress)

	// Authenticated group
	g := e.Group("")
	g.Use(appmw.JWTMiddleware)

	g.GET("/me", auth.Me)

	// Wallet
	g.GET("/wallet/balance", h.Balance)
	g.POST("/wallet/invoices", h.CreateInvoice)
	g.GET("/wallet/invoices/:id", h.GetInvoice)
	g.POST("/wallet/withdrawals", h.CreateWithdrawal)
	g.GET("/wallet/withdrawals/:id", h.GetWithdrawal)
	g.GET("/wallet/withdrawals/:id/ws", h.WithdrawalWS)

	// Admin routes
	adminGroup := e.Group("/admin")
	adminGroup.Use(appmw.JWTMiddleware)
	adminGroup.Use(appmw.RequireRoles("admin"))
	adminGroup.GET("/withdrawals", h.AdminListWithdrawals)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("wallet API listening on :%s", port)
	if err := e.Start(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
