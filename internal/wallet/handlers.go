package wallet

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/stacksats/walletd/internal/ledger"
)

// Handler exposes the wallet service over HTTP.
type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

type CreateInvoiceRequest struct {
	Amount int64 `json:"amount"` // sats
}

type CreateWithdrawalRequest struct {
	Invoice string `json:"invoice"` // bolt11
	MaxFee  int64  `json:"max_fee"` // sats
}

// CreateInvoice issues a receive invoice for the authenticated user
func (h *Handler) CreateInvoice(c echo.Context) error {
	uid, name, ok := callerIdentity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "you must be logged in"})
	}

	req := new(CreateInvoiceRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	inv, err := h.Svc.CreateInvoice(c.Request().Context(), uid, name, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "amount must be positive"})
		case errors.Is(err, ErrUpstream):
			return c.JSON(http.StatusBadGateway, echo.Map{"error": "could not create invoice"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not create invoice"})
		}
	}

	return c.JSON(http.StatusCreated, toInvoiceResponse(inv))
}

// CreateWithdrawal reserves funds and dispatches a Lightning payment. The
// response carries the pending withdrawal; clients poll or subscribe for
// the terminal status.
func (h *Handler) CreateWithdrawal(c echo.Context) error {
	uid, _, ok := callerIdentity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "you must be logged in"})
	}

	req := new(CreateWithdrawalRequest)
	if err := c.Bind(req); err != nil || req.Invoice == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	w, err := h.Svc.CreateWithdrawal(c.Request().Context(), uid, req.Invoice, req.MaxFee)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInvoice):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "could not decode invoice"})
		case errors.Is(err, ErrInvalidFee):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "max fee must not be negative"})
		case errors.Is(err, ledger.ErrInsufficientFunds):
			return c.JSON(http.StatusPaymentRequired, echo.Map{"error": "insufficient funds"})
		case errors.Is(err, ErrUpstream):
			return c.JSON(http.StatusBadGateway, echo.Map{"error": "could not create withdrawal"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not create withdrawal"})
		}
	}

	return c.JSON(http.StatusCreated, toWithdrawalResponse(w))
}

// GetInvoice returns one of the caller's invoices
func (h *Handler) GetInvoice(c echo.Context) error {
	uid, _, ok := callerIdentity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "you must be logged in"})
	}

	inv, err := h.Svc.Ledger.GetInvoice(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "invoice not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not fetch invoice"})
	}
	if inv.UserID != uid {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your invoice"})
	}

	return c.JSON(http.StatusOK, toInvoiceResponse(inv))
}

// GetWithdrawal returns one of the caller's withdrawals
func (h *Handler) GetWithdrawal(c echo.Context) error {
	uid, _, ok := callerIdentity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "you must be logged in"})
	}

	w, err := h.Svc.Ledger.GetWithdrawal(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "withdrawal not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not fetch withdrawal"})
	}
	if w.UserID != uid {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your withdrawal"})
	}

	return c.JSON(http.StatusOK, toWithdrawalResponse(w))
}

// Balance returns the authenticated user's wallet balance
func (h *Handler) Balance(c echo.Context) error {
	uid, _, ok := callerIdentity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "you must be logged in"})
	}

	msats, err := h.Svc.Ledger.GetWalletBalance(c.Request().Context(), uid)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "wallet not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not fetch balance"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"msats": msats,
		"sats":  msats / 1000,
	})
}

// ConnectAddress returns pubkey@host:port for opening a channel to our node
func (h *Handler) ConnectAddress(c echo.Context) error {
	addr, err := h.Svc.ConnectAddress(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "node unavailable"})
	}
	return c.JSON(http.StatusOK, echo.Map{"address": addr})
}

func callerIdentity(c echo.Context) (userID, name string, ok bool) {
	userID, _ = c.Get("user_id").(string)
	name, _ = c.Get("name").(string)
	return userID, name, userID != ""
}
