package wallet

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// AdminListWithdrawals returns recent withdrawals across all users
func (h *Handler) AdminListWithdrawals(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	ws, err := h.Svc.Ledger.ListWithdrawals(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not fetch withdrawals"})
	}

	out := make([]WithdrawalResponse, 0, len(ws))
	for _, w := range ws {
		out = append(out, toWithdrawalResponse(w))
	}
	return c.JSON(http.StatusOK, out)
}
