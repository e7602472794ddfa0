package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/stacksats/walletd/internal/db"
)

// Me returns the authenticated user's profile
func Me(c echo.Context) error {
	uid, ok := c.Get("user_id").(string)
	if !ok || uid == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var (
		name      string
		email     string
		role      string
		createdAt time.Time
	)
	err := db.Conn.QueryRow(context.Background(), `
        SELECT name, email, role, created_at FROM users WHERE id = $1
    `, uid).Scan(&name, &email, &role, &createdAt)
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"id":         uid,
		"name":       name,
		"email":      email,
		"role":       role,
		"created_at": createdAt,
	})
}
