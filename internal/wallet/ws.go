package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/stacksats/walletd/internal/ledger"
)

type wsEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// wsClient serializes writes to one connection; gorilla allows a single
// writer at a time, and the initial push can race a settlement broadcast.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

type hub struct {
	withdrawalID string
	clients      map[*wsClient]bool
	mu           sync.RWMutex
}

var (
	hubsMu sync.RWMutex
	hubs   = make(map[string]*hub)
)

func getHub(withdrawalID string) *hub {
	hubsMu.Lock()
	defer hubsMu.Unlock()
	if h, ok := hubs[withdrawalID]; ok {
		return h
	}
	h := &hub{withdrawalID: withdrawalID, clients: make(map[*wsClient]bool)}
	hubs[withdrawalID] = h
	return h
}

// dropHubIfEmpty removes the hub from the registry once its last client is
// gone, re-checking under both locks since a subscriber may have raced in.
func dropHubIfEmpty(h *hub) {
	hubsMu.Lock()
	defer hubsMu.Unlock()
	cur, ok := hubs[h.withdrawalID]
	if !ok || cur != h {
		return
	}
	cur.mu.RLock()
	empty := len(cur.clients) == 0
	cur.mu.RUnlock()
	if empty {
		delete(hubs, h.withdrawalID)
	}
}

func (h *hub) broadcast(evt wsEvent) {
	payload, _ := json.Marshal(evt)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		_ = c.send(payload)
	}
}

func (h *hub) register(conn *websocket.Conn) *wsClient {
	c := &wsClient{conn: conn}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	return c
}

func (h *hub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	empty := len(h.clients) == 0
	h.mu.Unlock()
	if empty {
		dropHubIfEmpty(h)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WithdrawalWS - websocket for realtime status updates on a withdrawal.
// The terminal status arrives out of band of the creating request, so
// clients subscribe here instead of polling.
func (h *Handler) WithdrawalWS(c echo.Context) error {
	uid, _, ok := callerIdentity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "you must be logged in"})
	}

	id := c.Param("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing withdrawal id"})
	}

	w, err := h.Svc.Ledger.GetWithdrawal(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "withdrawal not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not fetch withdrawal"})
	}
	if w.UserID != uid {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your withdrawal"})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	hb := getHub(id)
	client := hb.register(conn)
	defer func() {
		hb.unregister(client)
		_ = conn.Close()
	}()

	// current state first, so a subscriber who raced the settlement still
	// sees the terminal status
	if payload, err := json.Marshal(wsEvent{Type: "withdrawal", Data: toWithdrawalResponse(w)}); err == nil {
		_ = client.send(payload)
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}

// NotifyWithdrawal pushes the current state of a withdrawal to its
// subscribers. Called by the reconcile worker after settlement.
func (h *Handler) NotifyWithdrawal(withdrawalID string) {
	w, err := h.Svc.Ledger.GetWithdrawal(context.Background(), withdrawalID)
	if err != nil {
		log.Printf("[wallet] notify: could not load withdrawal %s: %v", withdrawalID, err)
		return
	}
	getHub(withdrawalID).broadcast(wsEvent{Type: "withdrawal", Data: toWithdrawalResponse(w)})
}
