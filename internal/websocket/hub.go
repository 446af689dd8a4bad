package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lms-backend/internal/changefeed"
	"lms-backend/internal/identity"
	"lms-backend/internal/models"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type tokenParser interface {
	ParseToken(tokenStr string) (identity.Caller, error)
}

// Hub bridges change feed subscriptions to browser websockets. Each
// connection watches one table, narrowed by row and owner.
type Hub struct {
	mu          sync.RWMutex
	connections map[uuid.UUID][]*websocket.Conn
	cancelFuncs map[*websocket.Conn]context.CancelFunc
	feed        changefeed.Feed
	auth        tokenParser
	log         *zap.Logger
}

func NewHub(feed changefeed.Feed, auth tokenParser, log *zap.Logger) *Hub {
	return &Hub{
		connections: make(map[uuid.UUID][]*websocket.Conn),
		cancelFuncs: make(map[*websocket.Conn]context.CancelFunc),
		feed:        feed,
		auth:        auth,
		log:         log,
	}
}

// filterFor builds the subscription filter from the query string. Students
// are always pinned to their own rows; instructors may watch whole tables.
func filterFor(caller identity.Caller, r *http.Request) (changefeed.Filter, bool) {
	q := r.URL.Query()
	f := changefeed.Filter{Table: q.Get("table")}
	if !changefeed.KnownTable(f.Table) {
		return f, false
	}
	if s := q.Get("id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return f, false
		}
		f.RowID = id
	}
	if s := q.Get("owner_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return f, false
		}
		f.OwnerID = id
	}
	if !caller.IsInstructor() {
		if f.OwnerID != uuid.Nil && f.OwnerID != caller.UserID {
			return f, false
		}
		f.OwnerID = caller.UserID
	}
	return f, true
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Authenticate via token query param
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	caller, err := h.auth.ParseToken(tokenStr)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	filter, ok := filterFor(caller, r)
	if !ok {
		http.Error(w, "Invalid subscription", http.StatusBadRequest)
		return
	}

	// Subscribe before the upgrade completes so no event published after
	// the handshake can be missed.
	ctx, cancel := context.WithCancel(context.Background())
	events, err := h.feed.Subscribe(ctx, filter.Table)
	if err != nil {
		cancel()
		h.log.Error("change feed subscribe failed", zap.String("table", filter.Table), zap.Error(err))
		http.Error(w, "Subscription unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.registerConnection(caller.UserID, conn, cancel)
	h.log.Info("websocket connected",
		zap.String("user_id", caller.UserID.String()),
		zap.String("table", filter.Table))

	go h.forward(ctx, conn, filter, events)

	// Keep connection alive and handle disconnect
	go func() {
		defer h.unregisterConnection(caller.UserID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// forward is the only writer on conn.
func (h *Hub) forward(ctx context.Context, conn *websocket.Conn, filter changefeed.Filter, events <-chan models.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !filter.Match(ev) {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.log.Debug("websocket write failed", zap.Error(err))
				conn.Close()
				return
			}
		}
	}
}

func (h *Hub) registerConnection(userID uuid.UUID, conn *websocket.Conn, cancel context.CancelFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[userID] = append(h.connections[userID], conn)
	h.cancelFuncs[conn] = cancel
}

func (h *Hub) unregisterConnection(userID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn.Close()
	if cancel, ok := h.cancelFuncs[conn]; ok {
		cancel()
		delete(h.cancelFuncs, conn)
	}

	conns := h.connections[userID]
	for i, c := range conns {
		if c == conn {
			h.connections[userID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(h.connections[userID]) == 0 {
		delete(h.connections, userID)
	}

	h.log.Info("websocket disconnected", zap.String("user_id", userID.String()))
}

// Connections counts open sockets for a user.
func (h *Hub) Connections(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[userID])
}

// Close drops every connection; used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, cancel := range h.cancelFuncs {
		cancel()
		conn.Close()
	}
}
