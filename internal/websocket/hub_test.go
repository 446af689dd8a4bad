package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lms-backend/internal/changefeed"
	"lms-backend/internal/middleware"
	"lms-backend/internal/models"
)

const testSecret = "test-secret"

func startHub(t *testing.T) (*changefeed.MemoryFeed, *httptest.Server, *Hub) {
	t.Helper()
	feed := changefeed.NewMemoryFeed()
	hub := NewHub(feed, middleware.NewJWTAuth(testSecret), zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return feed, srv, hub
}

func dial(t *testing.T, srv *httptest.Server, userID uuid.UUID, role models.Role, query url.Values) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	token, err := middleware.NewJWTAuth(testSecret).GenerateAccessToken(userID, role, time.Minute)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	query.Set("token", token)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query.Encode()
	return websocket.DefaultDialer.Dial(wsURL, nil)
}

func readEvent(t *testing.T, conn *websocket.Conn) models.ChangeEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev models.ChangeEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	return ev
}

func TestHub_StudentOnlySeesOwnRows(t *testing.T) {
	feed, srv, _ := startHub(t)
	student := uuid.New()

	conn, _, err := dial(t, srv, student, models.RoleStudent, url.Values{"table": {models.TableSupportTickets}})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	feed.Publish(ctx, models.ChangeEvent{Table: models.TableSupportTickets, Op: models.OpInsert, RowID: uuid.New(), OwnerID: uuid.New()})
	own := uuid.New()
	feed.Publish(ctx, models.ChangeEvent{Table: models.TableSupportTickets, Op: models.OpUpdate, RowID: own, OwnerID: student})

	ev := readEvent(t, conn)
	if ev.RowID != own {
		t.Fatalf("expected own ticket %s, got %s", own, ev.RowID)
	}
	if ev.Op != models.OpUpdate {
		t.Errorf("expected update, got %q", ev.Op)
	}
}

func TestHub_InstructorWatchesWholeTable(t *testing.T) {
	feed, srv, hub := startHub(t)
	instructor := uuid.New()

	conn, _, err := dial(t, srv, instructor, models.RoleInstructor, url.Values{"table": {models.TableSupportTickets}})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	row := uuid.New()
	feed.Publish(context.Background(), models.ChangeEvent{Table: models.TableSupportTickets, Op: models.OpInsert, RowID: row, OwnerID: uuid.New()})

	if ev := readEvent(t, conn); ev.RowID != row {
		t.Fatalf("expected row %s, got %s", row, ev.RowID)
	}
	// forwarding starts after registration
	if n := hub.Connections(instructor); n != 1 {
		t.Errorf("expected 1 connection, got %d", n)
	}
}

func TestHub_RowFilter(t *testing.T) {
	feed, srv, _ := startHub(t)
	instructor := uuid.New()
	row := uuid.New()

	conn, _, err := dial(t, srv, instructor, models.RoleInstructor, url.Values{
		"table": {models.TableSupportTickets},
		"id":    {row.String()},
	})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	feed.Publish(ctx, models.ChangeEvent{Table: models.TableSupportTickets, Op: models.OpInsert, RowID: uuid.New()})
	feed.Publish(ctx, models.ChangeEvent{Table: models.TableSupportTickets, Op: models.OpUpdate, RowID: row})

	if ev := readEvent(t, conn); ev.RowID != row {
		t.Fatalf("expected row %s, got %s", row, ev.RowID)
	}
}

func TestHub_RejectsBadSubscriptions(t *testing.T) {
	_, srv, _ := startHub(t)
	student := uuid.New()

	tests := []struct {
		name     string
		role     models.Role
		query    url.Values
		wantCode int
	}{
		{"unknown table", models.RoleInstructor, url.Values{"table": {"users"}}, http.StatusBadRequest},
		{"missing table", models.RoleInstructor, url.Values{}, http.StatusBadRequest},
		{"bad row id", models.RoleInstructor, url.Values{"table": {models.TableSupportTickets}, "id": {"nope"}}, http.StatusBadRequest},
		{"student watching someone else", models.RoleStudent, url.Values{"table": {models.TableSupportTickets}, "owner_id": {uuid.New().String()}}, http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, resp, err := dial(t, srv, student, tc.role, tc.query)
			if err == nil {
				t.Fatal("expected dial to fail")
			}
			if resp == nil || resp.StatusCode != tc.wantCode {
				t.Fatalf("expected status %d, got %v", tc.wantCode, resp)
			}
		})
	}
}

func TestHub_RequiresToken(t *testing.T) {
	_, srv, _ := startHub(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?table=" + models.TableSupportTickets
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}

	_, resp, err = websocket.DefaultDialer.Dial(wsURL+"&token=garbage", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an invalid token, got %v", resp)
	}
}
