package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nfrund/pairchat/internal/broker"
	"github.com/nfrund/pairchat/internal/chat"
	"github.com/nfrund/pairchat/internal/config"
	"github.com/nfrund/pairchat/internal/domain"
	"github.com/nfrund/pairchat/internal/presence"
	"github.com/nfrund/pairchat/internal/pubsub"
	"github.com/nfrund/pairchat/internal/server"
	"github.com/nfrund/pairchat/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const readTimeout = 2 * time.Second

type testEnv struct {
	ts         *httptest.Server
	store      *sqlite.Store
	engine     *chat.Engine
	alice, bob *domain.User
}

// setupServer builds the full HTTP stack on a temporary SQLite database with
// header authentication.
func setupServer(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	cfg, err := config.Parse(map[string]string{
		"AUTH_MODE":        "header",
		"AUTH_HEADER":      "X-User-ID",
		"WS_CONNECT_BURST": "100",
	})
	require.NoError(t, err)

	st, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	alice, err := st.CreateUser(ctx, "alice")
	require.NoError(t, err)
	bob, err := st.CreateUser(ctx, "bob")
	require.NoError(t, err)

	bus := pubsub.NewWatermillBridge()
	t.Cleanup(func() { _ = bus.Close() })

	b := broker.New[chat.Outbound]()
	engine := chat.NewEngine(st, st, b, bus, chat.Options{}, nil)

	presenceSvc := presence.NewService(st, presence.WithOfflineDebounce(0))
	presenceCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	require.NoError(t, presenceSvc.Start(presenceCtx, bus))

	s, err := server.New(server.Dependencies{
		Config:   cfg,
		Users:    st,
		Messages: st,
		Health:   st,
		Engine:   engine,
		Presence: presenceSvc,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(s.E)
	t.Cleanup(func() {
		_ = engine.Shutdown()
		presenceSvc.Shutdown()
		ts.Close()
	})
	return &testEnv{ts: ts, store: st, engine: engine, alice: alice, bob: bob}
}

func (env *testEnv) dial(t *testing.T, user *domain.User, room string) *websocket.Conn {
	t.Helper()
	conn, resp, err := env.tryDial(user, room)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	})
	return conn
}

func (env *testEnv) tryDial(user *domain.User, room string) (*websocket.Conn, *http.Response, error) {
	header := http.Header{}
	if user != nil {
		header.Set("X-User-ID", strconv.FormatInt(user.ID, 10))
	}
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws/chat/" + room
	return websocket.DefaultDialer.Dial(url, header)
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestChat_MessageAndReadReceiptEndToEnd(t *testing.T) {
	env := setupServer(t)
	connA := env.dial(t, env.alice, "1_2")
	connB := env.dial(t, env.bob, "2_1")

	require.NoError(t, connA.WriteJSON(map[string]any{"type": "message", "message": "hello", "receiver_id": 2}))

	fa := readFrame(t, connA)
	fb := readFrame(t, connB)
	assert.Equal(t, "message", fa["type"])
	assert.Equal(t, "hello", fa["message"])
	assert.Equal(t, "alice", fa["sender"])
	assert.EqualValues(t, 1, fa["sender_id"])
	assert.Equal(t, fa, fb)
	assert.Equal(t, map[string]any{"type": "unread_update", "sender_id": float64(1)}, readFrame(t, connB))

	id := fa["message_id"].(float64)
	require.NoError(t, connB.WriteJSON(map[string]any{"type": "read", "message_ids": []float64{id}}))

	want := map[string]any{"type": "read_receipt", "message_ids": []any{id}, "reader_id": float64(2)}
	assert.Equal(t, want, readFrame(t, connA))
	assert.Equal(t, want, readFrame(t, connB))

	n, err := env.store.UnreadCount(context.Background(), env.alice.ID, env.bob.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestChat_TypingSurvivesMalformedFrames(t *testing.T) {
	env := setupServer(t)
	connA := env.dial(t, env.alice, "1_2")
	connB := env.dial(t, env.bob, "1_2")

	require.NoError(t, connA.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, connA.WriteJSON(map[string]any{"type": "typing"}))

	assert.Equal(t, map[string]any{"type": "typing", "user": "alice"}, readFrame(t, connB))
}

func TestChat_HandshakeRejections(t *testing.T) {
	env := setupServer(t)

	_, resp, err := env.tryDial(nil, "1_2")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = env.tryDial(env.alice, "2_3")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = env.tryDial(env.alice, "1_1")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestChat_PresenceFollowsSessions(t *testing.T) {
	env := setupServer(t)
	ctx := context.Background()

	conn, _, err := env.tryDial(env.alice, "1_2")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		u, err := env.store.GetUser(ctx, env.alice.ID)
		return err == nil && u.Online
	}, readTimeout, 20*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()

	assert.Eventually(t, func() bool {
		u, err := env.store.GetUser(ctx, env.alice.ID)
		return err == nil && !u.Online && !u.LastSeen.IsZero()
	}, readTimeout, 20*time.Millisecond)
	assert.Eventually(t, func() bool { return env.engine.Active() == 0 }, readTimeout, 20*time.Millisecond)
}

func get(t *testing.T, env *testEnv, user *domain.User, path string, out any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, env.ts.URL+path, nil)
	require.NoError(t, err)
	if user != nil {
		req.Header.Set("X-User-ID", strconv.FormatInt(user.ID, 10))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestAPI_Endpoints(t *testing.T) {
	env := setupServer(t)

	var health map[string]any
	assert.Equal(t, http.StatusOK, get(t, env, nil, "/health", &health))
	assert.Equal(t, "ok", health["status"])

	var errResp map[string]any
	assert.Equal(t, http.StatusUnauthorized, get(t, env, nil, "/api/users", &errResp))
	assert.Equal(t, "authentication required", errResp["message"])

	var users []map[string]any
	assert.Equal(t, http.StatusOK, get(t, env, env.alice, "/api/users", &users))
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0]["username"])

	var conv map[string]any
	assert.Equal(t, http.StatusOK, get(t, env, env.alice, "/api/conversations/2", &conv))
	assert.Equal(t, "1_2", conv["room_name"])
	assert.Equal(t, []any{}, conv["messages"])

	var unread map[string]any
	assert.Equal(t, http.StatusOK, get(t, env, env.bob, "/api/unread/1", &unread))
	assert.Equal(t, float64(0), unread["unread_count"])

	var online map[string]any
	assert.Equal(t, http.StatusOK, get(t, env, env.bob, "/api/presence", &online))
	assert.Equal(t, float64(0), online["count"])
}
