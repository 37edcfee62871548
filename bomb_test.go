package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		bind:           "127.0.0.1",
		difficulty:     "flat",
		firstHolder:    "first",
		fuse:           0,
		port:           8080,
		store:          "memory",
		syncInterval:   5 * time.Second,
		sessionTimeout: time.Hour,
	}
}

func testHub(t *testing.T, store BlobStore) (*Hub, *Client, *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClockAt(testNow)
	hub := newHub("hubgame1", NewGame("hubgame1", flatRules()), 0, store, clock)

	client := &Client{
		send:     make(chan any, 8),
		playerID: "moderator",
	}
	hub.clients[client] = true
	hub.moderatorPlayerID = client.playerID

	return hub, client, clock
}

func drain(c *Client) []any {
	var out []any
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func lastState(t *testing.T, msgs []any) GameStateMessage {
	t.Helper()

	for i := len(msgs) - 1; i >= 0; i-- {
		if state, ok := msgs[i].(GameStateMessage); ok {
			return state
		}
	}

	t.Fatal("no game_state message received")
	return GameStateMessage{}
}

func TestHubCommandsPersist(t *testing.T) {
	cfg := testConfig()
	store := NewMemoryStore()
	hub, client, _ := testHub(t, store)

	for _, name := range []string{"Alice", "Bob"} {
		hub.handleCommand(cfg, command{client: client, msg: ClientMessage{Type: "add_player", Name: name}})
	}
	hub.handleCommand(cfg, command{client: client, msg: ClientMessage{Type: "start_game", Duration: "1h"}})

	assert.Equal(t, int64(3), hub.revision, "each mutation should bump the revision")

	data, err := store.Download(context.Background(), blobName("hubgame1"))
	require.NoError(t, err)

	decoded, revision, err := DecodeGame(data, flatRules())
	require.NoError(t, err)
	assert.Equal(t, int64(3), revision)
	assert.Equal(t, []string{"Alice", "Bob"}, decoded.Players)
	assert.Equal(t, "Alice", decoded.Holder)
	assert.Equal(t, PhaseActive, decoded.Phase)

	state := lastState(t, drain(client))
	assert.Equal(t, "active", state.Phase)
	assert.Equal(t, "Alice", state.Holder)
	assert.Equal(t, []string{"Bob"}, state.Eligible)
}

func TestSnapshotDetachedFromLiveGame(t *testing.T) {
	cfg := testConfig()
	store := NewMemoryStore()
	hub, client, _ := testHub(t, store)

	for _, name := range []string{"Alice", "Bob", "Carol"} {
		hub.handleCommand(cfg, command{client: client, msg: ClientMessage{Type: "add_player", Name: name}})
	}

	// Capture the queued broadcast before the next mutation, as a slow
	// writePump would.
	queued := lastState(t, drain(client))
	require.Equal(t, []string{"Alice", "Bob", "Carol"}, queued.Players)

	hub.handleCommand(cfg, command{client: client, msg: ClientMessage{Type: "remove_player", Name: "Bob"}})

	assert.Equal(t, []string{"Alice", "Bob", "Carol"}, queued.Players,
		"queued snapshots must not track later roster changes")
	assert.Equal(t, []string{"Alice", "Carol"}, hub.game.Players)
}

func TestHubValidationWarnsOffendingClientOnly(t *testing.T) {
	cfg := testConfig()
	store := NewMemoryStore()
	hub, client, _ := testHub(t, store)

	other := &Client{send: make(chan any, 8), playerID: "viewer"}
	hub.clients[other] = true

	hub.handleCommand(cfg, command{client: client, msg: ClientMessage{Type: "add_player", Name: "   "}})

	msgs := drain(client)
	require.Len(t, msgs, 1)
	warning, ok := msgs[0].(WarningMessage)
	require.True(t, ok)
	assert.Equal(t, ErrEmptyName.Error(), warning.Message)

	assert.Empty(t, drain(other), "other clients should not see the warning")

	exists, err := store.Find(context.Background(), blobName("hubgame1"))
	require.NoError(t, err)
	assert.False(t, exists, "rejected actions must not persist")
}

// failStore fails every write, for exercising the rollback path.
type failStore struct {
	BlobStore
}

func (s *failStore) Upload(context.Context, string, []byte) error {
	return errors.New("store unreachable")
}

func (s *failStore) Update(context.Context, string, []byte) error {
	return errors.New("store unreachable")
}

func TestHubSaveFailureRevertsMutation(t *testing.T) {
	cfg := testConfig()
	hub, client, _ := testHub(t, &failStore{BlobStore: NewMemoryStore()})

	hub.handleCommand(cfg, command{client: client, msg: ClientMessage{Type: "add_player", Name: "Alice"}})

	assert.Empty(t, hub.game.Players, "failed save must roll the mutation back")
	assert.Equal(t, int64(0), hub.revision)

	msgs := drain(client)
	require.NotEmpty(t, msgs)
	warning, ok := msgs[0].(WarningMessage)
	require.True(t, ok)
	assert.Contains(t, warning.Message, "Could not save")
}

func TestHubRevisionConflictAdoptsRemote(t *testing.T) {
	cfg := testConfig()
	store := NewMemoryStore()
	hub, client, _ := testHub(t, store)

	// Another writer has already advanced this game to revision 5.
	remote := startedGame(t, flatRules(), "Carol", "Dave")
	remote.GameID = "hubgame1"
	data, err := EncodeGame(remote, 5)
	require.NoError(t, err)
	require.NoError(t, store.Upload(context.Background(), blobName("hubgame1"), data))

	hub.handleCommand(cfg, command{client: client, msg: ClientMessage{Type: "add_player", Name: "Alice"}})

	assert.Equal(t, int64(5), hub.revision)
	assert.Equal(t, []string{"Carol", "Dave"}, hub.game.Players, "remote state should win over the local change")

	msgs := drain(client)
	warning, ok := msgs[0].(WarningMessage)
	require.True(t, ok)
	assert.Contains(t, warning.Message, "another window")

	state := lastState(t, msgs)
	assert.Equal(t, []string{"Carol", "Dave"}, state.Players)
}

func TestHubRefreshAdoptsNewerRevision(t *testing.T) {
	cfg := testConfig()
	store := NewMemoryStore()
	hub, client, _ := testHub(t, store)

	hub.handleCommand(cfg, command{client: client, msg: ClientMessage{Type: "add_player", Name: "Alice"}})
	require.Equal(t, int64(1), hub.revision)
	drain(client)

	remote := startedGame(t, flatRules(), "Alice", "Bob")
	remote.GameID = "hubgame1"
	data, err := EncodeGame(remote, 2)
	require.NoError(t, err)
	require.NoError(t, store.Update(context.Background(), blobName("hubgame1"), data))

	hub.refresh(cfg)

	assert.Equal(t, int64(2), hub.revision)
	assert.Equal(t, PhaseActive, hub.game.Phase)

	state := lastState(t, drain(client))
	assert.Equal(t, "active", state.Phase)
}

func TestHubRefreshIgnoresStaleRevision(t *testing.T) {
	cfg := testConfig()
	store := NewMemoryStore()
	hub, client, _ := testHub(t, store)

	hub.handleCommand(cfg, command{client: client, msg: ClientMessage{Type: "add_player", Name: "Alice"}})
	drain(client)

	hub.refresh(cfg)

	assert.Equal(t, int64(1), hub.revision)
	assert.Empty(t, drain(client), "same-revision refresh should not rebroadcast")
}

func TestHubScheduledExpiry(t *testing.T) {
	cfg := testConfig()
	store := NewMemoryStore()
	hub, client, clock := testHub(t, store)

	for _, name := range []string{"Alice", "Bob"} {
		hub.handleCommand(cfg, command{client: client, msg: ClientMessage{Type: "add_player", Name: name}})
	}
	hub.handleCommand(cfg, command{client: client, msg: ClientMessage{Type: "start_game", Duration: "1h"}})
	drain(client)

	clock.Advance(time.Hour + time.Second)
	hub.handleExpiry(cfg)

	assert.Equal(t, PhaseEnded, hub.game.Phase)
	assert.Equal(t, "Alice", hub.game.Loser())

	state := lastState(t, drain(client))
	assert.Equal(t, "ended", state.Phase)
	assert.Equal(t, "Alice", state.Loser)

	data, err := store.Download(context.Background(), blobName("hubgame1"))
	require.NoError(t, err)
	_, revision, err := DecodeGame(data, flatRules())
	require.NoError(t, err)
	assert.Equal(t, int64(4), revision, "expiry should be persisted once more")
}

func TestHubExpiryAdoptsNewerRevision(t *testing.T) {
	cfg := testConfig()
	store := NewMemoryStore()
	hub, client, clock := testHub(t, store)

	for _, name := range []string{"Alice", "Bob"} {
		hub.handleCommand(cfg, command{client: client, msg: ClientMessage{Type: "add_player", Name: name}})
	}
	hub.handleCommand(cfg, command{client: client, msg: ClientMessage{Type: "start_game", Duration: "1h"}})
	drain(client)

	// Another writer restarted the game and is already at revision 9.
	remote := NewGame("hubgame1", flatRules())
	require.NoError(t, remote.AddPlayer("Carol"))
	data, err := EncodeGame(remote, 9)
	require.NoError(t, err)
	require.NoError(t, store.Update(context.Background(), blobName("hubgame1"), data))

	clock.Advance(time.Hour + time.Second)
	hub.handleExpiry(cfg)

	assert.Equal(t, int64(9), hub.revision)
	assert.Equal(t, PhaseSetup, hub.game.Phase, "the newer remote state should replace the expired game")

	state := lastState(t, drain(client))
	assert.Equal(t, "setup", state.Phase)
	assert.Equal(t, []string{"Carol"}, state.Players)
}

func TestHubModeratorGating(t *testing.T) {
	cfg := testConfig()
	store := NewMemoryStore()
	hub, client, _ := testHub(t, store)

	viewer := &Client{send: make(chan any, 8), playerID: "viewer"}
	hub.clients[viewer] = true

	for _, name := range []string{"Alice", "Bob"} {
		hub.handleCommand(cfg, command{client: client, msg: ClientMessage{Type: "add_player", Name: name}})
	}
	hub.handleCommand(cfg, command{client: client, msg: ClientMessage{Type: "start_game", Duration: "1h"}})
	drain(client)
	drain(viewer)

	hub.handleCommand(cfg, command{client: viewer, msg: ClientMessage{Type: "end_early"}})
	assert.Equal(t, PhaseActive, hub.game.Phase, "non-moderators cannot end the game")

	msgs := drain(viewer)
	require.NotEmpty(t, msgs)
	warning, ok := msgs[0].(WarningMessage)
	require.True(t, ok)
	assert.Contains(t, warning.Message, "moderator")

	hub.handleCommand(cfg, command{client: client, msg: ClientMessage{Type: "end_early"}})
	assert.Equal(t, PhaseEnded, hub.game.Phase)

	hub.handleCommand(cfg, command{client: client, msg: ClientMessage{Type: "restart"}})
	assert.Equal(t, PhaseSetup, hub.game.Phase)
	assert.Empty(t, hub.game.Players)
}

func TestGameManagerLoadsPersistedGame(t *testing.T) {
	cfg := testConfig()
	store := NewMemoryStore()

	g := startedGame(t, flatRules(), "Alice", "Bob")
	g.GameID = "sharedabc"
	data, err := EncodeGame(g, 7)
	require.NoError(t, err)
	require.NoError(t, store.Upload(context.Background(), blobName("sharedabc"), data))

	gm := newGameManager(store, clockwork.NewFakeClockAt(testNow), cfg.rules(), 0)

	hub, err := gm.getHub(cfg, "sharedabc")
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Bob"}, hub.game.Players)
	assert.Equal(t, int64(7), hub.revision)
	hub.closeAll()

	again, err := gm.getHub(cfg, "sharedabc")
	require.NoError(t, err)
	assert.Same(t, hub, again, "second access should reuse the live hub")
}

func TestGameManagerRejectsCorruptBlob(t *testing.T) {
	cfg := testConfig()
	store := NewMemoryStore()
	require.NoError(t, store.Upload(context.Background(), blobName("corrupted"), []byte("{{{")))

	gm := newGameManager(store, clockwork.NewFakeClockAt(testNow), cfg.rules(), 0)

	_, err := gm.getHub(cfg, "corrupted")
	assert.Error(t, err)
}

func testRouter(cfg *Config, gm *GameManager) *httprouter.Router {
	mux := httprouter.New()
	errs := make(chan error, 64)

	mux.GET("/healthz", serveHealthCheck(cfg, errs))
	mux.GET("/version", serveVersion(cfg, errs))
	registerBombGame(cfg, "/bomb", mux, gm)

	return mux
}

func TestRedirectNewGame(t *testing.T) {
	cfg := testConfig()
	gm := newGameManager(NewMemoryStore(), clockwork.NewRealClock(), cfg.rules(), 0)
	mux := testRouter(cfg, gm)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bomb", nil))

	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	location := rec.Header().Get("Location")
	require.True(t, strings.HasPrefix(location, "/bomb/"))
	assert.Len(t, strings.TrimPrefix(location, "/bomb/"), 8)
}

func TestRedirectSharedGameID(t *testing.T) {
	cfg := testConfig()
	gm := newGameManager(NewMemoryStore(), clockwork.NewRealClock(), cfg.rules(), 0)
	mux := testRouter(cfg, gm)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bomb?game_id=abc12345", nil))

	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/bomb/abc12345", rec.Header().Get("Location"))
}

func TestIndexServesClientAndCookie(t *testing.T) {
	cfg := testConfig()
	gm := newGameManager(NewMemoryStore(), clockwork.NewRealClock(), cfg.rules(), 0)
	mux := testRouter(cfg, gm)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bomb/abc12345", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Pass the Bomb")

	var found bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == playerCookieName && c.Value != "" {
			found = true
		}
	}
	assert.True(t, found, "index should assign a player cookie")
}

func TestServeStateJSON(t *testing.T) {
	cfg := testConfig()
	store := NewMemoryStore()

	g := startedGame(t, flatRules(), "Alice", "Bob")
	g.GameID = "sharedabc"
	data, err := EncodeGame(g, 2)
	require.NoError(t, err)
	require.NoError(t, store.Upload(context.Background(), blobName("sharedabc"), data))

	gm := newGameManager(store, clockwork.NewRealClock(), cfg.rules(), 0)
	mux := testRouter(cfg, gm)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bomb/sharedabc/state.json", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.Contains(t, rec.Body.String(), `"game_id":"sharedabc"`)
	assert.Contains(t, rec.Body.String(), `"current_holder":"Alice"`)
}

func TestQRHandler(t *testing.T) {
	cfg := testConfig()
	gm := newGameManager(NewMemoryStore(), clockwork.NewRealClock(), cfg.rules(), 0)
	mux := testRouter(cfg, gm)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bomb/abc12345/qr", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Body.Bytes())
}

func TestHealthCheck(t *testing.T) {
	cfg := testConfig()
	gm := newGameManager(NewMemoryStore(), clockwork.NewRealClock(), cfg.rules(), 0)
	mux := testRouter(cfg, gm)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ok\n", rec.Body.String())
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// awaitType reads until a message of the wanted type arrives.
func awaitType(t *testing.T, conn *websocket.Conn, want string) map[string]any {
	t.Helper()

	for i := 0; i < 16; i++ {
		msg := readMessage(t, conn)
		if msg["type"] == want {
			return msg
		}
	}

	t.Fatalf("no %q message received", want)
	return nil
}

func TestWebSocketGameFlow(t *testing.T) {
	cfg := testConfig()
	gm := newGameManager(NewMemoryStore(), clockwork.NewRealClock(), cfg.rules(), 0)
	mux := testRouter(cfg, gm)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/bomb/flowgame1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	info := awaitType(t, conn, "session_info")
	assert.Equal(t, "flowgame1", info["game_id"])
	assert.Equal(t, true, info["is_moderator"])
	assert.Equal(t, "flat", info["difficulty"])

	state := awaitType(t, conn, "game_state")
	assert.Equal(t, "setup", state["phase"])

	for _, name := range []string{"Alice", "Bob"} {
		require.NoError(t, conn.WriteJSON(ClientMessage{Type: "add_player", Name: name}))
		state = awaitType(t, conn, "game_state")
	}
	assert.Equal(t, []any{"Alice", "Bob"}, state["players"])

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "start_game", Duration: "1h"}))
	state = awaitType(t, conn, "game_state")
	assert.Equal(t, "active", state["phase"])
	assert.Equal(t, "Alice", state["holder"])
	assert.Equal(t, []any{"Bob"}, state["eligible"])

	require.NoError(t, conn.WriteJSON(ClientMessage{
		Type:       "pass_bomb",
		From:       "Alice",
		To:         "Bob",
		Ticket:     "INC1",
		TicketDate: time.Now().AddDate(0, 0, -5).Format("2006-01-02"),
	}))

	result := awaitType(t, conn, "pass_result")
	assert.Equal(t, float64(5), result["days_old"])
	assert.Equal(t, "Bob", result["to"])

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "end_early"}))
	state = awaitType(t, conn, "game_state")
	assert.Equal(t, "ended", state["phase"])
	assert.Equal(t, "Bob", state["loser"])
}

func TestReadPumpStopsWithHub(t *testing.T) {
	hub, _, _ := testHub(t, NewMemoryStore())
	close(hub.stop)

	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		c := &Client{conn: conn, send: make(chan any, 8), playerID: "viewer"}
		c.readPump(hub)
		close(done)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "add_player", Name: "Alice"}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("read loop did not exit after the hub stopped")
	}
}

func TestWebSocketRejectsCorruptGame(t *testing.T) {
	cfg := testConfig()
	store := NewMemoryStore()
	require.NoError(t, store.Upload(context.Background(), blobName("corrupted"), []byte("{{{")))

	gm := newGameManager(store, clockwork.NewRealClock(), cfg.rules(), 0)
	mux := testRouter(cfg, gm)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/bomb/corrupted/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
