// Passbomb Pass-the-Bomb Game
//
// A group of players takes turns passing a virtual bomb. Passing requires
// submitting a support ticket reference and its creation date; under the
// escalating policy each ticket must be older than the oldest ticket used
// so far. Whoever holds the bomb when the game window closes (or when the
// per-pass fuse burns down) loses.
//
// Features:
// - WebSockets per game ID: /path/:gameid and /path/:gameid/ws
// - First connection to a game becomes moderator (may end early / restart)
// - Shareable game URLs; joining browsers converge on the same state
// - Game state persisted as one JSON blob per game (memory/disk/redis)
// - Revision-checked writes detect concurrent writers instead of
//   silently clobbering them
// - Periodic store re-read so games shared across server instances converge
// - Scheduled expiry timers end games eagerly at the deadline
// - Games unloaded after a configurable idle timeout
// - Random 8-char game IDs via crypto/rand, with collision check
// - In-browser QR button to share the current session, backed by go-qrcode

package main

import (
	"context"
	_ "embed"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type       string `json:"type"`                  // "add_player", "remove_player", "start_game", "pass_bomb", "end_early", "restart"
	Name       string `json:"name,omitempty"`        // add_player / remove_player
	Duration   string `json:"duration,omitempty"`    // start_game, key into the duration menu
	From       string `json:"from,omitempty"`        // pass_bomb
	To         string `json:"to,omitempty"`          // pass_bomb
	Ticket     string `json:"ticket,omitempty"`      // pass_bomb
	TicketDate string `json:"ticket_date,omitempty"` // pass_bomb, "2006-01-02"
}

// SessionInfoMessage is sent immediately on connect so the client knows
// its role and the server's configured menus.
type SessionInfoMessage struct {
	Type        string   `json:"type"` // "session_info"
	GameID      string   `json:"game_id"`
	IsModerator bool     `json:"is_moderator"`
	Durations   []string `json:"durations"`
	Difficulty  string   `json:"difficulty"`
}

// GameStateMessage is the full snapshot broadcast after every mutation.
type GameStateMessage struct {
	Type         string       `json:"type"` // "game_state"
	GameID       string       `json:"game_id"`
	Phase        string       `json:"phase"`
	Players      []string     `json:"players"`
	Holder       string       `json:"holder,omitempty"`
	Eligible     []string     `json:"eligible,omitempty"`
	EndTime      *time.Time   `json:"end_time,omitempty"`
	FuseDeadline *time.Time   `json:"fuse_deadline,omitempty"`
	ServerTime   time.Time    `json:"server_time"`
	History      []PassRecord `json:"history,omitempty"`
	Threshold    int          `json:"threshold"`
	Loser        string       `json:"loser,omitempty"`
	Exploded     bool         `json:"exploded,omitempty"`
}

// PassResultMessage informs everyone about a successful pass.
type PassResultMessage struct {
	Type    string `json:"type"` // "pass_result"
	From    string `json:"from"`
	To      string `json:"to"`
	Ticket  string `json:"ticket"`
	DaysOld int    `json:"days_old"`
	Message string `json:"message"`
}

// WarningMessage is sent only to the offending client when an action is
// rejected; game state is left untouched.
type WarningMessage struct {
	Type    string `json:"type"` // "warning"
	Message string `json:"message"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

type command struct {
	client *Client
	msg    ClientMessage
}

type Hub struct {
	id    string
	game  *Game
	store BlobStore
	clock clockwork.Clock

	clients map[*Client]bool

	register chan *Client
	unreg    chan *Client
	commands chan command
	stop     chan struct{}

	mu sync.RWMutex

	revision          int64
	createdAt         time.Time
	lastActive        time.Time
	moderatorPlayerID string

	expiry clockwork.Timer
}

func newHub(gameID string, game *Game, revision int64, store BlobStore, clock clockwork.Clock) *Hub {
	now := clock.Now()

	h := &Hub{
		id:         gameID,
		game:       game,
		store:      store,
		clock:      clock,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		commands:   make(chan command),
		stop:       make(chan struct{}),
		revision:   revision,
		createdAt:  now,
		lastActive: now,
	}

	h.expiry = clock.NewTimer(time.Hour)
	h.expiry.Stop()
	h.rearmExpiryLocked()

	return h
}

func (h *Hub) run(cfg *Config) {
	syncTicker := h.clock.NewTicker(cfg.syncInterval)
	defer syncTicker.Stop()

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.lastActive = h.clock.Now()

			// First connection becomes moderator
			if h.moderatorPlayerID == "" {
				h.moderatorPlayerID = c.playerID
			}

			h.clients[c] = true

			c.send <- SessionInfoMessage{
				Type:        "session_info",
				GameID:      h.id,
				IsModerator: h.moderatorPlayerID == c.playerID,
				Durations:   DurationKeys(),
				Difficulty:  string(h.game.Rules.Difficulty),
			}

			snapshot := h.snapshotLocked()
			h.mu.Unlock()

			c.send <- snapshot

		case c := <-h.unreg:
			h.mu.Lock()
			h.lastActive = h.clock.Now()

			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case cmd := <-h.commands:
			h.handleCommand(cfg, cmd)

		case <-syncTicker.Chan():
			h.refresh(cfg)

		case <-h.expiry.Chan():
			h.handleExpiry(cfg)

		case <-h.stop:
			return
		}
	}
}

// snapshotLocked builds the state broadcast. Players and History are
// copied so queued messages stay intact while the game keeps mutating.
// Assumes h.mu is held.
func (h *Hub) snapshotLocked() GameStateMessage {
	g := h.game

	msg := GameStateMessage{
		Type:       "game_state",
		GameID:     h.id,
		Phase:      g.Phase.String(),
		Players:    append([]string(nil), g.Players...),
		Holder:     g.Holder,
		ServerTime: h.clock.Now(),
		History:    append([]PassRecord(nil), g.History...),
		Threshold:  g.Threshold,
		Loser:      g.Loser(),
		Exploded:   g.Exploded,
	}

	if g.Phase == PhaseActive {
		msg.Eligible = g.Eligible()

		end := g.EndTime
		msg.EndTime = &end

		if !g.FuseDeadline.IsZero() {
			fuse := g.FuseDeadline
			msg.FuseDeadline = &fuse
		}
	}

	return msg
}

func (h *Hub) broadcastLocked(msg any) {
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			delete(h.clients, client)
			close(client.send)
		}
	}
}

func (h *Hub) warn(c *Client, text string) {
	select {
	case c.send <- WarningMessage{
		Type:    "warning",
		Message: text,
	}:
	default:
	}
}

// rearmExpiryLocked resets the expiry timer to the game's next
// deadline. Assumes h.mu is held (or the hub is not yet shared).
func (h *Hub) rearmExpiryLocked() {
	deadline := h.game.Deadline()
	if deadline.IsZero() {
		h.expiry.Stop()

		return
	}

	d := deadline.Sub(h.clock.Now())
	if d < 0 {
		d = 0
	}

	h.expiry.Reset(d)
}

// handleExpiry runs when the scheduled deadline timer fires.
func (h *Hub) handleExpiry(cfg *Config) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.game.Expire(h.clock.Now()) {
		// Deadline moved since the timer was armed.
		h.rearmExpiryLocked()

		return
	}

	if h.game.Exploded {
		logf(cfg, "GAMES: Bomb exploded in %q's hands in %s", h.game.Holder, h.id)
	} else {
		logf(cfg, "GAMES: Game %s over, final holder %q", h.id, h.game.Holder)
	}

	if err := h.persistLocked(cfg); err != nil {
		if errors.Is(err, errRevisionConflict) {
			logf(cfg, "STORE: Game %s refreshed from store on expiry", h.id)
		} else {
			logf(cfg, "STORE: Failed to persist %s: %v", h.id, err)
		}
	}

	h.broadcastLocked(h.snapshotLocked())
}

// errRevisionConflict reports that another writer updated the blob
// since this hub last read it.
var errRevisionConflict = errors.New("game record changed by another writer")

// persistLocked writes the full record to the store with the next
// revision. A revision mismatch adopts the newer remote state instead
// of clobbering it. Assumes h.mu is held.
func (h *Hub) persistLocked(cfg *Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	name := blobName(h.id)

	exists, err := h.store.Find(ctx, name)
	if err != nil {
		return err
	}

	if exists {
		data, err := h.store.Download(ctx, name)
		if err != nil {
			return err
		}

		remote, remoteRev, err := DecodeGame(data, h.game.Rules)
		if err == nil && remoteRev > h.revision {
			h.game = remote
			h.revision = remoteRev
			h.rearmExpiryLocked()

			return errRevisionConflict
		}
	}

	data, err := EncodeGame(h.game, h.revision+1)
	if err != nil {
		return err
	}

	if exists {
		err = h.store.Update(ctx, name, data)
	} else {
		err = h.store.Upload(ctx, name, data)
	}
	if err != nil {
		return err
	}

	h.revision++

	return nil
}

// refresh re-reads the store on the sync tick and overwrites local
// state if another writer moved the game forward.
func (h *Hub) refresh(cfg *Config) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	data, err := h.store.Download(ctx, blobName(h.id))
	if errors.Is(err, ErrBlobMissing) {
		return
	}
	if err != nil {
		logf(cfg, "STORE: Failed to refresh %s: %v", h.id, err)

		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	remote, remoteRev, err := DecodeGame(data, h.game.Rules)
	if err != nil {
		logf(cfg, "STORE: Corrupt record for %s: %v", h.id, err)

		return
	}

	if remoteRev <= h.revision {
		return
	}

	h.game = remote
	h.revision = remoteRev
	h.rearmExpiryLocked()
	h.broadcastLocked(h.snapshotLocked())
}

// mutate applies fn to the game, persists on success, and reverts the
// mutation if the save fails, so local state never outruns the store.
// Validation errors go back to the submitting client only.
func (h *Hub) mutate(cfg *Config, c *Client, fn func(g *Game) error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastActive = h.clock.Now()

	before := h.game.clone()

	if err := fn(h.game); err != nil {
		h.warn(c, err.Error())

		return false
	}

	if err := h.persistLocked(cfg); err != nil {
		if !errors.Is(err, errRevisionConflict) {
			h.game = before
			h.warn(c, "Could not save the game; your change was discarded. Please try again.")
			logf(cfg, "STORE: Failed to persist %s: %v", h.id, err)
		} else {
			h.warn(c, "The game changed in another window; your change was discarded.")
		}

		h.rearmExpiryLocked()
		h.broadcastLocked(h.snapshotLocked())

		return false
	}

	h.rearmExpiryLocked()
	h.broadcastLocked(h.snapshotLocked())

	return true
}

func (h *Hub) handleCommand(cfg *Config, cmd command) {
	c := cmd.client
	msg := cmd.msg

	switch msg.Type {
	case "add_player":
		if h.mutate(cfg, c, func(g *Game) error {
			return g.AddPlayer(msg.Name)
		}) {
			logf(cfg, "GAMES: Player %q added to %s", strings.TrimSpace(msg.Name), h.id)
		}

	case "remove_player":
		h.mutate(cfg, c, func(g *Game) error {
			return g.RemovePlayer(msg.Name)
		})

	case "start_game":
		if h.mutate(cfg, c, func(g *Game) error {
			return g.Start(msg.Duration, h.clock.Now())
		}) {
			h.mu.RLock()
			logf(cfg, "GAMES: Game %s started with %d players, %q holds the bomb", h.id, len(h.game.Players), h.game.Holder)
			h.mu.RUnlock()
		}

	case "pass_bomb":
		h.handlePass(cfg, cmd)

	case "end_early":
		if !h.isModerator(c) {
			h.warn(c, "Only the moderator can end the game early.")

			return
		}
		if h.mutate(cfg, c, func(g *Game) error {
			return g.EndEarly(h.clock.Now())
		}) {
			logf(cfg, "GAMES: Game %s ended early", h.id)
		}

	case "restart":
		if !h.isModerator(c) {
			h.warn(c, "Only the moderator can restart the game.")

			return
		}
		if h.mutate(cfg, c, func(g *Game) error {
			*g = *g.Restart(h.id)

			return nil
		}) {
			logf(cfg, "GAMES: Game %s restarted", h.id)
		}
	}
}

func (h *Hub) isModerator(c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.moderatorPlayerID != "" && c.playerID == h.moderatorPlayerID
}

func (h *Hub) handlePass(cfg *Config, cmd command) {
	c := cmd.client
	msg := cmd.msg

	ticketDate, err := time.Parse("2006-01-02", msg.TicketDate)
	if err != nil {
		h.warn(c, "Invalid ticket date; use YYYY-MM-DD.")

		return
	}

	var result PassResultMessage

	ok := h.mutate(cfg, c, func(g *Game) error {
		age, err := g.Pass(msg.From, msg.To, msg.Ticket, ticketDate, h.clock.Now())
		if err != nil {
			return err
		}

		result = PassResultMessage{
			Type:    "pass_result",
			From:    msg.From,
			To:      msg.To,
			Ticket:  strings.TrimSpace(msg.Ticket),
			DaysOld: age,
			Message: msg.From + " passed the bomb to " + msg.To + " with a ticket " + strconv.Itoa(age) + " days old.",
		}

		return nil
	})

	if !ok {
		return
	}

	logf(cfg, "GAMES: %q passed the bomb to %q in %s (ticket %d days old)", msg.From, msg.To, h.id, result.DaysOld)

	h.mu.Lock()
	h.broadcastLocked(result)
	h.mu.Unlock()
}

// closeAll disconnects all clients of this hub and stops its loops
// (used by the reaper).
func (h *Hub) closeAll() {
	close(h.stop)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.expiry.Stop()

	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "passbomb_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// GameManager holds a set of hubs keyed by game ID, so each $path/$gameid
// is its own isolated session. Hubs for games already in the store are
// rebuilt from their persisted record on first access.
type GameManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	store       BlobStore
	clock       clockwork.Clock
	rules       GameRules
	idleTimeout time.Duration
}

func newGameManager(store BlobStore, clock clockwork.Clock, rules GameRules, idleTimeout time.Duration) *GameManager {
	gm := &GameManager{
		hubs:        make(map[string]*Hub),
		store:       store,
		clock:       clock,
		rules:       rules,
		idleTimeout: idleTimeout,
	}
	if idleTimeout > 0 {
		go gm.reaperLoop()
	}
	return gm
}

// getHub returns the live hub for a game ID, loading the persisted
// record if this server has not seen the game yet. A corrupt record is
// returned as an error so callers can fall back to a fresh game.
func (gm *GameManager) getHub(cfg *Config, gameID string) (*Hub, error) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if hub, ok := gm.hubs[gameID]; ok {
		return hub, nil
	}

	game := NewGame(gameID, gm.rules)

	var revision int64

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	data, err := gm.store.Download(ctx, blobName(gameID))
	switch {
	case errors.Is(err, ErrBlobMissing):
		// Fresh game; persisted on first mutation.
	case err != nil:
		return nil, err
	default:
		game, revision, err = DecodeGame(data, gm.rules)
		if err != nil {
			return nil, err
		}
		logf(cfg, "STORE: Loaded game %s at revision %d", gameID, revision)
	}

	hub := newHub(gameID, game, revision, gm.store, gm.clock)
	gm.hubs[gameID] = hub
	go hub.run(cfg)
	return hub, nil
}

// newGameID generates a crypto-random game ID, avoiding collisions with
// both live hubs and persisted blobs.
func (gm *GameManager) newGameID() string {
	for {
		id := newGameID()

		gm.mu.Lock()
		_, live := gm.hubs[id]
		gm.mu.Unlock()

		if live {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		exists, err := gm.store.Find(ctx, blobName(id))
		cancel()

		if err == nil && exists {
			continue
		}

		return id
	}
}

// reaperLoop periodically unloads hubs that have been idle longer than
// idleTimeout. Their state stays in the store and reloads on demand.
func (gm *GameManager) reaperLoop() {
	ticker := gm.clock.NewTicker(gm.idleTimeout / 2)
	for range ticker.Chan() {
		cutoff := gm.clock.Now().Add(-gm.idleTimeout)

		gm.mu.Lock()
		for id, hub := range gm.hubs {
			hub.mu.RLock()
			last := hub.lastActive
			hub.mu.RUnlock()

			if last.Before(cutoff) {
				delete(gm.hubs, id)
				go hub.closeAll()
			}
		}
		gm.mu.Unlock()
	}
}

// WebSocket handler that picks the hub based on :gameid
func serveWSForManager(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if gameID == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		playerID := getOrSetPlayerID(w, r)

		hub, err := gm.getHub(cfg, gameID)
		if err != nil {
			http.Error(w, "game state could not be loaded; start a new game", http.StatusConflict)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			playerID: playerID,
		}

		select {
		case hub.register <- client:
		case <-hub.stop:
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.stop:
		}
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "add_player", "remove_player", "start_game", "pass_bomb", "end_early", "restart":
			select {
			case h.commands <- command{
				client: c,
				msg:    msg,
			}:
			case <-h.stop:
				return
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// serveState exposes the persisted record for the game, for read-only
// observers and debugging.
func serveState(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if gameID == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		hub, err := gm.getHub(cfg, gameID)
		if err != nil {
			http.Error(w, "game state could not be loaded", http.StatusConflict)
			return
		}

		hub.mu.RLock()
		data, err := EncodeGame(hub.game, hub.revision)
		hub.mu.RUnlock()

		if err != nil {
			http.Error(w, "encoding failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(cfg, w)
		_, _ = w.Write(data)
	}
}

// QR handler: generates a PNG QR code for the current game URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gameID := ps.ByName("gameid")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:gameid/qr; strip trailing "/qr" to get the game URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// ---- Static file paths ----

//go:embed bomb/index.html
var indexHTML []byte

//go:embed bomb/app.css
var passbombCSS []byte

//go:embed bomb/app.js
var passbombJS []byte

func getIndexHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		_, _ = w.Write(indexHTML)
	}
}

func getCssHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(passbombCSS)
	}
}

func getJsHandler(cfg *Config) func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(passbombJS)
	}
}

// redirectNewGame handles GET /path by generating a new random game ID
// and redirecting to /path/:gameid. A game_id query parameter instead
// redirects to that existing game, so shared links of the form
// /path?game_id=X keep working.
func redirectNewGame(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if shared := r.URL.Query().Get("game_id"); shared != "" {
			http.Redirect(w, r, path+"/"+shared, http.StatusTemporaryRedirect)
			return
		}

		gameID := gm.newGameID()
		logf(cfg, "GAMES: Created game %s/%s", path, gameID)
		http.Redirect(w, r, path+"/"+gameID, http.StatusTemporaryRedirect)
	}
}

// registerBombGame sets up routes so that:
//   - $path                      → redirects to new random game (8-char ID)
//   - $path?game_id=X            → redirects to the existing game X
//   - $path/:gameid              → HTML client
//   - $path/:gameid/ws           → WebSocket for that game
//   - $path/:gameid/qr           → PNG QR code for that game URL
//   - $path/:gameid/state.json   → persisted record for that game
func registerBombGame(cfg *Config, path string, mux *httprouter.Router, gm *GameManager) {
	// Root path → redirect to new random game
	mux.GET(path, redirectNewGame(cfg, path, gm))

	// Per-game client view (HTML)
	mux.GET(cfg.prefix+path+"/:gameid", getIndexHandler(cfg))

	// Shared assets (no gameid in route)
	mux.GET(cfg.prefix+"/assets/bomb/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/bomb/app.js", getJsHandler(cfg))

	// Per-game websocket
	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWSForManager(cfg, gm))

	// Per-game QR code
	mux.GET(cfg.prefix+path+"/:gameid/qr", qrHandler)

	// Per-game persisted record
	mux.GET(cfg.prefix+path+"/:gameid/state.json", serveState(cfg, gm))
}
