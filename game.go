package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Phase tracks where a game is in its lifecycle.
type Phase int

const (
	PhaseSetup Phase = iota
	PhaseActive
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseSetup:
		return "setup"
	case PhaseActive:
		return "active"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Difficulty selects the pass validation policy.
type Difficulty string

const (
	// DifficultyFlat accepts any ticket with a non-negative age.
	DifficultyFlat Difficulty = "flat"

	// DifficultyEscalating requires each ticket to be strictly older
	// than the oldest ticket used so far.
	DifficultyEscalating Difficulty = "escalating"
)

func ParseDifficulty(s string) (Difficulty, error) {
	switch Difficulty(strings.ToLower(strings.TrimSpace(s))) {
	case DifficultyFlat:
		return DifficultyFlat, nil
	case DifficultyEscalating:
		return DifficultyEscalating, nil
	}
	return "", fmt.Errorf("invalid difficulty (must be flat or escalating): %q", s)
}

// Validation errors surfaced to the submitting client. State is never
// mutated when one of these is returned.
var (
	ErrEmptyName        = errors.New("player name cannot be empty")
	ErrDuplicatePlayer  = errors.New("that player name is already taken")
	ErrNotEnoughPlayers = errors.New("add at least 2 players to start the game")
	ErrWrongPhase       = errors.New("action not allowed in this game phase")
	ErrBadDuration      = errors.New("invalid game duration")
	ErrUnknownPlayer    = errors.New("no such player in this game")
	ErrNotHolder        = errors.New("you don't have the bomb")
	ErrSelfPass         = errors.New("you cannot pass the bomb to yourself")
	ErrEmptyTicket      = errors.New("ticket reference cannot be empty")
	ErrFutureTicket     = errors.New("ticket date cannot be in the future")
	ErrTicketTooYoung   = errors.New("ticket not old enough to pass the bomb")
	ErrGameOver         = errors.New("the game is over")
)

// durations is the enumerated menu of game windows offered at start.
// Free-form durations are deliberately not accepted.
var durations = map[string]time.Duration{
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"8h":  8 * time.Hour,
	"5d":  5 * 24 * time.Hour,
}

// DurationKeys returns the menu in ascending order, for clients.
func DurationKeys() []string {
	keys := make([]string, 0, len(durations))
	for k := range durations {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return durations[keys[i]] < durations[keys[j]]
	})
	return keys
}

// PassRecord is one entry in the append-only pass history.
type PassRecord struct {
	From    string    `json:"from"`
	To      string    `json:"to"`
	Ticket  string    `json:"ticket"`
	DaysOld int       `json:"days_old"`
	Time    time.Time `json:"time"`
}

// GameRules holds the per-server knobs a Game is created with.
type GameRules struct {
	Difficulty   Difficulty
	RandomHolder bool          // pick the initial holder at random rather than players[0]
	Fuse         time.Duration // per-pass deadline; 0 disables the fuse
}

// Game is the full state of one pass-the-bomb session. It is a plain
// value mutated only through its command methods; the serving layer owns
// locking and the clock.
type Game struct {
	GameID       string
	Phase        Phase
	Players      []string
	Holder       string
	EndTime      time.Time
	FuseDeadline time.Time
	History      []PassRecord
	Threshold    int // oldest ticket age used so far; -1 until the first pass
	Exploded     bool

	Rules GameRules
}

func NewGame(gameID string, rules GameRules) *Game {
	return &Game{
		GameID:    gameID,
		Phase:     PhaseSetup,
		Threshold: -1,
		Rules:     rules,
	}
}

// Started reports whether play has begun, surviving restarts of the
// serving process via the persisted record.
func (g *Game) Started() bool {
	return g.Phase != PhaseSetup
}

func (g *Game) hasPlayer(name string) bool {
	for _, p := range g.Players {
		if p == name {
			return true
		}
	}
	return false
}

// AddPlayer appends a trimmed, unique display name to the roster.
// Only valid during setup.
func (g *Game) AddPlayer(name string) error {
	if g.Phase != PhaseSetup {
		return ErrWrongPhase
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if g.hasPlayer(name) {
		return ErrDuplicatePlayer
	}

	g.Players = append(g.Players, name)

	return nil
}

// RemovePlayer drops a name from the pending roster during setup.
func (g *Game) RemovePlayer(name string) error {
	if g.Phase != PhaseSetup {
		return ErrWrongPhase
	}

	for i, p := range g.Players {
		if p == name {
			g.Players = append(g.Players[:i], g.Players[i+1:]...)

			return nil
		}
	}

	return ErrUnknownPlayer
}

// Start begins play: it fixes the roster, picks the initial holder,
// computes the game window from the duration menu, arms the fuse, and
// seeds the history with a synthetic "game started" entry.
func (g *Game) Start(durationKey string, now time.Time) error {
	if g.Phase != PhaseSetup {
		return ErrWrongPhase
	}
	if len(g.Players) < 2 {
		return ErrNotEnoughPlayers
	}

	window, ok := durations[durationKey]
	if !ok {
		return ErrBadDuration
	}

	if g.Rules.RandomHolder {
		g.Holder = g.Players[randomIndex(len(g.Players))]
	} else {
		g.Holder = g.Players[0]
	}

	g.EndTime = now.Add(window)
	g.armFuse(now)
	g.Threshold = -1
	g.Phase = PhaseActive
	g.History = []PassRecord{{
		From:   "",
		To:     g.Holder,
		Ticket: "game started",
		Time:   now,
	}}

	return nil
}

func (g *Game) armFuse(now time.Time) {
	if g.Rules.Fuse > 0 {
		g.FuseDeadline = now.Add(g.Rules.Fuse)
	} else {
		g.FuseDeadline = time.Time{}
	}
}

// Deadline returns the earlier of the game window and the live fuse.
// The zero time means no deadline is armed.
func (g *Game) Deadline() time.Time {
	if g.Phase != PhaseActive {
		return time.Time{}
	}
	if !g.FuseDeadline.IsZero() && g.FuseDeadline.Before(g.EndTime) {
		return g.FuseDeadline
	}
	return g.EndTime
}

// Expire transitions an active game to ended once a deadline has been
// reached. It reports whether a transition happened. The holder at
// expiry is the loser; Exploded distinguishes the fuse from the window.
func (g *Game) Expire(now time.Time) bool {
	if g.Phase != PhaseActive {
		return false
	}

	if !g.FuseDeadline.IsZero() && !now.Before(g.FuseDeadline) && now.Before(g.EndTime) {
		g.Exploded = true
		g.Phase = PhaseEnded

		return true
	}

	if !now.Before(g.EndTime) {
		g.Phase = PhaseEnded

		return true
	}

	return false
}

// TicketAge computes the ticket's age in whole days as of now,
// comparing calendar dates rather than instants.
func TicketAge(ticketDate, now time.Time) int {
	y1, m1, d1 := ticketDate.Date()
	y2, m2, d2 := now.Date()
	t1 := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)

	return int(t2.Sub(t1).Hours() / 24)
}

// Pass transfers the bomb from the current holder to another player,
// gated by the ticket submission. On success it appends exactly one
// history entry, moves the holder, re-arms the fuse, and (under the
// escalating policy) raises the threshold. On failure state is
// untouched.
func (g *Game) Pass(from, to, ticket string, ticketDate, now time.Time) (int, error) {
	if g.Phase == PhaseSetup {
		return 0, ErrWrongPhase
	}
	if g.Phase == PhaseEnded || g.Expire(now) {
		return 0, ErrGameOver
	}

	if from != g.Holder {
		return 0, ErrNotHolder
	}
	if !g.hasPlayer(to) {
		return 0, ErrUnknownPlayer
	}
	if to == from {
		return 0, ErrSelfPass
	}
	if strings.TrimSpace(ticket) == "" {
		return 0, ErrEmptyTicket
	}

	age := TicketAge(ticketDate, now)
	if age < 0 {
		return 0, ErrFutureTicket
	}

	if g.Rules.Difficulty == DifficultyEscalating && age <= g.Threshold {
		return 0, ErrTicketTooYoung
	}

	g.History = append(g.History, PassRecord{
		From:    from,
		To:      to,
		Ticket:  strings.TrimSpace(ticket),
		DaysOld: age,
		Time:    now,
	})
	g.Holder = to
	g.armFuse(now)

	if g.Rules.Difficulty == DifficultyEscalating && age > g.Threshold {
		g.Threshold = age
	}

	return age, nil
}

// EndEarly collapses the game window to now, ending the game on the
// next expiry check.
func (g *Game) EndEarly(now time.Time) error {
	if g.Phase != PhaseActive {
		return ErrWrongPhase
	}

	g.EndTime = now
	g.Expire(now)

	return nil
}

// Restart returns a fresh setup-phase game under the given identifier,
// keeping the rules but dropping players and history.
func (g *Game) Restart(id string) *Game {
	return NewGame(id, g.Rules)
}

// clone deep-copies the game so a failed save can be rolled back.
func (g *Game) clone() *Game {
	out := *g
	out.Players = append([]string(nil), g.Players...)
	out.History = append([]PassRecord(nil), g.History...)

	return &out
}

// Loser names the player holding the bomb when the game ended.
func (g *Game) Loser() string {
	if g.Phase != PhaseEnded {
		return ""
	}
	return g.Holder
}

// Eligible lists the players the holder may pass to.
func (g *Game) Eligible() []string {
	out := make([]string, 0, len(g.Players))
	for _, p := range g.Players {
		if p != g.Holder {
			out = append(out, p)
		}
	}
	return out
}

// validate checks the structural invariants of a decoded record.
// Violations mean the persisted blob is corrupt (restart is the only
// recovery).
func (g *Game) validate() error {
	if g.Phase == PhaseSetup {
		return nil
	}
	if len(g.Players) < 2 {
		return fmt.Errorf("corrupt game state: started with %d players", len(g.Players))
	}
	if !g.hasPlayer(g.Holder) {
		return fmt.Errorf("corrupt game state: holder %q not in player list", g.Holder)
	}
	if g.EndTime.IsZero() {
		return errors.New("corrupt game state: started game has no end time")
	}
	return nil
}

// randomIndex returns a uniform index in [0, n) using crypto/rand,
// matching how game IDs are minted.
func randomIndex(n int) int {
	if n <= 1 {
		return 0
	}

	limit := 256 - (256 % n)
	for {
		var b [1]byte
		if _, err := rand.Read(b[:]); err != nil {
			return 0
		}
		if int(b[0]) < limit {
			return int(b[0]) % n
		}
	}
}

// newGameID generates a crypto-random 8-character alphanumeric game ID.
// Collision checking against live games is the manager's job.
func newGameID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}

	out := make([]byte, 8)
	for i := range out {
		out[i] = letters[int(buf[i])%len(letters)]
	}

	return string(out)
}
