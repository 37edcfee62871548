package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
)

// ErrBlobMissing is returned by Download when no blob exists under the
// requested name.
var ErrBlobMissing = errors.New("blob not found")

// BlobStore is the external storage contract: one blob per game, named
// "<game_id>.json". Any number of clients may read or write a blob.
type BlobStore interface {
	Find(ctx context.Context, name string) (bool, error)
	Upload(ctx context.Context, name string, data []byte) error
	Update(ctx context.Context, name string, data []byte) error
	Download(ctx context.Context, name string) ([]byte, error)
}

func blobName(gameID string) string {
	return gameID + ".json"
}

// FileStore persists blobs as files on an afero filesystem, covering
// both the on-disk and the in-memory backends.
type FileStore struct {
	fs afero.Fs
}

func NewDiskStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	return &FileStore{fs: afero.NewBasePathFs(afero.NewOsFs(), root)}, nil
}

func NewMemoryStore() *FileStore {
	return &FileStore{fs: afero.NewMemMapFs()}
}

func (s *FileStore) Find(_ context.Context, name string) (bool, error) {
	return afero.Exists(s.fs, name)
}

func (s *FileStore) Upload(_ context.Context, name string, data []byte) error {
	return afero.WriteFile(s.fs, name, data, 0o644)
}

func (s *FileStore) Update(ctx context.Context, name string, data []byte) error {
	return s.Upload(ctx, name, data)
}

func (s *FileStore) Download(_ context.Context, name string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrBlobMissing
	}

	return data, err
}

// RedisStore persists blobs as redis string keys, for sharing games
// across server instances.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, addr string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Find(ctx context.Context, name string) (bool, error) {
	n, err := s.client.Exists(ctx, name).Result()

	return n > 0, err
}

func (s *RedisStore) Upload(ctx context.Context, name string, data []byte) error {
	return s.client.Set(ctx, name, data, 0).Err()
}

func (s *RedisStore) Update(ctx context.Context, name string, data []byte) error {
	return s.Upload(ctx, name, data)
}

func (s *RedisStore) Download(ctx context.Context, name string) ([]byte, error) {
	data, err := s.client.Get(ctx, name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrBlobMissing
	}

	return data, err
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// gameRecord is the persisted wire format. Transient UI state (form
// buffers, connected clients) is never serialized. Revision is a
// monotonic write counter used to detect concurrent writers.
type gameRecord struct {
	GameID        string       `json:"game_id"`
	GameStarted   bool         `json:"game_started"`
	Players       []string     `json:"players"`
	CurrentHolder *string      `json:"current_holder"`
	GameEndTime   *time.Time   `json:"game_end_time"`
	History       []PassRecord `json:"history"`
	Revision      int64        `json:"revision"`
	FuseDeadline  *time.Time   `json:"fuse_deadline,omitempty"`
	Difficulty    Difficulty   `json:"difficulty,omitempty"`
	Threshold     int          `json:"threshold"`
	Exploded      bool         `json:"exploded,omitempty"`
}

// EncodeGame serializes a game to the persisted record format with the
// given revision.
func EncodeGame(g *Game, revision int64) ([]byte, error) {
	rec := gameRecord{
		GameID:      g.GameID,
		GameStarted: g.Started(),
		Players:     g.Players,
		History:     g.History,
		Revision:    revision,
		Difficulty:  g.Rules.Difficulty,
		Threshold:   g.Threshold,
		Exploded:    g.Exploded,
	}

	if g.Holder != "" {
		holder := g.Holder
		rec.CurrentHolder = &holder
	}
	if !g.EndTime.IsZero() {
		end := g.EndTime
		rec.GameEndTime = &end
	}
	if !g.FuseDeadline.IsZero() {
		fuse := g.FuseDeadline
		rec.FuseDeadline = &fuse
	}

	return json.Marshal(rec)
}

// DecodeGame rebuilds a game from a persisted record. Server-local
// rules (fuse length, holder selection) come from cfg-derived defaults;
// the difficulty travels with the record so every viewer applies the
// same pass policy. A record that fails structural validation is
// reported as corrupt.
func DecodeGame(data []byte, rules GameRules) (*Game, int64, error) {
	var rec gameRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, 0, fmt.Errorf("corrupt game record: %w", err)
	}
	if rec.GameID == "" {
		return nil, 0, errors.New("corrupt game record: missing game_id")
	}

	if rec.Difficulty != "" {
		rules.Difficulty = rec.Difficulty
	}

	g := NewGame(rec.GameID, rules)
	g.Players = rec.Players
	g.History = rec.History
	g.Threshold = rec.Threshold
	g.Exploded = rec.Exploded

	if rec.CurrentHolder != nil {
		g.Holder = *rec.CurrentHolder
	}
	if rec.GameEndTime != nil {
		g.EndTime = *rec.GameEndTime
	}
	if rec.FuseDeadline != nil {
		g.FuseDeadline = *rec.FuseDeadline
	}

	switch {
	case !rec.GameStarted:
		g.Phase = PhaseSetup
	case rec.Exploded:
		g.Phase = PhaseEnded
	default:
		g.Phase = PhaseActive
	}

	if err := g.validate(); err != nil {
		return nil, 0, err
	}

	return g, rec.Revision, nil
}

// newBlobStore builds the configured store backend.
func newBlobStore(ctx context.Context, cfg *Config) (BlobStore, error) {
	switch cfg.store {
	case "memory":
		return NewMemoryStore(), nil
	case "disk":
		return NewDiskStore(cfg.storePath)
	case "redis":
		return NewRedisStore(ctx, cfg.redisAddr, cfg.redisDB)
	default:
		return nil, fmt.Errorf("invalid store backend (must be memory, disk, or redis): %q", cfg.store)
	}
}
