package backfill

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Checkpoint persists the highest log id the backfill has finished with.
// A missing or unreadable value reads as zero.
type Checkpoint interface {
	Load(ctx context.Context) (int64, error)
	Save(ctx context.Context, id int64) error
	Reset(ctx context.Context) error
}

// FileCheckpoint stores the checkpoint as a decimal number in a text file.
type FileCheckpoint struct {
	path string
}

// NewFileCheckpoint returns a checkpoint stored at path.
func NewFileCheckpoint(path string) *FileCheckpoint {
	return &FileCheckpoint{path: path}
}

// Load implements Checkpoint.
func (f *FileCheckpoint) Load(_ context.Context) (int64, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrapf(err, "backfill: read checkpoint %s", f.path)
	}
	return parseCheckpoint(string(b), f.path), nil
}

// Save implements Checkpoint. The value is written to a temp file and
// renamed over the old one so a crash never leaves a torn file.
func (f *FileCheckpoint) Save(_ context.Context, id int64) error {
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "backfill: create checkpoint temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.WriteString(strconv.FormatInt(id, 10)); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "backfill: write checkpoint")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "backfill: close checkpoint")
	}
	return eris.Wrap(os.Rename(tmp.Name(), f.path), "backfill: replace checkpoint")
}

// Reset implements Checkpoint.
func (f *FileCheckpoint) Reset(_ context.Context) error {
	err := os.Remove(f.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return eris.Wrapf(err, "backfill: remove checkpoint %s", f.path)
	}
	return nil
}

// RedisCheckpoint stores the checkpoint under a single Redis key.
type RedisCheckpoint struct {
	client *redis.Client
	key    string
}

// NewRedisCheckpoint returns a checkpoint stored at key.
func NewRedisCheckpoint(client *redis.Client, key string) *RedisCheckpoint {
	return &RedisCheckpoint{client: client, key: key}
}

// Load implements Checkpoint.
func (r *RedisCheckpoint) Load(ctx context.Context) (int64, error) {
	s, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrapf(err, "backfill: get checkpoint %s", r.key)
	}
	return parseCheckpoint(s, r.key), nil
}

// Save implements Checkpoint.
func (r *RedisCheckpoint) Save(ctx context.Context, id int64) error {
	return eris.Wrapf(r.client.Set(ctx, r.key, id, 0).Err(), "backfill: set checkpoint %s", r.key)
}

// Reset implements Checkpoint.
func (r *RedisCheckpoint) Reset(ctx context.Context) error {
	return eris.Wrapf(r.client.Del(ctx, r.key).Err(), "backfill: delete checkpoint %s", r.key)
}

// MemoryCheckpoint keeps the checkpoint in process. Ad hoc runs use it so
// they leave the persisted checkpoint alone.
type MemoryCheckpoint struct {
	mu sync.Mutex
	id int64
}

// Load implements Checkpoint.
func (m *MemoryCheckpoint) Load(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id, nil
}

// Save implements Checkpoint.
func (m *MemoryCheckpoint) Save(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = id
	return nil
}

// Reset implements Checkpoint.
func (m *MemoryCheckpoint) Reset(context.Context) error {
	return m.Save(context.Background(), 0)
}

func parseCheckpoint(s, where string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		zap.L().Warn("invalid checkpoint, starting from zero",
			zap.String("source", where), zap.String("value", s))
		return 0
	}
	return n
}
