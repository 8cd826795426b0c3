package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/SaishPatil24/Fraud-Detection-for-P2P/internal/domain"
	"github.com/redis/go-redis/v9"
)

// NewAliasStore creates the alias backend named by cfg.AliasStore.
// The "sql" backend reuses repo and fails without one.
func NewAliasStore(cfg domain.RegistryConfig, repo domain.Repository) (domain.AliasStore, error) {
	switch cfg.AliasStore {
	case "file", "":
		return NewFileAliasStore(cfg.Root), nil

	case "sql":
		if repo == nil {
			return nil, fmt.Errorf("%w: sql alias store needs a repository driver", domain.ErrInvalidInput)
		}
		return repo, nil

	case "redis":
		return NewRedisAliasStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported alias store: %s", cfg.AliasStore)
	}
}

// FileAliasStore keeps each alias in <dir>/<name>.alias.
type FileAliasStore struct {
	dir string
}

// NewFileAliasStore stores aliases under dir.
func NewFileAliasStore(dir string) *FileAliasStore {
	return &FileAliasStore{dir: dir}
}

func (s *FileAliasStore) path(name string) string {
	return filepath.Join(s.dir, name+".alias")
}

// GetAlias reads the alias file.
func (s *FileAliasStore) GetAlias(ctx context.Context, name string) (string, error) {
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", domain.ErrAliasNotSet, name)
	}
	if err != nil {
		return "", err
	}
	version := strings.TrimSpace(string(data))
	if version == "" {
		return "", fmt.Errorf("%w: %s is empty", domain.ErrAliasNotSet, name)
	}
	return version, nil
}

// SetAlias writes a temp file beside the alias and renames it over
// the old one, so readers see either the old or the new target.
func (s *FileAliasStore) SetAlias(ctx context.Context, name, version string) error {
	if name == "" || version == "" {
		return fmt.Errorf("%w: alias name and version are required", domain.ErrInvalidInput)
	}
	return writeFileAtomic(s.path(name), []byte(version+"\n"))
}

// RedisAliasStore keeps aliases as plain Redis strings so every
// replica sees a promotion at once.
type RedisAliasStore struct {
	client *redis.Client
}

// NewRedisAliasStore connects to Redis and verifies the connection.
func NewRedisAliasStore(addr, password string, db int) (*RedisAliasStore, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisAliasStore{client: client}, nil
}

// GetAlias reads the alias key.
func (s *RedisAliasStore) GetAlias(ctx context.Context, name string) (string, error) {
	version, err := s.client.Get(ctx, aliasKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: %s", domain.ErrAliasNotSet, name)
	}
	if err != nil {
		return "", err
	}
	return version, nil
}

// SetAlias replaces the alias with a single SET.
func (s *RedisAliasStore) SetAlias(ctx context.Context, name, version string) error {
	if name == "" || version == "" {
		return fmt.Errorf("%w: alias name and version are required", domain.ErrInvalidInput)
	}
	return s.client.Set(ctx, aliasKey(name), version, 0).Err()
}

// Close closes the Redis connection.
func (s *RedisAliasStore) Close() error {
	return s.client.Close()
}

func aliasKey(name string) string {
	return "fraudscore:alias:" + name
}
