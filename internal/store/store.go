// Package store provides durable session.Store backends: a local JSON file, PostgreSQL,
// S3-compatible object storage, a git repository and Redis.
package store

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/alien-org/alien-sso-go/internal/config"
	"github.com/alien-org/alien-sso-go/internal/util"
	"github.com/alien-org/alien-sso-go/sdk/session"
	log "github.com/sirupsen/logrus"
)

// Open builds the durable store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig) (session.Store, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	log.Debugf("store: opening %q backend", backend)
	switch backend {
	case "", "file":
		path, err := util.ResolvePath(cfg.Path)
		if err != nil {
			return nil, err
		}
		return session.NewFileStore(path)
	case "memory":
		return session.NewMemoryStore(0), nil
	case "postgres":
		return NewPostgresStore(ctx, PostgresStoreConfig{
			DSN:    cfg.Postgres.DSN,
			Schema: cfg.Postgres.Schema,
			Table:  cfg.Postgres.Table,
		})
	case "object":
		return NewObjectStore(ctx, ObjectStoreConfig{
			Endpoint:  cfg.Object.Endpoint,
			Bucket:    cfg.Object.Bucket,
			AccessKey: cfg.Object.AccessKey,
			SecretKey: cfg.Object.SecretKey,
			Prefix:    cfg.Object.Prefix,
			UseSSL:    cfg.Object.UseSSL,
			PathStyle: true,
		})
	case "git":
		dir := cfg.Git.Dir
		if dir == "" {
			dir = cfg.Path
		}
		dir, err := util.ResolvePath(dir)
		if err != nil {
			return nil, err
		}
		return NewGitStore(GitStoreConfig{
			Remote:   cfg.Git.URL,
			Username: cfg.Git.Username,
			Password: cfg.Git.Token,
			Dir:      dir,
		})
	case "redis":
		return NewRedisStore(ctx, RedisStoreConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}

// Close releases st when the backend holds connections.
func Close(st session.Store) error {
	if c, ok := st.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
