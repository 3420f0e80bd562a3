// Package redis shares the dedup index between harvester processes that
// run under the same run id.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/media-harvester/internal/dedup/memory"
)

// Client is the subset of the go-redis client the index needs.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.BoolCmd
}

// Config controls key layout and retention.
type Config struct {
	Prefix string
	RunID  string
	TTL    time.Duration
}

// Index claims locally first, then in Redis. Redis failures fall back to
// the local answer so a flaky cache never stalls the crawl.
type Index struct {
	client Client
	local  *memory.Index
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// New builds an Index.
func New(client Client, cfg Config, logger *zap.Logger) (*Index, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.RunID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "harvester:claim"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{
		client: client,
		local:  memory.New(),
		prefix: fmt.Sprintf("%s:%s:", cfg.Prefix, cfg.RunID),
		ttl:    cfg.TTL,
		logger: logger,
	}, nil
}

// TryClaim returns true only for the first claim of id across every
// process sharing the run id.
func (i *Index) TryClaim(ctx context.Context, id string) bool {
	if !i.local.TryClaim(ctx, id) {
		return false
	}
	ok, err := i.client.SetNX(ctx, i.prefix+id, 1, i.ttl).Result()
	if err != nil {
		i.logger.Warn("redis claim failed; using local claim", zap.String("global_id", id), zap.Error(err))
		return true
	}
	return ok
}
