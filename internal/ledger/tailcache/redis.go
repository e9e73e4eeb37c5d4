package tailcache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"keel/internal/ledger"
)

// redisTTL keeps hints from outliving a node that stopped appending; the
// store remains the source of truth either way.
const redisTTL = 10 * time.Minute

// Redis shares tail hints across nodes. Errors are logged and treated as
// cache misses; the append path must never fail because the hint layer did.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedis(client *redis.Client, logger *slog.Logger) *Redis {
	return &Redis{client: client, logger: logger}
}

func key(chain ledger.ChainID) string {
	return "ledger:tail:" + string(chain)
}

func (r *Redis) Get(ctx context.Context, chain ledger.ChainID) (string, bool) {
	tail, err := r.client.Get(ctx, key(chain)).Result()
	if err != nil {
		if err != redis.Nil {
			r.logger.WarnContext(ctx, "tail cache read failed", "chain", string(chain), "error", err)
		}
		return "", false
	}
	return tail, true
}

func (r *Redis) Set(ctx context.Context, chain ledger.ChainID, hash string) {
	if err := r.client.Set(ctx, key(chain), hash, redisTTL).Err(); err != nil {
		r.logger.WarnContext(ctx, "tail cache write failed", "chain", string(chain), "error", err)
	}
}
