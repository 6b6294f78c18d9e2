package redis

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/iouledger/internal/domain"
)

//go:embed scripts/commit_spent.lua
var commitSpentLua string

// UniquenessProvider implements domain.UniquenessProvider with one Redis key
// per consumed state. The Lua script checks and marks every input in a single
// atomic step, so a notary cluster sharing one Redis agrees on who spent what.
type UniquenessProvider struct {
	c      *Client
	commit *redis.Script
}

// NewUniquenessProvider creates a UniquenessProvider backed by the given Client.
func NewUniquenessProvider(c *Client) *UniquenessProvider {
	return &UniquenessProvider{
		c:      c,
		commit: redis.NewScript(commitSpentLua),
	}
}

func (u *UniquenessProvider) spentKey(ref domain.StateRef) string {
	return u.c.key("notary", "spent", ref.TxID.Hex(), strconv.Itoa(ref.Index))
}

// Commit marks refs as consumed by txID, or returns a *domain.ConflictError
// naming the first ref already consumed by another transaction.
func (u *UniquenessProvider) Commit(ctx context.Context, txID domain.TxID, refs []domain.StateRef) error {
	if len(refs) == 0 {
		return nil
	}
	keys := make([]string, len(refs))
	for i, ref := range refs {
		keys[i] = u.spentKey(ref)
	}

	res, err := u.commit.Run(ctx, u.c.rdb, keys, txID.Hex()).Result()
	if err != nil {
		return fmt.Errorf("redis: commit spent %s: %w", txID.Hex(), err)
	}

	switch v := res.(type) {
	case int64:
		return nil
	case []interface{}:
		if len(v) != 2 {
			return fmt.Errorf("redis: commit spent %s: unexpected reply length %d", txID.Hex(), len(v))
		}
		idx, ok := v[0].(int64)
		if !ok || idx < 0 || int(idx) >= len(refs) {
			return fmt.Errorf("redis: commit spent %s: bad conflict index %v", txID.Hex(), v[0])
		}
		owner, _ := v[1].(string)
		return &domain.ConflictError{Ref: refs[idx], ConsumedBy: common.HexToHash(owner)}
	default:
		return fmt.Errorf("redis: commit spent %s: unexpected reply %T", txID.Hex(), res)
	}
}

// Compile-time interface check.
var _ domain.UniquenessProvider = (*UniquenessProvider)(nil)
