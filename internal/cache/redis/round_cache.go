package redis

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/clearstrike/clearstrike/internal/domain"
)

// RoundCache implements domain.RoundCache using Redis hashes. The latest
// accepted round of each feed is stored at key "round:{feed}" with fields
// "ts" and "answer".
type RoundCache struct {
	rdb *redis.Client
}

// NewRoundCache creates a RoundCache backed by the given Client.
func NewRoundCache(c *Client) *RoundCache {
	return &RoundCache{rdb: c.Underlying()}
}

func roundKey(feed common.Address) string {
	return "round:" + feed.Hex()
}

// SetLatest stores the latest accepted round for a feed.
func (rc *RoundCache) SetLatest(ctx context.Context, feed common.Address, round domain.Round) error {
	fields := map[string]interface{}{
		"ts":     strconv.FormatUint(round.Timestamp, 10),
		"answer": round.Answer.String(),
	}
	if err := rc.rdb.HSet(ctx, roundKey(feed), fields).Err(); err != nil {
		return fmt.Errorf("redis: set round %s: %w", feed.Hex(), err)
	}
	return nil
}

// GetLatest retrieves the latest accepted round for a feed. It returns
// domain.ErrNoRound when the feed has no cached round.
func (rc *RoundCache) GetLatest(ctx context.Context, feed common.Address) (domain.Round, error) {
	vals, err := rc.rdb.HGetAll(ctx, roundKey(feed)).Result()
	if err != nil {
		return domain.Round{}, fmt.Errorf("redis: get round %s: %w", feed.Hex(), err)
	}
	if len(vals) == 0 {
		return domain.Round{}, domain.ErrNoRound
	}

	ts, err := strconv.ParseUint(vals["ts"], 10, 64)
	if err != nil {
		return domain.Round{}, fmt.Errorf("redis: parse round ts %s: %w", feed.Hex(), err)
	}
	answer, ok := new(big.Int).SetString(vals["answer"], 10)
	if !ok {
		return domain.Round{}, fmt.Errorf("redis: parse round answer %s: %q", feed.Hex(), vals["answer"])
	}

	return domain.Round{Timestamp: ts, Answer: answer}, nil
}

// Compile-time interface check.
var _ domain.RoundCache = (*RoundCache)(nil)
