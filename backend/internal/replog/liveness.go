package replog

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Node liveness keys. Each document holds a ZSET of node ids scored by
// their expiry time; an entry whose score has passed is dead and gets
// reaped before every read.
const keyNodesFmt = "replog:nodes:{docID:%s}" // ZSet<nodeID, expireAtUnix>

func nodesKey(documentID string) string { return fmt.Sprintf(keyNodesFmt, documentID) }

// reap removes expired registrations before listing the survivors.
const reapScript = `
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
end
return #expired
`

// RedisLiveness registers this instance against the documents it serves.
// The registration is ephemeral: a background loop refreshes the expiry,
// so a crashed or partitioned instance disappears on its own and peers can
// garbage-collect routing state for it.
type RedisLiveness struct {
	rdb    redis.UniversalClient
	nodeID string
	ttl    time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // documentID -> keepalive stop
}

func NewRedisLiveness(rdb redis.UniversalClient, nodeID string, ttl time.Duration, logger *zap.Logger) *RedisLiveness {
	return &RedisLiveness{
		rdb:     rdb,
		nodeID:  nodeID,
		ttl:     ttl,
		logger:  logger,
		cancels: make(map[string]context.CancelFunc),
	}
}

// RegisterEphemeral marks this node live for the document and starts the
// keepalive loop. Best-effort: a write failure is logged, never surfaced.
func (l *RedisLiveness) RegisterEphemeral(ctx context.Context, documentID string) {
	l.mu.Lock()
	if _, ok := l.cancels[documentID]; ok {
		l.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	l.cancels[documentID] = cancel
	l.mu.Unlock()

	l.touch(ctx, documentID)
	go l.keepalive(loopCtx, documentID)
}

// Deregister stops the keepalive and removes the registration eagerly.
func (l *RedisLiveness) Deregister(ctx context.Context, documentID string) {
	l.mu.Lock()
	cancel := l.cancels[documentID]
	delete(l.cancels, documentID)
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if err := l.rdb.ZRem(ctx, nodesKey(documentID), l.nodeID).Err(); err != nil {
		l.logger.Warn("liveness deregister failed", zap.String("docId", documentID), zap.Error(err))
	}
}

// AliveNodes lists the unexpired node registrations for a document.
func (l *RedisLiveness) AliveNodes(ctx context.Context, documentID string) ([]string, error) {
	now := time.Now().Unix()
	if err := redis.NewScript(reapScript).Run(ctx, l.rdb, []string{nodesKey(documentID)}, now).Err(); err != nil && err != redis.Nil {
		return nil, err
	}
	nodes, err := l.rdb.ZRangeByScore(ctx, nodesKey(documentID), &redis.ZRangeBy{
		Min: "(" + fmt.Sprint(now),
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	return nodes, nil
}

func (l *RedisLiveness) touch(ctx context.Context, documentID string) {
	expireAt := time.Now().Add(l.ttl).Unix()
	err := l.rdb.ZAdd(ctx, nodesKey(documentID), redis.Z{Score: float64(expireAt), Member: l.nodeID}).Err()
	if err != nil {
		l.logger.Warn("liveness refresh failed", zap.String("docId", documentID), zap.Error(err))
	}
}

func (l *RedisLiveness) keepalive(ctx context.Context, documentID string) {
	interval := l.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.touch(ctx, documentID)
		case <-ctx.Done():
			return
		}
	}
}
