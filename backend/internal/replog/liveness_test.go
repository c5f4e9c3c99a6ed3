package replog

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func redisOrSkip(t *testing.T) redis.UniversalClient {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRedisLiveness_RegisterAndObserve(t *testing.T) {
	rdb := redisOrSkip(t)
	ctx := context.Background()
	docID := "liveness-test-doc"
	t.Cleanup(func() { rdb.Del(ctx, nodesKey(docID)) })

	l := NewRedisLiveness(rdb, "node-1", 10*time.Second, zap.NewNop())
	l.RegisterEphemeral(ctx, docID)
	t.Cleanup(func() { l.Deregister(ctx, docID) })

	nodes, err := l.AliveNodes(ctx, docID)
	if err != nil {
		t.Fatalf("AliveNodes() error = %v", err)
	}
	found := false
	for _, n := range nodes {
		if n == "node-1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("AliveNodes = %v, want to contain node-1", nodes)
	}
}

func TestRedisLiveness_DeregisterRemovesNode(t *testing.T) {
	rdb := redisOrSkip(t)
	ctx := context.Background()
	docID := "liveness-test-doc-2"
	t.Cleanup(func() { rdb.Del(ctx, nodesKey(docID)) })

	l := NewRedisLiveness(rdb, "node-2", 10*time.Second, zap.NewNop())
	l.RegisterEphemeral(ctx, docID)
	l.Deregister(ctx, docID)

	nodes, err := l.AliveNodes(ctx, docID)
	if err != nil {
		t.Fatalf("AliveNodes() error = %v", err)
	}
	for _, n := range nodes {
		if n == "node-2" {
			t.Fatalf("node-2 still registered after Deregister")
		}
	}
}

func TestRedisLiveness_ExpiredNodeReaped(t *testing.T) {
	rdb := redisOrSkip(t)
	ctx := context.Background()
	docID := "liveness-test-doc-3"
	t.Cleanup(func() { rdb.Del(ctx, nodesKey(docID)) })

	// Plant an already-expired registration directly.
	expired := float64(time.Now().Add(-time.Minute).Unix())
	if err := rdb.ZAdd(ctx, nodesKey(docID), redis.Z{Score: expired, Member: "dead-node"}).Err(); err != nil {
		t.Fatalf("ZAdd error: %v", err)
	}

	l := NewRedisLiveness(rdb, "node-3", 10*time.Second, zap.NewNop())
	nodes, err := l.AliveNodes(ctx, docID)
	if err != nil {
		t.Fatalf("AliveNodes() error = %v", err)
	}
	for _, n := range nodes {
		if n == "dead-node" {
			t.Fatalf("expired node survived the reap")
		}
	}
}
