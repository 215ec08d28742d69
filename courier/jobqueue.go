package courier

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	core "github.com/supplyetl/core"
)

const lockPrefix = "supplyetl:job-lock:"
const pendingSetKey = "supplyetl:pending-jobs"

// JobLock is a Redis SETNX-backed advisory lock keyed on the (supplier,
// source-descriptor) pair, serializing two jobs that would otherwise race
// over the same source (spec §5 "Ordering").
type JobLock struct {
	client  *redis.Client
	ownerID string
}

func NewJobLock(client *redis.Client) *JobLock {
	return &JobLock{client: client, ownerID: generateOwnerID()}
}

func generateOwnerID() string {
	hostname, _ := os.Hostname()
	randomBytes := make([]byte, 8)
	_, _ = rand.Read(randomBytes)
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), hex.EncodeToString(randomBytes))
}

// LockKey deterministically names the advisory lock for a (supplier,
// source-descriptor) pair.
func LockKey(supplierID int64, sourceDescriptor string) string {
	return fmt.Sprintf("%d:%s", supplierID, sourceDescriptor)
}

// Acquire attempts to take the lock for name with ttl, returning false if
// another job for the same pair is already running.
func (l *JobLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	key := lockPrefix + name
	ok, err := l.client.SetNX(ctx, key, l.ownerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring job lock %s: %w", name, err)
	}
	return ok, nil
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Release releases the lock for name if still held by this instance.
func (l *JobLock) Release(ctx context.Context, name string) error {
	key := lockPrefix + name
	_, err := releaseScript.Run(ctx, l.client, []string{key}, l.ownerID).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("releasing job lock %s: %w", name, err)
	}
	return nil
}

// PendingDepth tracks jobs awaiting download_and_trigger for the
// back-pressure check in enqueue() (spec §5 "Back-pressure").
type PendingDepth struct {
	client *redis.Client
}

func NewPendingDepth(client *redis.Client) *PendingDepth {
	return &PendingDepth{client: client}
}

// TryAdd adds jobID to the pending set and reports Backpressured if doing
// so would exceed maxPending.
func (p *PendingDepth) TryAdd(ctx context.Context, jobID int64, maxPending int) error {
	n, err := p.client.SCard(ctx, pendingSetKey).Result()
	if err != nil {
		return fmt.Errorf("reading pending job depth: %w", err)
	}
	if int(n) >= maxPending {
		// No dedicated kind for queue back-pressure; Stalled is the closest
		// member of the closed taxonomy (job isn't progressing).
		return core.WrapKind(core.KindStalled, core.ErrBackpressured)
	}
	return p.client.SAdd(ctx, pendingSetKey, jobID).Err()
}

// Remove drops jobID from the pending set once it has moved to analyzing
// or failed.
func (p *PendingDepth) Remove(ctx context.Context, jobID int64) error {
	return p.client.SRem(ctx, pendingSetKey, jobID).Err()
}
