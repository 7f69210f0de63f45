package orchestrator

import (
	"hash/fnv"
	"sync"
)

const lockShards = 64

// shardedLocks serializes state transitions per job. Two jobs may
// share a shard; that only costs contention, never correctness.
type shardedLocks [lockShards]sync.Mutex

func (s *shardedLocks) lock(jobID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(jobID))
	mu := &s[h.Sum32()%lockShards]
	mu.Lock()
	return mu
}
