// Package partition implements the deterministic stream→partition and
// partition→owner mapping (spec §4.1 step 9, component C1). It has no
// dependencies beyond the standard library: the whole point of a
// partition function is that every instance computes the same answer
// independently, so it must be pure and portable.
package partition

import (
	"hash/fnv"
	"sort"
)

// catchAll is the partition key used for rows without a stream id —
// the spec calls this "a catch-all partition distributed the same way".
const catchAll = "__catch_all__"

// hash64 returns a stable 64-bit hash of s. fnv-1a is used because it
// is dependency-free, fast, and — unlike maphash — gives the same
// result across processes and restarts, which the partition function
// requires.
func hash64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// Of computes the partition number for a stream id, spec formula:
// abs(hash(stream_id::text)) mod partition_count. An empty streamID is
// treated as the catch-all bucket.
func Of(streamID string, partitionCount int) int {
	if partitionCount <= 0 {
		return 0
	}
	key := streamID
	if key == "" {
		key = catchAll
	}
	return int(hash64(key) % uint64(partitionCount))
}

// Owner reports whether instanceID owns streamID under the current
// active-instance set, per spec §4.1 step 9:
//
//	hash(stream_id) mod active_instance_count == hash(instance_id) mod active_instance_count
//
// The result depends only on len(activeInstances), not on set order or
// membership identity — it is invariant 7 ("partition determinism")
// that requires every instance to compute the same answer from the
// same stream id and the same active-instance *count*.
func Owner(streamID, instanceID string, activeInstances []string) bool {
	n := len(activeInstances)
	if n == 0 {
		return false
	}
	key := streamID
	if key == "" {
		key = catchAll
	}
	return hash64(key)%uint64(n) == hash64(instanceID)%uint64(n)
}

// OwnerOf returns the first instance, in sorted order, for which Owner
// reports true for streamID — useful for tests and for the admin surface
// to report partition assignment. ok is false when no instance in the
// set owns the stream under Owner's formula.
func OwnerOf(streamID string, activeInstances []string) (instanceID string, ok bool) {
	sorted := make([]string, len(activeInstances))
	copy(sorted, activeInstances)
	sort.Strings(sorted)

	for _, id := range sorted {
		if Owner(streamID, id, activeInstances) {
			return id, true
		}
	}
	return "", false
}
