// Package bucketing implements the deterministic hash allocator that gates
// experiment eligibility and picks branches.
//
// Every (randomization id, namespace, slug) triple maps to a stable point in
// [0, total). The digest is BLAKE2b-256 over a versioned concatenation of the
// inputs, reduced from its first four bytes. Properties:
//
//   - Deterministic: identical inputs always yield the same point, across
//     processes, platforms, and releases
//   - Uniform: points spread evenly over the output range
//   - Independent: different namespaces decorrelate, so enrollment in one
//     experiment never predicts enrollment in another
//
// The digest input is versioned ("v1:"). Changing the hash or the reduction
// reshuffles every client between branches mid-experiment, so any future
// change must bump the version and apply only to new experiments.
//
// Example Usage:
//
//	point := bucketing.Point(clientID, "newtab-ns", "my-experiment")
//	if bucketing.InRange(point, 0, 1000, bucketing.TotalBuckets) {
//		// client is in the first 10% slice
//	}
//
// ELI12:
//
// Imagine 10,000 numbered seats in a stadium. Your ticket number is computed
// from your name plus the show's name, and the same inputs always give the
// same seat. An experiment says "rows 0-999 get the new popcorn flavor" —
// whether you're in those rows is pure math, no server needed.
package bucketing

import (
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/skuld/pkg/catalog"
)

// TotalBuckets is the size of the standard bucket space.
const TotalBuckets = 10000

// hashVersion prefixes the digest input. Bump on any change to the digest or
// the reduction.
const hashVersion = "v1"

// branchNamespace separates branch selection from eligibility hashing so the
// two decisions are statistically independent.
const branchNamespace = "branch"

// ErrNoBranches reports branch selection over an empty or zero-ratio branch
// list.
var ErrNoBranches = errors.New("no selectable branches")

func rawPoint(randomizationID, namespace, slug string) uint32 {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(hashVersion))
	h.Write([]byte{':'})
	h.Write([]byte(randomizationID))
	h.Write([]byte{':'})
	h.Write([]byte(namespace))
	h.Write([]byte{':'})
	h.Write([]byte(slug))
	var digest [32]byte
	h.Sum(digest[:0])
	return binary.BigEndian.Uint32(digest[:4])
}

// Point maps the triple to a stable point in [0, TotalBuckets).
func Point(randomizationID, namespace, slug string) int {
	return PointIn(randomizationID, namespace, slug, TotalBuckets)
}

// PointIn maps the triple to a stable point in [0, total).
func PointIn(randomizationID, namespace, slug string, total int) int {
	return int(rawPoint(randomizationID, namespace, slug) % uint32(total))
}

// InRange tests membership of a point in [start, start+count) modulo total,
// so configurations may wrap around the top of the bucket space.
func InRange(point, start, count, total int) bool {
	if count <= 0 || total <= 0 {
		return false
	}
	if count >= total {
		return true
	}
	end := (start + count) % total
	start = start % total
	if start < end {
		return point >= start && point < end
	}
	// Wrapped: eligible slice is [start, total) plus [0, end).
	return point >= start || point < end
}

// Eligible reports whether the client falls inside the experiment's bucket
// slice.
func Eligible(randomizationID string, slug catalog.Slug, cfg catalog.BucketConfig) bool {
	point := PointIn(randomizationID, cfg.Namespace, string(slug), cfg.Total)
	return InRange(point, cfg.Start, cfg.Count, cfg.Total)
}

// SelectBranch deterministically picks a branch weighted by ratio. The hash
// is independent of the eligibility hash. Iteration follows the declared
// branch order, first cumulative match wins. Branches with ratio zero are
// never selected; a list whose ratios sum to zero fails with ErrNoBranches.
func SelectBranch(randomizationID string, slug catalog.Slug, branches []catalog.Branch) (*catalog.Branch, error) {
	total := 0
	for i := range branches {
		total += branches[i].Ratio
	}
	if total <= 0 {
		return nil, ErrNoBranches
	}
	point := int(rawPoint(randomizationID, branchNamespace, string(slug)) % uint32(total))
	cumulative := 0
	for i := range branches {
		cumulative += branches[i].Ratio
		if point < cumulative {
			return &branches[i], nil
		}
	}
	// Unreachable: point < total == final cumulative.
	return &branches[len(branches)-1], nil
}
