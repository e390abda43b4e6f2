package bucketdb

import "bucketdb/pkg/bucket"

// snapshot is one published version of the database. It is immutable and
// can be shared freely between goroutines.
type snapshot struct {
	root *node
	size int
	gen  uint64
}

var emptySnapshot = &snapshot{}

func (s *snapshot) get(b bucket.ID) (Entry, bool) {
	n := lookup(s.root, b.Key())
	if n == nil {
		return Entry{}, false
	}
	return n.entry, true
}

func (s *snapshot) next(b bucket.ID) (Entry, bool) {
	n := upperBound(s.root, b.Key())
	if n == nil {
		return Entry{}, false
	}
	return n.entry, true
}

func (s *snapshot) forEach(p EntryProcessor) {
	ascend(s.root, 0, true, func(n *node) bool {
		return p.Process(n.entry)
	})
}

func (s *snapshot) forEachFrom(b bucket.ID, p EntryProcessor, dir Direction) {
	visit := func(n *node) bool { return p.Process(n.entry) }
	if dir == Descending {
		descend(s.root, b.Key(), false, visit)
		return
	}
	ascend(s.root, b.Key(), false, visit)
}

func (s *snapshot) forEachFromLowerBound(b bucket.ID, p EntryProcessor) {
	ascend(s.root, b.Key(), true, func(n *node) bool {
		return p.Process(n.entry)
	})
}

// findParentsAndSelf collects every stored bucket that contains b, b itself
// included, shallowest first.
//
// Candidates are probed depth by depth with lower-bound seeks. A stored
// bucket c that precedes b without containing it diverges from b at bit
// CommonBits(c, b); every ancestor of b at or above that depth would have
// sorted before c, so the next candidate depth is one past the divergence.
func (s *snapshot) findParentsAndSelf(b bucket.ID, fn func(n *node)) {
	if s.root == nil {
		return
	}
	target := b.Key()
	depth := uint8(0)
	for depth <= b.UsedBits() {
		n := lowerBound(s.root, b.WithUsedBits(depth).Key())
		if n == nil || n.key > target {
			return
		}
		c := n.entry.Bucket
		next := bucket.CommonBits(c, b) + 1
		if c.Contains(b) {
			fn(n)
			next = c.UsedBits() + 1
		}
		if next <= depth {
			next = depth + 1
		}
		depth = next
	}
}

// findChildren collects the strict descendants of b in key order.
func (s *snapshot) findChildren(b bucket.ID, fn func(n *node)) {
	last := b.SubtreeMaxKey()
	ascend(s.root, b.Key(), false, func(n *node) bool {
		if n.key > last {
			return false
		}
		fn(n)
		return true
	})
}

func (s *snapshot) parents(b bucket.ID) []Entry {
	var out []Entry
	s.findParentsAndSelf(b, func(n *node) { out = append(out, n.entry) })
	return out
}

func (s *snapshot) parentsAndChildren(b bucket.ID) []Entry {
	var out []Entry
	collect := func(n *node) { out = append(out, n.entry) }
	s.findParentsAndSelf(b, collect)
	s.findChildren(b, collect)
	return out
}

// hasEntryWithin reports whether b or any of its descendants is stored.
func (s *snapshot) hasEntryWithin(b bucket.ID) bool {
	n := lowerBound(s.root, b.Key())
	return n != nil && n.key <= b.SubtreeMaxKey()
}

func (s *snapshot) childCount(b bucket.ID) int {
	if b.UsedBits() >= bucket.MaxUsedBits {
		return 0
	}
	count := 0
	for bit := uint8(0); bit < 2; bit++ {
		if s.hasEntryWithin(b.Child(bit)) {
			count++
		}
	}
	return count
}

// appropriateBucket picks the bucket that content belonging to wanted should
// be stored in. See DB.CreateAppropriateBucket.
func (s *snapshot) appropriateBucket(minBits uint8, wanted bucket.ID) bucket.ID {
	minBits = min(minBits, bucket.MaxUsedBits)
	full := bucket.New(bucket.MaxUsedBits, wanted.RawID())
	if s.root == nil {
		return full.WithUsedBits(minBits)
	}

	var deepest *node
	s.findParentsAndSelf(full, func(n *node) { deepest = n })
	if deepest != nil {
		// minBits wins over reusing a shallower covering bucket.
		if deepest.entry.Bucket.UsedBits() < minBits {
			return full.WithUsedBits(minBits)
		}
		return deepest.entry.Bucket
	}

	// With no stored ancestor, the stored buckets sharing the longest low-bit
	// prefix with full are its neighbours in key order.
	used := minBits
	key := full.Key()
	for _, n := range []*node{predecessor(s.root, key), lowerBound(s.root, key)} {
		if n == nil {
			continue
		}
		used = max(used, bucket.CommonBits(n.entry.Bucket, full)+1)
	}
	return full.WithUsedBits(min(used, bucket.MaxUsedBits))
}
