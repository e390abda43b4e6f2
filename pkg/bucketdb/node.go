package bucketdb

import "math/bits"

// node is a vertex of an immutable crit-bit tree keyed by bucket keys.
//
// A leaf holds one entry under its full key. A branch discriminates on a
// single key bit (0 = most significant): every key below it shares the bits
// above that position, recorded in key, and child[0]/child[1] hold the keys
// whose bit is 0/1. In-order traversal therefore yields ascending keys.
//
// Nodes are never modified once they are reachable from a published root.
// Mutations copy the path from the root down to the affected leaf and share
// every untouched subtree with the previous version.
type node struct {
	key   uint64
	bit   uint8
	child [2]*node
	entry Entry
}

func (n *node) isLeaf() bool { return n.child[0] == nil }

// subtreeMax is the largest key that can live below n.
func (n *node) subtreeMax() uint64 {
	if n.isLeaf() {
		return n.key
	}
	return n.key | ^prefixMask(n.bit)
}

func newLeaf(key uint64, e Entry) *node {
	return &node{key: key, entry: e}
}

func newBranch(bit uint8, a, b *node) *node {
	n := &node{key: a.key & prefixMask(bit), bit: bit}
	if direction(a.key, bit) == 0 {
		n.child = [2]*node{a, b}
	} else {
		n.child = [2]*node{b, a}
	}
	return n
}

func (n *node) withChild(d uint8, c *node) *node {
	cp := *n
	cp.child[d] = c
	return &cp
}

// direction returns the value of key at bit (0 = most significant).
func direction(key uint64, bit uint8) uint8 {
	return uint8(key>>(63-bit)) & 1
}

// prefixMask keeps the bits above position bit.
func prefixMask(bit uint8) uint64 {
	if bit == 0 {
		return 0
	}
	return ^uint64(0) << (64 - uint(bit))
}

// critBit is the first bit position where two distinct keys differ.
func critBit(a, b uint64) uint8 {
	return uint8(bits.LeadingZeros64(a ^ b))
}

// lookup returns the leaf stored under key, or nil.
func lookup(n *node, key uint64) *node {
	for n != nil && !n.isLeaf() {
		n = n.child[direction(key, n.bit)]
	}
	if n == nil || n.key != key {
		return nil
	}
	return n
}

// insert returns a root where key maps to e, and whether the key is new.
func insert(root *node, key uint64, e Entry) (*node, bool) {
	if root == nil {
		return newLeaf(key, e), true
	}

	closest := root
	for !closest.isLeaf() {
		closest = closest.child[direction(key, closest.bit)]
	}
	if closest.key == key {
		return replace(root, key, e), false
	}
	return insertAt(root, key, critBit(closest.key, key), e), true
}

func insertAt(n *node, key uint64, crit uint8, e Entry) *node {
	if n.isLeaf() || n.bit > crit {
		return newBranch(crit, newLeaf(key, e), n)
	}
	d := direction(key, n.bit)
	return n.withChild(d, insertAt(n.child[d], key, crit, e))
}

// replace rebuilds the path to an existing leaf.
func replace(n *node, key uint64, e Entry) *node {
	if n.isLeaf() {
		return newLeaf(key, e)
	}
	d := direction(key, n.bit)
	return n.withChild(d, replace(n.child[d], key, e))
}

// remove returns a root without key and whether anything was removed.
// The input tree is left untouched.
func remove(n *node, key uint64) (*node, bool) {
	if n == nil {
		return nil, false
	}
	if n.isLeaf() {
		if n.key != key {
			return n, false
		}
		return nil, true
	}

	d := direction(key, n.bit)
	c, removed := remove(n.child[d], key)
	switch {
	case !removed:
		return n, false
	case c == nil:
		return n.child[1-d], true
	default:
		return n.withChild(d, c), true
	}
}

// ascend calls fn on each leaf with a key above from (or equal to it when
// inclusive) in ascending order. It returns false when fn stopped the walk.
func ascend(n *node, from uint64, inclusive bool, fn func(*node) bool) bool {
	if n == nil {
		return true
	}
	if n.isLeaf() {
		if n.key > from || (inclusive && n.key == from) {
			return fn(n)
		}
		return true
	}
	if n.subtreeMax() < from {
		return true
	}
	return ascend(n.child[0], from, inclusive, fn) && ascend(n.child[1], from, inclusive, fn)
}

// descend mirrors ascend: keys below from (or equal when inclusive), largest
// first.
func descend(n *node, from uint64, inclusive bool, fn func(*node) bool) bool {
	if n == nil {
		return true
	}
	if n.isLeaf() {
		if n.key < from || (inclusive && n.key == from) {
			return fn(n)
		}
		return true
	}
	if n.key > from {
		return true
	}
	return descend(n.child[1], from, inclusive, fn) && descend(n.child[0], from, inclusive, fn)
}

// lowerBound returns the first leaf with a key >= key.
func lowerBound(root *node, key uint64) *node {
	var found *node
	ascend(root, key, true, func(n *node) bool {
		found = n
		return false
	})
	return found
}

// upperBound returns the first leaf with a key > key.
func upperBound(root *node, key uint64) *node {
	var found *node
	ascend(root, key, false, func(n *node) bool {
		found = n
		return false
	})
	return found
}

// predecessor returns the last leaf with a key < key.
func predecessor(root *node, key uint64) *node {
	var found *node
	descend(root, key, false, func(n *node) bool {
		found = n
		return false
	})
	return found
}
