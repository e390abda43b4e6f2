package bucket

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"

	"bucketdb/pkg/dberrors"
)

const (
	// CountBits is the number of low key bits that hold the used-bits count.
	CountBits = 6
	// MaxUsedBits is the deepest level of the bucket trie.
	MaxUsedBits = 64 - CountBits

	countMask = uint64(1)<<CountBits - 1
)

// ID identifies a node in the binary bucket trie. The trie is rooted at the
// least significant bit of the raw id: a bucket with n used bits covers every
// raw id whose n low bits are equal to its own.
//
// Raw bits at or above UsedBits are always zero, so two IDs are equal exactly
// when they denote the same bucket.
type ID struct {
	usedBits uint8
	raw      uint64
}

// New returns the bucket with usedBits significant low bits of raw.
// It panics if usedBits exceeds MaxUsedBits.
func New(usedBits uint8, raw uint64) ID {
	if usedBits > MaxUsedBits {
		panic(fmt.Sprintf("bucket: used bits %d out of range", usedBits))
	}
	return ID{usedBits: usedBits, raw: raw & lowMask(usedBits)}
}

// FromKey is the inverse of ID.Key.
func FromKey(key uint64) ID {
	used := uint8(key & countMask)
	if used > MaxUsedBits {
		used = MaxUsedBits
	}
	return New(used, bits.Reverse64(key&^countMask))
}

// FromRaw decodes the packed form printed by String: the used-bits count in
// the top CountBits bits and the raw id below them.
func FromRaw(packed uint64) (ID, error) {
	used := packed >> MaxUsedBits
	if used > MaxUsedBits {
		return ID{}, fmt.Errorf("%w: used bits %d", dberrors.ErrInvalidBucket, used)
	}
	return New(uint8(used), packed), nil
}

// Parse accepts "0x<packed>" (see String) or "<usedBits>:<raw>" where raw may
// be decimal or 0x-prefixed hex.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ID{}, fmt.Errorf("%w: empty bucket id", dberrors.ErrInvalidBucket)
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "BucketId("), ")")

	if usedStr, rawStr, ok := strings.Cut(s, ":"); ok {
		used, err := strconv.ParseUint(strings.TrimSpace(usedStr), 10, 8)
		if err != nil || used > MaxUsedBits {
			return ID{}, fmt.Errorf("%w: used bits %q", dberrors.ErrInvalidBucket, usedStr)
		}
		raw, err := strconv.ParseUint(strings.TrimSpace(rawStr), 0, 64)
		if err != nil {
			return ID{}, fmt.Errorf("%w: raw id %q: %v", dberrors.ErrInvalidBucket, rawStr, err)
		}
		return New(uint8(used), raw), nil
	}

	packed, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q: %v", dberrors.ErrInvalidBucket, s, err)
	}
	return FromRaw(packed)
}

func (b ID) UsedBits() uint8 { return b.usedBits }

// RawID returns the masked raw id.
func (b ID) RawID() uint64 { return b.raw }

// Packed returns used<<58 | raw.
func (b ID) Packed() uint64 { return uint64(b.usedBits)<<MaxUsedBits | b.raw }

// Key maps the bucket onto the 64-bit ordered key space. Raw bit i lands on
// key bit 63-i and the depth occupies the low CountBits bits, so numeric key
// order is a pre-order walk of the trie: every bucket sorts before all of its
// descendants, and its descendants form the range [Key, SubtreeMaxKey].
func (b ID) Key() uint64 {
	return bits.Reverse64(b.raw) | uint64(b.usedBits)
}

// SubtreeMaxKey is an upper bound (inclusive) of the keys of b and all of its
// descendants.
func (b ID) SubtreeMaxKey() uint64 {
	prefix := highMask(b.usedBits)
	return b.Key()&prefix | ^prefix
}

// Contains reports whether o is b or a descendant of b.
func (b ID) Contains(o ID) bool {
	return b.usedBits <= o.usedBits && o.raw&lowMask(b.usedBits) == b.raw
}

// Child returns the child of b whose bit at position b.UsedBits() equals bit.
func (b ID) Child(bit uint8) ID {
	return New(b.usedBits+1, b.raw|uint64(bit&1)<<b.usedBits)
}

// Parent returns the bucket one level up; the root is its own parent.
func (b ID) Parent() ID {
	if b.usedBits == 0 {
		return b
	}
	return New(b.usedBits-1, b.raw)
}

// WithUsedBits re-masks b's raw id to n bits.
func (b ID) WithUsedBits(n uint8) ID {
	return New(n, b.raw)
}

func (b ID) String() string {
	return fmt.Sprintf("BucketId(0x%016x)", b.Packed())
}

func (b ID) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("0x%016x", b.Packed())), nil
}

func (b *ID) UnmarshalText(text []byte) error {
	id, err := Parse(string(text))
	if err != nil {
		return err
	}
	*b = id
	return nil
}

// CommonBits returns how many low bits a and b share, capped at the smaller
// depth of the two.
func CommonBits(a, b ID) uint8 {
	limit := min(a.usedBits, b.usedBits)
	diff := uint8(bits.TrailingZeros64(a.raw ^ b.raw))
	return min(diff, limit)
}

func lowMask(n uint8) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return uint64(1)<<n - 1
}

func highMask(n uint8) uint64 {
	if n == 0 {
		return 0
	}
	return ^uint64(0) << (64 - uint(n))
}
