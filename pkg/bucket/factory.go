package bucket

import "github.com/cespare/xxhash"

// Factory derives full-depth bucket ids from document identifiers.
type Factory struct {
	// Seed is mixed into the hash so separate clusters can use disjoint
	// layouts of the same document ids.
	Seed uint64
}

// FromDocument returns the MaxUsedBits-deep bucket that owns docID.
func (f Factory) FromDocument(docID string) ID {
	h := xxhash.Sum64String(docID)
	if f.Seed != 0 {
		h ^= f.Seed
		h *= 0x9e3779b97f4a7c15
	}
	return New(MaxUsedBits, h)
}
