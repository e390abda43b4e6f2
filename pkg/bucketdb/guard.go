package bucketdb

import "bucketdb/pkg/bucket"

// ReadGuard is a point-in-time view of the database. It observes exactly the
// entries present when it was acquired, regardless of later writes, and may
// be used from any goroutine. A guard needs no release; the nodes it pins are
// reclaimed once the guard becomes unreachable.
type ReadGuard struct {
	snap *snapshot
}

// FindParentsAndSelf returns the stored buckets containing b, b included,
// shallowest first.
func (g *ReadGuard) FindParentsAndSelf(b bucket.ID) []Entry {
	return g.snap.parents(b)
}

// FindParentsSelfAndChildren returns FindParentsAndSelf followed by every
// stored descendant of b in key order.
func (g *ReadGuard) FindParentsSelfAndChildren(b bucket.ID) []Entry {
	return g.snap.parentsAndChildren(b)
}

func (g *ReadGuard) Get(b bucket.ID) (Entry, bool) {
	return g.snap.get(b)
}

func (g *ReadGuard) ForEach(p EntryProcessor) {
	g.snap.forEach(p)
}

func (g *ReadGuard) ForEachFrom(b bucket.ID, p EntryProcessor, dir Direction) {
	g.snap.forEachFrom(b, p, dir)
}

func (g *ReadGuard) ForEachFromLowerBound(b bucket.ID, p EntryProcessor) {
	g.snap.forEachFromLowerBound(b, p)
}

func (g *ReadGuard) GetNext(b bucket.ID) (Entry, bool) {
	return g.snap.next(b)
}

func (g *ReadGuard) ChildCount(b bucket.ID) int {
	return g.snap.childCount(b)
}

// CreateAppropriateBucket answers DB.CreateAppropriateBucket against the
// guarded version.
func (g *ReadGuard) CreateAppropriateBucket(minBits uint8, wanted bucket.ID) bucket.ID {
	return g.snap.appropriateBucket(minBits, wanted)
}

func (g *ReadGuard) Size() int { return g.snap.size }

// Generation identifies the database version the guard observes.
func (g *ReadGuard) Generation() uint64 { return g.snap.gen }

// Reader is the read-only side of a DB. Unlike the DB itself it is safe to
// share between any number of goroutines running concurrently with the
// writer.
type Reader struct {
	db *DB
}

// AcquireReadGuard captures the current version. It never blocks.
func (r *Reader) AcquireReadGuard() *ReadGuard {
	return r.db.AcquireReadGuard()
}

func (r *Reader) Get(b bucket.ID) (Entry, bool) {
	return r.db.load().get(b)
}

func (r *Reader) Size() int {
	return r.db.load().size
}

func (r *Reader) Stats() Stats {
	return r.db.Stats()
}
