package bucketdb

import (
	"log/slog"
	"sync/atomic"

	"bucketdb/pkg/bucket"
	"bucketdb/pkg/clock"
)

// DB is an in-memory index from bucket to replica state.
//
// The DB follows a single-writer, multi-reader model. Update, Remove, Clear,
// Merge and ProcessUpdate must be called from one goroutine at a time; there
// is no internal serialization between writers. Reads, including
// AcquireReadGuard and everything reachable from Reader, may run on any
// number of goroutines concurrently with the writer. Writers never modify
// published nodes: each mutation builds a new root and publishes it with a
// single atomic store, so readers never block and never see a partial write.
type DB struct {
	cur  atomic.Pointer[snapshot]
	gen  *clock.Generation
	stat counters
	log  *slog.Logger
}

type Option func(*DB)

func WithLogger(l *slog.Logger) Option {
	return func(db *DB) {
		if l != nil {
			db.log = l
		}
	}
}

func New(opts ...Option) *DB {
	db := &DB{
		gen:  clock.NewGeneration(0),
		stat: newCounters(),
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(db)
	}
	db.cur.Store(emptySnapshot)
	return db
}

func (db *DB) load() *snapshot {
	return db.cur.Load()
}

func (db *DB) publish(root *node, size int) {
	db.cur.Store(&snapshot{root: root, size: size, gen: db.gen.Next()})
}

// Reader returns the read-only handle of db.
func (db *DB) Reader() *Reader {
	return &Reader{db: db}
}

// AcquireReadGuard captures the current version of the database.
func (db *DB) AcquireReadGuard() *ReadGuard {
	db.stat.guards.Inc()
	return &ReadGuard{snap: db.load()}
}

// Get returns the entry stored for b. A missing bucket is not an error.
func (db *DB) Get(b bucket.ID) (Entry, bool) {
	return db.load().get(b)
}

// Update inserts e or overwrites the entry stored for e.Bucket. The DB takes
// ownership of e.Info.Replicas.
func (db *DB) Update(e Entry) {
	s := db.load()
	root, added := insert(s.root, e.Bucket.Key(), e)
	size := s.size
	if added {
		size++
	}
	db.publish(root, size)
	db.stat.updates.Inc()
}

// Remove deletes the entry for b. Removing an absent bucket does nothing.
func (db *DB) Remove(b bucket.ID) {
	s := db.load()
	root, removed := remove(s.root, b.Key())
	if !removed {
		return
	}
	db.publish(root, s.size-1)
	db.stat.removes.Inc()
}

func (db *DB) Size() int {
	return db.load().size
}

// Clear drops every entry. Outstanding guards keep their view.
func (db *DB) Clear() {
	prev := db.load().size
	db.publish(nil, 0)
	db.log.Debug("bucket database cleared", "dropped", prev)
}

// GetNext returns the first entry whose key is strictly greater than b's.
func (db *DB) GetNext(b bucket.ID) (Entry, bool) {
	return db.load().next(b)
}

// UpperBound is an alias of GetNext.
func (db *DB) UpperBound(b bucket.ID) (Entry, bool) {
	return db.GetNext(b)
}

// ForEach visits every entry in ascending key order until p returns false.
func (db *DB) ForEach(p EntryProcessor) {
	db.load().forEach(p)
}

// ForEachFrom visits the entries strictly after b (Ascending) or strictly
// before b (Descending), in that direction, until p returns false.
func (db *DB) ForEachFrom(b bucket.ID, p EntryProcessor, dir Direction) {
	db.load().forEachFrom(b, p, dir)
}

// ForEachFromLowerBound visits the entries at or after b in ascending order.
func (db *DB) ForEachFromLowerBound(b bucket.ID, p EntryProcessor) {
	db.load().forEachFromLowerBound(b, p)
}

// FindParentsAndSelf returns every stored bucket containing b, b itself
// included when stored, shallowest first.
func (db *DB) FindParentsAndSelf(b bucket.ID) []Entry {
	return db.load().parents(b)
}

// GetParents is an alias of FindParentsAndSelf.
func (db *DB) GetParents(b bucket.ID) []Entry {
	return db.FindParentsAndSelf(b)
}

// FindParentsSelfAndChildren returns FindParentsAndSelf followed by every
// stored descendant of b, in key order.
func (db *DB) FindParentsSelfAndChildren(b bucket.ID) []Entry {
	return db.load().parentsAndChildren(b)
}

// GetAll is an alias of FindParentsSelfAndChildren.
func (db *DB) GetAll(b bucket.ID) []Entry {
	return db.FindParentsSelfAndChildren(b)
}

// ChildCount returns how many of the two halves directly below b contain at
// least one stored bucket.
func (db *DB) ChildCount(b bucket.ID) int {
	return db.load().childCount(b)
}

// CreateAppropriateBucket returns the bucket that content identified by
// wanted should be stored in. The result has at least minBits used bits,
// agrees with wanted on those bits and is neither an ancestor nor a
// descendant of any stored bucket. It uses the fewest bits that keep it
// apart from the stored buckets sharing the longest low-bit prefix with
// wanted. If a stored bucket with at least minBits used bits already
// contains wanted, the deepest such bucket is returned unchanged; a covering
// bucket shallower than minBits is not reused and the minBits-deep bucket of
// wanted is returned instead, even though it lies inside the stored one.
func (db *DB) CreateAppropriateBucket(minBits uint8, wanted bucket.ID) bucket.ID {
	return db.load().appropriateBucket(minBits, wanted)
}

func (db *DB) Stats() Stats {
	s := db.load()
	return Stats{
		Size:           s.size,
		Generation:     s.gen,
		GuardsAcquired: db.stat.guards.Value(),
		Updates:        db.stat.updates.Value(),
		Removes:        db.stat.removes.Value(),
		Merges:         db.stat.merges.Value(),
		MergeSkipped:   db.stat.mergeSkipped.Value(),
		MergeInserted:  db.stat.mergeInserted.Value(),
	}
}
