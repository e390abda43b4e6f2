package bucketdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bucketdb/pkg/bucket"
)

type mergeFunc struct {
	merge func(m Merger) MergeResult
	tail  func(ins TrailingInserter)
	seen  []bucket.ID
}

func (f *mergeFunc) Merge(m Merger) MergeResult {
	f.seen = append(f.seen, m.BucketID())
	if f.merge == nil {
		return KeepUnchanged
	}
	return f.merge(m)
}

func (f *mergeFunc) InsertRemainingAtEnd(ins TrailingInserter) {
	if f.tail != nil {
		f.tail(ins)
	}
}

func threeBuckets() *DB {
	db := New()
	for _, raw := range []uint64{1, 2, 3} {
		db.Update(entry(16, raw, replica(0, uint32(raw))))
	}
	return db
}

func TestMergeVisitsInKeyOrder(t *testing.T) {
	db := threeBuckets()
	p := &mergeFunc{}
	db.Merge(p)

	assert.Equal(t, collect(db), p.seen)
	assert.Equal(t, 3, db.Size())
}

func TestMergeSkip(t *testing.T) {
	db := threeBuckets()
	before := collect(db)

	db.Merge(&mergeFunc{merge: func(m Merger) MergeResult {
		if m.BucketID() == bucket.New(16, 2) {
			return Skip
		}
		return KeepUnchanged
	}})

	var want []bucket.ID
	for _, id := range before {
		if id != bucket.New(16, 2) {
			want = append(want, id)
		}
	}
	assert.Equal(t, want, collect(db))
	assert.Equal(t, 2, db.Size())
	assert.Equal(t, int64(1), db.Stats().MergeSkipped)
}

func TestMergeUpdate(t *testing.T) {
	db := threeBuckets()
	g := db.AcquireReadGuard()

	db.Merge(&mergeFunc{merge: func(m Merger) MergeResult {
		e := m.CurrentEntry()
		e.Info.AddReplica(replica(5, 55))
		e.Info.Replicas[0].Checksum = 1000
		if m.BucketID() == bucket.New(16, 3) {
			return KeepUnchanged
		}
		return Update
	}})

	e, ok := db.Get(bucket.New(16, 1))
	require.True(t, ok)
	assert.Equal(t, 2, e.Info.NodeCount())
	assert.Equal(t, uint32(1000), e.Info.Replicas[0].Checksum)

	e, ok = db.Get(bucket.New(16, 3))
	require.True(t, ok)
	assert.Equal(t, 1, e.Info.NodeCount())
	assert.Equal(t, uint32(3), e.Info.Replicas[0].Checksum)

	old, ok := g.Get(bucket.New(16, 1))
	require.True(t, ok)
	assert.Equal(t, 1, old.Info.NodeCount())
	assert.Equal(t, uint32(1), old.Info.Replicas[0].Checksum)
}

func TestMergeUpdateKeepsBucket(t *testing.T) {
	db := threeBuckets()
	db.Merge(&mergeFunc{merge: func(m Merger) MergeResult {
		m.CurrentEntry().Bucket = bucket.New(20, 0x99)
		return Update
	}})

	_, ok := db.Get(bucket.New(20, 0x99))
	assert.False(t, ok)
	assert.Equal(t, 3, db.Size())
}

func TestMergeInserts(t *testing.T) {
	db := threeBuckets()
	// Key order of the 16-bit buckets is 2, 1, 3; 5 sorts between 1 and 3
	// and 7 after everything.
	p := &mergeFunc{
		merge: func(m Merger) MergeResult {
			if m.BucketID() == bucket.New(16, 3) {
				m.InsertBeforeCurrent(bucket.New(16, 5), entry(16, 5, replica(1, 5)))
			}
			return KeepUnchanged
		},
		tail: func(ins TrailingInserter) {
			ins.InsertAtEnd(bucket.New(16, 7), Entry{})
		},
	}
	db.Merge(p)

	assert.Equal(t, []bucket.ID{
		bucket.New(16, 2),
		bucket.New(16, 1),
		bucket.New(16, 5),
		bucket.New(16, 3),
		bucket.New(16, 7),
	}, collect(db))
	assert.Len(t, p.seen, 3)

	e, ok := db.Get(bucket.New(16, 7))
	require.True(t, ok)
	assert.Equal(t, bucket.New(16, 7), e.Bucket)

	s := db.Stats()
	assert.Equal(t, int64(2), s.MergeInserted)
	assert.Equal(t, int64(1), s.Merges)
}

func TestMergePublishesOnce(t *testing.T) {
	db := threeBuckets()
	gen := db.Stats().Generation

	var mid *ReadGuard
	db.Merge(&mergeFunc{merge: func(m Merger) MergeResult {
		if mid == nil {
			mid = db.AcquireReadGuard()
		}
		return Skip
	}})

	require.NotNil(t, mid)
	assert.Equal(t, 3, mid.Size())
	assert.Equal(t, 0, db.Size())
	assert.Equal(t, gen+1, db.Stats().Generation)
}

type updateFunc struct {
	created int
	process func(e *Entry) bool
}

func (u *updateFunc) CreateEntry(b bucket.ID) Entry {
	u.created++
	return NewEntry(b)
}

func (u *updateFunc) ProcessEntry(e *Entry) bool {
	return u.process(e)
}

func TestProcessUpdateExisting(t *testing.T) {
	db := threeBuckets()
	g := db.AcquireReadGuard()

	p := &updateFunc{process: func(e *Entry) bool {
		e.Info.AddReplica(replica(9, 9))
		return true
	}}
	db.ProcessUpdate(bucket.New(16, 1), p, true)

	assert.Zero(t, p.created)
	e, _ := db.Get(bucket.New(16, 1))
	assert.Equal(t, 2, e.Info.NodeCount())
	old, _ := g.Get(bucket.New(16, 1))
	assert.Equal(t, 1, old.Info.NodeCount())
}

func TestProcessUpdateRemoves(t *testing.T) {
	db := threeBuckets()
	db.ProcessUpdate(bucket.New(16, 2), &updateFunc{process: func(*Entry) bool { return false }}, false)

	_, ok := db.Get(bucket.New(16, 2))
	assert.False(t, ok)
	assert.Equal(t, 2, db.Size())
}

func TestProcessUpdateMissing(t *testing.T) {
	db := New()
	accept := &updateFunc{process: func(e *Entry) bool {
		e.Info.AddReplica(replica(0, 1))
		return true
	}}

	db.ProcessUpdate(bucket.New(16, 4), accept, false)
	assert.Equal(t, 0, db.Size())
	assert.Zero(t, accept.created)

	db.ProcessUpdate(bucket.New(16, 4), accept, true)
	assert.Equal(t, 1, accept.created)
	e, ok := db.Get(bucket.New(16, 4))
	require.True(t, ok)
	assert.Equal(t, 1, e.Info.NodeCount())

	reject := &updateFunc{process: func(*Entry) bool { return false }}
	db.ProcessUpdate(bucket.New(16, 8), reject, true)
	assert.Equal(t, 1, reject.created)
	assert.Equal(t, 1, db.Size())
}
