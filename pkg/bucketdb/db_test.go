package bucketdb

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhangyunhao116/skipmap"

	"bucketdb/pkg/bucket"
)

func replica(node uint16, crc uint32) ReplicaInfo {
	return ReplicaInfo{Node: node, Checksum: crc, DocumentCount: 10, TotalDocumentSize: 100, Trusted: true}
}

func entry(used uint8, raw uint64, replicas ...ReplicaInfo) Entry {
	return NewEntry(bucket.New(used, raw), replicas...)
}

func collect(db *DB) []bucket.ID {
	var out []bucket.ID
	db.ForEach(EntryProcessorFunc(func(e Entry) bool {
		out = append(out, e.Bucket)
		return true
	}))
	return out
}

func buckets(entries []Entry) []bucket.ID {
	out := make([]bucket.ID, len(entries))
	for i, e := range entries {
		out[i] = e.Bucket
	}
	return out
}

func TestInsertGetRemove(t *testing.T) {
	db := New()
	db.Update(entry(16, 16, replica(0, 1)))
	db.Update(entry(16, 11, replica(1, 2)))
	db.Update(entry(16, 42, replica(2, 3)))
	require.Equal(t, 3, db.Size())

	e, ok := db.Get(bucket.New(16, 11))
	require.True(t, ok)
	assert.Equal(t, bucket.New(16, 11), e.Bucket)
	assert.Equal(t, []ReplicaInfo{replica(1, 2)}, e.Info.Replicas)

	db.Remove(bucket.New(16, 11))
	require.Equal(t, 2, db.Size())
	_, ok = db.Get(bucket.New(16, 11))
	assert.False(t, ok)

	db.Remove(bucket.New(16, 16))
	db.Remove(bucket.New(16, 42))
	assert.Equal(t, 0, db.Size())
	assert.Empty(t, collect(db))
}

func TestUpdateOverwrites(t *testing.T) {
	db := New()
	db.Update(entry(16, 5, replica(0, 1)))
	db.Update(entry(16, 5, replica(0, 7), replica(3, 7)))

	require.Equal(t, 1, db.Size())
	e, ok := db.Get(bucket.New(16, 5))
	require.True(t, ok)
	assert.Equal(t, 2, e.Info.NodeCount())
	r, ok := e.Info.Replica(3)
	require.True(t, ok)
	assert.Equal(t, uint32(7), r.Checksum)
}

func TestRemoveMissingIsNoop(t *testing.T) {
	db := New()
	db.Update(entry(16, 1))
	gen := db.Stats().Generation

	db.Remove(bucket.New(16, 2))
	db.Remove(bucket.New(17, 1))

	assert.Equal(t, 1, db.Size())
	assert.Equal(t, gen, db.Stats().Generation)
	assert.Equal(t, int64(0), db.Stats().Removes)
}

func TestMaskedIDsShareAnEntry(t *testing.T) {
	db := New()
	db.Update(entry(8, 0xff01))
	db.Update(entry(8, 0x01))
	assert.Equal(t, 1, db.Size())
}

func TestClear(t *testing.T) {
	db := New()
	for i := uint64(0); i < 10; i++ {
		db.Update(entry(20, i))
	}
	g := db.AcquireReadGuard()

	db.Clear()
	assert.Equal(t, 0, db.Size())
	assert.Equal(t, 10, g.Size())
	_, ok := g.Get(bucket.New(20, 3))
	assert.True(t, ok)
}

func TestIterationIsInKeyOrder(t *testing.T) {
	db := New()
	ids := []bucket.ID{
		bucket.New(16, 0x1234),
		bucket.New(3, 0x4),
		bucket.New(58, 0xdeadbeef),
		bucket.New(1, 1),
		bucket.New(20, 0x1234),
		bucket.New(0, 0),
	}
	for _, id := range ids {
		db.Update(NewEntry(id))
	}

	got := collect(db)
	require.Len(t, got, len(ids))
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].Key(), got[i].Key())
	}
	assert.Equal(t, bucket.New(0, 0), got[0])
}

func TestGetNextAndForEachFrom(t *testing.T) {
	db := New()
	for _, raw := range []uint64{1, 2, 3, 4} {
		db.Update(entry(16, raw))
	}
	all := collect(db)

	next, ok := db.GetNext(all[1])
	require.True(t, ok)
	assert.Equal(t, all[2], next.Bucket)

	_, ok = db.UpperBound(all[3])
	assert.False(t, ok)

	var asc []bucket.ID
	db.ForEachFrom(all[1], EntryProcessorFunc(func(e Entry) bool {
		asc = append(asc, e.Bucket)
		return true
	}), Ascending)
	assert.Equal(t, all[2:], asc)

	var desc []bucket.ID
	db.ForEachFrom(all[2], EntryProcessorFunc(func(e Entry) bool {
		desc = append(desc, e.Bucket)
		return true
	}), Descending)
	assert.Equal(t, []bucket.ID{all[1], all[0]}, desc)

	var lower []bucket.ID
	db.ForEachFromLowerBound(all[1], EntryProcessorFunc(func(e Entry) bool {
		lower = append(lower, e.Bucket)
		return len(lower) < 2
	}))
	assert.Equal(t, all[1:3], lower)
}

func TestForEachFromUnstoredBucket(t *testing.T) {
	db := New()
	db.Update(entry(16, 0x10))
	db.Update(entry(16, 0x11))

	// 1:0 is not stored; the walk starts at the first key after it.
	var got []bucket.ID
	db.ForEachFrom(bucket.New(1, 0), EntryProcessorFunc(func(e Entry) bool {
		got = append(got, e.Bucket)
		return true
	}), Ascending)
	assert.Equal(t, []bucket.ID{bucket.New(16, 0x10), bucket.New(16, 0x11)}, got)
}

func TestSizeMatchesOrderedOracle(t *testing.T) {
	db := New()
	oracle := skipmap.NewFunc[uint64, bucket.ID](func(a, b uint64) bool { return a < b })
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 20_000; i++ {
		id := bucket.New(uint8(rng.Intn(8)+8), uint64(rng.Intn(1<<12)))
		if rng.Intn(3) == 0 {
			db.Remove(id)
			oracle.Delete(id.Key())
		} else {
			db.Update(NewEntry(id, replica(uint16(i%4), uint32(i))))
			oracle.Store(id.Key(), id)
		}
		if i%1000 == 0 {
			require.Equal(t, oracle.Len(), db.Size(), "step %d", i)
		}
	}

	require.Equal(t, oracle.Len(), db.Size())
	var want []bucket.ID
	oracle.Range(func(_ uint64, id bucket.ID) bool {
		want = append(want, id)
		return true
	})
	assert.Equal(t, want, collect(db))

	oracle.Range(func(key uint64, id bucket.ID) bool {
		e, ok := db.Get(id)
		require.True(t, ok)
		require.Equal(t, key, e.Bucket.Key())
		return true
	})
}

func TestGuardStability(t *testing.T) {
	db := New()
	id := bucket.New(16, 0x1234)
	db.Update(NewEntry(id, replica(0, 99)))

	g := db.AcquireReadGuard()
	db.Remove(id)

	got := g.FindParentsAndSelf(id)
	require.Len(t, got, 1)
	assert.Equal(t, uint32(99), got[0].Info.Replicas[0].Checksum)

	assert.Empty(t, db.AcquireReadGuard().FindParentsAndSelf(id))
}

func TestGuardExcludesFutureWrites(t *testing.T) {
	db := New()
	db.Update(entry(16, 0x1))
	g := db.AcquireReadGuard()

	fresh := bucket.New(20, 0x2)
	db.Update(NewEntry(fresh))

	assert.Empty(t, g.FindParentsAndSelf(fresh))
	assert.Empty(t, g.FindParentsSelfAndChildren(fresh))
	assert.Equal(t, 1, g.Size())
	assert.Less(t, g.Generation(), db.Stats().Generation)
}

func TestGuardKeepsOldValue(t *testing.T) {
	db := New()
	id := bucket.New(16, 7)
	db.Update(NewEntry(id, replica(0, 1)))
	g := db.AcquireReadGuard()

	db.Update(NewEntry(id, replica(0, 2)))

	old, ok := g.Get(id)
	require.True(t, ok)
	assert.Equal(t, uint32(1), old.Info.Replicas[0].Checksum)
	cur, _ := db.Get(id)
	assert.Equal(t, uint32(2), cur.Info.Replicas[0].Checksum)
}

func TestReaderAndStats(t *testing.T) {
	db := New()
	r := db.Reader()
	db.Update(entry(16, 1))
	db.Update(entry(16, 2))
	db.Remove(bucket.New(16, 1))

	assert.Equal(t, 1, r.Size())
	_, ok := r.Get(bucket.New(16, 2))
	assert.True(t, ok)

	r.AcquireReadGuard()
	s := r.Stats()
	assert.Equal(t, 1, s.Size)
	assert.Equal(t, uint64(3), s.Generation)
	assert.Equal(t, int64(2), s.Updates)
	assert.Equal(t, int64(1), s.Removes)
	assert.Equal(t, int64(1), s.GuardsAcquired)
}

// The writer stamps every field of a replica with the same counter; a reader
// must never see two different stamps inside one entry.
func TestNoTornReadsUnderConcurrentWriter(t *testing.T) {
	const (
		readers = 4
		rounds  = 2000
	)
	ids := []bucket.ID{bucket.New(16, 1), bucket.New(16, 2), bucket.New(17, 3), bucket.New(20, 4)}
	stamped := func(id bucket.ID, c uint32) Entry {
		return NewEntry(id,
			ReplicaInfo{Node: 0, Checksum: c, DocumentCount: c, TotalDocumentSize: uint64(c)},
			ReplicaInfo{Node: 1, Checksum: c, DocumentCount: c, TotalDocumentSize: uint64(c)},
		)
	}

	db := New()
	for _, id := range ids {
		db.Update(stamped(id, 0))
	}

	var (
		stop atomic.Bool
		torn atomic.Int64
		wg   sync.WaitGroup
	)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				g := db.AcquireReadGuard()
				g.ForEach(EntryProcessorFunc(func(e Entry) bool {
					c := e.Info.Replicas[0].Checksum
					for _, r := range e.Info.Replicas {
						if r.Checksum != c || r.DocumentCount != c || r.TotalDocumentSize != uint64(c) {
							torn.Add(1)
						}
					}
					return true
				}))
				for _, id := range ids {
					if got := g.FindParentsAndSelf(id); len(got) == 0 {
						torn.Add(1)
					}
				}
			}
		}()
	}

	for c := uint32(1); c <= rounds; c++ {
		for _, id := range ids {
			db.Update(stamped(id, c))
		}
	}
	stop.Store(true)
	wg.Wait()

	assert.Zero(t, torn.Load())
	e, _ := db.Get(ids[0])
	assert.Equal(t, uint32(rounds), e.Info.Replicas[1].Checksum)
}
