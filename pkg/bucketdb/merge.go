package bucketdb

import "bucketdb/pkg/bucket"

// batch accumulates mutations on a private root. Nothing is visible to
// readers until commit.
type batch struct {
	root     *node
	size     int
	inserted int
	skipped  int
}

func (b *batch) put(e Entry) bool {
	root, added := insert(b.root, e.Bucket.Key(), e)
	b.root = root
	if added {
		b.size++
	}
	return added
}

func (b *batch) drop(id bucket.ID) {
	root, removed := remove(b.root, id.Key())
	b.root = root
	if removed {
		b.size--
	}
}

type merger struct {
	b       *batch
	id      bucket.ID
	current Entry
}

func (m *merger) BucketID() bucket.ID { return m.id }

func (m *merger) CurrentEntry() *Entry { return &m.current }

func (m *merger) InsertBeforeCurrent(id bucket.ID, e Entry) {
	e.Bucket = id
	if m.b.put(e) {
		m.b.inserted++
	}
}

type trailingInserter struct {
	b *batch
}

func (t trailingInserter) InsertAtEnd(id bucket.ID, e Entry) {
	e.Bucket = id
	if t.b.put(e) {
		t.b.inserted++
	}
}

// Merge runs one ascending pass over the database, letting p keep, update or
// drop every entry and insert new ones, then calls p.InsertRemainingAtEnd.
// The outcome is published as a single new version: guards observe either
// the state before the pass or the state after it.
//
// The pass iterates the version that was current when Merge started, so
// inserts made by p are never revisited.
func (db *DB) Merge(p MergingProcessor) {
	s := db.load()
	b := &batch{root: s.root, size: s.size}

	ascend(s.root, 0, true, func(n *node) bool {
		m := &merger{b: b, id: n.entry.Bucket, current: n.entry.Clone()}
		switch p.Merge(m) {
		case Update:
			m.current.Bucket = m.id
			b.put(m.current)
		case Skip:
			b.drop(m.id)
			b.skipped++
		}
		return true
	})
	p.InsertRemainingAtEnd(trailingInserter{b: b})

	db.publish(b.root, b.size)
	db.stat.merges.Inc()
	db.stat.mergeSkipped.Add(int64(b.skipped))
	db.stat.mergeInserted.Add(int64(b.inserted))
	db.log.Debug("bucket database merge pass done",
		"visited", s.size, "skipped", b.skipped, "inserted", b.inserted, "size", b.size)
}

// ProcessUpdate applies p to the entry for id. An existing entry is passed to
// p.ProcessEntry and kept (with p's changes) when it returns true, removed
// otherwise. A missing entry is created through p.CreateEntry only when
// createIfMissing is set, and stored only if p.ProcessEntry accepts it.
func (db *DB) ProcessUpdate(id bucket.ID, p EntryUpdateProcessor, createIfMissing bool) {
	existing, found := db.Get(id)
	var e Entry
	switch {
	case found:
		e = existing.Clone()
	case createIfMissing:
		e = p.CreateEntry(id)
	default:
		return
	}

	if !p.ProcessEntry(&e) {
		if found {
			db.Remove(id)
		}
		return
	}
	e.Bucket = id
	db.Update(e)
}
