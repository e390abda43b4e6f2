package bucketdb

import "bucketdb/pkg/bucket"

// Direction selects the traversal order of ForEachFrom.
type Direction uint8

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "descending"
	}
	return "ascending"
}

// EntryProcessor receives entries during a traversal. Returning false stops
// the traversal.
type EntryProcessor interface {
	Process(e Entry) bool
}

// EntryProcessorFunc adapts a function to EntryProcessor.
type EntryProcessorFunc func(e Entry) bool

func (f EntryProcessorFunc) Process(e Entry) bool { return f(e) }

// MergeResult is a MergingProcessor's decision for the current entry.
type MergeResult uint8

const (
	// KeepUnchanged retains the entry as it was.
	KeepUnchanged MergeResult = iota
	// Update retains the entry with the changes made through Merger.CurrentEntry.
	Update
	// Skip removes the entry.
	Skip
)

func (r MergeResult) String() string {
	switch r {
	case KeepUnchanged:
		return "keep"
	case Update:
		return "update"
	case Skip:
		return "skip"
	default:
		return "unknown"
	}
}

// Merger is the view of the current position handed to MergingProcessor.Merge.
type Merger interface {
	BucketID() bucket.ID
	// CurrentEntry is a private copy of the current entry; changes to it are
	// stored only when Merge returns Update.
	CurrentEntry() *Entry
	// InsertBeforeCurrent adds an entry whose key sorts after everything
	// already visited and before the current bucket.
	InsertBeforeCurrent(b bucket.ID, e Entry)
}

// TrailingInserter appends entries once every existing entry was visited.
type TrailingInserter interface {
	// InsertAtEnd requires strictly increasing keys that sort after every
	// entry of the database.
	InsertAtEnd(b bucket.ID, e Entry)
}

// MergingProcessor drives DB.Merge.
type MergingProcessor interface {
	Merge(m Merger) MergeResult
	InsertRemainingAtEnd(ins TrailingInserter)
}

// EntryUpdateProcessor drives DB.ProcessUpdate.
type EntryUpdateProcessor interface {
	CreateEntry(b bucket.ID) Entry
	// ProcessEntry may modify e in place; returning false removes the entry.
	ProcessEntry(e *Entry) bool
}
