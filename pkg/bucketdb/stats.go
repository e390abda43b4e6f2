package bucketdb

import "github.com/puzpuzpuz/xsync/v3"

// Stats is a point-in-time summary of database activity.
type Stats struct {
	Size           int
	Generation     uint64
	GuardsAcquired int64
	Updates        int64
	Removes        int64
	Merges         int64
	MergeSkipped   int64
	MergeInserted  int64
}

// counters are striped so that readers on many cores can bump them without
// contending on one cache line.
type counters struct {
	guards        *xsync.Counter
	updates       *xsync.Counter
	removes       *xsync.Counter
	merges        *xsync.Counter
	mergeSkipped  *xsync.Counter
	mergeInserted *xsync.Counter
}

func newCounters() counters {
	return counters{
		guards:        xsync.NewCounter(),
		updates:       xsync.NewCounter(),
		removes:       xsync.NewCounter(),
		merges:        xsync.NewCounter(),
		mergeSkipped:  xsync.NewCounter(),
		mergeInserted: xsync.NewCounter(),
	}
}
