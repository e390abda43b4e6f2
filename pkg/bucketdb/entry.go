package bucketdb

import (
	"fmt"
	"slices"
	"strings"

	"bucketdb/pkg/bucket"
)

// ReplicaInfo is one storage node's reported state for a bucket.
type ReplicaInfo struct {
	Node              uint16 `json:"node"`
	Checksum          uint32 `json:"checksum"`
	DocumentCount     uint32 `json:"docs"`
	TotalDocumentSize uint64 `json:"bytes"`
	Trusted           bool   `json:"trusted"`
	Active            bool   `json:"active"`
	Ready             bool   `json:"ready"`
}

func (r ReplicaInfo) String() string {
	var flags []string
	if r.Trusted {
		flags = append(flags, "trusted")
	}
	if r.Active {
		flags = append(flags, "active")
	}
	if r.Ready {
		flags = append(flags, "ready")
	}
	return fmt.Sprintf("node(idx=%d,crc=0x%x,docs=%d,bytes=%d,%s)",
		r.Node, r.Checksum, r.DocumentCount, r.TotalDocumentSize, strings.Join(flags, "|"))
}

// BucketInfo holds the replicas of a bucket ordered by node index.
type BucketInfo struct {
	Replicas        []ReplicaInfo `json:"replicas"`
	LastGCTimestamp uint32        `json:"last_gc"`
}

// Replica returns the replica stored on node, if any.
func (bi *BucketInfo) Replica(node uint16) (ReplicaInfo, bool) {
	i, found := bi.search(node)
	if !found {
		return ReplicaInfo{}, false
	}
	return bi.Replicas[i], true
}

// AddReplica inserts r, replacing any replica already reported by the same
// node. Node ordering is preserved.
func (bi *BucketInfo) AddReplica(r ReplicaInfo) {
	i, found := bi.search(r.Node)
	if found {
		bi.Replicas[i] = r
		return
	}
	bi.Replicas = slices.Insert(bi.Replicas, i, r)
}

// RemoveReplica drops the replica on node and reports whether one existed.
func (bi *BucketInfo) RemoveReplica(node uint16) bool {
	i, found := bi.search(node)
	if !found {
		return false
	}
	bi.Replicas = slices.Delete(bi.Replicas, i, i+1)
	return true
}

func (bi *BucketInfo) NodeCount() int { return len(bi.Replicas) }

func (bi *BucketInfo) HasTrustedReplica() bool {
	for _, r := range bi.Replicas {
		if r.Trusted {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no memory with bi.
func (bi BucketInfo) Clone() BucketInfo {
	bi.Replicas = slices.Clone(bi.Replicas)
	return bi
}

func (bi BucketInfo) Equal(other BucketInfo) bool {
	return bi.LastGCTimestamp == other.LastGCTimestamp && slices.Equal(bi.Replicas, other.Replicas)
}

func (bi *BucketInfo) search(node uint16) (int, bool) {
	return slices.BinarySearchFunc(bi.Replicas, node, func(r ReplicaInfo, n uint16) int {
		return int(r.Node) - int(n)
	})
}

func (bi BucketInfo) String() string {
	parts := make([]string, len(bi.Replicas))
	for i, r := range bi.Replicas {
		parts[i] = r.String()
	}
	return fmt.Sprintf("BucketInfo(gc=%d, [%s])", bi.LastGCTimestamp, strings.Join(parts, ", "))
}

// Entry is the unit of storage: a bucket and its replica state.
//
// Entries handed out by reads share their Replicas slice with the published
// tree and must be treated as read-only; use Clone before modifying.
type Entry struct {
	Bucket bucket.ID  `json:"bucket"`
	Info   BucketInfo `json:"info"`
}

func NewEntry(b bucket.ID, replicas ...ReplicaInfo) Entry {
	e := Entry{Bucket: b}
	for _, r := range replicas {
		e.Info.AddReplica(r)
	}
	return e
}

func (e Entry) Clone() Entry {
	e.Info = e.Info.Clone()
	return e
}

func (e Entry) String() string {
	return fmt.Sprintf("%s: %s", e.Bucket, e.Info)
}
