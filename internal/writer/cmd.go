package writer

import (
	"fmt"

	"github.com/google/uuid"

	"bucketdb/pkg/bucket"
	"bucketdb/pkg/bucketdb"
	"bucketdb/pkg/dberrors"
)

type Operation uint8

const (
	UpdateOp Operation = iota
	RemoveOp
	ClearOp
	MergeOp
	ProcessUpdateOp
)

func (o Operation) String() string {
	switch o {
	case UpdateOp:
		return "update"
	case RemoveOp:
		return "remove"
	case ClearOp:
		return "clear"
	case MergeOp:
		return "merge"
	case ProcessUpdateOp:
		return "process_update"
	default:
		return fmt.Sprintf("operation(%d)", o)
	}
}

// Cmd is one mutation of the database. Only the fields relevant to Op are
// read.
type Cmd struct {
	ID              uuid.UUID
	Op              Operation
	Entry           bucketdb.Entry
	Bucket          bucket.ID
	Merger          bucketdb.MergingProcessor
	Updater         bucketdb.EntryUpdateProcessor
	CreateIfMissing bool
}

func NewUpdateCmd(e bucketdb.Entry) Cmd {
	return Cmd{ID: uuid.New(), Op: UpdateOp, Entry: e, Bucket: e.Bucket}
}

func NewRemoveCmd(b bucket.ID) Cmd {
	return Cmd{ID: uuid.New(), Op: RemoveOp, Bucket: b}
}

func NewClearCmd() Cmd {
	return Cmd{ID: uuid.New(), Op: ClearOp}
}

func NewMergeCmd(p bucketdb.MergingProcessor) Cmd {
	return Cmd{ID: uuid.New(), Op: MergeOp, Merger: p}
}

func NewProcessUpdateCmd(b bucket.ID, p bucketdb.EntryUpdateProcessor, createIfMissing bool) Cmd {
	return Cmd{ID: uuid.New(), Op: ProcessUpdateOp, Bucket: b, Updater: p, CreateIfMissing: createIfMissing}
}

func (c Cmd) validate() error {
	switch c.Op {
	case UpdateOp, RemoveOp, ClearOp:
	case MergeOp:
		if c.Merger == nil {
			return fmt.Errorf("%w: merge without processor", dberrors.ErrInvalidArgument)
		}
	case ProcessUpdateOp:
		if c.Updater == nil {
			return fmt.Errorf("%w: process update without processor", dberrors.ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("%w: unknown operation %v", dberrors.ErrInvalidArgument, c.Op)
	}
	return nil
}

func (c Cmd) apply(db *bucketdb.DB) {
	switch c.Op {
	case UpdateOp:
		db.Update(c.Entry)
	case RemoveOp:
		db.Remove(c.Bucket)
	case ClearOp:
		db.Clear()
	case MergeOp:
		db.Merge(c.Merger)
	case ProcessUpdateOp:
		db.ProcessUpdate(c.Bucket, c.Updater, c.CreateIfMissing)
	}
}
