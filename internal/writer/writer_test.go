package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bucketdb/pkg/bucket"
	"bucketdb/pkg/bucketdb"
	"bucketdb/pkg/dberrors"
)

func startWriter(t *testing.T) (*Writer, *bucketdb.DB) {
	t.Helper()
	db := bucketdb.New()
	w := New(db, 16, nil)
	w.Start(context.Background())
	t.Cleanup(w.Stop)
	return w, db
}

func TestExecuteAppliesCommands(t *testing.T) {
	w, db := startWriter(t)
	ctx := context.Background()

	id := bucket.New(16, 0x42)
	require.NoError(t, w.Execute(ctx, NewUpdateCmd(bucketdb.NewEntry(id, bucketdb.ReplicaInfo{Node: 1}))))
	_, ok := w.Reader().Get(id)
	assert.True(t, ok)

	require.NoError(t, w.Execute(ctx, NewRemoveCmd(id)))
	assert.Equal(t, 0, db.Size())
}

func TestConcurrentSubmittersAreSerialized(t *testing.T) {
	w, db := startWriter(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := bucket.New(20, uint64(g*1000+i))
				assert.NoError(t, w.Execute(ctx, NewUpdateCmd(bucketdb.NewEntry(id))))
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 800, db.Size())
	assert.Equal(t, int64(800), db.Stats().Updates)
}

type dropAll struct{}

func (dropAll) Merge(bucketdb.Merger) bucketdb.MergeResult { return bucketdb.Skip }
func (dropAll) InsertRemainingAtEnd(bucketdb.TrailingInserter) {}

type addReplica struct{ node uint16 }

func (a addReplica) CreateEntry(b bucket.ID) bucketdb.Entry { return bucketdb.NewEntry(b) }

func (a addReplica) ProcessEntry(e *bucketdb.Entry) bool {
	e.Info.AddReplica(bucketdb.ReplicaInfo{Node: a.node})
	return true
}

func TestMergeAndProcessUpdate(t *testing.T) {
	w, db := startWriter(t)
	ctx := context.Background()
	id := bucket.New(16, 7)

	require.NoError(t, w.Execute(ctx, NewProcessUpdateCmd(id, addReplica{node: 3}, true)))
	e, ok := db.Get(id)
	require.True(t, ok)
	assert.Equal(t, 1, e.Info.NodeCount())

	require.NoError(t, w.Execute(ctx, NewMergeCmd(dropAll{})))
	assert.Equal(t, 0, db.Size())

	require.NoError(t, w.Execute(ctx, NewUpdateCmd(bucketdb.NewEntry(id))))
	require.NoError(t, w.Execute(ctx, NewClearCmd()))
	assert.Equal(t, 0, db.Size())
}

func TestInvalidCommand(t *testing.T) {
	w, _ := startWriter(t)

	err := w.Execute(context.Background(), Cmd{Op: MergeOp})
	assert.True(t, errors.Is(err, dberrors.ErrInvalidArgument))

	err = w.Execute(context.Background(), Cmd{Op: Operation(99)})
	assert.True(t, errors.Is(err, dberrors.ErrInvalidArgument))
}

type panicking struct{}

func (panicking) Merge(bucketdb.Merger) bucketdb.MergeResult { panic("boom") }
func (panicking) InsertRemainingAtEnd(bucketdb.TrailingInserter) {}

func TestPanickingProcessorDoesNotKillWriter(t *testing.T) {
	w, _ := startWriter(t)
	ctx := context.Background()
	require.NoError(t, w.Execute(ctx, NewUpdateCmd(bucketdb.NewEntry(bucket.New(16, 1)))))

	err := w.Execute(ctx, NewMergeCmd(panicking{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	assert.NoError(t, w.Execute(ctx, NewRemoveCmd(bucket.New(16, 1))))
}

func TestExecuteAfterStop(t *testing.T) {
	db := bucketdb.New()
	w := New(db, 1, nil)
	w.Start(context.Background())
	w.Stop()

	err := w.Execute(context.Background(), NewClearCmd())
	assert.ErrorIs(t, err, dberrors.ErrClosed)
}

func TestExecuteAfterContextDone(t *testing.T) {
	db := bucketdb.New()
	w := New(db, 4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	t.Cleanup(w.Stop)

	require.NoError(t, w.Execute(context.Background(), NewUpdateCmd(bucketdb.NewEntry(bucket.New(16, 1)))))
	cancel()

	// submitted while the loop is winding down: either applied or refused,
	// never left waiting
	done := make(chan error, 1)
	go func() {
		done <- w.Execute(context.Background(), NewRemoveCmd(bucket.New(16, 1)))
	}()
	select {
	case err := <-done:
		if err != nil {
			assert.ErrorIs(t, err, dberrors.ErrClosed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute blocked after the writer's context was cancelled")
	}

	require.Eventually(t, func() bool {
		select {
		case <-w.stopped:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, w.Execute(context.Background(), NewClearCmd()), dberrors.ErrClosed)
}

func TestExecuteHonoursContext(t *testing.T) {
	db := bucketdb.New()
	// never started, so nothing drains the queue
	w := New(db, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := w.Execute(ctx, NewClearCmd())
	assert.ErrorIs(t, err, context.Canceled)
}
