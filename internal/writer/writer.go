// Package writer owns the mutating side of a bucket database. Every command
// submitted through Execute is applied by one goroutine, in submission order,
// which is what the database expects of its callers.
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"bucketdb/pkg/bucketdb"
	"bucketdb/pkg/dberrors"
	"bucketdb/pkg/listener"
)

type request struct {
	cmd  Cmd
	done chan error
}

type Writer struct {
	listener.Job

	db      *bucketdb.DB
	in      chan request
	stopped chan struct{}
	once    sync.Once
	log     *slog.Logger
}

func New(db *bucketdb.DB, queueSize int, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	w := &Writer{
		db:      db,
		in:      make(chan request, queueSize),
		stopped: make(chan struct{}),
		log:     log,
	}
	w.Job = listener.New("writer", w.in, w.handle, w.markStopped).WithLogger(log)
	return w
}

// Reader returns the read side of the owned database.
func (w *Writer) Reader() *bucketdb.Reader {
	return w.db.Reader()
}

// Execute submits cmd and waits until it was applied. It returns
// dberrors.ErrClosed once the writer is stopped.
func (w *Writer) Execute(ctx context.Context, cmd Cmd) error {
	if err := cmd.validate(); err != nil {
		return err
	}

	req := request{cmd: cmd, done: make(chan error, 1)}
	select {
	case <-w.stopped:
		return dberrors.ErrClosed
	default:
	}
	select {
	case w.in <- req:
	case <-w.stopped:
		return dberrors.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stopped:
		// the last handled command may still have a result waiting
		select {
		case err := <-req.done:
			return err
		default:
			return dberrors.ErrClosed
		}
	}
}

func (w *Writer) handle(req request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v command %s panicked: %v", req.cmd.Op, req.cmd.ID, r)
		}
		req.done <- err
	}()

	req.cmd.apply(w.db)
	w.log.Debug("command applied",
		"cmd_id", req.cmd.ID,
		"op", req.cmd.Op,
		"bucket", req.cmd.Bucket,
		"gen", w.db.Stats().Generation,
	)
	return nil
}

func (w *Writer) markStopped() {
	w.once.Do(func() { close(w.stopped) })
}
