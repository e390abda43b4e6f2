package scanner

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"bucketdb/pkg/bucket"
	"bucketdb/pkg/bucketdb"
	"bucketdb/pkg/listener"
)

// Report summarises one complete pass over the database.
type Report struct {
	PassID   uuid.UUID `json:"pass_id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Visited  int       `json:"visited"`
	// buckets with replicas none of which is trusted
	Untrusted int `json:"untrusted"`
	// buckets without a single replica
	NoReplicas int `json:"no_replicas"`
	// buckets stored together with one of their ancestors
	InconsistentSplits int `json:"inconsistent_splits"`
}

type Config struct {
	Interval  time.Duration
	BatchSize int
}

// Scanner walks the database in batches, one batch per tick, through short
// lived read guards. It never blocks the writer: between two batches it only
// remembers the last visited bucket and resumes strictly after it.
type Scanner struct {
	reader *bucketdb.Reader
	cfg    Config
	log    *slog.Logger

	cursor   bucket.ID
	inPass   bool
	current  Report
	last     atomic.Pointer[Report]
	passes   atomic.Int64
	onReport func(Report)
	job      listener.Job
}

func New(reader *bucketdb.Reader, cfg Config, log *slog.Logger) *Scanner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1024
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{reader: reader, cfg: cfg, log: log}
}

// OnReport registers fn to be called after every completed pass.
func (s *Scanner) OnReport(fn func(Report)) {
	s.onReport = fn
}

func (s *Scanner) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	s.job = listener.New("scanner", ticker.C, s.Step, ticker.Stop).WithLogger(s.log)
	s.job.Start(ctx)
}

func (s *Scanner) Stop() {
	if s.job != nil {
		s.job.Stop()
	}
}

// LastReport returns the most recently completed pass.
func (s *Scanner) LastReport() (Report, bool) {
	r := s.last.Load()
	if r == nil {
		return Report{}, false
	}
	return *r, true
}

// Passes is the number of completed passes.
func (s *Scanner) Passes() int64 {
	return s.passes.Load()
}

// Step scans one batch. It is called by the ticker loop and must not run
// concurrently with itself.
func (s *Scanner) Step(now time.Time) error {
	if !s.inPass {
		s.inPass = true
		s.current = Report{PassID: uuid.New(), Started: now}
		s.log.Debug("scan pass started", "pass_id", s.current.PassID)
	}

	g := s.reader.AcquireReadGuard()
	visited := 0
	visit := bucketdb.EntryProcessorFunc(func(e bucketdb.Entry) bool {
		s.inspect(g, e)
		s.cursor = e.Bucket
		visited++
		return visited < s.cfg.BatchSize
	})
	if s.current.Visited == 0 {
		g.ForEach(visit)
	} else {
		g.ForEachFrom(s.cursor, visit, bucketdb.Ascending)
	}
	s.current.Visited += visited

	if visited < s.cfg.BatchSize {
		s.finish(now)
	}
	return nil
}

func (s *Scanner) inspect(g *bucketdb.ReadGuard, e bucketdb.Entry) {
	switch {
	case e.Info.NodeCount() == 0:
		s.current.NoReplicas++
	case !e.Info.HasTrustedReplica():
		s.current.Untrusted++
	}
	if len(g.FindParentsAndSelf(e.Bucket)) > 1 {
		s.current.InconsistentSplits++
	}
}

func (s *Scanner) finish(now time.Time) {
	r := s.current
	r.Finished = now
	s.last.Store(&r)
	s.passes.Add(1)
	s.inPass = false
	s.cursor = bucket.ID{}

	s.log.Info("scan pass finished",
		"pass_id", r.PassID,
		"visited", r.Visited,
		"untrusted", r.Untrusted,
		"no_replicas", r.NoReplicas,
		"inconsistent_splits", r.InconsistentSplits,
		"took", r.Finished.Sub(r.Started),
	)
	if s.onReport != nil {
		s.onReport(r)
	}
}
