package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bucketdb/internal/writer"
	"bucketdb/pkg/bucket"
	"bucketdb/pkg/bucketdb"
	"bucketdb/pkg/compression"
	"bucketdb/pkg/dberrors"
)

const (
	contentTypeJSON        = "application/json"
	contentTypeNDJSON      = "application/x-ndjson"
	defaultHTTPPort        = "8080"
	defaultShutdownTimeout = time.Second * 5
	defaultListLimit       = 100
	maxListLimit           = 10_000
)

type iWriter interface {
	Execute(ctx context.Context, cmd writer.Cmd) error
}

type Options struct {
	Port              string
	MinSplitBits      uint8
	Factory           bucket.Factory
	Gatherer          prometheus.Gatherer
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	Logger            *slog.Logger
}

// Server exposes a bucket database over HTTP. Reads go straight to the
// database through read guards; writes are funneled through the writer.
type Server struct {
	reader     *bucketdb.Reader
	writer     iWriter
	opts       Options
	log        *slog.Logger
	httpServer *http.Server
	URL        string
	addr       string
}

// NewServer creates a new server instance
func NewServer(reader *bucketdb.Reader, w iWriter, opts Options) *Server {
	if opts.Port == "" {
		opts.Port = defaultHTTPPort
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if opts.ReadHeaderTimeout <= 0 {
		opts.ReadHeaderTimeout = time.Second
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		reader: reader,
		writer: w,
		opts:   opts,
		log:    log,
		URL:    "http://localhost:" + opts.Port,
		addr:   ":" + opts.Port,
	}
}

// Start starts the server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server error", "error", err)
		}
	}()

	s.log.Info("HTTP server started", "addr", s.URL)
	return nil
}

// Stop stops the server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// Handler builds chi router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/debug/dump", s.handleDump)

	r.Route("/api/buckets", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/appropriate", s.handleAppropriate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Put("/", s.handlePut)
			r.Delete("/", s.handleDelete)
			r.Get("/parents", s.handleParents)
			r.Get("/all", s.handleAll)
			r.Get("/children", s.handleChildren)
		})
	})

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warn("Error encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dberrors.ErrInvalidArgument), errors.Is(err, dberrors.ErrInvalidBucket):
		status = http.StatusBadRequest
	case errors.Is(err, dberrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, dberrors.ErrClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, NewErrorResponse(err.Error()))
}

func bucketParam(r *http.Request) (bucket.ID, error) {
	return bucket.Parse(chi.URLParam(r, "id"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, fmt.Errorf("%w: limit %q", dberrors.ErrInvalidArgument, v))
			return
		}
		limit = min(n, maxListLimit)
	}

	page := ListPage{Entries: []bucketdb.Entry{}}
	collect := bucketdb.EntryProcessorFunc(func(e bucketdb.Entry) bool {
		if len(page.Entries) == limit {
			next := page.Entries[limit-1].Bucket
			page.Next = &next
			return false
		}
		page.Entries = append(page.Entries, e)
		return true
	})

	g := s.reader.AcquireReadGuard()
	if from := r.URL.Query().Get("from"); from != "" {
		b, err := bucket.Parse(from)
		if err != nil {
			s.writeError(w, err)
			return
		}
		g.ForEachFrom(b, collect, bucketdb.Ascending)
	} else {
		g.ForEach(collect)
	}

	s.writeJSON(w, http.StatusOK, NewValueResponse(page))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	b, err := bucketParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	e, ok := s.reader.Get(b)
	if !ok {
		s.writeError(w, fmt.Errorf("%w: %s", dberrors.ErrNotFound, b))
		return
	}
	s.writeJSON(w, http.StatusOK, NewValueResponse(e))
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	b, err := bucketParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var info bucketdb.BucketInfo
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		s.writeError(w, fmt.Errorf("%w: decode bucket info: %v", dberrors.ErrInvalidArgument, err))
		return
	}
	e := bucketdb.NewEntry(b, info.Replicas...)
	e.Info.LastGCTimestamp = info.LastGCTimestamp

	if err := s.writer.Execute(r.Context(), writer.NewUpdateCmd(e)); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewValueResponse(e))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	b, err := bucketParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.writer.Execute(r.Context(), writer.NewRemoveCmd(b)); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleParents(w http.ResponseWriter, r *http.Request) {
	b, err := bucketParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	entries := s.reader.AcquireReadGuard().FindParentsAndSelf(b)
	s.writeJSON(w, http.StatusOK, NewValueResponse(nonNil(entries)))
}

func (s *Server) handleAll(w http.ResponseWriter, r *http.Request) {
	b, err := bucketParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	entries := s.reader.AcquireReadGuard().FindParentsSelfAndChildren(b)
	s.writeJSON(w, http.StatusOK, NewValueResponse(nonNil(entries)))
}

func (s *Server) handleChildren(w http.ResponseWriter, r *http.Request) {
	b, err := bucketParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	g := s.reader.AcquireReadGuard()
	v := ChildrenValue{Count: g.ChildCount(b), Children: []bucketdb.Entry{}}
	for _, e := range g.FindParentsSelfAndChildren(b) {
		if e.Bucket.UsedBits() > b.UsedBits() {
			v.Children = append(v.Children, e)
		}
	}
	s.writeJSON(w, http.StatusOK, NewValueResponse(v))
}

func (s *Server) handleAppropriate(w http.ResponseWriter, r *http.Request) {
	var req AppropriateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: decode request: %v", dberrors.ErrInvalidArgument, err))
		return
	}

	var wanted bucket.ID
	switch {
	case req.ID != nil && req.Doc != "":
		s.writeError(w, fmt.Errorf("%w: doc and id are mutually exclusive", dberrors.ErrInvalidArgument))
		return
	case req.ID != nil:
		wanted = *req.ID
	case req.Doc != "":
		wanted = s.opts.Factory.FromDocument(req.Doc)
	default:
		s.writeError(w, fmt.Errorf("%w: doc or id is required", dberrors.ErrInvalidArgument))
		return
	}

	minBits := s.opts.MinSplitBits
	if req.MinBits != nil {
		minBits = *req.MinBits
	}
	if minBits > bucket.MaxUsedBits {
		s.writeError(w, fmt.Errorf("%w: min_bits %d", dberrors.ErrInvalidArgument, minBits))
		return
	}

	got := s.reader.AcquireReadGuard().CreateAppropriateBucket(minBits, wanted)
	s.writeJSON(w, http.StatusOK, NewValueResponse(got))
}

// handleDump streams every entry of one read guard as JSON lines.
func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	enc, err := compression.ParseEncoding(r.URL.Query().Get("compress"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	g := s.reader.AcquireReadGuard()
	w.Header().Set("Content-Type", contentTypeNDJSON)
	if enc != compression.Identity {
		w.Header().Set("Content-Encoding", string(enc))
	}
	w.Header().Set("X-Bucketdb-Generation", strconv.FormatUint(g.Generation(), 10))

	cw, err := compression.NewWriter(w, enc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	je := json.NewEncoder(cw)
	var encErr error
	g.ForEach(bucketdb.EntryProcessorFunc(func(e bucketdb.Entry) bool {
		encErr = je.Encode(e)
		return encErr == nil
	}))
	if err := cw.Close(); err != nil && encErr == nil {
		encErr = err
	}
	if encErr != nil {
		s.log.Warn("dump aborted", "error", encErr)
		return
	}
	s.log.Debug("dump sent", "entries", g.Size(), "bytes", cw.Written(), "encoding", enc)
}

func nonNil(entries []bucketdb.Entry) []bucketdb.Entry {
	if entries == nil {
		return []bucketdb.Entry{}
	}
	return entries
}
