package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"bucketdb/pkg/bucket"
	"bucketdb/pkg/bucketdb"
	"bucketdb/pkg/compression"
	"bucketdb/pkg/dberrors"
)

var errExit = errors.New("exit")

const helpText = `commands:
  put <bucket> <node>[!]...      store a bucket; "!" marks a trusted replica
  get <bucket>                   show one bucket
  rm <bucket>                    remove a bucket
  list [from] [limit]            list buckets in key order, after from
  parents <bucket>               stored buckets containing bucket
  all <bucket>                   parents plus stored descendants
  children <bucket>              child count and stored descendants
  appropriate <bucket> [bits]    bucket new data for <bucket> should go to
  doc <id> [bits]                same, for a document id
  split <bucket>                 replace a bucket by its two children
  dropnode <node>                drop a node's replicas everywhere
  load <file>                    load a JSON lines dump (.zst is decompressed)
  stats                          database counters
  exit                           leave
buckets are written as <bits>:<raw> or as a packed 0x value`

// Shell executes text commands against a database it owns. It is not safe
// for concurrent use: every command runs on the caller's goroutine, which
// makes that goroutine the database's only writer.
type Shell struct {
	db      *bucketdb.DB
	factory bucket.Factory
	minBits uint8
	out     io.Writer
}

func NewShell(db *bucketdb.DB, factory bucket.Factory, minBits uint8, out io.Writer) *Shell {
	return &Shell{db: db, factory: factory, minBits: minBits, out: out}
}

// Exec runs one command line. It returns errExit for exit and quit.
func (s *Shell) Exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help", "?":
		fmt.Fprintln(s.out, helpText)
		return nil
	case "exit", "quit":
		return errExit
	case "put":
		return s.put(args)
	case "get":
		return s.withBucket(args, func(b bucket.ID) error {
			e, ok := s.db.Get(b)
			if !ok {
				return fmt.Errorf("%w: %s", dberrors.ErrNotFound, b)
			}
			s.table(e)
			return nil
		})
	case "rm":
		return s.withBucket(args, func(b bucket.ID) error {
			s.db.Remove(b)
			return nil
		})
	case "list":
		return s.list(args)
	case "parents":
		return s.withBucket(args, func(b bucket.ID) error {
			s.table(s.db.FindParentsAndSelf(b)...)
			return nil
		})
	case "all":
		return s.withBucket(args, func(b bucket.ID) error {
			s.table(s.db.FindParentsSelfAndChildren(b)...)
			return nil
		})
	case "children":
		return s.withBucket(args, func(b bucket.ID) error {
			fmt.Fprintf(s.out, "child count: %d\n", s.db.ChildCount(b))
			var children []bucketdb.Entry
			for _, e := range s.db.FindParentsSelfAndChildren(b) {
				if e.Bucket.UsedBits() > b.UsedBits() {
					children = append(children, e)
				}
			}
			s.table(children...)
			return nil
		})
	case "appropriate":
		if len(args) == 0 {
			return fmt.Errorf("%w: appropriate <bucket> [bits]", dberrors.ErrInvalidArgument)
		}
		b, err := bucket.Parse(args[0])
		if err != nil {
			return err
		}
		return s.appropriate(b, args[1:])
	case "doc":
		if len(args) == 0 {
			return fmt.Errorf("%w: doc <id> [bits]", dberrors.ErrInvalidArgument)
		}
		return s.appropriate(s.factory.FromDocument(args[0]), args[1:])
	case "split":
		return s.withBucket(args, s.split)
	case "dropnode":
		return s.dropNode(args)
	case "load":
		if len(args) != 1 {
			return fmt.Errorf("%w: load <file>", dberrors.ErrInvalidArgument)
		}
		return s.load(args[0])
	case "stats":
		s.stats()
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q, try help", dberrors.ErrInvalidArgument, cmd)
	}
}

func (s *Shell) withBucket(args []string, fn func(bucket.ID) error) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: expected one bucket", dberrors.ErrInvalidArgument)
	}
	b, err := bucket.Parse(args[0])
	if err != nil {
		return err
	}
	return fn(b)
}

func (s *Shell) put(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: put <bucket> <node>[!]...", dberrors.ErrInvalidArgument)
	}
	b, err := bucket.Parse(args[0])
	if err != nil {
		return err
	}
	e := bucketdb.NewEntry(b)
	for _, arg := range args[1:] {
		trusted := strings.HasSuffix(arg, "!")
		node, err := strconv.ParseUint(strings.TrimSuffix(arg, "!"), 10, 16)
		if err != nil {
			return fmt.Errorf("%w: node %q", dberrors.ErrInvalidArgument, arg)
		}
		e.Info.AddReplica(bucketdb.ReplicaInfo{Node: uint16(node), Trusted: trusted, Active: true, Ready: true})
	}
	s.db.Update(e)
	return nil
}

func (s *Shell) list(args []string) error {
	limit := 50
	var from *bucket.ID
	for _, a := range args {
		if n, err := strconv.Atoi(a); err == nil {
			if n <= 0 {
				return fmt.Errorf("%w: limit %d", dberrors.ErrInvalidArgument, n)
			}
			limit = n
			continue
		}
		b, err := bucket.Parse(a)
		if err != nil {
			return err
		}
		from = &b
	}

	var entries []bucketdb.Entry
	collect := bucketdb.EntryProcessorFunc(func(e bucketdb.Entry) bool {
		entries = append(entries, e)
		return len(entries) < limit
	})
	g := s.db.AcquireReadGuard()
	if from != nil {
		g.ForEachFrom(*from, collect, bucketdb.Ascending)
	} else {
		g.ForEach(collect)
	}
	s.table(entries...)
	return nil
}

func (s *Shell) appropriate(wanted bucket.ID, args []string) error {
	bits := s.minBits
	if len(args) > 0 {
		n, err := strconv.ParseUint(args[0], 10, 8)
		if err != nil || n > bucket.MaxUsedBits {
			return fmt.Errorf("%w: bits %q", dberrors.ErrInvalidArgument, args[0])
		}
		bits = uint8(n)
	}
	got := s.db.CreateAppropriateBucket(bits, wanted)
	_, exists := s.db.Get(got)
	fmt.Fprintf(s.out, "%s (%d:0x%x) existing=%t\n", got, got.UsedBits(), got.RawID(), exists)
	return nil
}

// splitter replaces one bucket by its two children in a single merge pass,
// so readers see either the parent or both children. A child that is
// already stored takes over the parent's replicas.
type splitter struct {
	parent  bucketdb.Entry
	found   bool
	pending []bucket.ID
}

func (sp *splitter) Merge(m bucketdb.Merger) bucketdb.MergeResult {
	cur := m.BucketID()
	for len(sp.pending) > 0 && sp.pending[0].Key() < cur.Key() {
		m.InsertBeforeCurrent(sp.pending[0], sp.child(sp.pending[0]))
		sp.pending = sp.pending[1:]
	}

	switch {
	case cur == sp.parent.Bucket:
		sp.found = true
		sp.pending = []bucket.ID{cur.Child(0), cur.Child(1)}
		return bucketdb.Skip
	case len(sp.pending) > 0 && sp.pending[0] == cur:
		m.CurrentEntry().Info = sp.parent.Info.Clone()
		sp.pending = sp.pending[1:]
		return bucketdb.Update
	}
	return bucketdb.KeepUnchanged
}

func (sp *splitter) InsertRemainingAtEnd(ins bucketdb.TrailingInserter) {
	for _, b := range sp.pending {
		ins.InsertAtEnd(b, sp.child(b))
	}
	sp.pending = nil
}

func (sp *splitter) child(b bucket.ID) bucketdb.Entry {
	e := sp.parent.Clone()
	e.Bucket = b
	return e
}

func (s *Shell) split(b bucket.ID) error {
	if b.UsedBits() >= bucket.MaxUsedBits {
		return fmt.Errorf("%w: %s cannot be split", dberrors.ErrInvalidArgument, b)
	}
	e, ok := s.db.Get(b)
	if !ok {
		return fmt.Errorf("%w: %s", dberrors.ErrNotFound, b)
	}
	sp := &splitter{parent: e}
	s.db.Merge(sp)
	if !sp.found {
		return fmt.Errorf("%w: %s", dberrors.ErrNotFound, b)
	}
	return nil
}

// nodeDropper removes one node's replica from every bucket and drops buckets
// left without replicas.
type nodeDropper struct {
	node    uint16
	changed int
}

func (d *nodeDropper) Merge(m bucketdb.Merger) bucketdb.MergeResult {
	e := m.CurrentEntry()
	if !e.Info.RemoveReplica(d.node) {
		return bucketdb.KeepUnchanged
	}
	d.changed++
	if e.Info.NodeCount() == 0 {
		return bucketdb.Skip
	}
	return bucketdb.Update
}

func (d *nodeDropper) InsertRemainingAtEnd(bucketdb.TrailingInserter) {}

func (s *Shell) dropNode(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: dropnode <node>", dberrors.ErrInvalidArgument)
	}
	node, err := strconv.ParseUint(args[0], 10, 16)
	if err != nil {
		return fmt.Errorf("%w: node %q", dberrors.ErrInvalidArgument, args[0])
	}
	d := &nodeDropper{node: uint16(node)}
	s.db.Merge(d)
	fmt.Fprintf(s.out, "%d buckets changed\n", d.changed)
	return nil
}

func (s *Shell) load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.HasSuffix(path, ".zst") {
		var out bytes.Buffer
		if _, err := compression.DecompressZstd(bytes.NewReader(data), &out); err != nil {
			return fmt.Errorf("decompress %s: %w", path, err)
		}
		data = out.Bytes()
	}

	n := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e bucketdb.Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return fmt.Errorf("%s line %d: %w", path, n+1, err)
		}
		s.db.Update(e)
		n++
	}
	if err := sc.Err(); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%d entries loaded\n", n)
	return nil
}

func (s *Shell) stats() {
	st := s.db.Stats()
	table := tablewriter.NewWriter(s.out)
	table.SetHeader([]string{"SIZE", "GENERATION", "UPDATES", "REMOVES", "MERGES", "GUARDS"})
	table.Append([]string{
		strconv.Itoa(st.Size),
		strconv.FormatUint(st.Generation, 10),
		strconv.FormatInt(st.Updates, 10),
		strconv.FormatInt(st.Removes, 10),
		strconv.FormatInt(st.Merges, 10),
		strconv.FormatInt(st.GuardsAcquired, 10),
	})
	table.Render()
}

func (s *Shell) table(entries ...bucketdb.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(s.out, "(none)")
		return
	}
	table := tablewriter.NewWriter(s.out)
	table.SetHeader([]string{"BUCKET", "BITS", "RAW", "REPLICAS", "TRUSTED", "DOCS"})
	for _, e := range entries {
		nodes := make([]string, len(e.Info.Replicas))
		var docs uint64
		for i, r := range e.Info.Replicas {
			nodes[i] = strconv.Itoa(int(r.Node))
			if r.Trusted {
				nodes[i] += "!"
			}
			docs += uint64(r.DocumentCount)
		}
		table.Append([]string{
			e.Bucket.String(),
			strconv.Itoa(int(e.Bucket.UsedBits())),
			fmt.Sprintf("0x%x", e.Bucket.RawID()),
			strings.Join(nodes, ","),
			strconv.FormatBool(e.Info.HasTrustedReplica()),
			strconv.FormatUint(docs, 10),
		})
	}
	table.Render()
}
