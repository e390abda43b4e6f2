package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"bucketdb/pkg/bucketdb"
	"bucketdb/pkg/scanner"
)

// StatsSource is the part of a bucket database the collector reads.
type StatsSource interface {
	Stats() bucketdb.Stats
}

// ReportSource yields the latest maintenance scan, if any.
type ReportSource interface {
	LastReport() (scanner.Report, bool)
	Passes() int64
}

// BucketDBCollector exports database and scanner state at scrape time.
type BucketDBCollector struct {
	db   StatsSource
	scan ReportSource

	size           *prometheus.Desc
	generation     *prometheus.Desc
	guards         *prometheus.Desc
	updates        *prometheus.Desc
	removes        *prometheus.Desc
	merges         *prometheus.Desc
	mergeSkipped   *prometheus.Desc
	mergeInserted  *prometheus.Desc
	scanPasses     *prometheus.Desc
	scanVisited    *prometheus.Desc
	scanUntrusted  *prometheus.Desc
	scanNoReplicas *prometheus.Desc
	scanSplits     *prometheus.Desc
}

// NewBucketDBCollector builds a collector; scan may be nil.
func NewBucketDBCollector(db StatsSource, scan ReportSource) *BucketDBCollector {
	return &BucketDBCollector{
		db:   db,
		scan: scan,

		size: prometheus.NewDesc(
			"bucketdb_buckets",
			"Number of buckets currently stored",
			nil, nil,
		),
		generation: prometheus.NewDesc(
			"bucketdb_generation",
			"Generation of the currently published version",
			nil, nil,
		),
		guards: prometheus.NewDesc(
			"bucketdb_read_guards_total",
			"Total number of read guards acquired",
			nil, nil,
		),
		updates: prometheus.NewDesc(
			"bucketdb_updates_total",
			"Total number of entry updates",
			nil, nil,
		),
		removes: prometheus.NewDesc(
			"bucketdb_removes_total",
			"Total number of entries removed",
			nil, nil,
		),
		merges: prometheus.NewDesc(
			"bucketdb_merges_total",
			"Total number of merge passes",
			nil, nil,
		),
		mergeSkipped: prometheus.NewDesc(
			"bucketdb_merge_skipped_total",
			"Total number of entries dropped by merge passes",
			nil, nil,
		),
		mergeInserted: prometheus.NewDesc(
			"bucketdb_merge_inserted_total",
			"Total number of entries inserted by merge passes",
			nil, nil,
		),

		scanPasses: prometheus.NewDesc(
			"bucketdb_scan_passes_total",
			"Total number of completed maintenance scan passes",
			nil, nil,
		),
		scanVisited: prometheus.NewDesc(
			"bucketdb_scan_visited_buckets",
			"Buckets visited by the last scan pass",
			nil, nil,
		),
		scanUntrusted: prometheus.NewDesc(
			"bucketdb_scan_untrusted_buckets",
			"Buckets without a trusted replica in the last scan pass",
			nil, nil,
		),
		scanNoReplicas: prometheus.NewDesc(
			"bucketdb_scan_empty_buckets",
			"Buckets without replicas in the last scan pass",
			nil, nil,
		),
		scanSplits: prometheus.NewDesc(
			"bucketdb_scan_inconsistent_splits",
			"Buckets stored together with an ancestor in the last scan pass",
			nil, nil,
		),
	}
}

func (c *BucketDBCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
	ch <- c.generation
	ch <- c.guards
	ch <- c.updates
	ch <- c.removes
	ch <- c.merges
	ch <- c.mergeSkipped
	ch <- c.mergeInserted

	if c.scan != nil {
		ch <- c.scanPasses
		ch <- c.scanVisited
		ch <- c.scanUntrusted
		ch <- c.scanNoReplicas
		ch <- c.scanSplits
	}
}

func (c *BucketDBCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.db.Stats()

	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(s.Size))
	ch <- prometheus.MustNewConstMetric(c.generation, prometheus.GaugeValue, float64(s.Generation))
	ch <- prometheus.MustNewConstMetric(c.guards, prometheus.CounterValue, float64(s.GuardsAcquired))
	ch <- prometheus.MustNewConstMetric(c.updates, prometheus.CounterValue, float64(s.Updates))
	ch <- prometheus.MustNewConstMetric(c.removes, prometheus.CounterValue, float64(s.Removes))
	ch <- prometheus.MustNewConstMetric(c.merges, prometheus.CounterValue, float64(s.Merges))
	ch <- prometheus.MustNewConstMetric(c.mergeSkipped, prometheus.CounterValue, float64(s.MergeSkipped))
	ch <- prometheus.MustNewConstMetric(c.mergeInserted, prometheus.CounterValue, float64(s.MergeInserted))

	if c.scan == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.scanPasses, prometheus.CounterValue, float64(c.scan.Passes()))
	r, ok := c.scan.LastReport()
	if !ok {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.scanVisited, prometheus.GaugeValue, float64(r.Visited))
	ch <- prometheus.MustNewConstMetric(c.scanUntrusted, prometheus.GaugeValue, float64(r.Untrusted))
	ch <- prometheus.MustNewConstMetric(c.scanNoReplicas, prometheus.GaugeValue, float64(r.NoReplicas))
	ch <- prometheus.MustNewConstMetric(c.scanSplits, prometheus.GaugeValue, float64(r.InconsistentSplits))
}
