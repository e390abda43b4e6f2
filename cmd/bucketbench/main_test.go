package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpapi "bucketdb/internal/http"
	"bucketdb/internal/writer"
	"bucketdb/pkg/bucket"
	"bucketdb/pkg/bucketdb"
)

func TestSummarize(t *testing.T) {
	lat := []time.Duration{4 * time.Millisecond, time.Millisecond, 3 * time.Millisecond, 2 * time.Millisecond}
	res := summarize("x", lat, 3, time.Second)

	assert.Equal(t, 4, res.TotalOps)
	assert.Equal(t, 1, res.FailedOps)
	assert.Equal(t, time.Millisecond, res.MinLatency)
	assert.Equal(t, 4*time.Millisecond, res.MaxLatency)
	assert.Equal(t, 2500*time.Microsecond, res.AvgLatency)
	assert.InDelta(t, 3.0, res.OpsPerSec, 1e-9)

	empty := summarize("empty", nil, 0, 0)
	assert.Zero(t, empty.TotalOps)
	assert.Zero(t, empty.OpsPerSec)
}

func TestRunSuiteAgainstServer(t *testing.T) {
	db := bucketdb.New()
	w := writer.New(db, 8, nil)
	w.Start(context.Background())
	t.Cleanup(w.Stop)

	srv := httptest.NewServer(httpapi.NewServer(db.Reader(), w, httpapi.Options{MinSplitBits: 8}).Handler())
	t.Cleanup(srv.Close)

	cl := newClient(srv.URL, 5*time.Second)
	require.NoError(t, cl.health())

	ids := []bucket.ID{bucket.New(16, 1), bucket.New(16, 2), bucket.New(16, 0xbeef), bucket.New(20, 0xf0002)}
	results := runSuite(cl, ids, 3)
	require.Len(t, results, 5)
	for _, r := range results {
		assert.Equal(t, len(ids), r.TotalOps, r.Name)
		assert.Zero(t, r.FailedOps, r.Name)
	}
	assert.Equal(t, len(ids), db.Size())

	var out bytes.Buffer
	printResults(&out, results)
	assert.Contains(t, out.String(), "concurrent put")
}

func TestClientReportsMissingBucket(t *testing.T) {
	db := bucketdb.New()
	w := writer.New(db, 8, nil)
	w.Start(context.Background())
	t.Cleanup(w.Stop)

	srv := httptest.NewServer(httpapi.NewServer(db.Reader(), w, httpapi.Options{}).Handler())
	t.Cleanup(srv.Close)

	cl := newClient(srv.URL, time.Second)
	assert.Error(t, cl.get(bucket.New(16, 7)))
}
