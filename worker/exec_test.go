package worker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	elytra "github.com/go-elytra/elytra"
	"github.com/go-elytra/elytra/ingest"
	"github.com/stretchr/testify/require"
)

// buildArtifact converts a ten-row single-column CSV into a parquet file
// with row groups of four rows and serves it over HTTP
func buildArtifact(t *testing.T) (string, []elytra.RowGroup) {
	t.Helper()
	var b strings.Builder
	b.WriteString("value\n")
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&b, "%d\n", i)
	}
	upload := filepath.Join(t.TempDir(), "numbers.csv")
	require.Nil(t, os.WriteFile(upload, []byte(b.String()), 0o644))

	artifact, err := ingest.ConvertFile(upload, ingest.ConvertOptions{RowGroupSize: 4})
	require.Nil(t, err)
	t.Cleanup(func() { os.Remove(artifact.Path) })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, artifact.Path)
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/numbers.parquet", artifact.RowGroups
}

func testWorker(t *testing.T) *Worker {
	t.Helper()
	w, err := New(&Options{
		CoordinatorURL: "ws://unused/ws",
		// keep-alive connections would trip the leak check
		HTTPClient: &http.Client{Transport: &http.Transport{DisableKeepAlives: true}},
	})
	require.Nil(t, err)
	return w
}

func TestExecuteChunkCountsRowGroup(t *testing.T) {
	url, rowGroups := buildArtifact(t)
	require.Len(t, rowGroups, 3)
	w := testWorker(t)

	result, rows, err := w.executeChunk(context.Background(), elytra.TaskMessage{
		Type:       elytra.MsgExecuteParquetChunk,
		JobID:      1,
		ChunkID:    2,
		RowGroupID: 2,
		PublicURL:  url,
		Ops:        []elytra.Operation{elytra.Count()},
	})
	require.Nil(t, err)
	require.Equal(t, int64(2), rows)
	require.Equal(t, int64(2), result)
}

func TestExecuteChunkMapReduce(t *testing.T) {
	url, _ := buildArtifact(t)
	w := testWorker(t)

	// first row group holds 1..4; sum of squares is 30
	result, rows, err := w.executeChunk(context.Background(), elytra.TaskMessage{
		Type:       elytra.MsgExecuteParquetChunk,
		RowGroupID: 0,
		PublicURL:  url,
		Ops: []elytra.Operation{
			elytra.Map("(x)=>x*x"),
			elytra.Reduce("(a,b)=>a+b", 0),
		},
	})
	require.Nil(t, err)
	require.Equal(t, int64(4), rows)
	require.Equal(t, int64(30), result)
}

func TestExecuteChunkRejectsBadRowGroup(t *testing.T) {
	url, _ := buildArtifact(t)
	w := testWorker(t)

	_, _, err := w.executeChunk(context.Background(), elytra.TaskMessage{
		RowGroupID: 99,
		PublicURL:  url,
		Ops:        []elytra.Operation{elytra.Count()},
	})
	require.NotNil(t, err)
}

func TestExecuteChunkRejectsUnreachableArtifact(t *testing.T) {
	w := testWorker(t)
	_, _, err := w.executeChunk(context.Background(), elytra.TaskMessage{
		RowGroupID: 0,
		PublicURL:  "http://127.0.0.1:1/missing.parquet",
		Ops:        []elytra.Operation{elytra.Count()},
	})
	require.NotNil(t, err)
}
