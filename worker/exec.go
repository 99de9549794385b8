package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	elytra "github.com/go-elytra/elytra"
	"github.com/parquet-go/parquet-go"
)

// executeChunk fetches the artifact, reads the addressed row group and
// applies the pipeline to its values. It returns the partial result and
// the number of rows read.
func (w *Worker) executeChunk(ctx context.Context, task elytra.TaskMessage) (interface{}, int64, error) {
	f, size, cleanup, err := w.fetchArtifact(ctx, task.PublicURL)
	if err != nil {
		return nil, 0, err
	}
	defer cleanup()

	pf, err := parquet.OpenFile(f, size)
	if err != nil {
		return nil, 0, fmt.Errorf("open parquet artifact: %w", err)
	}
	rowGroups := pf.RowGroups()
	if task.RowGroupID < 0 || task.RowGroupID >= len(rowGroups) {
		return nil, 0, fmt.Errorf("artifact has %d row groups, task addresses %d", len(rowGroups), task.RowGroupID)
	}
	values, err := readRowGroup(pf.Schema(), rowGroups[task.RowGroupID])
	if err != nil {
		return nil, 0, err
	}
	result, err := ApplyPipeline(values, task.Ops)
	return result, int64(len(values)), err
}

// fetchArtifact downloads the artifact to a temporary file, which gives
// the parquet reader the io.ReaderAt it needs
func (w *Worker) fetchArtifact(ctx context.Context, url string) (*os.File, int64, func(), error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("build artifact request: %w", err)
	}
	resp, err := w.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("fetch artifact %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, nil, fmt.Errorf("fetch artifact %s: status %d", url, resp.StatusCode)
	}
	tmp, err := os.CreateTemp("", "elytra-chunk-*.parquet")
	if err != nil {
		return nil, 0, nil, fmt.Errorf("create artifact temp file: %w", err)
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}
	size, err := io.Copy(tmp, resp.Body)
	if err != nil {
		cleanup()
		return nil, 0, nil, fmt.Errorf("download artifact %s: %w", url, err)
	}
	return tmp, size, cleanup, nil
}

// readRowGroup materializes a row group as pipeline values: the column
// value itself for single-column artifacts, a column-name map otherwise
func readRowGroup(schema *parquet.Schema, rg parquet.RowGroup) ([]interface{}, error) {
	columns := schema.Columns()
	names := make([]string, len(columns))
	for i, path := range columns {
		names[i] = strings.Join(path, ".")
	}

	values := make([]interface{}, 0, rg.NumRows())
	rows := rg.Rows()
	defer rows.Close()
	buf := make([]parquet.Row, 128)
	for {
		n, err := rows.ReadRows(buf)
		for _, row := range buf[:n] {
			values = append(values, rowValue(names, row))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row group: %w", err)
		}
	}
	return values, nil
}

func rowValue(names []string, row parquet.Row) interface{} {
	if len(names) == 1 && len(row) == 1 {
		return scalarValue(row[0])
	}
	rec := make(map[string]interface{}, len(row))
	for _, v := range row {
		col := v.Column()
		if col < 0 || col >= len(names) {
			continue
		}
		rec[names[col]] = scalarValue(v)
	}
	return rec
}

func scalarValue(v parquet.Value) interface{} {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return int64(v.Int32())
	case parquet.Int64:
		return v.Int64()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	default:
		return v.String()
	}
}
