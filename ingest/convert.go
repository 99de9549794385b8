// Package ingest converts raw uploads into columnar artifacts, publishes
// them to object storage and registers the result with the control plane.
package ingest

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	elytra "github.com/go-elytra/elytra"
	"github.com/parquet-go/parquet-go"
	"github.com/tidwall/gjson"
)

// ConvertOptions configure the columnar conversion
type ConvertOptions struct {
	RowGroupSize int64  // rows per row group
	Compression  string // "snappy" | "zstd" | "none"
}

func ensureDefaultConvertOptionsValues(opts *ConvertOptions) {
	if opts.RowGroupSize == 0 {
		opts.RowGroupSize = 64 * 1024
	}
	if opts.Compression == "" {
		opts.Compression = "snappy"
	}
}

// Artifact is a converted columnar file, ready to publish
type Artifact struct {
	Path      string
	RowGroups []elytra.RowGroup
	Rows      int64
}

type record map[string]interface{}

// ConvertFile reads a CSV or JSONL upload and writes a parquet artifact
// with row groups of the configured size. The artifact lands in a
// temporary file the caller owns.
func ConvertFile(path string, opts ConvertOptions) (*Artifact, error) {
	ensureDefaultConvertOptionsValues(&opts)
	var fields []string
	var records []record
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		fields, records, err = readCSV(path)
	case ".jsonl", ".ndjson", ".json":
		fields, records, err = readJSONL(path)
	default:
		return nil, fmt.Errorf("unsupported upload format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("upload %s contains no rows", path)
	}

	out, err := os.CreateTemp("", "elytra-artifact-*.parquet")
	if err != nil {
		return nil, fmt.Errorf("create artifact file: %w", err)
	}
	if err := writeParquet(out, fields, records, opts); err != nil {
		out.Close()
		os.Remove(out.Name())
		return nil, err
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return nil, fmt.Errorf("close artifact file: %w", err)
	}

	rowGroups, err := Inspect(out.Name())
	if err != nil {
		os.Remove(out.Name())
		return nil, err
	}
	return &Artifact{
		Path:      out.Name(),
		RowGroups: rowGroups,
		Rows:      int64(len(records)),
	}, nil
}

func writeParquet(out *os.File, fields []string, records []record, opts ConvertOptions) error {
	schema, err := buildSchema(fields, records)
	if err != nil {
		return err
	}
	options := []parquet.WriterOption{schema}
	switch opts.Compression {
	case "zstd":
		options = append(options, parquet.Compression(&parquet.Zstd))
	case "none":
		options = append(options, parquet.Compression(&parquet.Uncompressed))
	default:
		options = append(options, parquet.Compression(&parquet.Snappy))
	}
	writer := parquet.NewGenericWriter[map[string]interface{}](out, options...)
	var sinceFlush int64
	for _, rec := range records {
		if _, err := writer.Write([]map[string]interface{}{rec}); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
		sinceFlush++
		if sinceFlush >= opts.RowGroupSize {
			if err := writer.Flush(); err != nil {
				return fmt.Errorf("cut row group: %w", err)
			}
			sinceFlush = 0
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalize artifact: %w", err)
	}
	return nil
}

// buildSchema derives a parquet schema from the first value seen for
// each field; fields absent from a record are written as nulls
func buildSchema(fields []string, records []record) (*parquet.Schema, error) {
	group := parquet.Group{}
	for _, field := range fields {
		var sample interface{}
		for _, rec := range records {
			if v, ok := rec[field]; ok && v != nil {
				sample = v
				break
			}
		}
		var node parquet.Node
		switch sample.(type) {
		case float64:
			node = parquet.Leaf(parquet.DoubleType)
		case bool:
			node = parquet.Leaf(parquet.BooleanType)
		default:
			node = parquet.String()
		}
		group[field] = parquet.Optional(node)
	}
	if len(group) == 0 {
		return nil, fmt.Errorf("upload has no columns")
	}
	return parquet.NewSchema("elytra", group), nil
}

func readCSV(path string) ([]string, []record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open upload %s: %w", path, err)
	}
	defer f.Close()
	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read CSV header: %w", err)
	}
	var records []record
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read CSV row: %w", err)
		}
		rec := make(record, len(header))
		for i, cell := range row {
			if i >= len(header) {
				break
			}
			if n, err := strconv.ParseFloat(cell, 64); err == nil {
				rec[header[i]] = n
			} else {
				rec[header[i]] = cell
			}
		}
		records = append(records, rec)
	}
	return header, records, nil
}

func readJSONL(path string) ([]string, []record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open upload %s: %w", path, err)
	}
	defer f.Close()
	var fields []string
	seen := make(map[string]bool)
	var records []record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if len(text) == 0 {
			continue
		}
		parsed := gjson.Parse(text)
		if !parsed.IsObject() {
			return nil, nil, fmt.Errorf("line %d is not a JSON object", line)
		}
		rec := make(record)
		for key, value := range parsed.Map() {
			if !seen[key] {
				seen[key] = true
				fields = append(fields, key)
			}
			switch value.Type {
			case gjson.Number:
				rec[key] = value.Num
			case gjson.True, gjson.False:
				rec[key] = value.Bool()
			case gjson.Null:
				rec[key] = nil
			default:
				rec[key] = value.String()
			}
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read upload %s: %w", path, err)
	}
	return fields, records, nil
}

// Inspect reads a parquet footer and returns its row groups in native
// order, the shape the catalog registers
func Inspect(path string) ([]elytra.RowGroup, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat artifact %s: %w", path, err)
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet footer: %w", err)
	}
	rowGroups := make([]elytra.RowGroup, len(pf.RowGroups()))
	for i, rg := range pf.RowGroups() {
		rowGroups[i] = elytra.RowGroup{ID: i, RowCount: rg.NumRows()}
	}
	return rowGroups, nil
}
