package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/TFMV/blotter/dataset"
	"github.com/TFMV/blotter/query"
	"github.com/apache/arrow-go/v18/arrow/array"
	arrowcsv "github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// WriteCSV writes every row of t to path with a header row.
func WriteCSV(path string, t *dataset.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("csv: create %q: %w", path, err)
	}
	w := arrowcsv.NewWriter(f, t.Schema(), arrowcsv.WithHeader(true), arrowcsv.WithNullWriter(""))
	for _, rec := range t.Records() {
		if err := w.Write(rec); err != nil {
			_ = f.Close()
			return fmt.Errorf("csv: write %q: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("csv: flush %q: %w", path, err)
	}
	return f.Close()
}

// WriteParquet writes t to path as a Parquet file compressed with codec.
func WriteParquet(path string, t *dataset.Table, codec compress.Compression, rowGroup int64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("parquet: create %q: %w", path, err)
	}
	tbl := array.NewTableFromRecords(t.Schema(), t.Records())
	defer tbl.Release()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithAllocator(dataset.Pool),
	)
	if rowGroup <= 0 {
		rowGroup = max(tbl.NumRows(), 1)
	}
	if err := pqarrow.WriteTable(tbl, f, rowGroup, props, pqarrow.DefaultWriterProps()); err != nil {
		_ = f.Close()
		return fmt.Errorf("parquet: write %q: %w", path, err)
	}
	// The parquet writer may already have closed f.
	if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

// WriteCounts writes one row per bucket with a header of column and
// "count". Null keys are written as empty cells.
func WriteCounts(path, column string, buckets []query.Bucket) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("csv: create %q: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{column, "count"}); err != nil {
		_ = f.Close()
		return fmt.Errorf("csv: write header: %w", err)
	}
	for _, b := range buckets {
		if err := w.Write([]string{b.Key.String(), strconv.FormatInt(b.Count, 10)}); err != nil {
			_ = f.Close()
			return fmt.Errorf("csv: write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
