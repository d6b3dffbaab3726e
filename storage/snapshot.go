// Package storage moves tables and artifacts between the pipeline and the
// outside world: Arrow IPC snapshots, local and gs:// inputs, the staged
// output directory, GCS publishing and the SQL results store.
package storage

import (
	"fmt"
	"os"
	"strings"

	"github.com/TFMV/blotter/dataset"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/parquet/compress"
)

// ParseCodec maps a configuration name onto a compression codec. The empty
// string and "none" mean uncompressed.
func ParseCodec(name string) (compress.Compression, error) {
	switch strings.ToLower(name) {
	case "", "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	case "snappy":
		return compress.Codecs.Snappy, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "brotli":
		return compress.Codecs.Brotli, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "lz4":
		return compress.Codecs.Lz4, nil
	default:
		return compress.Codecs.Uncompressed, fmt.Errorf("unsupported compression codec %q", name)
	}
}

// ipcCompression returns the IPC body compression for codec. IPC only knows
// zstd and lz4; other codecs write uncompressed bodies.
func ipcCompression(codec compress.Compression) []ipc.Option {
	switch codec {
	case compress.Codecs.Zstd:
		return []ipc.Option{ipc.WithZstd()}
	case compress.Codecs.Lz4:
		return []ipc.Option{ipc.WithLZ4()}
	default:
		return nil
	}
}

// SaveTable writes t to path in the Arrow IPC file format.
func SaveTable(path string, t *dataset.Table, codec compress.Compression) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file %q: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	opts := append([]ipc.Option{
		ipc.WithSchema(t.Schema()),
		ipc.WithAllocator(dataset.Pool),
	}, ipcCompression(codec)...)
	writer, err := ipc.NewFileWriter(file, opts...)
	if err != nil {
		return fmt.Errorf("failed to create Arrow file writer: %w", err)
	}

	for _, record := range t.Records() {
		if err := writer.Write(record); err != nil {
			_ = writer.Close()
			return fmt.Errorf("failed to write record to Arrow file: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish Arrow file: %w", err)
	}
	return file.Sync()
}

// LoadTable reads an Arrow IPC file written by SaveTable into a table
// called name.
func LoadTable(path, name string) (*dataset.Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %q: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	reader, err := ipc.NewFileReader(file, ipc.WithAllocator(dataset.Pool))
	if err != nil {
		return nil, fmt.Errorf("failed to create Arrow file reader: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	records := make([]arrow.Record, 0, reader.NumRecords())
	for i := 0; i < reader.NumRecords(); i++ {
		// RecordAt transfers ownership to the caller.
		rec, err := reader.RecordAt(i)
		if err != nil {
			for _, r := range records {
				r.Release()
			}
			return nil, fmt.Errorf("failed to read record %d from file: %w", i, err)
		}
		records = append(records, rec)
	}
	return dataset.NewTable(name, reader.Schema(), records), nil
}
