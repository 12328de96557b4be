package columnar

import (
	"context"
	"fmt"
	"io"

	"github.com/ajitpratap0/finlake/pkg/models"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

func writeParquet(w io.Writer, table *models.Table, config *WriterConfig) error {
	schema, err := tableSchema(table)
	if err != nil {
		return fmt.Errorf("failed to convert schema: %w", err)
	}

	props := parquet.NewWriterProperties(
		parquet.WithCompression(getParquetCompression(config.Compression)),
		parquet.WithDictionaryDefault(true),
		parquet.WithStats(true),
		parquet.WithAllocator(memory.NewGoAllocator()),
	)
	// Storing the Arrow schema keeps timestamp units and time zones on read.
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	fw, err := pqarrow.NewFileWriter(schema, w, props, arrowProps)
	if err != nil {
		return fmt.Errorf("failed to create Parquet writer: %w", err)
	}

	err = buildRecords(table, schema, config.BatchSize, func(rec arrow.Record) error {
		if err := fw.Write(rec); err != nil {
			return fmt.Errorf("failed to write Parquet row group: %w", err)
		}
		return nil
	})
	if err != nil {
		_ = fw.Close()
		return err
	}

	if err := fw.Close(); err != nil {
		return fmt.Errorf("failed to close Parquet writer: %w", err)
	}
	return nil
}

func readParquet(r ReadAtSeeker) (*models.Table, error) {
	fr, err := file.NewParquetReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open Parquet file: %w", err)
	}
	defer fr.Close()

	pool := memory.NewGoAllocator()
	arrowReader, err := pqarrow.NewFileReader(fr, pqarrow.ArrowReadProperties{BatchSize: 64 * 1024}, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to create Arrow reader: %w", err)
	}

	schema, err := arrowReader.Schema()
	if err != nil {
		return nil, fmt.Errorf("failed to read Parquet schema: %w", err)
	}

	rr, err := arrowReader.GetRecordReader(context.Background(), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create record reader: %w", err)
	}
	defer rr.Release()

	table := models.NewTable(schemaColumns(schema)...)
	for rr.Next() {
		appendRecord(table, rr.Record())
	}
	if err := rr.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read Parquet records: %w", err)
	}
	return table, nil
}

// parquetShape reads only the footer.
func parquetShape(path string) (int64, int, error) {
	fr, err := file.OpenParquetFile(path, false)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open Parquet file: %w", err)
	}
	defer fr.Close()
	return fr.NumRows(), fr.MetaData().Schema.NumColumns(), nil
}

func getParquetCompression(compression string) compress.Compression {
	switch normalizeCompression(compression) {
	case "none":
		return compress.Codecs.Uncompressed
	case "gzip":
		return compress.Codecs.Gzip
	case "zstd":
		return compress.Codecs.Zstd
	case "lz4":
		return compress.Codecs.Lz4Raw
	case "brotli":
		return compress.Codecs.Brotli
	default:
		return compress.Codecs.Snappy
	}
}
