package columnar

import (
	"fmt"
	"io"
	"os"

	"github.com/ajitpratap0/finlake/pkg/models"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

func writeArrow(w io.Writer, table *models.Table, config *WriterConfig) error {
	schema, err := tableSchema(table)
	if err != nil {
		return fmt.Errorf("failed to convert schema: %w", err)
	}

	opts := []ipc.Option{
		ipc.WithSchema(schema),
		ipc.WithAllocator(memory.NewGoAllocator()),
	}
	switch normalizeCompression(config.Compression) {
	case "lz4":
		opts = append(opts, ipc.WithLZ4())
	case "zstd":
		opts = append(opts, ipc.WithZstd())
	}

	fw, err := ipc.NewFileWriter(w, opts...)
	if err != nil {
		return fmt.Errorf("failed to create Arrow writer: %w", err)
	}

	err = buildRecords(table, schema, config.BatchSize, func(rec arrow.Record) error {
		if err := fw.Write(rec); err != nil {
			return fmt.Errorf("failed to write Arrow batch: %w", err)
		}
		return nil
	})
	if err != nil {
		_ = fw.Close()
		return err
	}

	if err := fw.Close(); err != nil {
		return fmt.Errorf("failed to close Arrow writer: %w", err)
	}
	return nil
}

func readArrow(r ReadAtSeeker) (*models.Table, error) {
	fr, err := ipc.NewFileReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("failed to create Arrow reader: %w", err)
	}
	defer fr.Close()

	table := models.NewTable(schemaColumns(fr.Schema())...)
	for i := 0; i < fr.NumRecords(); i++ {
		// The record is owned by the reader and valid until the next call.
		rec, err := fr.Record(i)
		if err != nil {
			return nil, fmt.Errorf("failed to read Arrow batch %d: %w", i, err)
		}
		appendRecord(table, rec)
	}
	return table, nil
}

func arrowShape(path string) (int64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	fr, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create Arrow reader: %w", err)
	}
	defer fr.Close()

	var rows int64
	for i := 0; i < fr.NumRecords(); i++ {
		rec, err := fr.Record(i)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to read Arrow batch %d: %w", i, err)
		}
		rows += rec.NumRows()
	}
	return rows, fr.Schema().NumFields(), nil
}
