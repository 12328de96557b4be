// Package columnar reads and writes models.Table values as Parquet or Arrow IPC files.
package columnar

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ajitpratap0/finlake/pkg/models"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Format represents a columnar storage format
type Format string

const (
	// Parquet is Apache Parquet format
	Parquet Format = "parquet"
	// Arrow is the Apache Arrow IPC file format
	Arrow Format = "arrow"
)

// ReadAtSeeker is the random access input both readers need.
type ReadAtSeeker interface {
	io.ReaderAt
	io.Seeker
}

// WriterConfig configures columnar writers
type WriterConfig struct {
	Format      Format
	Compression string
	// BatchSize is the number of rows per record batch (and Parquet row group).
	BatchSize int
}

// DefaultWriterConfig returns default writer configuration
func DefaultWriterConfig() *WriterConfig {
	return &WriterConfig{
		Format:      Parquet,
		Compression: "snappy",
		BatchSize:   64 * 1024,
	}
}

// Validate checks the format and compression combination.
func (c *WriterConfig) Validate() error {
	info, err := GetFormatInfo(c.Format)
	if err != nil {
		return err
	}
	comp := normalizeCompression(c.Compression)
	for _, s := range info.SupportedCompression {
		if s == comp {
			return nil
		}
	}
	return fmt.Errorf("%s does not support compression %q (supported: %s)",
		c.Format, c.Compression, strings.Join(info.SupportedCompression, ", "))
}

// FormatInfo provides information about a columnar format
type FormatInfo struct {
	Name                 string
	Extension            string
	SupportedCompression []string
}

// GetFormatInfo returns information about a format
func GetFormatInfo(format Format) (FormatInfo, error) {
	switch format {
	case Parquet:
		return FormatInfo{
			Name:                 "Apache Parquet",
			Extension:            ".parquet",
			SupportedCompression: []string{"none", "snappy", "gzip", "zstd", "lz4", "brotli"},
		}, nil
	case Arrow:
		return FormatInfo{
			Name:                 "Apache Arrow IPC",
			Extension:            ".arrow",
			SupportedCompression: []string{"none", "lz4", "zstd"},
		}, nil
	default:
		return FormatInfo{}, fmt.Errorf("unsupported format: %q", format)
	}
}

// ParseFormat converts a configuration string to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "parquet":
		return Parquet, nil
	case "arrow", "ipc", "feather":
		return Arrow, nil
	default:
		return "", fmt.Errorf("unsupported format: %q", s)
	}
}

// FormatFromPath detects the format from a file extension.
func FormatFromPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return Parquet, true
	case ".arrow", ".feather", ".ipc":
		return Arrow, true
	default:
		return "", false
	}
}

// Extension returns the file extension (with dot) for a format.
func Extension(format Format) string {
	info, err := GetFormatInfo(format)
	if err != nil {
		return ""
	}
	return info.Extension
}

// WriteTable encodes the table to w and returns the number of bytes written.
// w is never closed.
func WriteTable(w io.Writer, table *models.Table, config *WriterConfig) (int64, error) {
	if config == nil {
		config = DefaultWriterConfig()
	}
	if err := config.Validate(); err != nil {
		return 0, err
	}
	if table == nil {
		return 0, fmt.Errorf("table is nil")
	}
	if err := table.Validate(); err != nil {
		return 0, fmt.Errorf("invalid table: %w", err)
	}

	cw := &countingWriter{w: w}
	var err error
	switch config.Format {
	case Parquet:
		err = writeParquet(cw, table, config)
	case Arrow:
		err = writeArrow(cw, table, config)
	}
	return cw.n, err
}

// ReadTable decodes a whole file into a table.
func ReadTable(r ReadAtSeeker, format Format) (*models.Table, error) {
	switch format {
	case Parquet:
		return readParquet(r)
	case Arrow:
		return readArrow(r)
	default:
		return nil, fmt.Errorf("unsupported format: %q", format)
	}
}

// ReadFile opens path and decodes it using the format implied by its extension.
func ReadFile(path string) (*models.Table, error) {
	format, ok := FormatFromPath(path)
	if !ok {
		return nil, fmt.Errorf("unrecognised columnar file: %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadTable(f, format)
}

// Shape reports the row and column counts of a columnar file without decoding values
// where the format allows it.
func Shape(path string) (rows int64, columns int, err error) {
	format, ok := FormatFromPath(path)
	if !ok {
		return 0, 0, fmt.Errorf("unrecognised columnar file: %s", path)
	}
	switch format {
	case Parquet:
		return parquetShape(path)
	default:
		return arrowShape(path)
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func normalizeCompression(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "uncompressed":
		return "none"
	case "lz4_raw":
		return "lz4"
	default:
		return s
	}
}

// tableSchema converts table columns to an Arrow schema. Every field is nullable.
func tableSchema(table *models.Table) (*arrow.Schema, error) {
	fields := make([]arrow.Field, len(table.Columns))
	for i, c := range table.Columns {
		dt, err := arrowType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", c.Name, err)
		}
		fields[i] = arrow.Field{Name: c.Name, Type: dt, Nullable: true}
	}
	return arrow.NewSchema(fields, nil), nil
}

func arrowType(t models.FieldType) (arrow.DataType, error) {
	switch t {
	case models.FieldTypeString:
		return arrow.BinaryTypes.String, nil
	case models.FieldTypeInt:
		return arrow.PrimitiveTypes.Int64, nil
	case models.FieldTypeFloat:
		return arrow.PrimitiveTypes.Float64, nil
	case models.FieldTypeBool:
		return arrow.FixedWidthTypes.Boolean, nil
	case models.FieldTypeTimestamp:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}, nil
	case models.FieldTypeDate:
		return arrow.FixedWidthTypes.Date32, nil
	default:
		return nil, fmt.Errorf("unsupported field type %q", t)
	}
}

func fieldType(dt arrow.DataType) models.FieldType {
	switch dt.ID() {
	case arrow.BOOL:
		return models.FieldTypeBool
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return models.FieldTypeInt
	case arrow.FLOAT32, arrow.FLOAT64:
		return models.FieldTypeFloat
	case arrow.TIMESTAMP:
		return models.FieldTypeTimestamp
	case arrow.DATE32, arrow.DATE64:
		return models.FieldTypeDate
	default:
		return models.FieldTypeString
	}
}

func schemaColumns(schema *arrow.Schema) []models.Column {
	cols := make([]models.Column, schema.NumFields())
	for i, f := range schema.Fields() {
		cols[i] = models.Column{Name: f.Name, Type: fieldType(f.Type)}
	}
	return cols
}

// buildRecords converts table rows into record batches of at most batchSize rows
// and hands each to emit. Records are released after emit returns.
func buildRecords(table *models.Table, schema *arrow.Schema, batchSize int, emit func(arrow.Record) error) error {
	if batchSize <= 0 {
		batchSize = DefaultWriterConfig().BatchSize
	}
	builder := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer builder.Release()

	flush := func() error {
		rec := builder.NewRecord()
		defer rec.Release()
		return emit(rec)
	}

	pending := 0
	for r, row := range table.Rows {
		for c, v := range row {
			if err := appendValue(builder.Field(c), v); err != nil {
				return fmt.Errorf("row %d column %q: %w", r, table.Columns[c].Name, err)
			}
		}
		pending++
		if pending == batchSize {
			if err := flush(); err != nil {
				return err
			}
			pending = 0
		}
	}
	if pending > 0 || len(table.Rows) == 0 {
		return flush()
	}
	return nil
}

func appendValue(builder array.Builder, value interface{}) error {
	if value == nil {
		builder.AppendNull()
		return nil
	}

	switch b := builder.(type) {
	case *array.BooleanBuilder:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", value)
		}
		b.Append(v)

	case *array.Int64Builder:
		switch v := value.(type) {
		case int64:
			b.Append(v)
		case int:
			b.Append(int64(v))
		case int32:
			b.Append(int64(v))
		default:
			return fmt.Errorf("expected int64, got %T", value)
		}

	case *array.Float64Builder:
		switch v := value.(type) {
		case float64:
			b.Append(v)
		case float32:
			b.Append(float64(v))
		default:
			return fmt.Errorf("expected float64, got %T", value)
		}

	case *array.StringBuilder:
		if v, ok := value.(string); ok {
			b.Append(v)
		} else {
			b.Append(fmt.Sprintf("%v", value))
		}

	case *array.TimestampBuilder:
		v, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("expected time.Time, got %T", value)
		}
		b.Append(arrow.Timestamp(v.UTC().UnixMicro()))

	case *array.Date32Builder:
		v, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("expected time.Time, got %T", value)
		}
		b.Append(arrow.Date32FromTime(v))

	default:
		return fmt.Errorf("unsupported builder type: %T", builder)
	}

	return nil
}

// appendRecord copies every row of rec into table.
func appendRecord(table *models.Table, rec arrow.Record) {
	rows := int(rec.NumRows())
	cols := int(rec.NumCols())
	for r := 0; r < rows; r++ {
		row := make([]interface{}, cols)
		for c := 0; c < cols; c++ {
			row[c] = columnValue(rec.Column(c), r)
		}
		table.Rows = append(table.Rows, row)
	}
}

func columnValue(col arrow.Array, i int) interface{} {
	if col.IsNull(i) {
		return nil
	}

	switch c := col.(type) {
	case *array.Boolean:
		return c.Value(i)
	case *array.Int64:
		return c.Value(i)
	case *array.Int32:
		return int64(c.Value(i))
	case *array.Int16:
		return int64(c.Value(i))
	case *array.Int8:
		return int64(c.Value(i))
	case *array.Uint64:
		return int64(c.Value(i))
	case *array.Uint32:
		return int64(c.Value(i))
	case *array.Float64:
		return c.Value(i)
	case *array.Float32:
		return float64(c.Value(i))
	case *array.String:
		return c.Value(i)
	case *array.LargeString:
		return c.Value(i)
	case *array.Timestamp:
		unit := c.DataType().(*arrow.TimestampType).Unit
		return c.Value(i).ToTime(unit).UTC()
	case *array.Date32:
		return c.Value(i).ToTime().UTC()
	case *array.Date64:
		return c.Value(i).ToTime().UTC()
	default:
		return col.ValueStr(i)
	}
}
