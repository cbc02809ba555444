// Package table encodes and decodes row slices as parquet files held in
// memory. Row types declare their columns with parquet struct tags.
package table

import (
	"bytes"

	"github.com/rotisserie/eris"
	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

// Encode writes rows as a snappy-compressed parquet file.
func Encode[T any](rows []T) ([]byte, error) {
	var buf bytes.Buffer
	pw, err := writer.NewParquetWriter(writerfile.NewWriterFile(&buf), new(T), 1)
	if err != nil {
		return nil, eris.Wrap(err, "table: create parquet writer")
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := range rows {
		if err := pw.Write(rows[i]); err != nil {
			return nil, eris.Wrapf(err, "table: write row %d", i)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, eris.Wrap(err, "table: finalize parquet")
	}
	return buf.Bytes(), nil
}

// Decode reads every row of a parquet file produced by Encode.
func Decode[T any](data []byte) ([]T, error) {
	fr, err := buffer.NewBufferFile(data)
	if err != nil {
		return nil, eris.Wrap(err, "table: open buffer")
	}
	pr, err := reader.NewParquetReader(fr, new(T), 1)
	if err != nil {
		return nil, eris.Wrap(err, "table: open parquet reader")
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	rows := make([]T, n)
	if n == 0 {
		return rows, nil
	}
	if err := pr.Read(&rows); err != nil {
		return nil, eris.Wrap(err, "table: read rows")
	}
	return rows, nil
}
