package cvm

import (
	"bytes"
	"context"
	"slices"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"

	"github.com/sells-group/finlake/internal/catalog"
	"github.com/sells-group/finlake/internal/fetcher"
)

// ErrSchemaMismatch is returned when a raw file's header or cell types
// disagree with the declared schema.
var ErrSchemaMismatch = eris.New("cvm: schema mismatch")

// Statement is a parsed raw statement file.
type Statement struct {
	Doc    catalog.DocumentType
	Schema catalog.Schema
	Rows   [][]string
}

// Value returns the named column of row i ("" when the column is not declared).
func (s *Statement) Value(i int, column string) string {
	idx := s.Schema.Index(column)
	if idx < 0 {
		return ""
	}
	return s.Rows[i][idx]
}

// ParseStatement decodes a raw ISO-8859-1, ';'-separated CVM statement file
// and validates it against the declared schema of doc.
func ParseStatement(ctx context.Context, data []byte, doc catalog.DocumentType) (*Statement, error) {
	schema, err := catalog.SchemaFor(doc)
	if err != nil {
		return nil, err
	}

	header, rows, err := fetcher.ReadCSV(ctx, bytes.NewReader(data), fetcher.CSVOptions{
		Delimiter:  ';',
		HasHeader:  true,
		Encoding:   charmap.ISO8859_1,
		LazyQuotes: true,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "cvm: parse %s", doc)
	}

	if want := schema.Names(); !slices.Equal(header, want) {
		return nil, eris.Wrapf(ErrSchemaMismatch, "%s header %v, declared %v", doc, header, want)
	}

	for i, row := range rows {
		if len(row) != len(schema) {
			return nil, eris.Wrapf(ErrSchemaMismatch, "%s row %d has %d fields, declared %d", doc, i+1, len(row), len(schema))
		}
		for j, col := range schema {
			if err := col.Type.Check(row[j]); err != nil {
				return nil, eris.Wrapf(ErrSchemaMismatch, "%s row %d column %s: %v", doc, i+1, col.Name, err)
			}
		}
	}
	return &Statement{Doc: doc, Schema: schema, Rows: rows}, nil
}
