package catalog

import (
	_ "embed"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// DateLayout is the date format used by CVM extracts and by every date
// column the lake persists.
const DateLayout = "2006-01-02"

// ColumnType is the declared type of a schema column.
type ColumnType string

// Column types.
const (
	TypeString ColumnType = "string"
	TypeInt    ColumnType = "int"
	TypeFloat  ColumnType = "float"
	TypeDate   ColumnType = "date"
)

// Column is one declared column.
type Column struct {
	Name string     `yaml:"name"`
	Type ColumnType `yaml:"type"`
}

// Schema is an ordered list of columns.
type Schema []Column

// Names returns the column names in declaration order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Index returns the position of a column, or -1.
func (s Schema) Index(name string) int {
	for i, c := range s {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Check validates a raw cell against the column type. Empty cells are
// accepted for every type.
func (t ColumnType) Check(v string) error {
	if v == "" {
		return nil
	}
	var err error
	switch t {
	case TypeString:
	case TypeInt:
		_, err = strconv.ParseInt(v, 10, 64)
	case TypeFloat:
		_, err = strconv.ParseFloat(v, 64)
	case TypeDate:
		_, err = time.Parse(DateLayout, v)
	default:
		return eris.Errorf("catalog: unknown column type %q", t)
	}
	if err != nil {
		return eris.Wrapf(err, "catalog: value %q is not a valid %s", v, t)
	}
	return nil
}

//go:embed schemas.yaml
var schemasYAML []byte

type schemaFile struct {
	Documents map[DocumentType]Schema `yaml:"documents"`
}

var loadSchemas = sync.OnceValues(func() (map[DocumentType]Schema, error) {
	return parseSchemas(schemasYAML)
})

func parseSchemas(data []byte) (map[DocumentType]Schema, error) {
	var f schemaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "catalog: parse schemas")
	}
	for doc, s := range f.Documents {
		if len(s) == 0 {
			return nil, eris.Errorf("catalog: schema for %s has no columns", doc)
		}
		for _, c := range s {
			switch c.Type {
			case TypeString, TypeInt, TypeFloat, TypeDate:
			default:
				return nil, eris.Errorf("catalog: column %s.%s has unknown type %q", doc, c.Name, c.Type)
			}
		}
	}
	return f.Documents, nil
}

// SchemaFor returns the declared schema of a statement document type.
func SchemaFor(doc DocumentType) (Schema, error) {
	all, err := loadSchemas()
	if err != nil {
		return nil, err
	}
	s, ok := all[doc]
	if !ok {
		return nil, eris.Errorf("catalog: no schema declared for %s", doc)
	}
	return s, nil
}
