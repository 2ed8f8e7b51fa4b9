package hits

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ajitpratap0/gatehits/pkg/errors"
)

// Table is an append-only columnar table of hits backed by arrow builders.
// It is not safe for concurrent use: each worker owns its own Table.
type Table struct {
	schema  *Schema
	builder *array.RecordBuilder
	rows    int

	// scratch for Append, sized to the schema once
	positions []int
	seen      []bool
}

// NewTable creates an empty table for schema. A nil allocator uses the Go allocator.
func NewTable(schema *Schema, mem memory.Allocator) *Table {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	return &Table{
		schema:    schema,
		builder:   array.NewRecordBuilder(mem, schema.Arrow()),
		positions: make([]int, schema.Len()),
		seen:      make([]bool, schema.Len()),
	}
}

// Schema returns the table schema.
func (t *Table) Schema() *Schema { return t.schema }

// Rows returns the number of buffered rows.
func (t *Table) Rows() int { return t.rows }

// Append validates rec against the schema and adds it as one row. On error the
// table is left unchanged.
func (t *Table) Append(rec Record) error {
	n := t.schema.Len()
	if rec.Len() != n {
		return t.mismatch(rec, fmt.Sprintf("record has %d attributes, schema has %d", rec.Len(), n))
	}

	for i := range t.seen {
		t.seen[i] = false
	}

	// Validate everything before touching a builder so a bad record cannot leave
	// a partially appended row behind.
	for i := 0; i < n; i++ {
		f := rec.fields[i]
		col := i
		if t.schema.attrs[i].Name != f.Name {
			var ok bool
			if col, ok = t.schema.index[f.Name]; !ok {
				return t.mismatch(rec, fmt.Sprintf("attribute %q is not in the schema", f.Name))
			}
		}
		if t.seen[col] {
			return t.mismatch(rec, fmt.Sprintf("attribute %q appears twice", f.Name))
		}
		t.seen[col] = true
		if !accepts(t.schema.attrs[col].Type, f.Value) {
			return t.mismatch(rec, fmt.Sprintf("attribute %q expects %s, got %T", f.Name, t.schema.attrs[col].Type, f.Value))
		}
		t.positions[i] = col
	}

	for i := 0; i < n; i++ {
		appendValue(t.builder.Field(t.positions[i]), rec.fields[i].Value)
	}
	t.rows++
	return nil
}

// Flush returns the buffered rows as an arrow record and empties the table. The
// caller owns the returned record and must Release it.
func (t *Table) Flush() arrow.Record {
	rec := t.builder.NewRecord()
	t.rows = 0
	return rec
}

// Release frees the builder memory. The table must not be used afterwards.
func (t *Table) Release() {
	t.builder.Release()
}

func (t *Table) mismatch(rec Record, reason string) error {
	names := make([]string, rec.Len())
	for i := range rec.fields {
		names[i] = rec.fields[i].Name
	}
	return errors.New(errors.ErrorTypeSchemaMismatch, reason).
		WithStage(errors.StageAppend).
		WithDetail("schema", t.schema.String()).
		WithDetail("record_attributes", names)
}

func accepts(t AttributeType, v interface{}) bool {
	switch t {
	case TypeNumber:
		switch v.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
	case TypeVector3:
		switch x := v.(type) {
		case Vec3, [3]float64:
			return true
		case []float64:
			return len(x) == 3
		}
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeInteger:
		switch v.(type) {
		case int, int32, int64, uint32:
			return true
		}
	}
	return false
}

// appendValue assumes accepts already returned true for the value.
func appendValue(b array.Builder, v interface{}) {
	switch bb := b.(type) {
	case *array.Float64Builder:
		switch x := v.(type) {
		case float64:
			bb.Append(x)
		case float32:
			bb.Append(float64(x))
		case int:
			bb.Append(float64(x))
		case int32:
			bb.Append(float64(x))
		case int64:
			bb.Append(float64(x))
		}
	case *array.Int64Builder:
		switch x := v.(type) {
		case int:
			bb.Append(int64(x))
		case int32:
			bb.Append(int64(x))
		case int64:
			bb.Append(x)
		case uint32:
			bb.Append(int64(x))
		}
	case *array.StringBuilder:
		bb.Append(v.(string))
	case *array.FixedSizeListBuilder:
		bb.Append(true)
		vb := bb.ValueBuilder().(*array.Float64Builder)
		switch x := v.(type) {
		case Vec3:
			vb.AppendValues(x[:], nil)
		case [3]float64:
			vb.AppendValues(x[:], nil)
		case []float64:
			vb.AppendValues(x, nil)
		}
	}
}

// ValueAt reads row i of an arrow column written by a Table, returning float64,
// Vec3, string or int64.
func ValueAt(col arrow.Array, i int) interface{} {
	switch c := col.(type) {
	case *array.Float64:
		return c.Value(i)
	case *array.Int64:
		return c.Value(i)
	case *array.String:
		return c.Value(i)
	case *array.FixedSizeList:
		vals := c.ListValues().(*array.Float64)
		base := (c.Data().Offset() + i) * 3
		return Vec3{vals.Value(base), vals.Value(base + 1), vals.Value(base + 2)}
	case *array.List:
		// parquet may hand vector columns back as variable-size lists
		vals := c.ListValues().(*array.Float64)
		start, _ := c.ValueOffsets(i)
		return Vec3{vals.Value(int(start)), vals.Value(int(start) + 1), vals.Value(int(start) + 2)}
	default:
		return nil
	}
}

// Rows decodes every row of rec into records, in order. It is meant for
// verification and tests, not the collection path.
func Rows(rec arrow.Record) []Record {
	out := make([]Record, rec.NumRows())
	schema := rec.Schema()
	for r := range out {
		fields := make([]Field, rec.NumCols())
		for c := range fields {
			fields[c] = Field{Name: schema.Field(c).Name, Value: ValueAt(rec.Column(c), r)}
		}
		out[r] = Record{fields: fields}
	}
	return out
}
