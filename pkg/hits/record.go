package hits

import "fmt"

// Vec3 is the value of a vector3 attribute.
type Vec3 [3]float64

// Field is one named attribute value of a hit.
type Field struct {
	Name  string
	Value interface{}
}

// F is shorthand for constructing a Field.
func F(name string, value interface{}) Field {
	return Field{Name: name, Value: value}
}

// Record is one hit: a set of named attribute values. It is immutable once
// created and is only ever absorbed into a Table.
type Record struct {
	fields []Field
}

// NewRecord copies fields into a new record.
func NewRecord(fields ...Field) Record {
	cp := make([]Field, len(fields))
	copy(cp, fields)
	return Record{fields: cp}
}

// RecordFromFields is the zero-copy constructor used on the stepping hot path.
// fields may be reused after the record has been appended to a Table.
func RecordFromFields(fields []Field) Record {
	return Record{fields: fields}
}

// Len returns the number of attributes in the record.
func (r Record) Len() int { return len(r.fields) }

// Field returns the i-th attribute.
func (r Record) Field(i int) Field { return r.fields[i] }

// Get returns the value of the named attribute.
func (r Record) Get(name string) (interface{}, bool) {
	for _, f := range r.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// WorkerID identifies the host worker thread that produced a hit.
type WorkerID int

func (w WorkerID) String() string { return fmt.Sprintf("w%d", int(w)) }
